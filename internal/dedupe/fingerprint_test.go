package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/contact-enrichment/internal/model"
)

func TestPhoneFingerprint(t *testing.T) {
	assert.Equal(t, "6155550100", PhoneFingerprint("(615) 555-0100"))
	assert.Equal(t, "6155550100", PhoneFingerprint("+1 615-555-0100"))
	assert.Equal(t, "6155550100", PhoneFingerprint("16155550100"))
	assert.Equal(t, "5550100", PhoneFingerprint("555-0100"))
	assert.Equal(t, "", PhoneFingerprint("n/a"))
}

func TestEmailFingerprint(t *testing.T) {
	assert.Equal(t, "ada@example.com", EmailFingerprint("  Ada@Example.COM "))
	assert.Equal(t, "", EmailFingerprint(""))
}

func TestNameFingerprint(t *testing.T) {
	assert.Equal(t, "acme roofing", NameFingerprint("Acme Roofing, LLC"))
	assert.Equal(t, "acme roofing", NameFingerprint("ACME ROOFING INC."))
	assert.Equal(t, "jose garcia", NameFingerprint("José García"))
	assert.Equal(t, "smith sons", NameFingerprint("Smith & Sons Co."))
	assert.Equal(t, "", NameFingerprint(""))
}

func TestApplyFingerprints_PersonVsBusiness(t *testing.T) {
	person := &model.ContactRecord{
		Kind:      model.KindPerson,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Phone:     "(615) 555-0100",
		Email:     "Ada@Example.com",
	}
	ApplyFingerprints(person)
	assert.Equal(t, "6155550100", person.PhoneFingerprint)
	assert.Equal(t, "ada@example.com", person.EmailFingerprint)
	assert.Equal(t, "ada lovelace", person.NameFingerprint)

	biz := &model.ContactRecord{
		Kind:         model.KindBusiness,
		BusinessName: "Acme Roofing LLC",
		FirstName:    "Front",
		LastName:     "Desk",
	}
	ApplyFingerprints(biz)
	assert.Equal(t, "acme roofing", biz.NameFingerprint)
}

func TestQualityScore_Monotonic(t *testing.T) {
	bare := &model.ContactRecord{FirstName: "Ada", LastName: "Lovelace"}
	partial := &model.ContactRecord{
		FirstName: "Ada", LastName: "Lovelace",
		Phone: "6155550100", Email: "ada@example.com",
	}
	full := &model.ContactRecord{
		FirstName: "Ada", LastName: "Lovelace",
		Phone: "6155550100", Email: "ada@example.com", EmailVerified: true,
		Street: "1 Main St", City: "Nashville", State: "TN",
		PhoneIntel:       []byte(`{}`),
		BusinessEnriched: true,
		Coverage:         []byte(`{}`),
	}

	assert.Less(t, QualityScore(bare), QualityScore(partial))
	assert.Less(t, QualityScore(partial), QualityScore(full))
	assert.LessOrEqual(t, QualityScore(full), 100.0)
}
