package dedupe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// businessSuffixes are dropped from the name fingerprint so "Acme Roofing LLC"
// and "Acme Roofing, Inc." collapse to the same key.
var businessSuffixes = map[string]bool{
	"llc": true, "inc": true, "corp": true, "co": true, "ltd": true,
	"llp": true, "lp": true, "pllc": true, "pc": true, "company": true,
	"incorporated": true, "corporation": true, "limited": true,
}

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// PhoneFingerprint keeps the last 10 digits of a phone number, dropping
// formatting and any country prefix.
func PhoneFingerprint(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// EmailFingerprint lowercases and trims the address.
func EmailFingerprint(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NameFingerprint folds diacritics, lowercases, strips punctuation and
// business suffixes, and collapses whitespace.
func NameFingerprint(name string) string {
	folded, _, err := transform.String(diacriticFolder, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '&' || r == '/':
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	out := words[:0]
	for _, w := range words {
		if businessSuffixes[w] {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// fingerprintName picks the name a record is matched by: business name for
// businesses, "first last" for people.
func fingerprintName(c *model.ContactRecord) string {
	if c.Kind == model.KindBusiness && c.BusinessName != "" {
		return c.BusinessName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ApplyFingerprints recomputes all three fingerprints in place. Callers run
// this explicitly after any mutation that touches phone, email, or names.
func ApplyFingerprints(c *model.ContactRecord) {
	c.PhoneFingerprint = PhoneFingerprint(c.Phone)
	c.EmailFingerprint = EmailFingerprint(c.Email)
	c.NameFingerprint = NameFingerprint(fingerprintName(c))
}

// QualityScore rates record completeness 0–100. Contact channels dominate;
// enrichment payloads round it out.
func QualityScore(c *model.ContactRecord) float64 {
	score := 0.0
	if c.PhoneFingerprint != "" || PhoneFingerprint(c.Phone) != "" {
		score += 25
	}
	if c.Email != "" {
		score += 15
		if c.EmailVerified {
			score += 5
		}
	}
	if fingerprintName(c) != "" {
		score += 15
	}
	if c.Street != "" && c.City != "" && c.State != "" {
		score += 15
	} else if c.City != "" {
		score += 5
	}
	if len(c.PhoneIntel) > 0 {
		score += 10
	}
	if c.BusinessEnriched || len(c.BusinessData) > 0 {
		score += 10
	}
	if len(c.Coverage) > 0 {
		score += 5
	}
	return score
}
