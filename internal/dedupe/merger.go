package dedupe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// MergeStore is the slice of the store the merger writes through.
type MergeStore interface {
	MergeContacts(ctx context.Context, primary *model.ContactRecord, duplicateID string, confidence int) error
}

// Merger folds a duplicate record into its primary. All writes for one merge
// commit in a single transaction; the duplicate is never flagged unless the
// primary's update also lands.
type Merger struct {
	store MergeStore
	nowFn func() time.Time
}

func NewMerger(store MergeStore) *Merger {
	return &Merger{store: store, nowFn: time.Now}
}

// WithNow overrides the clock. Tests only.
func (m *Merger) WithNow(fn func() time.Time) *Merger {
	m.nowFn = fn
	return m
}

// Merge combines duplicate into primary and persists both sides atomically.
// Field selection prefers the better value, not blindly the primary: non-blank
// beats blank, a verified email beats an unverified one, and enriched business
// data beats plain. The detection confidence goes into the history entry; the
// duplicate row itself is marked with confidence 100 since the merge is final.
func (m *Merger) Merge(ctx context.Context, primary, duplicate *model.ContactRecord, confidence int) error {
	if primary.ID == duplicate.ID {
		return eris.New("dedupe: cannot merge a contact into itself")
	}
	if duplicate.IsDuplicate {
		return eris.Errorf("dedupe: %s is already merged into %s", duplicate.ID, duplicate.DuplicateOfID)
	}

	snapshot, err := json.Marshal(duplicate)
	if err != nil {
		return eris.Wrap(err, "dedupe: snapshot duplicate")
	}

	mergeFields(primary, duplicate)
	ApplyFingerprints(primary)
	primary.QualityScore = QualityScore(primary)
	primary.MergeHistory = append(primary.MergeHistory, model.MergeRecord{
		MergedAt:    m.nowFn().UTC(),
		DuplicateID: duplicate.ID,
		Confidence:  confidence,
		Snapshot:    snapshot,
	})

	if err := m.store.MergeContacts(ctx, primary, duplicate.ID, 100); err != nil {
		return eris.Wrap(err, "dedupe: merge")
	}

	zap.L().Info("merged duplicate contact",
		zap.String("primary_id", primary.ID),
		zap.String("duplicate_id", duplicate.ID),
		zap.Int("confidence", confidence),
	)
	return nil
}

// mergeFields applies the field-preference rules to primary in place.
func mergeFields(primary, duplicate *model.ContactRecord) {
	// Email: a verified address wins over an unverified one regardless of
	// which record carries it.
	if duplicate.Email != "" && (primary.Email == "" || (duplicate.EmailVerified && !primary.EmailVerified)) {
		primary.Email = duplicate.Email
		primary.EmailVerified = duplicate.EmailVerified
	}

	// Business identity: enriched data wins.
	if duplicate.BusinessName != "" && (primary.BusinessName == "" || (duplicate.BusinessEnriched && !primary.BusinessEnriched)) {
		primary.BusinessName = duplicate.BusinessName
	}
	if len(duplicate.BusinessData) > 0 && (len(primary.BusinessData) == 0 || (duplicate.BusinessEnriched && !primary.BusinessEnriched)) {
		primary.BusinessData = duplicate.BusinessData
	}
	primary.BusinessEnriched = primary.BusinessEnriched || duplicate.BusinessEnriched

	// Everything else: non-blank over blank, primary wins ties.
	fillString(&primary.FirstName, duplicate.FirstName)
	fillString(&primary.LastName, duplicate.LastName)
	fillString(&primary.Phone, duplicate.Phone)
	fillString(&primary.Street, duplicate.Street)
	fillString(&primary.City, duplicate.City)
	fillString(&primary.State, duplicate.State)
	fillString(&primary.ZipCode, duplicate.ZipCode)
	fillString(&primary.SalesforceID, duplicate.SalesforceID)

	if primary.Lat == nil {
		primary.Lat = duplicate.Lat
	}
	if primary.Lng == nil {
		primary.Lng = duplicate.Lng
	}
	fillRaw(&primary.PhoneIntel, duplicate.PhoneIntel)
	fillRaw(&primary.Coverage, duplicate.Coverage)
	fillRaw(&primary.Compliance, duplicate.Compliance)

	// The duplicate's merge lineage folds into the primary's.
	primary.MergeHistory = append(primary.MergeHistory, duplicate.MergeHistory...)
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func fillRaw(dst *json.RawMessage, src json.RawMessage) {
	if len(*dst) == 0 {
		*dst = src
	}
}
