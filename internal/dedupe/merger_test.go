package dedupe

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enrichment/internal/model"
)

type fakeMergeStore struct {
	primary     *model.ContactRecord
	duplicateID string
	confidence  int
	err         error
}

func (f *fakeMergeStore) MergeContacts(_ context.Context, primary *model.ContactRecord, duplicateID string, confidence int) error {
	if f.err != nil {
		return f.err
	}
	cp := *primary
	f.primary = &cp
	f.duplicateID = duplicateID
	f.confidence = confidence
	return nil
}

var mergeTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestMerger(st *fakeMergeStore) *Merger {
	return NewMerger(st).WithNow(func() time.Time { return mergeTime })
}

func TestMerge_NonBlankBeatsBlank(t *testing.T) {
	st := &fakeMergeStore{}
	m := newTestMerger(st)

	primary := &model.ContactRecord{ID: "p", FirstName: "Ada", Phone: "6155550100"}
	dup := &model.ContactRecord{ID: "d", FirstName: "A.", LastName: "Lovelace", Email: "ada@example.com", City: "Nashville"}

	require.NoError(t, m.Merge(context.Background(), primary, dup, 96))

	assert.Equal(t, "Ada", primary.FirstName, "primary wins when both present")
	assert.Equal(t, "Lovelace", primary.LastName)
	assert.Equal(t, "ada@example.com", primary.Email)
	assert.Equal(t, "Nashville", primary.City)
	assert.Equal(t, "d", st.duplicateID)
	assert.Equal(t, 100, st.confidence, "merged duplicate is marked final")
}

func TestMerge_VerifiedEmailWins(t *testing.T) {
	st := &fakeMergeStore{}
	m := newTestMerger(st)

	primary := &model.ContactRecord{ID: "p", Email: "old@example.com"}
	dup := &model.ContactRecord{ID: "d", Email: "new@example.com", EmailVerified: true}

	require.NoError(t, m.Merge(context.Background(), primary, dup, 95))
	assert.Equal(t, "new@example.com", primary.Email)
	assert.True(t, primary.EmailVerified)
}

func TestMerge_EnrichedBusinessDataWins(t *testing.T) {
	st := &fakeMergeStore{}
	m := newTestMerger(st)

	primary := &model.ContactRecord{
		ID: "p", Kind: model.KindBusiness,
		BusinessName: "Acme", BusinessData: json.RawMessage(`{"stale":true}`),
	}
	dup := &model.ContactRecord{
		ID: "d", Kind: model.KindBusiness,
		BusinessName: "Acme Roofing LLC", BusinessData: json.RawMessage(`{"rating":4.8}`),
		BusinessEnriched: true,
	}

	require.NoError(t, m.Merge(context.Background(), primary, dup, 97))
	assert.Equal(t, "Acme Roofing LLC", primary.BusinessName)
	assert.JSONEq(t, `{"rating":4.8}`, string(primary.BusinessData))
	assert.True(t, primary.BusinessEnriched)
}

func TestMerge_AppendsHistoryWithSnapshot(t *testing.T) {
	st := &fakeMergeStore{}
	m := newTestMerger(st)

	primary := &model.ContactRecord{ID: "p", Phone: "6155550100"}
	dup := &model.ContactRecord{ID: "d", FirstName: "Ada", Email: "ada@example.com"}

	require.NoError(t, m.Merge(context.Background(), primary, dup, 96))

	require.Len(t, primary.MergeHistory, 1)
	rec := primary.MergeHistory[0]
	assert.Equal(t, "d", rec.DuplicateID)
	assert.Equal(t, 96, rec.Confidence)
	assert.Equal(t, mergeTime, rec.MergedAt)

	var snap model.ContactRecord
	require.NoError(t, json.Unmarshal(rec.Snapshot, &snap))
	assert.Equal(t, "ada@example.com", snap.Email, "snapshot preserves pre-merge duplicate")
}

func TestMerge_RecomputesFingerprintsAndQuality(t *testing.T) {
	st := &fakeMergeStore{}
	m := newTestMerger(st)

	primary := &model.ContactRecord{ID: "p", FirstName: "Ada", LastName: "Lovelace"}
	dup := &model.ContactRecord{ID: "d", Phone: "(615) 555-0100", Email: "Ada@Example.com"}

	require.NoError(t, m.Merge(context.Background(), primary, dup, 95))
	assert.Equal(t, "6155550100", primary.PhoneFingerprint)
	assert.Equal(t, "ada@example.com", primary.EmailFingerprint)
	assert.Positive(t, primary.QualityScore)
}

func TestMerge_StoreFailurePropagates(t *testing.T) {
	st := &fakeMergeStore{err: eris.New("tx aborted")}
	m := newTestMerger(st)

	primary := &model.ContactRecord{ID: "p"}
	dup := &model.ContactRecord{ID: "d", Email: "x@y.com"}
	err := m.Merge(context.Background(), primary, dup, 95)
	require.Error(t, err)
	assert.Nil(t, st.primary)
}

func TestMerge_RejectsSelfAndAlreadyMerged(t *testing.T) {
	m := newTestMerger(&fakeMergeStore{})

	c := &model.ContactRecord{ID: "p"}
	require.Error(t, m.Merge(context.Background(), c, c, 100))

	merged := &model.ContactRecord{ID: "d", IsDuplicate: true, DuplicateOfID: "z"}
	require.Error(t, m.Merge(context.Background(), &model.ContactRecord{ID: "p"}, merged, 100))
}
