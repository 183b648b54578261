package dedupe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enrichment/internal/model"
)

type fakePipelineStore struct {
	fakeCandidateStore
	merges []string
}

func (f *fakePipelineStore) GetContact(_ context.Context, id string) (*model.ContactRecord, error) {
	for i := range f.records {
		if f.records[i].ID == id {
			cp := f.records[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePipelineStore) MergeContacts(_ context.Context, primary *model.ContactRecord, duplicateID string, _ int) error {
	f.merges = append(f.merges, duplicateID)
	for i := range f.records {
		if f.records[i].ID == duplicateID {
			f.records[i].IsDuplicate = true
			f.records[i].DuplicateOfID = primary.ID
		}
	}
	return nil
}

func TestPipeline_AutoMergesHighConfidence(t *testing.T) {
	self := contact("self", nil)
	twin := contact("twin", nil)
	st := &fakePipelineStore{fakeCandidateStore: fakeCandidateStore{records: []model.ContactRecord{self, twin}}}

	p := NewPipeline(st, NewDetector(st, DefaultThreshold), NewMerger(st), nil, nil)
	require.NoError(t, p.Run(context.Background(), &self))

	assert.Equal(t, []string{"twin"}, st.merges)
	require.Len(t, self.MergeHistory, 1)
	assert.Equal(t, "twin", self.MergeHistory[0].DuplicateID)
}

func TestPipeline_BelowAutoMergeIsNotMerged(t *testing.T) {
	self := contact("self", nil)
	// Same phone and name, different email: scores ≥80 but <95.
	near := contact("near", func(c *model.ContactRecord) {
		c.Email = "other@example.com"
	})
	st := &fakePipelineStore{fakeCandidateStore: fakeCandidateStore{records: []model.ContactRecord{self, near}}}

	p := NewPipeline(st, NewDetector(st, DefaultThreshold), NewMerger(st), nil, nil)
	require.NoError(t, p.Run(context.Background(), &self))
	assert.Empty(t, st.merges)
}

func TestPipeline_NoCandidatesIsNoOp(t *testing.T) {
	self := contact("self", nil)
	st := &fakePipelineStore{fakeCandidateStore: fakeCandidateStore{records: []model.ContactRecord{self}}}

	p := NewPipeline(st, NewDetector(st, DefaultThreshold), NewMerger(st), nil, nil)
	require.NoError(t, p.Run(context.Background(), &self))
	assert.Empty(t, st.merges)
}
