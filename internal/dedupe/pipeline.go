package dedupe

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// PipelineStore adds record loading to the candidate queries.
type PipelineStore interface {
	CandidateStore
	GetContact(ctx context.Context, id string) (*model.ContactRecord, error)
}

// Pipeline is the post-enrichment dedupe pass: detect candidates, auto-merge
// the near-certain ones, surface the rest for manual review. Auto-merge is a
// policy of this orchestration layer; the detector and merger stay neutral.
type Pipeline struct {
	store     PipelineStore
	detector  *Detector
	merger    *Merger
	reviewer  *Reviewer // optional
	notifier  *Notifier // optional
	autoMerge int
}

func NewPipeline(store PipelineStore, detector *Detector, merger *Merger, reviewer *Reviewer, notifier *Notifier) *Pipeline {
	return &Pipeline{
		store:     store,
		detector:  detector,
		merger:    merger,
		reviewer:  reviewer,
		notifier:  notifier,
		autoMerge: AutoMergeThreshold,
	}
}

// WithAutoMergeThreshold overrides the default auto-merge confidence bar.
func (p *Pipeline) WithAutoMergeThreshold(n int) *Pipeline {
	if n > 0 {
		p.autoMerge = n
	}
	return p
}

// Run detects and dispositions duplicates of c. The record's fingerprints
// must be current. Merges mutate c in place so the caller sees the combined
// record.
func (p *Pipeline) Run(ctx context.Context, c *model.ContactRecord) error {
	candidates, err := p.detector.FindDuplicates(ctx, c)
	if err != nil {
		return eris.Wrap(err, "dedupe: detect")
	}

	log := zap.L().With(zap.String("contact_id", c.ID))
	for _, cand := range candidates {
		dup, err := p.store.GetContact(ctx, cand.CandidateID)
		if err != nil {
			return eris.Wrapf(err, "dedupe: load candidate %s", cand.CandidateID)
		}
		if dup == nil || dup.IsDuplicate {
			continue
		}

		if cand.Confidence >= p.autoMerge {
			if err := p.merger.Merge(ctx, c, dup, cand.Confidence); err != nil {
				return eris.Wrapf(err, "dedupe: auto-merge %s", cand.CandidateID)
			}
			continue
		}

		var opinion *ReviewOpinion
		if p.reviewer != nil {
			opinion, err = p.reviewer.Review(ctx, c, dup, cand.Confidence)
			if err != nil {
				log.Warn("duplicate review failed", zap.Error(err))
				opinion = nil
			}
		}
		if p.notifier != nil {
			if err := p.notifier.Surface(ctx, c, cand, opinion); err != nil {
				log.Warn("surface candidate failed", zap.Error(err))
			}
		}
	}
	return nil
}
