package provider

import (
	"context"
	"encoding/json"

	"github.com/sells-group/contact-enrichment/internal/coverage"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// CoverageProvider reports which service areas contain the contact's
// geocoded location. It runs after address enrichment; a contact without
// coordinates is invalid input.
type CoverageProvider struct {
	index *coverage.Index
}

// NewCoverageProvider wraps a loaded area index. A nil index means the
// provider is not configured.
func NewCoverageProvider(index *coverage.Index) *CoverageProvider {
	return &CoverageProvider{index: index}
}

func (p *CoverageProvider) Kind() model.EnrichmentKind { return model.EnrichCoverage }
func (p *CoverageProvider) Service() string            { return "coverage" }
func (p *CoverageProvider) Configured() bool           { return p.index != nil }

func (p *CoverageProvider) Enrich(_ context.Context, c model.ContactRecord) (*Result, error) {
	if c.Lat == nil || c.Lng == nil {
		return nil, model.NewProviderError(p.Service(), model.ErrInvalidInput, nil)
	}

	areas := p.index.Locate(*c.Lat, *c.Lng)
	payload, err := json.Marshal(map[string]any{
		"covered": len(areas) > 0,
		"areas":   areas,
	})
	if err != nil {
		return nil, model.NewProviderError(p.Service(), model.ErrUnknown, err)
	}
	return &Result{Payload: payload}, nil
}
