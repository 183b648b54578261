package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/google"
)

// BusinessProvider looks the business up on Google Places and marks the
// record enriched when a confident match comes back.
type BusinessProvider struct {
	client google.Client
}

// NewBusinessProvider wraps a Places client. A nil client means the provider
// is not configured.
func NewBusinessProvider(client google.Client) *BusinessProvider {
	return &BusinessProvider{client: client}
}

func (p *BusinessProvider) Kind() model.EnrichmentKind { return model.EnrichBusiness }
func (p *BusinessProvider) Service() string            { return "google_places" }
func (p *BusinessProvider) Configured() bool           { return p.client != nil }

func (p *BusinessProvider) Enrich(ctx context.Context, c model.ContactRecord) (*Result, error) {
	query := searchQuery(c)
	if query == "" {
		return nil, model.NewProviderError(p.Service(), model.ErrInvalidInput, nil)
	}

	resp, err := p.client.TextSearch(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(resp.Places) == 0 {
		return nil, model.NewProviderError(p.Service(), model.ErrNotFound, nil)
	}

	place := resp.Places[0]
	payload, err := json.Marshal(place)
	if err != nil {
		return nil, model.NewProviderError(p.Service(), model.ErrUnknown, err)
	}

	enriched := true
	res := &Result{
		Payload: payload,
		Updates: ContactUpdates{BusinessEnriched: &enriched},
	}
	if c.BusinessName == "" && place.DisplayName.Text != "" {
		res.Updates.BusinessName = place.DisplayName.Text
	}
	return res, nil
}

func searchQuery(c model.ContactRecord) string {
	parts := []string{}
	if c.BusinessName != "" {
		parts = append(parts, c.BusinessName)
	} else if c.Phone != "" {
		parts = append(parts, c.Phone)
	}
	if c.City != "" {
		parts = append(parts, c.City)
	}
	if c.State != "" {
		parts = append(parts, c.State)
	}
	return strings.Join(parts, " ")
}
