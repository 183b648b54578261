package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/phoneintel"
)

// PhoneProvider enriches a contact with line type, carrier, and validity.
type PhoneProvider struct {
	client phoneintel.Client
}

// NewPhoneProvider wraps a phone intelligence client. A nil client means the
// provider is not configured.
func NewPhoneProvider(client phoneintel.Client) *PhoneProvider {
	return &PhoneProvider{client: client}
}

func (p *PhoneProvider) Kind() model.EnrichmentKind { return model.EnrichPhone }
func (p *PhoneProvider) Service() string            { return "phone_intel" }
func (p *PhoneProvider) Configured() bool           { return p.client != nil }

func (p *PhoneProvider) Enrich(ctx context.Context, c model.ContactRecord) (*Result, error) {
	if c.Phone == "" {
		return nil, model.NewProviderError(p.Service(), model.ErrInvalidInput, nil)
	}

	resp, err := p.client.Lookup(ctx, c.Phone)
	if err != nil {
		var statusErr *phoneintel.StatusError
		if errors.As(err, &statusErr) {
			pe := model.NewProviderError(p.Service(), model.KindForHTTPStatus(statusErr.StatusCode), err)
			pe.RetryAfter = statusErr.RetryAfter
			return nil, pe
		}
		return nil, err
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, model.NewProviderError(p.Service(), model.ErrUnknown, err)
	}
	return &Result{Payload: payload}, nil
}
