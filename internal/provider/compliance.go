package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/dnc"
)

// ComplianceProvider screens the contact's phone against DNC and litigator
// registries.
type ComplianceProvider struct {
	client dnc.Client
}

// NewComplianceProvider wraps a compliance client. A nil client means the
// provider is not configured.
func NewComplianceProvider(client dnc.Client) *ComplianceProvider {
	return &ComplianceProvider{client: client}
}

func (p *ComplianceProvider) Kind() model.EnrichmentKind { return model.EnrichCompliance }
func (p *ComplianceProvider) Service() string            { return "dnc" }
func (p *ComplianceProvider) Configured() bool           { return p.client != nil }

func (p *ComplianceProvider) Enrich(ctx context.Context, c model.ContactRecord) (*Result, error) {
	if c.Phone == "" {
		return nil, model.NewProviderError(p.Service(), model.ErrInvalidInput, nil)
	}

	resp, err := p.client.Check(ctx, c.Phone)
	if err != nil {
		var statusErr *dnc.StatusError
		if errors.As(err, &statusErr) {
			pe := model.NewProviderError(p.Service(), model.KindForHTTPStatus(statusErr.StatusCode), err)
			pe.RetryAfter = statusErr.RetryAfter
			return nil, pe
		}
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"federal_dnc": resp.FederalDNC,
		"state_dnc":   resp.StateDNC,
		"litigator":   resp.Litigator,
		"wireless":    resp.Wireless,
		"callable":    resp.Callable(),
	})
	if err != nil {
		return nil, model.NewProviderError(p.Service(), model.ErrUnknown, err)
	}
	return &Result{Payload: payload}, nil
}
