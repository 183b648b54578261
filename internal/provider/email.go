package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/emailfind"
)

// EmailProvider verifies a known email address, or discovers one from the
// contact's name and business.
type EmailProvider struct {
	client emailfind.Client
}

// NewEmailProvider wraps an email finder client. A nil client means the
// provider is not configured.
func NewEmailProvider(client emailfind.Client) *EmailProvider {
	return &EmailProvider{client: client}
}

func (p *EmailProvider) Kind() model.EnrichmentKind { return model.EnrichEmail }
func (p *EmailProvider) Service() string            { return "email_finder" }
func (p *EmailProvider) Configured() bool           { return p.client != nil }

func (p *EmailProvider) Enrich(ctx context.Context, c model.ContactRecord) (*Result, error) {
	if c.Email != "" {
		return p.verify(ctx, c.Email)
	}
	return p.discover(ctx, c)
}

func (p *EmailProvider) verify(ctx context.Context, email string) (*Result, error) {
	resp, err := p.client.Verify(ctx, email)
	if err != nil {
		return nil, p.classify(err)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, model.NewProviderError(p.Service(), model.ErrUnknown, err)
	}

	verified := resp.Deliverable()
	return &Result{
		Payload: payload,
		Updates: ContactUpdates{EmailVerified: &verified},
	}, nil
}

func (p *EmailProvider) discover(ctx context.Context, c model.ContactRecord) (*Result, error) {
	if c.BusinessName == "" || (c.FirstName == "" && c.LastName == "") {
		return nil, model.NewProviderError(p.Service(), model.ErrInvalidInput, nil)
	}

	found, err := p.client.Find(ctx, emailfind.FindRequest{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Company:   c.BusinessName,
	})
	if err != nil {
		return nil, p.classify(err)
	}
	if strings.TrimSpace(found.Email) == "" {
		return nil, model.NewProviderError(p.Service(), model.ErrNotFound, nil)
	}

	res, err := p.verify(ctx, found.Email)
	if err != nil {
		return nil, err
	}
	res.Updates.Email = found.Email
	return res, nil
}

func (p *EmailProvider) classify(err error) error {
	var statusErr *emailfind.StatusError
	if errors.As(err, &statusErr) {
		pe := model.NewProviderError(p.Service(), model.KindForHTTPStatus(statusErr.StatusCode), err)
		pe.RetryAfter = statusErr.RetryAfter
		return pe
	}
	return err
}
