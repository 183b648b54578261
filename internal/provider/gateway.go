package provider

import (
	"context"

	"github.com/sells-group/contact-enrichment/internal/breaker"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// Gateway invokes providers through the circuit breaker manager and
// guarantees every failure comes back as a classified ProviderError.
type Gateway struct {
	breakers *breaker.Manager
	registry *Registry
}

// NewGateway creates a Gateway over a registry.
func NewGateway(breakers *breaker.Manager, registry *Registry) *Gateway {
	return &Gateway{breakers: breakers, registry: registry}
}

// Registry exposes the underlying registry for kind resolution.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Enrich runs one provider call for the given kind, breaker-protected.
// Returns ErrNotConfigured (untouched, no circuit impact) when the provider
// has no credentials. All other failures are ProviderErrors.
func (g *Gateway) Enrich(ctx context.Context, kind model.EnrichmentKind, c model.ContactRecord) (*Result, error) {
	p := g.registry.Get(kind)
	if p == nil {
		// Registry is resolved at startup; a missing kind here is a wiring
		// bug surfaced synchronously by the coordinator.
		return nil, model.NewProviderError(string(kind), model.ErrInvalidInput, nil)
	}
	if !p.Configured() {
		return nil, ErrNotConfigured
	}

	service := p.Service()
	return breaker.CallVal(ctx, g.breakers, service, func(ctx context.Context) (*Result, error) {
		res, err := p.Enrich(ctx, c)
		if err != nil {
			return nil, model.ClassifyError(service, err)
		}
		return res, nil
	})
}
