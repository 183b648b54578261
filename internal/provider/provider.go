// Package provider defines the capability contract for enrichment providers
// and the registry that resolves enrichment kinds to implementations at
// startup.
package provider

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// ErrNotConfigured marks a provider whose credentials or feature flag are
// absent. The coordinator records the task as skipped: no failure, no retry,
// no circuit impact.
var ErrNotConfigured = eris.New("provider: not configured")

// ContactUpdates carries structured field updates a provider wants applied to
// the contact. The processor applies them explicitly after the fan-out joins;
// nothing mutates the record from inside a task.
type ContactUpdates struct {
	Email            string   `json:"email,omitempty"`
	EmailVerified    *bool    `json:"email_verified,omitempty"`
	BusinessName     string   `json:"business_name,omitempty"`
	BusinessEnriched *bool    `json:"business_enriched,omitempty"`
	Street           string   `json:"street,omitempty"`
	City             string   `json:"city,omitempty"`
	State            string   `json:"state,omitempty"`
	ZipCode          string   `json:"zip_code,omitempty"`
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
}

// Result is a provider's enrichment output: an opaque payload stored on the
// contact under the provider's kind, plus optional structured updates.
type Result struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Updates ContactUpdates  `json:"updates,omitempty"`
}

// Provider is one external enrichment capability. Implementations are thin
// adapters over pkg/ clients; the coordinator is agnostic to any provider's
// request/response shape.
type Provider interface {
	// Kind returns the enrichment kind this provider serves.
	Kind() model.EnrichmentKind
	// Service returns the breaker service name for this provider.
	Service() string
	// Configured reports whether the provider has what it needs to run.
	Configured() bool
	// Enrich performs one lookup for the contact. Errors should be classified
	// ProviderErrors; anything else is classified at the gateway boundary.
	Enrich(ctx context.Context, c model.ContactRecord) (*Result, error)
}

// Registry maps enrichment kinds to providers. Populated once at startup;
// an unregistered kind at enrich time is a programmer error.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.EnrichmentKind]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[model.EnrichmentKind]Provider),
	}
}

// Register adds a provider. Registering a second provider for the same kind
// is a wiring bug and returns an error.
func (r *Registry) Register(p Provider) error {
	if !model.ValidEnrichmentKind(p.Kind()) {
		return eris.Errorf("provider: unknown kind %q", p.Kind())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Kind()]; exists {
		return eris.Errorf("provider: kind %q already registered", p.Kind())
	}
	r.providers[p.Kind()] = p
	return nil
}

// Get returns the provider for a kind, or nil if none is registered.
func (r *Registry) Get(kind model.EnrichmentKind) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[kind]
}

// Kinds returns all registered kinds.
func (r *Registry) Kinds() []model.EnrichmentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]model.EnrichmentKind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Services returns the breaker service name of every known provider.
func Services() []string {
	return []string{
		"phone_intel",
		"email_finder",
		"dnc",
		"google_places",
		"geocoder",
		"coverage",
	}
}
