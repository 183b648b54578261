package provider

import (
	"context"
	"encoding/json"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/geocode"
)

// AddressProvider geocodes the contact's mailing address. When a contact has
// coordinates but no address, it runs the lookup in reverse instead.
type AddressProvider struct {
	client geocode.Client
}

// reverseGeocoder is satisfied by clients that can recover an address from
// coordinates, such as the TIGER-backed cascade client.
type reverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*geocode.ReverseResult, error)
}

// NewAddressProvider wraps a geocoding client. A nil client means the
// provider is not configured.
func NewAddressProvider(client geocode.Client) *AddressProvider {
	return &AddressProvider{client: client}
}

func (p *AddressProvider) Kind() model.EnrichmentKind { return model.EnrichAddress }
func (p *AddressProvider) Service() string            { return "geocoder" }
func (p *AddressProvider) Configured() bool           { return p.client != nil }

func (p *AddressProvider) Enrich(ctx context.Context, c model.ContactRecord) (*Result, error) {
	if c.Street == "" && c.ZipCode == "" {
		return p.enrichFromCoordinates(ctx, c)
	}

	result, err := p.client.Geocode(ctx, geocode.AddressInput{
		ID:      c.ID,
		Street:  c.Street,
		City:    c.City,
		State:   c.State,
		ZipCode: c.ZipCode,
	})
	if err != nil {
		return nil, err
	}
	if !result.Matched {
		return nil, model.NewProviderError(p.Service(), model.ErrNotFound, nil)
	}

	payload, err := json.Marshal(map[string]any{
		"lat":     result.Latitude,
		"lng":     result.Longitude,
		"source":  result.Source,
		"quality": result.Quality,
	})
	if err != nil {
		return nil, model.NewProviderError(p.Service(), model.ErrUnknown, err)
	}

	lat, lng := result.Latitude, result.Longitude
	return &Result{
		Payload: payload,
		Updates: ContactUpdates{Lat: &lat, Lng: &lng},
	}, nil
}

// enrichFromCoordinates backfills the mailing address for a contact that has
// only coordinates. Clients without reverse support reject the contact the
// same way an empty address is rejected.
func (p *AddressProvider) enrichFromCoordinates(ctx context.Context, c model.ContactRecord) (*Result, error) {
	rg, ok := p.client.(reverseGeocoder)
	if !ok || c.Lat == nil || c.Lng == nil {
		return nil, model.NewProviderError(p.Service(), model.ErrInvalidInput, nil)
	}

	addr, err := rg.ReverseGeocode(ctx, *c.Lat, *c.Lng)
	if err != nil {
		return nil, model.NewProviderError(p.Service(), model.ErrNotFound, err)
	}

	payload, err := json.Marshal(addr)
	if err != nil {
		return nil, model.NewProviderError(p.Service(), model.ErrUnknown, err)
	}

	return &Result{
		Payload: payload,
		Updates: ContactUpdates{
			Street:  addr.Street,
			City:    addr.City,
			State:   addr.State,
			ZipCode: addr.ZipCode,
		},
	}, nil
}
