package provider

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enrichment/internal/breaker"
	"github.com/sells-group/contact-enrichment/internal/coverage"
	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/emailfind"
	"github.com/sells-group/contact-enrichment/pkg/geocode"
	"github.com/sells-group/contact-enrichment/pkg/google"
	googlemocks "github.com/sells-group/contact-enrichment/pkg/google/mocks"
	"github.com/sells-group/contact-enrichment/pkg/phoneintel"
)

type stubPhone struct {
	resp *phoneintel.LookupResponse
	err  error
}

func (s *stubPhone) Lookup(context.Context, string) (*phoneintel.LookupResponse, error) {
	return s.resp, s.err
}

type stubEmail struct {
	findResp   *emailfind.FindResponse
	verifyResp *emailfind.VerifyResponse
	err        error
}

func (s *stubEmail) Find(context.Context, emailfind.FindRequest) (*emailfind.FindResponse, error) {
	return s.findResp, s.err
}

func (s *stubEmail) Verify(context.Context, string) (*emailfind.VerifyResponse, error) {
	return s.verifyResp, s.err
}

func placesReturning(t *testing.T, resp *google.TextSearchResponse) *googlemocks.MockClient {
	t.Helper()
	mc := googlemocks.NewMockClient(t)
	mc.On("TextSearch", mock.Anything, mock.AnythingOfType("string")).Return(resp, nil)
	return mc
}

type stubGeocoder struct {
	result *geocode.Result
	err    error
}

func (s *stubGeocoder) Geocode(context.Context, geocode.AddressInput) (*geocode.Result, error) {
	return s.result, s.err
}

func (s *stubGeocoder) BatchGeocode(context.Context, []geocode.AddressInput) ([]geocode.Result, error) {
	return nil, nil
}

type stubReverseGeocoder struct {
	stubGeocoder
	reverse *geocode.ReverseResult
	err     error
}

func (s *stubReverseGeocoder) ReverseGeocode(context.Context, float64, float64) (*geocode.ReverseResult, error) {
	return s.reverse, s.err
}

func TestPhoneProvider_Success(t *testing.T) {
	p := NewPhoneProvider(&stubPhone{resp: &phoneintel.LookupResponse{
		Valid:    true,
		LineType: "mobile",
		Carrier:  "Example Wireless",
	}})

	res, err := p.Enrich(context.Background(), model.ContactRecord{Phone: "+15550100200"})
	require.NoError(t, err)

	var decoded phoneintel.LookupResponse
	require.NoError(t, json.Unmarshal(res.Payload, &decoded))
	assert.Equal(t, "mobile", decoded.LineType)
}

func TestPhoneProvider_RequiresPhone(t *testing.T) {
	p := NewPhoneProvider(&stubPhone{})
	_, err := p.Enrich(context.Background(), model.ContactRecord{})

	pe := model.AsProviderError(err)
	require.NotNil(t, pe)
	assert.Equal(t, model.ErrInvalidInput, pe.Kind)
}

func TestPhoneProvider_RateLimitClassified(t *testing.T) {
	p := NewPhoneProvider(&stubPhone{err: &phoneintel.StatusError{
		StatusCode: 429,
		RetryAfter: 45 * time.Second,
	}})

	_, err := p.Enrich(context.Background(), model.ContactRecord{Phone: "+15550100200"})
	pe := model.AsProviderError(err)
	require.NotNil(t, pe)
	assert.Equal(t, model.ErrRateLimited, pe.Kind)
	assert.Equal(t, 45*time.Second, pe.RetryAfter)
}

func TestPhoneProvider_NotConfigured(t *testing.T) {
	p := NewPhoneProvider(nil)
	assert.False(t, p.Configured())
}

func TestEmailProvider_VerifyKnownAddress(t *testing.T) {
	p := NewEmailProvider(&stubEmail{verifyResp: &emailfind.VerifyResponse{
		Email:  "ada@example.com",
		Result: "deliverable",
		Score:  97,
	}})

	res, err := p.Enrich(context.Background(), model.ContactRecord{Email: "ada@example.com"})
	require.NoError(t, err)
	require.NotNil(t, res.Updates.EmailVerified)
	assert.True(t, *res.Updates.EmailVerified)
	assert.Empty(t, res.Updates.Email, "already-known address is not re-set")
}

func TestEmailProvider_DiscoverAndVerify(t *testing.T) {
	p := NewEmailProvider(&stubEmail{
		findResp:   &emailfind.FindResponse{Email: "grace@acme.com", Score: 88},
		verifyResp: &emailfind.VerifyResponse{Email: "grace@acme.com", Result: "risky"},
	})

	res, err := p.Enrich(context.Background(), model.ContactRecord{
		FirstName:    "Grace",
		LastName:     "Hopper",
		BusinessName: "Acme Plumbing",
	})
	require.NoError(t, err)
	assert.Equal(t, "grace@acme.com", res.Updates.Email)
	require.NotNil(t, res.Updates.EmailVerified)
	assert.False(t, *res.Updates.EmailVerified)
}

func TestEmailProvider_DiscoverNeedsNameAndBusiness(t *testing.T) {
	p := NewEmailProvider(&stubEmail{})
	_, err := p.Enrich(context.Background(), model.ContactRecord{Phone: "5550100"})

	pe := model.AsProviderError(err)
	require.NotNil(t, pe)
	assert.Equal(t, model.ErrInvalidInput, pe.Kind)
}

func TestBusinessProvider_MatchSetsEnriched(t *testing.T) {
	p := NewBusinessProvider(placesReturning(t, &google.TextSearchResponse{
		Places: []google.Place{{
			DisplayName:      google.DisplayName{Text: "Acme Plumbing"},
			FormattedAddress: "12 Main St, Springfield, IL",
			Rating:           4.5,
		}},
	}))

	res, err := p.Enrich(context.Background(), model.ContactRecord{BusinessName: "Acme Plumbing", City: "Springfield"})
	require.NoError(t, err)
	require.NotNil(t, res.Updates.BusinessEnriched)
	assert.True(t, *res.Updates.BusinessEnriched)
	assert.Empty(t, res.Updates.BusinessName, "existing name is kept")
}

func TestBusinessProvider_NameFilledWhenMissing(t *testing.T) {
	p := NewBusinessProvider(placesReturning(t, &google.TextSearchResponse{
		Places: []google.Place{{DisplayName: google.DisplayName{Text: "Acme Plumbing"}}},
	}))

	res, err := p.Enrich(context.Background(), model.ContactRecord{Phone: "5550100"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", res.Updates.BusinessName)
}

func TestBusinessProvider_NoMatchIsNotFound(t *testing.T) {
	p := NewBusinessProvider(placesReturning(t, &google.TextSearchResponse{}))
	_, err := p.Enrich(context.Background(), model.ContactRecord{BusinessName: "Ghost LLC"})

	pe := model.AsProviderError(err)
	require.NotNil(t, pe)
	assert.Equal(t, model.ErrNotFound, pe.Kind)
}

func TestAddressProvider_SetsCoordinates(t *testing.T) {
	p := NewAddressProvider(&stubGeocoder{result: &geocode.Result{
		Latitude:  39.78,
		Longitude: -89.65,
		Source:    "census",
		Quality:   "rooftop",
		Matched:   true,
	}})

	res, err := p.Enrich(context.Background(), model.ContactRecord{Street: "12 Main St", City: "Springfield"})
	require.NoError(t, err)
	require.NotNil(t, res.Updates.Lat)
	assert.InDelta(t, 39.78, *res.Updates.Lat, 0.001)
	assert.InDelta(t, -89.65, *res.Updates.Lng, 0.001)
}

func TestAddressProvider_NoMatch(t *testing.T) {
	p := NewAddressProvider(&stubGeocoder{result: &geocode.Result{Matched: false}})
	_, err := p.Enrich(context.Background(), model.ContactRecord{Street: "nowhere"})

	pe := model.AsProviderError(err)
	require.NotNil(t, pe)
	assert.Equal(t, model.ErrNotFound, pe.Kind)
}

func TestAddressProvider_BackfillsAddressFromCoordinates(t *testing.T) {
	p := NewAddressProvider(&stubReverseGeocoder{reverse: &geocode.ReverseResult{
		Street:  "12 Main St",
		City:    "Springfield",
		State:   "IL",
		ZipCode: "62701",
	}})

	lat, lng := 39.78, -89.65
	res, err := p.Enrich(context.Background(), model.ContactRecord{Lat: &lat, Lng: &lng})
	require.NoError(t, err)
	assert.Equal(t, "12 Main St", res.Updates.Street)
	assert.Equal(t, "Springfield", res.Updates.City)
	assert.Equal(t, "IL", res.Updates.State)
	assert.Equal(t, "62701", res.Updates.ZipCode)
}

func TestAddressProvider_NeedsAddressOrCoordinates(t *testing.T) {
	// Client without reverse support and a contact with neither address nor
	// coordinates both end in the same rejection.
	for name, p := range map[string]*AddressProvider{
		"no reverse support": NewAddressProvider(&stubGeocoder{}),
		"no coordinates":     NewAddressProvider(&stubReverseGeocoder{}),
	} {
		_, err := p.Enrich(context.Background(), model.ContactRecord{})
		pe := model.AsProviderError(err)
		require.NotNil(t, pe, name)
		assert.Equal(t, model.ErrInvalidInput, pe.Kind, name)
	}
}

func TestCoverageProvider_LocatesAreas(t *testing.T) {
	idx := coverage.NewIndex()
	// no areas loaded: point is simply uncovered
	p := NewCoverageProvider(idx)

	lat, lng := 39.78, -89.65
	res, err := p.Enrich(context.Background(), model.ContactRecord{Lat: &lat, Lng: &lng})
	require.NoError(t, err)

	var decoded struct {
		Covered bool `json:"covered"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &decoded))
	assert.False(t, decoded.Covered)
}

func TestCoverageProvider_RequiresCoordinates(t *testing.T) {
	p := NewCoverageProvider(coverage.NewIndex())
	_, err := p.Enrich(context.Background(), model.ContactRecord{})

	pe := model.AsProviderError(err)
	require.NotNil(t, pe)
	assert.Equal(t, model.ErrInvalidInput, pe.Kind)
}

func TestGateway_NotConfiguredSkips(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewPhoneProvider(nil)))

	breakers := breaker.NewManager(breaker.NewMemoryStore(0), nil)
	gw := NewGateway(breakers, registry)

	_, err := gw.Enrich(context.Background(), model.EnrichPhone, model.ContactRecord{Phone: "5550100"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGateway_ClassifiesOnTheWayOut(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewPhoneProvider(&stubPhone{err: &phoneintel.StatusError{StatusCode: 401}})))

	breakers := breaker.NewManager(breaker.NewMemoryStore(0), nil)
	gw := NewGateway(breakers, registry)

	_, err := gw.Enrich(context.Background(), model.EnrichPhone, model.ContactRecord{Phone: "5550100"})
	pe := model.AsProviderError(err)
	require.NotNil(t, pe)
	assert.Equal(t, model.ErrUnauthenticated, pe.Kind)
}
