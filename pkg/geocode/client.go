// Package geocode resolves contact mailing addresses to coordinates. The
// Census Bureau geocoder is the primary web source with Google's Geocoding
// API as a backstop; CascadeClient layers a local PostGIS TIGER instance and
// a Postgres result cache in front of both.
package geocode

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Match quality, ordered best to worst. TIGER ratings and the web sources'
// own precision labels both map onto this scale.
const (
	QualityRooftop     = "rooftop"
	QualityRange       = "range"
	QualityCentroid    = "centroid"
	QualityApproximate = "approximate"
)

// Client resolves addresses to coordinates.
type Client interface {
	// Geocode resolves one address. An unmatched address is not an error;
	// the returned Result has Matched false.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)

	// BatchGeocode resolves several addresses in one pass. Results are
	// positional: results[i] corresponds to addrs[i].
	BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error)
}

// AddressInput is one address to resolve. ID carries through batch calls so
// callers can correlate results; it is optional for single lookups.
type AddressInput struct {
	ID      string
	Street  string
	City    string
	State   string
	ZipCode string
}

// Result is the outcome of one lookup.
type Result struct {
	Latitude  float64
	Longitude float64
	Source    string // "cache", "tiger", "census", or "google"
	Quality   string
	// Rating is the TIGER match rating, lower is better. Web sources leave
	// it zero.
	Rating int
	// CountyFIPS is the five-digit state+county code when the source can
	// supply one.
	CountyFIPS string
	Matched    bool
}

// Option configures the HTTP-backed client returned by NewClient.
type Option func(*webGeocoder)

// WithGoogleAPIKey enables the Google Geocoding API fallback for addresses
// Census cannot match.
func WithGoogleAPIKey(key string) Option {
	return func(g *webGeocoder) {
		g.googleKey = key
	}
}

// WithHTTPClient replaces the HTTP client used for both Census and Google.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *webGeocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(g *webGeocoder) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// webGeocoder implements Client against the Census and Google HTTP APIs.
type webGeocoder struct {
	httpClient *http.Client
	googleKey  string
	limiter    *rate.Limiter
}

// NewClient builds the HTTP-backed geocoding client. The default rate limit
// matches the Census geocoder's documented 50 req/s ceiling.
func NewClient(opts ...Option) Client {
	g := &webGeocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(50, 50),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *webGeocoder) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if r, err := g.censusLookup(ctx, addr); err == nil && r.Matched {
		return r, nil
	}
	if g.googleKey != "" {
		if r, err := g.googleLookup(ctx, addr); err == nil && r.Matched {
			return r, nil
		}
	}
	return &Result{Matched: false}, nil
}

func (g *webGeocoder) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	// Positional IDs correlate the batch response rows back to the input.
	for i := range addrs {
		if addrs[i].ID == "" {
			addrs[i].ID = strconv.Itoa(i)
		}
	}

	results, err := g.censusBatch(ctx, addrs)
	if err != nil {
		// Batch endpoint down or rejecting the upload; degrade to
		// one-at-a-time lookups.
		results = make([]Result, len(addrs))
		for i, addr := range addrs {
			r, lookupErr := g.Geocode(ctx, addr)
			if lookupErr != nil {
				results[i] = Result{Matched: false}
				continue
			}
			results[i] = *r
		}
		return results, nil
	}

	if g.googleKey != "" {
		for i := range results {
			if results[i].Matched {
				continue
			}
			if r, lookupErr := g.googleLookup(ctx, addrs[i]); lookupErr == nil && r.Matched {
				results[i] = *r
			}
		}
	}

	return results, nil
}
