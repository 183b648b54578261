// Package phoneintel looks up line type, carrier, and validity for a phone
// number through a Telnyx-style number intelligence API.
package phoneintel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.telnyx.com/v2"

// Client performs phone intelligence lookups.
type Client interface {
	Lookup(ctx context.Context, phone string) (*LookupResponse, error)
}

// LookupResponse is the normalized lookup result.
type LookupResponse struct {
	PhoneNumber   string `json:"phone_number"`
	Valid         bool   `json:"valid"`
	LineType      string `json:"line_type"`
	Carrier       string `json:"carrier"`
	CountryCode   string `json:"country_code"`
	Portable      bool   `json:"portable"`
	NationalFmt   string `json:"national_format,omitempty"`
}

// StatusError is returned for non-200 API responses; callers classify on the
// status code. RetryAfter carries the server's backoff hint when present.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("phoneintel: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second request cap.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a phone intelligence client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type lookupEnvelope struct {
	Data struct {
		PhoneNumber    string `json:"phone_number"`
		NationalFormat string `json:"national_format"`
		CountryCode    string `json:"country_code"`
		Valid          bool   `json:"valid_number"`
		Portability    struct {
			Portable bool `json:"portable"`
		} `json:"portability"`
		Carrier struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"carrier"`
	} `json:"data"`
}

func (c *httpClient) Lookup(ctx context.Context, phone string) (*LookupResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "phoneintel: rate limit")
		}
	}

	endpoint := c.baseURL + "/number_lookup/" + url.PathEscape(phone)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "phoneintel: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "phoneintel: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "phoneintel: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: retryAfter(resp),
		}
	}

	var envelope lookupEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, eris.Wrap(err, "phoneintel: unmarshal response")
	}

	return &LookupResponse{
		PhoneNumber: envelope.Data.PhoneNumber,
		Valid:       envelope.Data.Valid,
		LineType:    envelope.Data.Carrier.Type,
		Carrier:     envelope.Data.Carrier.Name,
		CountryCode: envelope.Data.CountryCode,
		Portable:    envelope.Data.Portability.Portable,
		NationalFmt: envelope.Data.NationalFormat,
	}, nil
}

// retryAfter parses the Retry-After header, seconds form only.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
