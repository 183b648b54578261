// Package dnc checks phone numbers against do-not-call and litigator
// registries through a compliance screening API.
package dnc

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

const defaultBaseURL = "https://api.dncscrub.example.com/v1"

// Client performs compliance checks.
type Client interface {
	Check(ctx context.Context, phone string) (*CheckResponse, error)
}

// CheckResponse reports the registries the number appears on.
type CheckResponse struct {
	Phone        string `json:"phone"`
	FederalDNC   bool   `json:"federal_dnc"`
	StateDNC     bool   `json:"state_dnc"`
	Litigator    bool   `json:"litigator"`
	Wireless     bool   `json:"wireless"`
	CheckedAtRaw string `json:"checked_at,omitempty"`
}

// Callable reports whether outbound calling is permitted.
func (r *CheckResponse) Callable() bool {
	return !r.FederalDNC && !r.StateDNC && !r.Litigator
}

// StatusError is returned for non-200 API responses; callers classify on the
// status code.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dnc: unexpected status %d: %s", e.StatusCode, e.Body)
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

// NewClient creates a compliance screening client.
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

func (c *httpClient) Check(ctx context.Context, phone string) (*CheckResponse, error) {
	if phone == "" {
		return nil, eris.New("dnc: phone is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "dnc: rate limit")
		}
	}

	endpoint := c.baseURL + "/scrub?" + url.Values{"phone": {phone}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "dnc: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "dnc: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "dnc: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: retryAfter(resp),
		}
	}

	var result CheckResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "dnc: unmarshal response")
	}
	return &result, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
