// Package emailfind discovers and verifies email addresses through a
// Hunter-style email finder API.
package emailfind

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

const defaultBaseURL = "https://api.hunter.io/v2"

// Client performs email discovery and verification.
type Client interface {
	Find(ctx context.Context, req FindRequest) (*FindResponse, error)
	Verify(ctx context.Context, email string) (*VerifyResponse, error)
}

// FindRequest identifies the person to find an address for. Domain or
// Company is required.
type FindRequest struct {
	FirstName string
	LastName  string
	Domain    string
	Company   string
}

// FindResponse is the discovery result. Score is the API's 0-100 confidence.
type FindResponse struct {
	Email string `json:"email"`
	Score int    `json:"score"`
}

// VerifyResponse reports deliverability for one address.
type VerifyResponse struct {
	Email      string `json:"email"`
	Result     string `json:"result"` // deliverable, undeliverable, risky
	Score      int    `json:"score"`
	Disposable bool   `json:"disposable"`
}

// Deliverable reports whether the address verified clean.
func (v *VerifyResponse) Deliverable() bool {
	return v.Result == "deliverable"
}

// StatusError is returned for non-200 API responses; callers classify on the
// status code.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("emailfind: unexpected status %d: %s", e.StatusCode, e.Body)
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

// NewClient creates an email finder client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type findEnvelope struct {
	Data struct {
		Email string `json:"email"`
		Score int    `json:"score"`
	} `json:"data"`
}

type verifyEnvelope struct {
	Data struct {
		Email      string `json:"email"`
		Result     string `json:"result"`
		Score      int    `json:"score"`
		Disposable bool   `json:"disposable"`
	} `json:"data"`
}

func (c *httpClient) Find(ctx context.Context, req FindRequest) (*FindResponse, error) {
	if req.Domain == "" && req.Company == "" {
		return nil, eris.New("emailfind: domain or company is required")
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	if req.FirstName != "" {
		params.Set("first_name", req.FirstName)
	}
	if req.LastName != "" {
		params.Set("last_name", req.LastName)
	}
	if req.Domain != "" {
		params.Set("domain", req.Domain)
	} else {
		params.Set("company", req.Company)
	}

	var envelope findEnvelope
	if err := c.get(ctx, "/email-finder", params, &envelope); err != nil {
		return nil, err
	}
	return &FindResponse{Email: envelope.Data.Email, Score: envelope.Data.Score}, nil
}

func (c *httpClient) Verify(ctx context.Context, email string) (*VerifyResponse, error) {
	if email == "" {
		return nil, eris.New("emailfind: email is required")
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("email", email)

	var envelope verifyEnvelope
	if err := c.get(ctx, "/email-verifier", params, &envelope); err != nil {
		return nil, err
	}
	return &VerifyResponse{
		Email:      envelope.Data.Email,
		Result:     envelope.Data.Result,
		Score:      envelope.Data.Score,
		Disposable: envelope.Data.Disposable,
	}, nil
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "emailfind: rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "emailfind: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "emailfind: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "emailfind: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: retryAfter(resp),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "emailfind: unmarshal response")
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
