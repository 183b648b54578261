package lifecycle

import (
	"math"
	"math/rand"
	"time"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// RetryPolicy schedules job re-attempts. The interval grows with the fourth
// power of the attempt count plus a fixed offset and a random term, so a
// recovering provider is not hit by a synchronized herd of retries.
type RetryPolicy struct {
	MaxAttempts int
	Offset      time.Duration
	MaxJitter   time.Duration

	randFn func() float64
}

// DefaultRetryPolicy matches the job queue's standard schedule: retries land
// at roughly 16s, 96s, 4.5m, 10.5m after the first failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Offset:      15 * time.Second,
		MaxJitter:   30 * time.Second,
		randFn:      rand.Float64,
	}
}

// WithRand overrides the jitter source. Tests only.
func (p RetryPolicy) WithRand(fn func() float64) RetryPolicy {
	p.randFn = fn
	return p
}

// Backoff returns the delay before the given attempt number is retried.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(math.Pow(float64(attempt), 4)) * time.Second
	jitter := time.Duration(0)
	if p.MaxJitter > 0 {
		fn := p.randFn
		if fn == nil {
			fn = rand.Float64
		}
		jitter = time.Duration(fn() * float64(p.MaxJitter))
	}
	return base + p.Offset + jitter
}

// Decision is the retry verdict for one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide classifies an error and returns whether, and when, the job should
// run again. Permanent errors never retry. A rate-limited or circuit-open
// error retries on a delayed schedule honoring the provider's RetryAfter;
// neither is treated as a fresh provider failure here, the breaker already
// accounted for it. Anything else is transient up to MaxAttempts.
func (p RetryPolicy) Decide(err error, attempt int) Decision {
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	delay := p.Backoff(attempt)
	pe := model.AsProviderError(err)
	if pe == nil {
		// Infrastructure errors (store outage, lock timeout) are transient.
		return Decision{Retry: true, Delay: delay}
	}

	switch pe.Kind {
	case model.ErrInvalidInput, model.ErrUnauthenticated, model.ErrNotFound:
		return Decision{}
	case model.ErrRateLimited, model.ErrCircuitOpen:
		if pe.RetryAfter > delay {
			delay = pe.RetryAfter
		}
		return Decision{Retry: true, Delay: delay}
	default:
		return Decision{Retry: true, Delay: delay}
	}
}
