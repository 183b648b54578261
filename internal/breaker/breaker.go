// Package breaker implements a shared-state circuit breaker manager. Breaker
// state lives in a store visible to every worker so one worker's observed
// failures protect all of them.
package breaker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// Circuit is the health state of one service.
type Circuit string

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed Circuit = "closed"
	// CircuitOpen means too many failures; requests are rejected immediately.
	CircuitOpen Circuit = "open"
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen Circuit = "half_open"
)

// State is the persisted breaker state for one service. A missing or expired
// row reads as closed with a zero failure count.
type State struct {
	Service       string    `json:"service"`
	FailureCount  int       `json:"failure_count"`
	Circuit       Circuit   `json:"circuit"`
	OpenedAt      time.Time `json:"opened_at,omitempty"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

// Settings is the per-service breaker configuration. Sensitive paid services
// use a low threshold and short cooldown; tolerant services (AI calls, core
// lookup) use a higher threshold and longer cooldown.
type Settings struct {
	Threshold int           `yaml:"threshold" mapstructure:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// DefaultSettings returns the tolerant-service profile.
func DefaultSettings() Settings {
	return Settings{Threshold: 5, Cooldown: 60 * time.Second}
}

// SensitiveSettings returns the profile for paid/sensitive services.
func SensitiveSettings() Settings {
	return Settings{Threshold: 3, Cooldown: 30 * time.Second}
}

// StateStore persists breaker state with a TTL so stale counters self-expire
// back to implicit closed. Implementations must make RecordFailure and
// MarkHalfOpen effectively atomic (increment / compare-and-swap), not
// read-modify-write.
type StateStore interface {
	// Get returns the current state for a service. A missing or expired row
	// returns a zero-value closed state, not an error.
	Get(ctx context.Context, service string) (State, error)
	// RecordFailure atomically increments the failure counter and returns the
	// new count.
	RecordFailure(ctx context.Context, service string, at time.Time) (int, error)
	// TripOpen marks the circuit open as of the given time.
	TripOpen(ctx context.Context, service string, openedAt time.Time) error
	// MarkHalfOpen transitions open→half_open. Returns false if the circuit
	// was not open (another worker already transitioned or reset it).
	MarkHalfOpen(ctx context.Context, service string) (bool, error)
	// Reset clears the failure counter and closes the circuit.
	Reset(ctx context.Context, service string) error
}

// Manager routes calls through per-service circuit breakers.
type Manager struct {
	store    StateStore
	settings map[string]Settings
	fallback Settings

	nowFunc func() time.Time
}

// NewManager creates a breaker manager. Per-service settings override the
// fallback profile.
func NewManager(store StateStore, settings map[string]Settings) *Manager {
	m := &Manager{
		store:    store,
		settings: make(map[string]Settings, len(settings)),
		fallback: DefaultSettings(),
		nowFunc:  time.Now,
	}
	for svc, s := range settings {
		if s.Threshold <= 0 {
			s.Threshold = m.fallback.Threshold
		}
		if s.Cooldown <= 0 {
			s.Cooldown = m.fallback.Cooldown
		}
		m.settings[svc] = s
	}
	return m
}

// WithNow sets a fixed clock for testing.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.nowFunc = now
	return m
}

// SettingsFor returns the effective settings for a service.
func (m *Manager) SettingsFor(service string) Settings {
	if s, ok := m.settings[service]; ok {
		return s
	}
	return m.fallback
}

// Call runs fn through the breaker for the named service. If the circuit is
// open and the cooldown has not elapsed, fn is never invoked and a
// circuit_open ProviderError carrying the remaining cooldown is returned.
func (m *Manager) Call(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	if err := m.allow(ctx, service); err != nil {
		return err
	}
	err := fn(ctx)
	m.record(ctx, service, err)
	return err
}

// CallVal is like Call but preserves a return value.
func CallVal[T any](ctx context.Context, m *Manager, service string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := m.allow(ctx, service); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	m.record(ctx, service, err)
	return val, err
}

// State returns the effective circuit state for a service, accounting for an
// elapsed cooldown (an open circuit past its cooldown reads as half_open).
func (m *Manager) State(ctx context.Context, service string) (State, error) {
	st, err := m.store.Get(ctx, service)
	if err != nil {
		return State{}, eris.Wrapf(err, "breaker: state %s", service)
	}
	st.Service = service
	if st.Circuit == CircuitOpen && m.nowFunc().Sub(st.OpenedAt) >= m.SettingsFor(service).Cooldown {
		st.Circuit = CircuitHalfOpen
	}
	return st, nil
}

// ForceOpen is a manual operator action that trips the circuit as if the
// failure threshold had been breached.
func (m *Manager) ForceOpen(ctx context.Context, service string) error {
	now := m.nowFunc()
	threshold := m.SettingsFor(service).Threshold
	for i := 0; i <= threshold; i++ {
		if _, err := m.store.RecordFailure(ctx, service, now); err != nil {
			return eris.Wrapf(err, "breaker: force-open %s", service)
		}
	}
	if err := m.store.TripOpen(ctx, service, now); err != nil {
		return eris.Wrapf(err, "breaker: force-open %s", service)
	}
	zap.L().Warn("breaker: circuit forced open", zap.String("service", service))
	return nil
}

// ForceClose is a manual operator action that clears the failure counter and
// closes the circuit.
func (m *Manager) ForceClose(ctx context.Context, service string) error {
	if err := m.store.Reset(ctx, service); err != nil {
		return eris.Wrapf(err, "breaker: force-close %s", service)
	}
	zap.L().Info("breaker: circuit forced closed", zap.String("service", service))
	return nil
}

func (m *Manager) allow(ctx context.Context, service string) error {
	st, err := m.store.Get(ctx, service)
	if err != nil {
		// A store outage must not stall the pipeline; log and fail open.
		zap.L().Warn("breaker: state read failed, allowing call",
			zap.String("service", service), zap.Error(err))
		return nil
	}

	cooldown := m.SettingsFor(service).Cooldown

	switch st.Circuit {
	case CircuitHalfOpen:
		// Another caller's probe is in flight; reject until it settles.
		pe := model.NewProviderError(service, model.ErrCircuitOpen, nil)
		pe.RetryAfter = cooldown
		return pe
	case CircuitOpen:
	default:
		return nil
	}

	remaining := cooldown - m.nowFunc().Sub(st.OpenedAt)
	if remaining > 0 {
		pe := model.NewProviderError(service, model.ErrCircuitOpen, nil)
		pe.RetryAfter = remaining
		return pe
	}

	// Cooldown elapsed: the compare-and-swap elects exactly one probe.
	won, err := m.store.MarkHalfOpen(ctx, service)
	if err != nil {
		zap.L().Warn("breaker: half-open transition failed, allowing call",
			zap.String("service", service), zap.Error(err))
		return nil
	}
	if won {
		return nil
	}

	// Lost the election. If the circuit already closed again the probe
	// succeeded and the call can proceed; otherwise keep fast-failing until
	// the in-flight probe settles.
	if st, getErr := m.store.Get(ctx, service); getErr == nil && st.Circuit == CircuitClosed {
		return nil
	}
	pe := model.NewProviderError(service, model.ErrCircuitOpen, nil)
	pe.RetryAfter = cooldown
	return pe
}

func (m *Manager) record(ctx context.Context, service string, err error) {
	trips := err != nil
	if pe := model.AsProviderError(err); pe != nil {
		trips = pe.CountsTowardCircuit()
	}

	if err == nil {
		// Success resets the counter; half_open transitions back to closed.
		if resetErr := m.store.Reset(ctx, service); resetErr != nil {
			zap.L().Warn("breaker: reset failed",
				zap.String("service", service), zap.Error(resetErr))
		}
		return
	}
	if !trips {
		return
	}

	now := m.nowFunc()
	count, recErr := m.store.RecordFailure(ctx, service, now)
	if recErr != nil {
		zap.L().Warn("breaker: record failure failed",
			zap.String("service", service), zap.Error(recErr))
		return
	}

	st, getErr := m.store.Get(ctx, service)
	if getErr != nil {
		st = State{}
	}

	// A single failure in half_open re-opens immediately; in closed we open
	// only once the threshold is reached.
	if st.Circuit == CircuitHalfOpen || count >= m.SettingsFor(service).Threshold {
		if tripErr := m.store.TripOpen(ctx, service, now); tripErr != nil {
			zap.L().Warn("breaker: trip failed",
				zap.String("service", service), zap.Error(tripErr))
			return
		}
		zap.L().Warn("breaker: circuit opened",
			zap.String("service", service),
			zap.Int("failures", count),
		)
	}
}
