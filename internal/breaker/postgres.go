package breaker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enrichment/internal/db"
)

// PostgresStore persists breaker state in the circuit_state table so state is
// visible to every worker process. Counter updates are single atomic
// statements, never read-modify-write.
type PostgresStore struct {
	pool db.Pool
	ttl  time.Duration
}

// NewPostgresStore creates a PostgresStore. A zero TTL defaults to 5 minutes.
func NewPostgresStore(pool db.Pool, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PostgresStore{pool: pool, ttl: ttl}
}

func (s *PostgresStore) Get(ctx context.Context, service string) (State, error) {
	st := State{Service: service, Circuit: CircuitClosed}
	var openedAt, lastFailureAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT failure_count, circuit, opened_at, last_failure_at
		FROM circuit_state
		WHERE service = $1 AND expires_at > now()`,
		service,
	).Scan(&st.FailureCount, &st.Circuit, &openedAt, &lastFailureAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return State{Service: service, Circuit: CircuitClosed}, nil
		}
		return State{}, eris.Wrapf(err, "breaker: get state %s", service)
	}
	if openedAt != nil {
		st.OpenedAt = *openedAt
	}
	if lastFailureAt != nil {
		st.LastFailureAt = *lastFailureAt
	}
	return st, nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, service string, at time.Time) (int, error) {
	// An expired row restarts the counter at 1 instead of resuming a stale
	// count.
	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO circuit_state (service, failure_count, circuit, last_failure_at, expires_at)
		VALUES ($1, 1, 'closed', $2, $3)
		ON CONFLICT (service) DO UPDATE SET
			failure_count = CASE
				WHEN circuit_state.expires_at <= now() THEN 1
				ELSE circuit_state.failure_count + 1
			END,
			circuit = CASE
				WHEN circuit_state.expires_at <= now() THEN 'closed'
				ELSE circuit_state.circuit
			END,
			last_failure_at = $2,
			expires_at = $3
		RETURNING failure_count`,
		service, at, at.Add(s.ttl),
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "breaker: record failure %s", service)
	}
	return count, nil
}

func (s *PostgresStore) TripOpen(ctx context.Context, service string, openedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO circuit_state (service, failure_count, circuit, opened_at, expires_at)
		VALUES ($1, 0, 'open', $2, $3)
		ON CONFLICT (service) DO UPDATE SET
			circuit = 'open',
			opened_at = $2,
			expires_at = $3`,
		service, openedAt, openedAt.Add(s.ttl),
	)
	if err != nil {
		return eris.Wrapf(err, "breaker: trip open %s", service)
	}
	return nil
}

func (s *PostgresStore) MarkHalfOpen(ctx context.Context, service string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE circuit_state
		SET circuit = 'half_open', expires_at = now() + $2::interval
		WHERE service = $1 AND circuit = 'open' AND expires_at > now()`,
		service, s.ttl,
	)
	if err != nil {
		return false, eris.Wrapf(err, "breaker: mark half-open %s", service)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Reset(ctx context.Context, service string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM circuit_state WHERE service = $1`, service)
	if err != nil {
		return eris.Wrapf(err, "breaker: reset %s", service)
	}
	return nil
}
