package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enrichment/internal/db"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (the breaker state store, bulk import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL DEFAULT 'person',
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	business_name     TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	email_verified    BOOLEAN NOT NULL DEFAULT false,
	street            TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	zip_code          TEXT NOT NULL DEFAULT '',
	lat               DOUBLE PRECISION,
	lng               DOUBLE PRECISION,
	phone_intel       JSONB,
	business_data     JSONB,
	coverage          JSONB,
	compliance        JSONB,
	business_enriched BOOLEAN NOT NULL DEFAULT false,
	status            TEXT NOT NULL DEFAULT 'pending',
	status_reason     TEXT NOT NULL DEFAULT '',
	attempts          INTEGER NOT NULL DEFAULT 0,
	phone_fingerprint TEXT NOT NULL DEFAULT '',
	name_fingerprint  TEXT NOT NULL DEFAULT '',
	email_fingerprint TEXT NOT NULL DEFAULT '',
	is_duplicate      BOOLEAN NOT NULL DEFAULT false,
	duplicate_of_id   TEXT REFERENCES contacts(id),
	confidence        INTEGER NOT NULL DEFAULT 0,
	quality_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	merge_history     JSONB NOT NULL DEFAULT '[]',
	salesforce_id     TEXT NOT NULL DEFAULT '',
	processed_at      TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_contacts_phone_fp ON contacts(phone_fingerprint) WHERE phone_fingerprint != '';
CREATE INDEX IF NOT EXISTS idx_contacts_email_fp ON contacts(email_fingerprint) WHERE email_fingerprint != '';
CREATE INDEX IF NOT EXISTS idx_contacts_name_fp ON contacts(name_fingerprint) WHERE name_fingerprint != '';
CREATE INDEX IF NOT EXISTS idx_contacts_phone_suffix ON contacts(RIGHT(phone_fingerprint, 4));

CREATE TABLE IF NOT EXISTS webhook_events (
	id              TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	external_id     TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL UNIQUE,
	status          TEXT NOT NULL DEFAULT 'pending',
	payload         JSONB,
	received_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_webhook_events_status ON webhook_events(status);

CREATE TABLE IF NOT EXISTS circuit_state (
	service         TEXT PRIMARY KEY,
	failure_count   INTEGER NOT NULL DEFAULT 0,
	circuit         TEXT NOT NULL DEFAULT 'closed',
	opened_at       TIMESTAMPTZ,
	last_failure_at TIMESTAMPTZ,
	expires_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id         TEXT PRIMARY KEY,
	job_type   TEXT NOT NULL,
	args       JSONB NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'queued',
	attempts   INTEGER NOT NULL DEFAULT 0,
	run_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_run_at ON enrichment_jobs(status, run_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

const contactColumns = `id, kind, first_name, last_name, business_name, phone, email, email_verified,
	street, city, state, zip_code, lat, lng,
	phone_intel, business_data, coverage, compliance, business_enriched,
	status, status_reason, attempts,
	phone_fingerprint, name_fingerprint, email_fingerprint,
	is_duplicate, duplicate_of_id, confidence, quality_score, merge_history,
	salesforce_id, processed_at, completed_at, created_at, updated_at`

// scanContact reads one contact row in contactColumns order.
func scanContact(row pgx.Row) (*model.ContactRecord, error) {
	c := &model.ContactRecord{}
	var dupID *string
	var mergeHistory []byte
	err := row.Scan(
		&c.ID, &c.Kind, &c.FirstName, &c.LastName, &c.BusinessName, &c.Phone, &c.Email, &c.EmailVerified,
		&c.Street, &c.City, &c.State, &c.ZipCode, &c.Lat, &c.Lng,
		&c.PhoneIntel, &c.BusinessData, &c.Coverage, &c.Compliance, &c.BusinessEnriched,
		&c.Status, &c.StatusReason, &c.Attempts,
		&c.PhoneFingerprint, &c.NameFingerprint, &c.EmailFingerprint,
		&c.IsDuplicate, &dupID, &c.Confidence, &c.QualityScore, &mergeHistory,
		&c.SalesforceID, &c.ProcessedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dupID != nil {
		c.DuplicateOfID = *dupID
	}
	if len(mergeHistory) > 0 {
		if err := json.Unmarshal(mergeHistory, &c.MergeHistory); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal merge history")
		}
	}
	return c, nil
}

func (s *PostgresStore) CreateContact(ctx context.Context, c *model.ContactRecord) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.StatusPending
	}
	if c.Kind == "" {
		c.Kind = model.KindPerson
	}
	mergeHistory, err := json.Marshal(c.MergeHistory)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal merge history")
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO contacts (
			id, kind, first_name, last_name, business_name, phone, email, email_verified,
			street, city, state, zip_code, lat, lng,
			phone_intel, business_data, coverage, compliance, business_enriched,
			status, status_reason, attempts,
			phone_fingerprint, name_fingerprint, email_fingerprint,
			is_duplicate, duplicate_of_id, confidence, quality_score, merge_history,
			salesforce_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22,
			$23, $24, $25,
			$26, $27, $28, $29, $30,
			$31
		) RETURNING created_at, updated_at`,
		c.ID, c.Kind, c.FirstName, c.LastName, c.BusinessName, c.Phone, c.Email, c.EmailVerified,
		c.Street, c.City, c.State, c.ZipCode, c.Lat, c.Lng,
		c.PhoneIntel, c.BusinessData, c.Coverage, c.Compliance, c.BusinessEnriched,
		c.Status, c.StatusReason, c.Attempts,
		c.PhoneFingerprint, c.NameFingerprint, c.EmailFingerprint,
		c.IsDuplicate, nilIfEmpty(c.DuplicateOfID), c.Confidence, c.QualityScore, mergeHistory,
		c.SalesforceID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: create contact")
	}
	return nil
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (*model.ContactRecord, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get contact %s", id)
	}
	return c, nil
}

func (s *PostgresStore) UpdateContact(ctx context.Context, c *model.ContactRecord) error {
	mergeHistory, err := json.Marshal(c.MergeHistory)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal merge history")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE contacts SET
			kind=$2, first_name=$3, last_name=$4, business_name=$5, phone=$6, email=$7, email_verified=$8,
			street=$9, city=$10, state=$11, zip_code=$12, lat=$13, lng=$14,
			phone_intel=$15, business_data=$16, coverage=$17, compliance=$18, business_enriched=$19,
			phone_fingerprint=$20, name_fingerprint=$21, email_fingerprint=$22,
			quality_score=$23, merge_history=$24, salesforce_id=$25,
			updated_at=now()
		WHERE id=$1`,
		c.ID,
		c.Kind, c.FirstName, c.LastName, c.BusinessName, c.Phone, c.Email, c.EmailVerified,
		c.Street, c.City, c.State, c.ZipCode, c.Lat, c.Lng,
		c.PhoneIntel, c.BusinessData, c.Coverage, c.Compliance, c.BusinessEnriched,
		c.PhoneFingerprint, c.NameFingerprint, c.EmailFingerprint,
		c.QualityScore, mergeHistory, c.SalesforceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update contact %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: contact %s not found", c.ID)
	}
	return nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.ContactRecord, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE NOT is_duplicate`
	args := []any{}
	argN := 1
	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(argN)
		args = append(args, filter.Status)
		argN++
	}
	if filter.Kind != "" {
		query += ` AND kind = $` + strconv.Itoa(argN)
		args = append(args, filter.Kind)
		argN++
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT $` + strconv.Itoa(argN)
	args = append(args, limit)
	argN++
	if filter.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()
	return collectContacts(rows)
}

// BeginProcessing acquires an exclusive row lock, re-checks the status under
// the lock, and only then writes processing. Exactly one of N concurrent
// callers for the same pending record returns true.
func (s *PostgresStore) BeginProcessing(ctx context.Context, id string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin processing: begin tx")
	}
	defer tx.Rollback(ctx)

	var status model.ContactStatus
	err = tx.QueryRow(ctx, `SELECT status FROM contacts WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, eris.Errorf("postgres: contact %s not found", id)
		}
		return false, eris.Wrapf(err, "postgres: begin processing: lock %s", id)
	}

	if status != model.StatusPending && status != model.StatusFailed {
		// Lost the race (processing) or already done (completed): no-op.
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE contacts
		SET status = 'processing', processed_at = now(), attempts = attempts + 1, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: begin processing: update %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: begin processing: commit")
	}
	return true, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE contacts
		SET status = 'completed', completed_at = now(), status_reason = '', updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark completed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: mark completed %s: not in processing", id)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE contacts
		SET status = 'failed', status_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id, reason)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark failed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: mark failed %s: not in processing", id)
	}
	return nil
}

const candidateLimit = 25

func (s *PostgresStore) FindByExactPhone(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error) {
	return s.findCandidates(ctx, `phone_fingerprint = $1 AND phone_fingerprint != ''`, fingerprint, excludeID)
}

func (s *PostgresStore) FindByPhoneSuffix(ctx context.Context, suffix, excludeID string) ([]model.ContactRecord, error) {
	return s.findCandidates(ctx, `RIGHT(phone_fingerprint, 4) = $1 AND phone_fingerprint != ''`, suffix, excludeID)
}

func (s *PostgresStore) FindByExactEmail(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error) {
	return s.findCandidates(ctx, `email_fingerprint = $1 AND email_fingerprint != ''`, fingerprint, excludeID)
}

func (s *PostgresStore) FindByNameCity(ctx context.Context, fingerprint, city, excludeID string) ([]model.ContactRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE name_fingerprint = $1 AND name_fingerprint != ''
		  AND LOWER(city) = LOWER($2)
		  AND kind = 'business'
		  AND id != $3 AND NOT is_duplicate
		LIMIT `+strconv.Itoa(candidateLimit), fingerprint, city, excludeID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find by name+city")
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *PostgresStore) FindByName(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error) {
	return s.findCandidates(ctx, `name_fingerprint = $1 AND name_fingerprint != ''`, fingerprint, excludeID)
}

func (s *PostgresStore) findCandidates(ctx context.Context, cond, value, excludeID string) ([]model.ContactRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE `+cond+` AND id != $2 AND NOT is_duplicate
		LIMIT `+strconv.Itoa(candidateLimit), value, excludeID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	defer rows.Close()
	return collectContacts(rows)
}

// MergeContacts persists a merge atomically: the primary's merged fields and
// history, and the duplicate's disposition, commit together or not at all.
func (s *PostgresStore) MergeContacts(ctx context.Context, primary *model.ContactRecord, duplicateID string, confidence int) error {
	mergeHistory, err := json.Marshal(primary.MergeHistory)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal merge history")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: merge: begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE contacts SET
			first_name=$2, last_name=$3, business_name=$4, phone=$5, email=$6, email_verified=$7,
			street=$8, city=$9, state=$10, zip_code=$11, lat=$12, lng=$13,
			phone_intel=$14, business_data=$15, coverage=$16, compliance=$17, business_enriched=$18,
			phone_fingerprint=$19, name_fingerprint=$20, email_fingerprint=$21,
			quality_score=$22, merge_history=$23,
			updated_at=now()
		WHERE id=$1`,
		primary.ID,
		primary.FirstName, primary.LastName, primary.BusinessName, primary.Phone, primary.Email, primary.EmailVerified,
		primary.Street, primary.City, primary.State, primary.ZipCode, primary.Lat, primary.Lng,
		primary.PhoneIntel, primary.BusinessData, primary.Coverage, primary.Compliance, primary.BusinessEnriched,
		primary.PhoneFingerprint, primary.NameFingerprint, primary.EmailFingerprint,
		primary.QualityScore, mergeHistory,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: merge: update primary %s", primary.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: merge: primary %s not found", primary.ID)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE contacts
		SET is_duplicate = true, duplicate_of_id = $2, confidence = $3, updated_at = now()
		WHERE id = $1 AND NOT is_duplicate`,
		duplicateID, primary.ID, confidence,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: merge: mark duplicate %s", duplicateID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: merge: duplicate %s not found or already merged", duplicateID)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: merge: commit")
	}
	return nil
}

// CreateWebhookEvent inserts the event if its idempotency key is new.
// Returns false with no error when the key already exists: a duplicate
// delivery is an expected outcome, not a failure.
func (s *PostgresStore) CreateWebhookEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Status == "" {
		ev.Status = model.WebhookPending
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, source, external_id, idempotency_key, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		ev.ID, ev.Source, ev.ExternalID, ev.IdempotencyKey, ev.Status, ev.Payload,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: create webhook event")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetWebhookEvent(ctx context.Context, id string) (*model.WebhookEvent, error) {
	ev := &model.WebhookEvent{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, source, external_id, idempotency_key, status, payload, received_at, processed_at
		FROM webhook_events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.Source, &ev.ExternalID, &ev.IdempotencyKey, &ev.Status, &ev.Payload, &ev.ReceivedAt, &ev.ProcessedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get webhook event %s", id)
	}
	return ev, nil
}

func (s *PostgresStore) SetWebhookStatus(ctx context.Context, id string, status model.WebhookStatus) error {
	processedAt := "NULL"
	if status == model.WebhookProcessed || status == model.WebhookFailed {
		processedAt = "now()"
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET status = $2, processed_at = `+processedAt+` WHERE id = $1`,
		id, status,
	)
	return eris.Wrapf(err, "postgres: set webhook status %s", id)
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobQueued
	}
	if job.RunAt.IsZero() {
		job.RunAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO enrichment_jobs (id, job_type, args, status, run_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Type, job.Args, job.Status, job.RunAt,
	)
	return eris.Wrap(err, "postgres: enqueue job")
}

// DequeueJob claims the next due job with SKIP LOCKED so concurrent workers
// never double-claim.
func (s *PostgresStore) DequeueJob(ctx context.Context, now time.Time) (*model.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue: begin tx")
	}
	defer tx.Rollback(ctx)

	job := &model.Job{}
	err = tx.QueryRow(ctx, `
		SELECT id, job_type, args, status, attempts, run_at, last_error, created_at, updated_at
		FROM enrichment_jobs
		WHERE status = 'queued' AND run_at <= $1
		ORDER BY run_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, now,
	).Scan(&job.ID, &job.Type, &job.Args, &job.Status, &job.Attempts, &job.RunAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: dequeue job")
	}

	_, err = tx.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = 'running', attempts = attempts + 1, updated_at = now()
		WHERE id = $1`, job.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: dequeue: claim %s", job.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue: commit")
	}

	job.Status = model.JobRunning
	job.Attempts++
	return job, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET status = 'completed', updated_at = now() WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: complete job %s", id)
}

func (s *PostgresStore) RetryJob(ctx context.Context, id string, runAt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = 'queued', run_at = $2, last_error = $3, updated_at = now()
		WHERE id = $1`, id, runAt, lastError)
	return eris.Wrapf(err, "postgres: retry job %s", id)
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1`, id, lastError)
	return eris.Wrapf(err, "postgres: fail job %s", id)
}

func (s *PostgresStore) ListFailedJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_type, args, status, attempts, run_at, last_error, created_at, updated_at
		FROM enrichment_jobs
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failed jobs")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		var job model.Job
		if err := rows.Scan(&job.ID, &job.Type, &job.Args, &job.Status, &job.Attempts, &job.RunAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failed job")
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate failed jobs")
}

func (s *PostgresStore) RequeueJob(ctx context.Context, id string, runAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = 'queued', attempts = 0, run_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'failed'`, id, runAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: requeue job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: requeue job %s: not found or not failed", id)
	}
	return nil
}

func (s *PostgresStore) CountContactsByStatus(ctx context.Context) (map[model.ContactStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM contacts GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count contacts")
	}
	defer rows.Close()

	counts := make(map[model.ContactStatus]int)
	for rows.Next() {
		var status model.ContactStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact count")
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate contact counts")
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM enrichment_jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status model.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate job counts")
}

func collectContacts(rows pgx.Rows) ([]model.ContactRecord, error) {
	var out []model.ContactRecord
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate contacts")
	}
	return out, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
