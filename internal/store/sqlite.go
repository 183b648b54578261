package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves local and
// single-node deployments; write serialization comes from SQLite's own
// locking, so the conditional updates below are race-safe without row locks.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL DEFAULT 'person',
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	business_name     TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	email_verified    INTEGER NOT NULL DEFAULT 0,
	street            TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	zip_code          TEXT NOT NULL DEFAULT '',
	lat               REAL,
	lng               REAL,
	phone_intel       TEXT,
	business_data     TEXT,
	coverage          TEXT,
	compliance        TEXT,
	business_enriched INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'pending',
	status_reason     TEXT NOT NULL DEFAULT '',
	attempts          INTEGER NOT NULL DEFAULT 0,
	phone_fingerprint TEXT NOT NULL DEFAULT '',
	name_fingerprint  TEXT NOT NULL DEFAULT '',
	email_fingerprint TEXT NOT NULL DEFAULT '',
	is_duplicate      INTEGER NOT NULL DEFAULT 0,
	duplicate_of_id   TEXT REFERENCES contacts(id),
	confidence        INTEGER NOT NULL DEFAULT 0,
	quality_score     REAL NOT NULL DEFAULT 0,
	merge_history     TEXT NOT NULL DEFAULT '[]',
	salesforce_id     TEXT NOT NULL DEFAULT '',
	processed_at      DATETIME,
	completed_at      DATETIME,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_contacts_phone_fp ON contacts(phone_fingerprint);
CREATE INDEX IF NOT EXISTS idx_contacts_email_fp ON contacts(email_fingerprint);
CREATE INDEX IF NOT EXISTS idx_contacts_name_fp ON contacts(name_fingerprint);

CREATE TABLE IF NOT EXISTS webhook_events (
	id              TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	external_id     TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL UNIQUE,
	status          TEXT NOT NULL DEFAULT 'pending',
	payload         TEXT,
	received_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	processed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS circuit_state (
	service         TEXT PRIMARY KEY,
	failure_count   INTEGER NOT NULL DEFAULT 0,
	circuit         TEXT NOT NULL DEFAULT 'closed',
	opened_at       DATETIME,
	last_failure_at DATETIME,
	expires_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id         TEXT PRIMARY KEY,
	job_type   TEXT NOT NULL,
	args       TEXT NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'queued',
	attempts   INTEGER NOT NULL DEFAULT 0,
	run_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_run_at ON enrichment_jobs(status, run_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContactSQLite(row rowScanner) (*model.ContactRecord, error) {
	c := &model.ContactRecord{}
	var dupID sql.NullString
	var mergeHistory string
	var phoneIntel, businessData, coverage, compliance sql.NullString
	var processedAt, completedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Kind, &c.FirstName, &c.LastName, &c.BusinessName, &c.Phone, &c.Email, &c.EmailVerified,
		&c.Street, &c.City, &c.State, &c.ZipCode, &c.Lat, &c.Lng,
		&phoneIntel, &businessData, &coverage, &compliance, &c.BusinessEnriched,
		&c.Status, &c.StatusReason, &c.Attempts,
		&c.PhoneFingerprint, &c.NameFingerprint, &c.EmailFingerprint,
		&c.IsDuplicate, &dupID, &c.Confidence, &c.QualityScore, &mergeHistory,
		&c.SalesforceID, &processedAt, &completedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DuplicateOfID = dupID.String
	if phoneIntel.Valid {
		c.PhoneIntel = json.RawMessage(phoneIntel.String)
	}
	if businessData.Valid {
		c.BusinessData = json.RawMessage(businessData.String)
	}
	if coverage.Valid {
		c.Coverage = json.RawMessage(coverage.String)
	}
	if compliance.Valid {
		c.Compliance = json.RawMessage(compliance.String)
	}
	if processedAt.Valid {
		c.ProcessedAt = &processedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	if mergeHistory != "" {
		if err := json.Unmarshal([]byte(mergeHistory), &c.MergeHistory); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal merge history")
		}
	}
	return c, nil
}

// contactArgs returns the bind values matching the insert/update column order.
func contactArgs(c *model.ContactRecord, mergeHistory []byte) []any {
	return []any{
		c.Kind, c.FirstName, c.LastName, c.BusinessName, c.Phone, c.Email, c.EmailVerified,
		c.Street, c.City, c.State, c.ZipCode, c.Lat, c.Lng,
		rawToNull(c.PhoneIntel), rawToNull(c.BusinessData), rawToNull(c.Coverage), rawToNull(c.Compliance), c.BusinessEnriched,
		c.PhoneFingerprint, c.NameFingerprint, c.EmailFingerprint,
		c.QualityScore, string(mergeHistory), c.SalesforceID,
	}
}

func (s *SQLiteStore) CreateContact(ctx context.Context, c *model.ContactRecord) error {
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
		return eris.Wrap(err, "sqlite: marshal merge history")
	}
	now := time.Now().UTC()
	args := append([]any{c.ID},
		append(contactArgs(c, mergeHistory),
			c.Status, c.StatusReason, c.Attempts,
			c.IsDuplicate, sqlNilIfEmpty(c.DuplicateOfID), c.Confidence,
			now, now)...)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (
			id, kind, first_name, last_name, business_name, phone, email, email_verified,
			street, city, state, zip_code, lat, lng,
			phone_intel, business_data, coverage, compliance, business_enriched,
			phone_fingerprint, name_fingerprint, email_fingerprint,
			quality_score, merge_history, salesforce_id,
			status, status_reason, attempts,
			is_duplicate, duplicate_of_id, confidence,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: create contact")
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.ContactRecord, error) {
	c, err := scanContactSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get contact %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateContact(ctx context.Context, c *model.ContactRecord) error {
	mergeHistory, err := json.Marshal(c.MergeHistory)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal merge history")
	}
	args := append(contactArgs(c, mergeHistory), c.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET
			kind=?, first_name=?, last_name=?, business_name=?, phone=?, email=?, email_verified=?,
			street=?, city=?, state=?, zip_code=?, lat=?, lng=?,
			phone_intel=?, business_data=?, coverage=?, compliance=?, business_enriched=?,
			phone_fingerprint=?, name_fingerprint=?, email_fingerprint=?,
			quality_score=?, merge_history=?, salesforce_id=?,
			updated_at=datetime('now')
		WHERE id=?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update contact %s", c.ID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return eris.Errorf("sqlite: contact %s not found", c.ID)
	}
	return nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.ContactRecord, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE is_duplicate = 0`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close()
	return collectContactsSQLite(rows)
}

// BeginProcessing in SQLite is a single conditional update; the database's
// writer lock serializes concurrent callers, so RowsAffected tells the winner.
func (s *SQLiteStore) BeginProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET status = 'processing', processed_at = datetime('now'),
		    attempts = attempts + 1, updated_at = datetime('now')
		WHERE id = ? AND status IN ('pending', 'failed')`, id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: begin processing %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin processing: rows affected")
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM contacts WHERE id = ?`, id).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return false, eris.Errorf("sqlite: contact %s not found", id)
		}
		return false, eris.Wrapf(err, "sqlite: begin processing: check %s", id)
	}
	return false, nil
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET status = 'completed', completed_at = datetime('now'), status_reason = '', updated_at = datetime('now')
		WHERE id = ? AND status = 'processing'`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark completed %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: mark completed %s: not in processing", id)
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET status = 'failed', status_reason = ?, updated_at = datetime('now')
		WHERE id = ? AND status = 'processing'`, reason, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark failed %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: mark failed %s: not in processing", id)
	}
	return nil
}

func (s *SQLiteStore) FindByExactPhone(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error) {
	return s.findCandidates(ctx, `phone_fingerprint = ? AND phone_fingerprint != ''`, fingerprint, excludeID)
}

func (s *SQLiteStore) FindByPhoneSuffix(ctx context.Context, suffix, excludeID string) ([]model.ContactRecord, error) {
	return s.findCandidates(ctx, `substr(phone_fingerprint, -4) = ? AND phone_fingerprint != ''`, suffix, excludeID)
}

func (s *SQLiteStore) FindByExactEmail(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error) {
	return s.findCandidates(ctx, `email_fingerprint = ? AND email_fingerprint != ''`, fingerprint, excludeID)
}

func (s *SQLiteStore) FindByNameCity(ctx context.Context, fingerprint, city, excludeID string) ([]model.ContactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE name_fingerprint = ? AND name_fingerprint != ''
		  AND LOWER(city) = LOWER(?)
		  AND kind = 'business'
		  AND id != ? AND is_duplicate = 0
		LIMIT 25`, fingerprint, city, excludeID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by name+city")
	}
	defer rows.Close()
	return collectContactsSQLite(rows)
}

func (s *SQLiteStore) FindByName(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error) {
	return s.findCandidates(ctx, `name_fingerprint = ? AND name_fingerprint != ''`, fingerprint, excludeID)
}

func (s *SQLiteStore) findCandidates(ctx context.Context, cond, value, excludeID string) ([]model.ContactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE `+cond+` AND id != ? AND is_duplicate = 0
		LIMIT 25`, value, excludeID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
	}
	defer rows.Close()
	return collectContactsSQLite(rows)
}

func (s *SQLiteStore) MergeContacts(ctx context.Context, primary *model.ContactRecord, duplicateID string, confidence int) error {
	mergeHistory, err := json.Marshal(primary.MergeHistory)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal merge history")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: merge: begin tx")
	}
	defer tx.Rollback()

	args := append(contactArgs(primary, mergeHistory), primary.ID)
	res, err := tx.ExecContext(ctx, `
		UPDATE contacts SET
			kind=?, first_name=?, last_name=?, business_name=?, phone=?, email=?, email_verified=?,
			street=?, city=?, state=?, zip_code=?, lat=?, lng=?,
			phone_intel=?, business_data=?, coverage=?, compliance=?, business_enriched=?,
			phone_fingerprint=?, name_fingerprint=?, email_fingerprint=?,
			quality_score=?, merge_history=?, salesforce_id=?,
			updated_at=datetime('now')
		WHERE id=?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: merge: update primary %s", primary.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: merge: primary %s not found", primary.ID)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE contacts
		SET is_duplicate = 1, duplicate_of_id = ?, confidence = ?, updated_at = datetime('now')
		WHERE id = ? AND is_duplicate = 0`,
		primary.ID, confidence, duplicateID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: merge: mark duplicate %s", duplicateID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: merge: duplicate %s not found or already merged", duplicateID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: merge: commit")
}

func (s *SQLiteStore) CreateWebhookEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Status == "" {
		ev.Status = model.WebhookPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, source, external_id, idempotency_key, status, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		ev.ID, ev.Source, ev.ExternalID, ev.IdempotencyKey, ev.Status, rawToNull(ev.Payload))
	if err != nil {
		return false, eris.Wrap(err, "sqlite: create webhook event")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: create webhook event: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetWebhookEvent(ctx context.Context, id string) (*model.WebhookEvent, error) {
	ev := &model.WebhookEvent{}
	var payload sql.NullString
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, external_id, idempotency_key, status, payload, received_at, processed_at
		FROM webhook_events WHERE id = ?`, id,
	).Scan(&ev.ID, &ev.Source, &ev.ExternalID, &ev.IdempotencyKey, &ev.Status, &payload, &ev.ReceivedAt, &processedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get webhook event %s", id)
	}
	if payload.Valid {
		ev.Payload = json.RawMessage(payload.String)
	}
	if processedAt.Valid {
		ev.ProcessedAt = &processedAt.Time
	}
	return ev, nil
}

func (s *SQLiteStore) SetWebhookStatus(ctx context.Context, id string, status model.WebhookStatus) error {
	query := `UPDATE webhook_events SET status = ? WHERE id = ?`
	if status == model.WebhookProcessed || status == model.WebhookFailed {
		query = `UPDATE webhook_events SET status = ?, processed_at = datetime('now') WHERE id = ?`
	}
	_, err := s.db.ExecContext(ctx, query, status, id)
	return eris.Wrapf(err, "sqlite: set webhook status %s", id)
}

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobQueued
	}
	if job.RunAt.IsZero() {
		job.RunAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_jobs (id, job_type, args, status, run_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Type, string(job.Args), job.Status, job.RunAt)
	return eris.Wrap(err, "sqlite: enqueue job")
}

func (s *SQLiteStore) DequeueJob(ctx context.Context, now time.Time) (*model.Job, error) {
	job := &model.Job{}
	var args string
	err := s.db.QueryRowContext(ctx, `
		UPDATE enrichment_jobs
		SET status = 'running', attempts = attempts + 1, updated_at = datetime('now')
		WHERE id = (
			SELECT id FROM enrichment_jobs
			WHERE status = 'queued' AND run_at <= ?
			ORDER BY run_at LIMIT 1
		)
		RETURNING id, job_type, args, status, attempts, run_at, last_error, created_at, updated_at`,
		now,
	).Scan(&job.ID, &job.Type, &args, &job.Status, &job.Attempts, &job.RunAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: dequeue job")
	}
	job.Args = json.RawMessage(args)
	return job, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET status = 'completed', updated_at = datetime('now') WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: complete job %s", id)
}

func (s *SQLiteStore) RetryJob(ctx context.Context, id string, runAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = 'queued', run_at = ?, last_error = ?, updated_at = datetime('now')
		WHERE id = ?`, runAt, lastError, id)
	return eris.Wrapf(err, "sqlite: retry job %s", id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = 'failed', last_error = ?, updated_at = datetime('now')
		WHERE id = ?`, lastError, id)
	return eris.Wrapf(err, "sqlite: fail job %s", id)
}

func (s *SQLiteStore) ListFailedJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_type, args, status, attempts, run_at, last_error, created_at, updated_at
		FROM enrichment_jobs
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failed jobs")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		var job model.Job
		var args string
		if err := rows.Scan(&job.ID, &job.Type, &args, &job.Status, &job.Attempts, &job.RunAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failed job")
		}
		job.Args = json.RawMessage(args)
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate failed jobs")
}

func (s *SQLiteStore) RequeueJob(ctx context.Context, id string, runAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = 'queued', attempts = 0, run_at = ?, updated_at = datetime('now')
		WHERE id = ? AND status = 'failed'`, runAt, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: requeue job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: requeue job %s", id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: requeue job %s: not found or not failed", id)
	}
	return nil
}

func (s *SQLiteStore) CountContactsByStatus(ctx context.Context) (map[model.ContactStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM contacts GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count contacts")
	}
	defer rows.Close()

	counts := make(map[model.ContactStatus]int)
	for rows.Next() {
		var status model.ContactStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact count")
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate contact counts")
}

func (s *SQLiteStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM enrichment_jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status model.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate job counts")
}

func collectContactsSQLite(rows *sql.Rows) ([]model.ContactRecord, error) {
	var out []model.ContactRecord
	for rows.Next() {
		c, err := scanContactSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate contacts")
	}
	return out, nil
}

func rawToNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func sqlNilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
