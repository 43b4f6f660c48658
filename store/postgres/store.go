// Package postgres provides a PostgreSQL Store implementation using
// pgx. Worker claim paths use FOR UPDATE SKIP LOCKED so replicas can
// dequeue concurrently without coordination.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/schedule"
	hookstore "github.com/hookpipe/hookpipe/store"
	"github.com/hookpipe/hookpipe/transform"
)

// compile-time interface check.
var _ hookstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL store from an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open creates a pool from a connection string and fails fast when the
// database is unreachable.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("hookpipe/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("hookpipe/postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool returns the underlying pgx pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies all schema steps in order. Steps are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("%w: %s: %v", hookpipe.ErrMigrationFailed, m.name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== rule.Store ====================

const ruleColumns = `id, tenant_id, name, event_type, url, method, content_type,
headers, auth, transform, mode, retry, secrets, schema, rate_limit,
active, version, created_at, updated_at`

func scanRule(row pgx.Row) (*rule.Rule, error) {
	var m ruleRow
	err := row.Scan(&m.ID, &m.TenantID, &m.Name, &m.EventType, &m.URL,
		&m.Method, &m.ContentType, &m.Headers, &m.Auth, &m.Transform,
		&m.Mode, &m.Retry, &m.Secrets, &m.Schema, &m.RateLimit,
		&m.Active, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return fromRuleRow(&m)
}

func (s *Store) CreateRule(ctx context.Context, r *rule.Rule) error {
	m, err := toRuleRow(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO hookpipe_rules (`+ruleColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		m.ID, m.TenantID, m.Name, m.EventType, m.URL, m.Method, m.ContentType,
		m.Headers, m.Auth, m.Transform, m.Mode, m.Retry, m.Secrets, m.Schema,
		m.RateLimit, m.Active, m.Version, m.CreatedAt, m.UpdatedAt)
	return err
}

func (s *Store) GetRule(ctx context.Context, ruleID id.ID) (*rule.Rule, error) {
	r, err := scanRule(s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM hookpipe_rules WHERE id = $1`, ruleID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hookpipe.ErrRuleNotFound
	}
	return r, err
}

func (s *Store) UpdateRule(ctx context.Context, r *rule.Rule) error {
	m, err := toRuleRow(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE hookpipe_rules SET
    tenant_id = $2, name = $3, event_type = $4, url = $5, method = $6,
    content_type = $7, headers = $8, auth = $9, transform = $10, mode = $11,
    retry = $12, secrets = $13, schema = $14, rate_limit = $15, active = $16,
    version = $17, updated_at = NOW()
WHERE id = $1`,
		m.ID, m.TenantID, m.Name, m.EventType, m.URL, m.Method, m.ContentType,
		m.Headers, m.Auth, m.Transform, m.Mode, m.Retry, m.Secrets, m.Schema,
		m.RateLimit, m.Active, m.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hookpipe.ErrRuleNotFound
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, ruleID id.ID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM hookpipe_rules WHERE id = $1`, ruleID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hookpipe.ErrRuleNotFound
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, tenantID string, opts rule.ListOpts) ([]*rule.Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM hookpipe_rules WHERE (tenant_id = $1`
	args := []any{tenantID}
	if opts.IncludeGlobal {
		q += ` OR tenant_id = ''`
	}
	q += `)`
	if opts.EventType != "" {
		args = append(args, opts.EventType)
		q += fmt.Sprintf(` AND event_type = $%d`, len(args))
	}
	if opts.Active != nil {
		args = append(args, *opts.Active)
		q += fmt.Sprintf(` AND active = $%d`, len(args))
	}
	q += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rule.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) MatchRules(ctx context.Context, tenantID, eventType string) ([]*rule.Rule, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+ruleColumns+` FROM hookpipe_rules
WHERE active AND event_type = $2 AND (tenant_id = $1 OR tenant_id = '')
ORDER BY created_at ASC`, tenantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rule.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) SetActive(ctx context.Context, ruleID id.ID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE hookpipe_rules SET active = $2, updated_at = NOW() WHERE id = $1`,
		ruleID.String(), active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hookpipe.ErrRuleNotFound
	}
	return nil
}

// ==================== event.Source ====================

func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	return s.pool.QueryRow(ctx, `
INSERT INTO hookpipe_events (tenant_id, event_type, payload, occurred_at)
VALUES ($1, $2, $3, $4)
RETURNING source_id`,
		evt.TenantID, evt.Type, evt.Payload, evt.OccurredAt).Scan(&evt.SourceID)
}

func (s *Store) PollEvents(ctx context.Context, sinceID int64, limit int) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT source_id, tenant_id, event_type, payload, occurred_at
FROM hookpipe_events
WHERE source_id > $1
ORDER BY source_id ASC
LIMIT $2`, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		evt := new(event.Event)
		if err := rows.Scan(&evt.SourceID, &evt.TenantID, &evt.Type,
			&evt.Payload, &evt.OccurredAt); err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}

// ==================== event.CheckpointStore ====================

func (s *Store) Checkpoint(ctx context.Context, workerID string) (int64, error) {
	var lastID int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_processed_id FROM hookpipe_checkpoints WHERE worker_id = $1`,
		workerID).Scan(&lastID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return lastID, err
}

func (s *Store) SaveCheckpoint(ctx context.Context, workerID string, lastID int64) error {
	// The WHERE guard keeps the cursor monotonic under concurrent saves.
	_, err := s.pool.Exec(ctx, `
INSERT INTO hookpipe_checkpoints (worker_id, last_processed_id, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (worker_id) DO UPDATE
SET last_processed_id = EXCLUDED.last_processed_id, updated_at = NOW()
WHERE hookpipe_checkpoints.last_processed_id < EXCLUDED.last_processed_id`,
		workerID, lastID)
	return err
}

// ==================== event.DedupStore ====================

func (s *Store) MarkProcessed(ctx context.Context, tenantID string, sourceID int64, ttl time.Duration) (bool, error) {
	// Expired markers may be reclaimed; live ones block the claim.
	var one int
	err := s.pool.QueryRow(ctx, `
INSERT INTO hookpipe_dedup (tenant_id, source_id, expires_at)
VALUES ($1, $2, NOW() + make_interval(secs => $3))
ON CONFLICT (tenant_id, source_id) DO UPDATE
SET expires_at = EXCLUDED.expires_at
WHERE hookpipe_dedup.expires_at < NOW()
RETURNING 1`, tenantID, sourceID, ttl.Seconds()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) UnmarkProcessed(ctx context.Context, tenantID string, sourceID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM hookpipe_dedup WHERE tenant_id = $1 AND source_id = $2`,
		tenantID, sourceID)
	return err
}

// ==================== delivery.Store ====================

const attemptColumns = `id, rule_id, tenant_id, event_type, source_id, schedule_id,
message_id, payload, transformed_payload, request_headers, status,
attempt_count, max_attempts, category, last_status_code, last_error,
last_response, last_latency_ms, next_attempt_at, completed_at,
created_at, updated_at`

func scanAttempt(row pgx.Row) (*delivery.AttemptLog, error) {
	var m attemptRow
	err := row.Scan(&m.ID, &m.RuleID, &m.TenantID, &m.EventType, &m.SourceID,
		&m.ScheduleID, &m.MessageID, &m.Payload, &m.TransformedPayload,
		&m.RequestHeaders, &m.Status, &m.AttemptCount, &m.MaxAttempts,
		&m.Category, &m.LastStatusCode, &m.LastError, &m.LastResponse,
		&m.LastLatencyMs, &m.NextAttemptAt, &m.CompletedAt,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return fromAttemptRow(&m)
}

func (s *Store) EnqueueAttempts(ctx context.Context, logs []*delivery.AttemptLog) error {
	for _, d := range logs {
		m, err := toAttemptRow(d)
		if err != nil {
			return err
		}
		// The partial unique index on (rule, tenant, source) makes the
		// fan-out idempotent for source events.
		_, err = s.pool.Exec(ctx, `
INSERT INTO hookpipe_attempts (`+attemptColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
ON CONFLICT DO NOTHING`,
			m.ID, m.RuleID, m.TenantID, m.EventType, m.SourceID, m.ScheduleID,
			m.MessageID, m.Payload, m.TransformedPayload, m.RequestHeaders,
			m.Status, m.AttemptCount, m.MaxAttempts, m.Category,
			m.LastStatusCode, m.LastError, m.LastResponse, m.LastLatencyMs,
			m.NextAttemptAt, m.CompletedAt, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DequeueDue(ctx context.Context, limit int) ([]*delivery.AttemptLog, error) {
	rows, err := s.pool.Query(ctx, `
UPDATE hookpipe_attempts
SET status = 'in_progress', updated_at = NOW()
WHERE id IN (
    SELECT id FROM hookpipe_attempts
    WHERE status IN ('pending', 'retrying') AND next_attempt_at <= NOW()
    ORDER BY next_attempt_at ASC
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING `+attemptColumns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*delivery.AttemptLog
	for rows.Next() {
		d, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) UpdateAttempt(ctx context.Context, d *delivery.AttemptLog) error {
	m, err := toAttemptRow(d)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE hookpipe_attempts SET
    transformed_payload = $2, request_headers = $3, status = $4,
    attempt_count = $5, category = $6, last_status_code = $7,
    last_error = $8, last_response = $9, last_latency_ms = $10,
    next_attempt_at = $11, completed_at = $12, updated_at = NOW()
WHERE id = $1`,
		m.ID, m.TransformedPayload, m.RequestHeaders, m.Status,
		m.AttemptCount, m.Category, m.LastStatusCode, m.LastError,
		m.LastResponse, m.LastLatencyMs, m.NextAttemptAt, m.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hookpipe.ErrAttemptNotFound
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, logID id.ID) (*delivery.AttemptLog, error) {
	d, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM hookpipe_attempts WHERE id = $1`, logID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hookpipe.ErrAttemptNotFound
	}
	return d, err
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	q := `SELECT ` + attemptColumns + ` FROM hookpipe_attempts WHERE TRUE`
	var args []any
	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if opts.Category != nil {
		args = append(args, string(*opts.Category))
		q += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		q += fmt.Sprintf(` AND tenant_id = $%d`, len(args))
	}
	q += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*delivery.AttemptLog
	for rows.Next() {
		d, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) ListAttemptsByRule(ctx context.Context, ruleID id.ID, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	q := `SELECT ` + attemptColumns + ` FROM hookpipe_attempts WHERE rule_id = $1`
	args := []any{ruleID.String()}
	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	q += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*delivery.AttemptLog
	for rows.Next() {
		d, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) CountAttempts(ctx context.Context, status delivery.Status) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM hookpipe_attempts WHERE status = $1`,
		string(status)).Scan(&count)
	return count, err
}

// ==================== dlq.Store ====================

const dlqColumns = `id, attempt_log_id, rule_id, tenant_id, event_type, source_id,
url, payload, category, error, attempt_count, last_status_code,
replayed_at, failed_at, created_at, updated_at`

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var m dlqRow
	err := row.Scan(&m.ID, &m.AttemptLogID, &m.RuleID, &m.TenantID,
		&m.EventType, &m.SourceID, &m.URL, &m.Payload, &m.Category,
		&m.Error, &m.AttemptCount, &m.LastStatusCode, &m.ReplayedAt,
		&m.FailedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return fromDLQRow(&m)
}

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQRow(entry)
	_, err := s.pool.Exec(ctx, `
INSERT INTO hookpipe_dlq (`+dlqColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.ID, m.AttemptLogID, m.RuleID, m.TenantID, m.EventType, m.SourceID,
		m.URL, m.Payload, m.Category, m.Error, m.AttemptCount,
		m.LastStatusCode, m.ReplayedAt, m.FailedAt, m.CreatedAt, m.UpdatedAt)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	q := `SELECT ` + dlqColumns + ` FROM hookpipe_dlq WHERE TRUE`
	var args []any
	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		q += fmt.Sprintf(` AND tenant_id = $%d`, len(args))
	}
	if opts.RuleID != nil {
		args = append(args, opts.RuleID.String())
		q += fmt.Sprintf(` AND rule_id = $%d`, len(args))
	}
	if opts.Category != nil {
		args = append(args, string(*opts.Category))
		q += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		q += fmt.Sprintf(` AND failed_at >= $%d`, len(args))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		q += fmt.Sprintf(` AND failed_at <= $%d`, len(args))
	}
	if opts.Unreplayed {
		q += ` AND replayed_at IS NULL`
	}
	q += ` ORDER BY failed_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	e, err := scanDLQ(s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM hookpipe_dlq WHERE id = $1`, dlqID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hookpipe.ErrDLQNotFound
	}
	return e, err
}

// Replay re-arms the entry's attempt log and marks the entry replayed,
// in one transaction.
func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var attemptLogID string
	err = tx.QueryRow(ctx,
		`SELECT attempt_log_id FROM hookpipe_dlq WHERE id = $1 FOR UPDATE`,
		dlqID.String()).Scan(&attemptLogID)
	if errors.Is(err, pgx.ErrNoRows) {
		return hookpipe.ErrDLQNotFound
	}
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE hookpipe_attempts SET
    status = 'pending', attempt_count = 0, category = '', last_error = '',
    last_status_code = 0, last_response = '', next_attempt_at = NOW(),
    completed_at = NULL, updated_at = NOW()
WHERE id = $1`, attemptLogID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hookpipe.ErrAttemptNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE hookpipe_dlq SET replayed_at = NOW(), updated_at = NOW() WHERE id = $1`,
		dlqID.String()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.Query(ctx, `
SELECT id, attempt_log_id FROM hookpipe_dlq
WHERE failed_at >= $1 AND failed_at <= $2 AND replayed_at IS NULL
FOR UPDATE SKIP LOCKED`, from, to)
	if err != nil {
		return 0, err
	}

	type pair struct{ dlqID, logID string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.dlqID, &p.logID); err != nil {
			rows.Close()
			return 0, err
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var count int64
	for _, p := range pairs {
		tag, err := tx.Exec(ctx, `
UPDATE hookpipe_attempts SET
    status = 'pending', attempt_count = 0, category = '', last_error = '',
    last_status_code = 0, last_response = '', next_attempt_at = NOW(),
    completed_at = NULL, updated_at = NOW()
WHERE id = $1`, p.logID)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE hookpipe_dlq SET replayed_at = NOW(), updated_at = NOW() WHERE id = $1`,
			p.dlqID); err != nil {
			return 0, err
		}
		count++
	}

	return count, tx.Commit(ctx)
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM hookpipe_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM hookpipe_dlq`).Scan(&count)
	return count, err
}

// ==================== schedule.Store ====================

const scheduleColumns = `id, rule_id, tenant_id, event_type, source_id, payload, transformed,
scheduled_for, status, spec, occurrence, max_occurrences, created_at, updated_at`

func scanSchedule(row pgx.Row) (*schedule.ScheduledDelivery, error) {
	var m scheduleRow
	err := row.Scan(&m.ID, &m.RuleID, &m.TenantID, &m.EventType, &m.SourceID,
		&m.Payload, &m.Transformed, &m.ScheduledFor, &m.Status, &m.Spec,
		&m.Occurrence, &m.MaxOccurrences, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return fromScheduleRow(&m)
}

func (s *Store) CreateSchedule(ctx context.Context, sch *schedule.ScheduledDelivery) error {
	m := toScheduleRow(sch)
	// The pairing index makes event fan-out idempotent.
	_, err := s.pool.Exec(ctx, `
INSERT INTO hookpipe_schedules (`+scheduleColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT DO NOTHING`,
		m.ID, m.RuleID, m.TenantID, m.EventType, m.SourceID, m.Payload,
		m.Transformed, m.ScheduledFor, m.Status, m.Spec, m.Occurrence,
		m.MaxOccurrences, m.CreatedAt, m.UpdatedAt)
	return err
}

func (s *Store) GetSchedule(ctx context.Context, schID id.ID) (*schedule.ScheduledDelivery, error) {
	sch, err := scanSchedule(s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM hookpipe_schedules WHERE id = $1`, schID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hookpipe.ErrScheduleNotFound
	}
	return sch, err
}

func (s *Store) ListSchedules(ctx context.Context, opts schedule.ListOpts) ([]*schedule.ScheduledDelivery, error) {
	q := `SELECT ` + scheduleColumns + ` FROM hookpipe_schedules WHERE TRUE`
	var args []any
	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		q += fmt.Sprintf(` AND tenant_id = $%d`, len(args))
	}
	if opts.RuleID != nil {
		args = append(args, opts.RuleID.String())
		q += fmt.Sprintf(` AND rule_id = $%d`, len(args))
	}
	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	q += ` ORDER BY scheduled_for ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*schedule.ScheduledDelivery
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sch)
	}
	return result, rows.Err()
}

func (s *Store) ClaimDueSchedules(ctx context.Context, now time.Time, limit int) ([]*schedule.ScheduledDelivery, error) {
	rows, err := s.pool.Query(ctx, `
UPDATE hookpipe_schedules
SET status = 'fired', updated_at = NOW()
WHERE id IN (
    SELECT id FROM hookpipe_schedules
    WHERE status = 'pending' AND scheduled_for <= $1
    ORDER BY scheduled_for ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING `+scheduleColumns, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*schedule.ScheduledDelivery
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sch)
	}
	return result, rows.Err()
}

func (s *Store) UpdateSchedule(ctx context.Context, sch *schedule.ScheduledDelivery) error {
	m := toScheduleRow(sch)
	tag, err := s.pool.Exec(ctx, `
UPDATE hookpipe_schedules SET
    payload = $2, transformed = $3, scheduled_for = $4, status = $5,
    spec = $6, occurrence = $7, max_occurrences = $8, updated_at = NOW()
WHERE id = $1`,
		m.ID, m.Payload, m.Transformed, m.ScheduledFor, m.Status,
		m.Spec, m.Occurrence, m.MaxOccurrences)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hookpipe.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) CancelSchedule(ctx context.Context, schID id.ID) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE hookpipe_schedules SET status = 'cancelled', updated_at = NOW()
WHERE id = $1 AND status = 'pending'`, schID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already fired or cancelled.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM hookpipe_schedules WHERE id = $1)`,
			schID.String()).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return hookpipe.ErrScheduleNotFound
		}
	}
	return nil
}

// ==================== transform.LookupStore ====================

func (s *Store) UpsertLookupTable(ctx context.Context, table *transform.LookupTable) error {
	entries, err := json.Marshal(table.Entries)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO hookpipe_lookup_tables (tenant_id, name, entries, on_unmapped, default_value, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
ON CONFLICT (tenant_id, name) DO UPDATE
SET entries = EXCLUDED.entries, on_unmapped = EXCLUDED.on_unmapped,
    default_value = EXCLUDED.default_value, updated_at = NOW()`,
		table.TenantID, table.Name, entries, string(table.OnUnmapped), table.DefaultValue)
	return err
}

func (s *Store) GetLookupTable(ctx context.Context, tenantID, name string) (*transform.LookupTable, error) {
	table := &transform.LookupTable{TenantID: tenantID, Name: name}
	var entries []byte
	var onUnmapped string
	err := s.pool.QueryRow(ctx, `
SELECT entries, on_unmapped, default_value, created_at, updated_at
FROM hookpipe_lookup_tables
WHERE tenant_id = $1 AND name = $2`, tenantID, name).
		Scan(&entries, &onUnmapped, &table.DefaultValue, &table.CreatedAt, &table.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hookpipe.ErrLookupTableNotFound
	}
	if err != nil {
		return nil, err
	}
	table.OnUnmapped = transform.UnmappedPolicy(onUnmapped)
	if err := json.Unmarshal(entries, &table.Entries); err != nil {
		return nil, err
	}
	return table, nil
}

func (s *Store) DeleteLookupTable(ctx context.Context, tenantID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM hookpipe_lookup_tables WHERE tenant_id = $1 AND name = $2`,
		tenantID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hookpipe.ErrLookupTableNotFound
	}
	return nil
}
