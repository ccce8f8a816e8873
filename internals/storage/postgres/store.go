package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"vigil/config"
	"vigil/internals/storage"
)

const uniqueViolation = "23505"

// PostgresStore implements storage.Store on a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New builds the pool with the configured sizing, verifies connectivity and
// applies the schema.
func New(ctx context.Context, dbCfg *config.DBConfig, log *zerolog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	poolCfg.MaxConns = dbCfg.MaxOpenConns
	poolCfg.MinConns = dbCfg.MinIdleConns
	poolCfg.MaxConnLifetime = dbCfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = dbCfg.ConnMaxIdleTime

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		log.Debug().Msg("db connection established")
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, dbCfg.HealthTimeout)
	defer cancel()

	if err := pool.Ping(healthCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	user_key      TEXT NOT NULL UNIQUE,
	deleted_at    TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS monitor (
	id         BIGSERIAL PRIMARY KEY,
	user_id    UUID NOT NULL,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL UNIQUE,
	frequency  BIGINT NOT NULL,
	expires_at BIGINT NOT NULL,
	api_key    TEXT NOT NULL,
	last_check TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_apikey_slug ON monitor (api_key, slug);
CREATE INDEX IF NOT EXISTS idx_expires_at ON monitor (expires_at);

CREATE TABLE IF NOT EXISTS webhook (
	id           BIGSERIAL PRIMARY KEY,
	monitor_id   BIGINT NOT NULL REFERENCES monitor(id) ON DELETE CASCADE,
	url          TEXT NOT NULL,
	method       TEXT NOT NULL,
	headers      JSONB,
	form_fields  JSONB,
	body_payload TEXT,
	last_called  BIGINT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_webhook_monitor_id ON webhook (monitor_id);
`
	_, err := s.db.Exec(ctx, schema)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func encodeKV(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user storage.User) (storage.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
INSERT INTO users (id, email, password_hash, user_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.PasswordHash, user.UserKey, now, now)
	if isUniqueViolation(err) {
		return storage.User{}, storage.ErrDuplicate
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) scanUser(row pgx.Row) (storage.User, error) {
	var u storage.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.UserKey, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.User{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (storage.User, error) {
	return s.scanUser(s.db.QueryRow(ctx, `
SELECT id, email, password_hash, user_key, deleted_at, created_at, updated_at
FROM users WHERE email = $1 AND deleted_at IS NULL`, email))
}

func (s *PostgresStore) GetUserByKey(ctx context.Context, userKey string) (storage.User, error) {
	return s.scanUser(s.db.QueryRow(ctx, `
SELECT id, email, password_hash, user_key, deleted_at, created_at, updated_at
FROM users WHERE user_key = $1 AND deleted_at IS NULL`, userKey))
}

func (s *PostgresStore) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
UPDATE users SET deleted_at = NOW(), updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateMonitor(ctx context.Context, monitor storage.Monitor, webhooks []storage.Webhook) (storage.Monitor, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	monitor.CreatedAt = now
	monitor.UpdatedAt = now

	err = tx.QueryRow(ctx, `
INSERT INTO monitor (user_id, name, slug, frequency, expires_at, api_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		monitor.UserID, monitor.Name, monitor.Slug, monitor.Frequency,
		monitor.ExpiresAt, monitor.APIKey, now, now).Scan(&monitor.ID)
	if isUniqueViolation(err) {
		return storage.Monitor{}, storage.ErrDuplicate
	}
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to insert monitor: %w", err)
	}

	for i := range webhooks {
		hook := &webhooks[i]
		headers, err := encodeKV(hook.Headers)
		if err != nil {
			return storage.Monitor{}, fmt.Errorf("failed to encode headers: %w", err)
		}
		fields, err := encodeKV(hook.FormFields)
		if err != nil {
			return storage.Monitor{}, fmt.Errorf("failed to encode form fields: %w", err)
		}
		var body any
		if hook.BodyPayload != "" {
			body = hook.BodyPayload
		}
		_, err = tx.Exec(ctx, `
INSERT INTO webhook (monitor_id, url, method, headers, form_fields, body_payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			monitor.ID, hook.URL, hook.Method, headers, fields, body, now, now)
		if err != nil {
			return storage.Monitor{}, fmt.Errorf("failed to insert webhook: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return monitor, nil
}

const monitorCols = `id, user_id, name, slug, frequency, expires_at, api_key, last_check, created_at, updated_at`

func scanMonitor(row pgx.Row) (storage.Monitor, error) {
	var m storage.Monitor
	err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.Slug, &m.Frequency, &m.ExpiresAt,
		&m.APIKey, &m.LastCheck, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Monitor{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to scan monitor: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMonitorBySlug(ctx context.Context, slug string) (storage.Monitor, error) {
	return scanMonitor(s.db.QueryRow(ctx,
		`SELECT `+monitorCols+` FROM monitor WHERE slug = $1`, slug))
}

func (s *PostgresStore) CheckIn(ctx context.Context, slug, apiKey string, now time.Time) (storage.Monitor, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	nowUTC := now.UTC()

	m, err := scanMonitor(tx.QueryRow(ctx, `
UPDATE monitor SET last_check = $1, expires_at = $2 + frequency, updated_at = $1
WHERE api_key = $3 AND slug = $4
RETURNING `+monitorCols, nowUTC, nowUTC.Unix(), apiKey, slug))
	if err != nil {
		return storage.Monitor{}, err
	}

	// reset the dispatch guard for the new episode
	if _, err := tx.Exec(ctx,
		`UPDATE webhook SET last_called = NULL, updated_at = $1 WHERE monitor_id = $2`,
		nowUTC, m.ID); err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to reset webhooks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) DeleteMonitor(ctx context.Context, slug string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM monitor WHERE slug = $1`, slug)
	if err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const webhookCols = `id, monitor_id, url, method, headers, form_fields, body_payload, last_called, created_at, updated_at`

func scanWebhook(scan func(dest ...any) error) (storage.Webhook, error) {
	var w storage.Webhook
	var headers, fields []byte
	var body *string
	err := scan(&w.ID, &w.MonitorID, &w.URL, &w.Method, &headers, &fields, &body,
		&w.LastCalled, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Webhook{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Webhook{}, fmt.Errorf("failed to scan webhook: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &w.Headers); err != nil {
			return storage.Webhook{}, fmt.Errorf("corrupt webhook headers: %w", err)
		}
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &w.FormFields); err != nil {
			return storage.Webhook{}, fmt.Errorf("corrupt webhook form fields: %w", err)
		}
	}
	if body != nil {
		w.BodyPayload = *body
	}
	return w, nil
}

func (s *PostgresStore) WebhooksByMonitor(ctx context.Context, monitorID int64) ([]storage.Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+webhookCols+` FROM webhook WHERE monitor_id = $1 ORDER BY id`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []storage.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows.Scan)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

func (s *PostgresStore) ExpiredWebhooks(ctx context.Context, now time.Time) ([]storage.DueWebhook, error) {
	rows, err := s.db.Query(ctx, `
SELECT w.id, w.monitor_id, w.url, w.method, w.headers, w.form_fields, w.body_payload,
       w.last_called, w.created_at, w.updated_at, m.slug, m.name
FROM monitor m
JOIN webhook w ON w.monitor_id = m.id
WHERE m.expires_at < $1
ORDER BY w.id`, now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired webhooks: %w", err)
	}
	defer rows.Close()

	var due []storage.DueWebhook
	for rows.Next() {
		var d storage.DueWebhook
		w, err := scanWebhook(func(dest ...any) error {
			return rows.Scan(append(dest, &d.MonitorSlug, &d.MonitorName)...)
		})
		if err != nil {
			return nil, err
		}
		d.Webhook = w
		due = append(due, d)
	}
	return due, rows.Err()
}

func (s *PostgresStore) ClaimWebhook(ctx context.Context, webhookID int64) (storage.Webhook, bool, error) {
	w, err := scanWebhook(s.db.QueryRow(ctx,
		`SELECT `+webhookCols+` FROM webhook WHERE id = $1 AND last_called IS NULL`, webhookID).Scan)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Webhook{}, false, nil
	}
	if err != nil {
		return storage.Webhook{}, false, err
	}
	return w, true, nil
}

func (s *PostgresStore) MarkWebhookCalled(ctx context.Context, webhookID int64, now time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE webhook SET last_called = $1, updated_at = $2 WHERE id = $3`,
		now.UTC().Unix(), now.UTC(), webhookID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook called: %w", err)
	}
	return nil
}
