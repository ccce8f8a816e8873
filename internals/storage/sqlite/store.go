package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internals/storage"

	"github.com/google/uuid"
)

// SQLiteStore implements storage.Store on a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database file, enables foreign keys and WAL, and applies the
// schema.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY under
	// concurrent check-ins and sweeps.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	user_key      TEXT NOT NULL UNIQUE,
	deleted_at    TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS monitor (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL UNIQUE,
	frequency  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	api_key    TEXT NOT NULL,
	last_check TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_apikey_slug ON monitor (api_key, slug);
CREATE INDEX IF NOT EXISTS idx_expires_at ON monitor (expires_at);

CREATE TABLE IF NOT EXISTS webhook (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	monitor_id   INTEGER NOT NULL,
	url          TEXT NOT NULL,
	method       TEXT NOT NULL,
	headers      TEXT,
	form_fields  TEXT,
	body_payload TEXT,
	last_called  INTEGER,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	FOREIGN KEY(monitor_id) REFERENCES monitor(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_webhook_monitor_id ON webhook (monitor_id);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func encodeKV(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeKV(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user storage.User) (storage.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
INSERT INTO users (id, email, password_hash, user_key, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(email) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		user.ID.String(), user.Email, user.PasswordHash, user.UserKey,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return storage.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return storage.User{}, storage.ErrDuplicate
	}
	return user, nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (storage.User, error) {
	var u storage.User
	var id string
	var deletedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&id, &u.Email, &u.PasswordHash, &u.UserKey, &deletedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	u.ID, err = uuid.Parse(id)
	if err != nil {
		return storage.User{}, fmt.Errorf("corrupt user id: %w", err)
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		u.DeletedAt = &t
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (storage.User, error) {
	query := `SELECT id, email, password_hash, user_key, deleted_at, created_at, updated_at
FROM users WHERE email = ? AND deleted_at IS NULL`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) GetUserByKey(ctx context.Context, userKey string) (storage.User, error) {
	query := `SELECT id, email, password_hash, user_key, deleted_at, created_at, updated_at
FROM users WHERE user_key = ? AND deleted_at IS NULL`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userKey))
}

func (s *SQLiteStore) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id.String())
	if err != nil {
		return fmt.Errorf("failed to soft delete user: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateMonitor(ctx context.Context, monitor storage.Monitor, webhooks []storage.Webhook) (storage.Monitor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	monitor.CreatedAt = now
	monitor.UpdatedAt = now

	query := `
INSERT INTO monitor (user_id, name, slug, frequency, expires_at, api_key, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(slug) DO NOTHING`
	res, err := tx.ExecContext(ctx, query,
		monitor.UserID.String(), monitor.Name, monitor.Slug, monitor.Frequency,
		monitor.ExpiresAt, monitor.APIKey,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to insert monitor: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return storage.Monitor{}, storage.ErrDuplicate
	}
	monitor.ID, err = res.LastInsertId()
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to read monitor id: %w", err)
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
		_, err = tx.ExecContext(ctx, `
INSERT INTO webhook (monitor_id, url, method, headers, form_fields, body_payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			monitor.ID, hook.URL, hook.Method, headers, fields, body,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			return storage.Monitor{}, fmt.Errorf("failed to insert webhook: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return monitor, nil
}

func scanMonitor(scan func(dest ...any) error) (storage.Monitor, error) {
	var m storage.Monitor
	var userID string
	var lastCheck sql.NullString
	var createdAt, updatedAt string
	err := scan(&m.ID, &userID, &m.Name, &m.Slug, &m.Frequency, &m.ExpiresAt, &m.APIKey, &lastCheck, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Monitor{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to scan monitor: %w", err)
	}
	m.UserID, err = uuid.Parse(userID)
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("corrupt monitor user id: %w", err)
	}
	if lastCheck.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastCheck.String)
		m.LastCheck = &t
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return m, nil
}

const monitorCols = `id, user_id, name, slug, frequency, expires_at, api_key, last_check, created_at, updated_at`

func (s *SQLiteStore) GetMonitorBySlug(ctx context.Context, slug string) (storage.Monitor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+monitorCols+` FROM monitor WHERE slug = ?`, slug)
	return scanMonitor(row.Scan)
}

func (s *SQLiteStore) CheckIn(ctx context.Context, slug, apiKey string, now time.Time) (storage.Monitor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Monitor{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+monitorCols+` FROM monitor WHERE api_key = ? AND slug = ?`, apiKey, slug)
	m, err := scanMonitor(row.Scan)
	if err != nil {
		return storage.Monitor{}, err
	}

	nowUTC := now.UTC()
	expiresAt := nowUTC.Unix() + m.Frequency
	nowStr := nowUTC.Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx,
		`UPDATE monitor SET last_check = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		nowStr, expiresAt, nowStr, m.ID); err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to update monitor: %w", err)
	}

	// reset the dispatch guard for the new episode
	if _, err := tx.ExecContext(ctx,
		`UPDATE webhook SET last_called = NULL, updated_at = ? WHERE monitor_id = ?`,
		nowStr, m.ID); err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to reset webhooks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Monitor{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.LastCheck = &nowUTC
	m.ExpiresAt = expiresAt
	return m, nil
}

func (s *SQLiteStore) DeleteMonitor(ctx context.Context, slug string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM monitor WHERE slug = ?`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up monitor: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM webhook WHERE monitor_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete webhooks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM monitor WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}

	return tx.Commit()
}

const webhookCols = `id, monitor_id, url, method, headers, form_fields, body_payload, last_called, created_at, updated_at`

func scanWebhook(scan func(dest ...any) error) (storage.Webhook, error) {
	var w storage.Webhook
	var headers, fields, body sql.NullString
	var lastCalled sql.NullInt64
	var createdAt, updatedAt string
	err := scan(&w.ID, &w.MonitorID, &w.URL, &w.Method, &headers, &fields, &body, &lastCalled, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Webhook{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Webhook{}, fmt.Errorf("failed to scan webhook: %w", err)
	}
	if w.Headers, err = decodeKV(headers); err != nil {
		return storage.Webhook{}, fmt.Errorf("corrupt webhook headers: %w", err)
	}
	if w.FormFields, err = decodeKV(fields); err != nil {
		return storage.Webhook{}, fmt.Errorf("corrupt webhook form fields: %w", err)
	}
	if body.Valid {
		w.BodyPayload = body.String
	}
	if lastCalled.Valid {
		v := lastCalled.Int64
		w.LastCalled = &v
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	w.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return w, nil
}

func (s *SQLiteStore) WebhooksByMonitor(ctx context.Context, monitorID int64) ([]storage.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookCols+` FROM webhook WHERE monitor_id = ? ORDER BY id`, monitorID)
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

func (s *SQLiteStore) ExpiredWebhooks(ctx context.Context, now time.Time) ([]storage.DueWebhook, error) {
	query := `
SELECT w.id, w.monitor_id, w.url, w.method, w.headers, w.form_fields, w.body_payload,
       w.last_called, w.created_at, w.updated_at, m.slug, m.name
FROM monitor m
JOIN webhook w ON w.monitor_id = m.id
WHERE m.expires_at < ?
ORDER BY w.id`
	rows, err := s.db.QueryContext(ctx, query, now.UTC().Unix())
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

func (s *SQLiteStore) ClaimWebhook(ctx context.Context, webhookID int64) (storage.Webhook, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookCols+` FROM webhook WHERE id = ? AND last_called IS NULL`, webhookID)
	w, err := scanWebhook(row.Scan)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Webhook{}, false, nil
	}
	if err != nil {
		return storage.Webhook{}, false, err
	}
	return w, true, nil
}

func (s *SQLiteStore) MarkWebhookCalled(ctx context.Context, webhookID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook SET last_called = ?, updated_at = ? WHERE id = ?`,
		now.UTC().Unix(), now.UTC().Format(time.RFC3339Nano), webhookID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook called: %w", err)
	}
	return nil
}
