package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicate is returned when a unique constraint (slug, email) is hit.
	ErrDuplicate = errors.New("duplicate")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	UserKey      string
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Monitor struct {
	ID        int64
	UserID    uuid.UUID
	Name      string
	Slug      string
	Frequency int64 // seconds
	ExpiresAt int64 // epoch seconds
	APIKey    string
	LastCheck *time.Time // nil until first check-in
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Webhook struct {
	ID          int64
	MonitorID   int64
	URL         string
	Method      string
	Headers     map[string]string
	FormFields  map[string]string
	BodyPayload string
	LastCalled  *int64 // epoch seconds; nil means eligible to fire
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DueWebhook is a webhook joined with its expired monitor, as produced by the
// sweeper's range scan.
type DueWebhook struct {
	Webhook
	MonitorSlug string
	MonitorName string
}

// Store is the transactional persistence boundary shared by the HTTP handlers
// and the sweeper. All cross-task coordination happens through it.
type Store interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByKey(ctx context.Context, userKey string) (User, error)
	SoftDeleteUser(ctx context.Context, id uuid.UUID) error

	// CreateMonitor persists a monitor and its webhooks in one transaction.
	// Returns ErrDuplicate when the slug is already taken; no partial pair is
	// left behind in that case.
	CreateMonitor(ctx context.Context, monitor Monitor, webhooks []Webhook) (Monitor, error)
	GetMonitorBySlug(ctx context.Context, slug string) (Monitor, error)
	WebhooksByMonitor(ctx context.Context, monitorID int64) ([]Webhook, error)

	// CheckIn atomically matches (slug, api_key), sets last_check=now,
	// expires_at=now+frequency and nulls last_called on every child webhook.
	// Returns ErrNotFound when the pair does not match.
	CheckIn(ctx context.Context, slug, apiKey string, now time.Time) (Monitor, error)

	// DeleteMonitor removes the monitor and cascades to its webhooks.
	DeleteMonitor(ctx context.Context, slug string) error

	// ExpiredWebhooks returns the webhooks of all monitors with
	// expires_at < now, backed by the expires_at index.
	ExpiredWebhooks(ctx context.Context, now time.Time) ([]DueWebhook, error)

	// ClaimWebhook re-reads the webhook on the condition last_called IS NULL.
	// ok=false means it was already fired this episode or reset concurrently;
	// that is the expected outcome of a race, not an error.
	ClaimWebhook(ctx context.Context, webhookID int64) (Webhook, bool, error)

	// MarkWebhookCalled records a confirmed delivery.
	MarkWebhookCalled(ctx context.Context, webhookID int64, now time.Time) error

	Close() error
}
