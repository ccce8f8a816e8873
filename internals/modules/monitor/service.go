package monitor

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"vigil/internals/security"
	"vigil/internals/storage"
	"vigil/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	MinFrequency = 60
	MaxFrequency = 2_592_000
)

// slug charset is [a-z0-9-], 1..32 chars, must not start with '-'
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

type Service struct {
	store  storage.Store
	logger *zerolog.Logger
	now    func() time.Time
}

func NewService(store storage.Store, logger *zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ValidateCmd returns one message per violated rule, empty when the command
// is acceptable.
func ValidateCmd(cmd CreateMonitorCmd) []string {
	var problems []string

	if cmd.Name == "" {
		problems = append(problems, "name is required")
	} else if len(cmd.Name) > 255 {
		problems = append(problems, "name must be at most 255 characters")
	}

	if cmd.Frequency < MinFrequency || cmd.Frequency > MaxFrequency {
		problems = append(problems, "frequency must be between 60 and 2592000 seconds")
	}

	if !slugPattern.MatchString(cmd.Slug) {
		problems = append(problems, "slug must match [a-z0-9-]{1,32} and not start with '-'")
	}

	if cmd.Webhook.Url == "" {
		problems = append(problems, "webhook url is required")
	}
	switch strings.ToUpper(cmd.Webhook.Method) {
	case "GET", "POST":
	default:
		problems = append(problems, "webhook method must be GET or POST")
	}

	return problems
}

func (s *Service) Create(ctx context.Context, cmd CreateMonitorCmd) (storage.Monitor, storage.Webhook, error) {
	const op string = "service.monitor.create"

	if problems := ValidateCmd(cmd); len(problems) > 0 {
		return storage.Monitor{}, storage.Webhook{}, &apperror.Error{
			Kind:    apperror.InvalidInput,
			Op:      op,
			Message: strings.Join(problems, "; "),
		}
	}

	now := s.now()
	mon := storage.Monitor{
		UserID:    cmd.UserID,
		Name:      cmd.Name,
		Slug:      cmd.Slug,
		Frequency: cmd.Frequency,
		ExpiresAt: now.Unix() + cmd.Frequency,
		APIKey:    security.NewAPIKey(),
	}
	hook := storage.Webhook{
		URL:         cmd.Webhook.Url,
		Method:      strings.ToUpper(cmd.Webhook.Method),
		Headers:     cmd.Webhook.Headers,
		FormFields:  cmd.Webhook.FormFields,
		BodyPayload: cmd.Webhook.BodyPayload,
	}

	created, err := s.store.CreateMonitor(ctx, mon, []storage.Webhook{hook})
	if errors.Is(err, storage.ErrDuplicate) {
		return storage.Monitor{}, storage.Webhook{}, &apperror.Error{
			Kind:    apperror.Conflict,
			Op:      op,
			Message: "slug already in use",
		}
	}
	if err != nil {
		return storage.Monitor{}, storage.Webhook{}, apperror.New(apperror.DatabaseErr, op, err).
			WithMessage("internal server error")
	}

	s.logger.Info().
		Str("slug", created.Slug).
		Int64("frequency", created.Frequency).
		Msg("monitor created")

	return created, hook, nil
}

// CheckIn resets the expiry deadline and re-arms every webhook of the monitor
// matching the (slug, api_key) pair.
func (s *Service) CheckIn(ctx context.Context, slug, apiKey string) (storage.Monitor, error) {
	const op string = "service.monitor.checkin"

	mon, err := s.store.CheckIn(ctx, slug, apiKey, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Monitor{}, &apperror.Error{
			Kind:    apperror.NotFound,
			Op:      op,
			Message: "monitor not found",
		}
	}
	if err != nil {
		return storage.Monitor{}, apperror.New(apperror.DatabaseErr, op, err).
			WithMessage("internal server error")
	}

	s.logger.Debug().Str("slug", slug).Msg("check-in accepted")
	return mon, nil
}

// Delete removes a monitor and its webhooks. Only the owning user or an admin
// may delete.
func (s *Service) Delete(ctx context.Context, slug string, isAdmin bool, userID uuid.UUID) error {
	const op string = "service.monitor.delete"

	mon, err := s.store.GetMonitorBySlug(ctx, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return &apperror.Error{
			Kind:    apperror.NotFound,
			Op:      op,
			Message: "monitor not found",
		}
	}
	if err != nil {
		return apperror.New(apperror.DatabaseErr, op, err).WithMessage("internal server error")
	}

	if !isAdmin && mon.UserID != userID {
		return &apperror.Error{
			Kind:    apperror.Forbidden,
			Op:      op,
			Message: "not the monitor owner",
		}
	}

	if err := s.store.DeleteMonitor(ctx, slug); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &apperror.Error{
				Kind:    apperror.NotFound,
				Op:      op,
				Message: "monitor not found",
			}
		}
		return apperror.New(apperror.DatabaseErr, op, err).WithMessage("internal server error")
	}

	s.logger.Info().Str("slug", slug).Msg("monitor deleted")
	return nil
}

// Get returns a monitor with its webhooks for the owner or an admin.
func (s *Service) Get(ctx context.Context, slug string, isAdmin bool, userID uuid.UUID) (storage.Monitor, []storage.Webhook, error) {
	const op string = "service.monitor.get"

	mon, err := s.store.GetMonitorBySlug(ctx, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Monitor{}, nil, &apperror.Error{
			Kind:    apperror.NotFound,
			Op:      op,
			Message: "monitor not found",
		}
	}
	if err != nil {
		return storage.Monitor{}, nil, apperror.New(apperror.DatabaseErr, op, err).
			WithMessage("internal server error")
	}

	if !isAdmin && mon.UserID != userID {
		return storage.Monitor{}, nil, &apperror.Error{
			Kind:    apperror.Forbidden,
			Op:      op,
			Message: "not the monitor owner",
		}
	}

	hooks, err := s.store.WebhooksByMonitor(ctx, mon.ID)
	if err != nil {
		return storage.Monitor{}, nil, apperror.New(apperror.DatabaseErr, op, err).
			WithMessage("internal server error")
	}

	return mon, hooks, nil
}
