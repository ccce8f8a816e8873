package user

import (
	"context"
	"errors"

	"vigil/internals/security"
	"vigil/internals/storage"
	"vigil/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	store    storage.Store
	tokenSvc *security.TokenService
	logger   *zerolog.Logger
}

func NewService(store storage.Store, tokenSvc *security.TokenService, logger *zerolog.Logger) *Service {
	return &Service{
		store:    store,
		tokenSvc: tokenSvc,
		logger:   logger,
	}
}

// Register creates a user and issues the user_key capability token that
// scopes monitor ownership.
func (s *Service) Register(ctx context.Context, cmd RegisterCmd) (storage.User, error) {
	const op string = "service.user.register"

	passwordHash, err := security.HashPassword(cmd.Password)
	if err != nil {
		return storage.User{}, apperror.New(apperror.Internal, op, err).
			WithMessage("internal server error")
	}

	created, err := s.store.CreateUser(ctx, storage.User{
		ID:           security.NewUUID(),
		Email:        cmd.Email,
		PasswordHash: passwordHash,
		UserKey:      security.NewUserKey(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return storage.User{}, &apperror.Error{
			Kind:    apperror.Conflict,
			Op:      op,
			Message: "email already registered",
		}
	}
	if err != nil {
		return storage.User{}, apperror.New(apperror.DatabaseErr, op, err).
			WithMessage("internal server error")
	}

	s.logger.Info().Str("user_id", created.ID.String()).Msg("user registered")
	return created, nil
}

// Delete soft-deletes the user, which also invalidates the user_key for
// future requests.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID) error {
	const op string = "service.user.delete"

	if err := s.store.SoftDeleteUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &apperror.Error{
				Kind:    apperror.NotFound,
				Op:      op,
				Message: "user not found",
			}
		}
		return apperror.New(apperror.DatabaseErr, op, err).WithMessage("internal server error")
	}

	s.logger.Info().Str("user_id", userID.String()).Msg("user deleted")
	return nil
}

// LogIn authenticates by email and password and returns the user_key together
// with a short-lived access token embedding it.
func (s *Service) LogIn(ctx context.Context, cmd LogInCmd) (LogInResult, error) {
	const op string = "service.user.login"

	invalid := &apperror.Error{
		Kind:    apperror.Unauthorised,
		Op:      op,
		Message: "invalid email or password",
	}

	u, err := s.store.GetUserByEmail(ctx, cmd.Email)
	if errors.Is(err, storage.ErrNotFound) {
		return LogInResult{}, invalid
	}
	if err != nil {
		return LogInResult{}, apperror.New(apperror.DatabaseErr, op, err).
			WithMessage("internal server error")
	}

	ok, err := security.ComparePassword(cmd.Password, u.PasswordHash)
	if err != nil {
		return LogInResult{}, apperror.New(apperror.Internal, op, err).
			WithMessage("internal server error")
	}
	if !ok {
		return LogInResult{}, invalid
	}

	token, err := s.tokenSvc.GenerateAccessToken(security.RequestClaims{
		UserID:  u.ID.String(),
		UserKey: u.UserKey,
	})
	if err != nil {
		return LogInResult{}, apperror.New(apperror.Internal, op, err).
			WithMessage("internal server error")
	}

	return LogInResult{
		UserID:      u.ID,
		UserKey:     u.UserKey,
		AccessToken: token,
	}, nil
}
