package middle

/**
- Work of this file -> Auth package:
	- Resolves the caller's credential (admin key, user key, or bearer token)
	- Stores the resulting principal in context
	- Exposes a helper to retrieve it
**/

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vigil/internals/security"
	"vigil/internals/storage"
	"vigil/pkg/utils"

	"github.com/google/uuid"
)

type principalCtxKeyType struct{}

var principalCtxKey = principalCtxKeyType{}

// Principal is the resolved caller identity for monitor endpoints.
type Principal struct {
	IsAdmin bool
	UserID  uuid.UUID
	UserKey string
}

type AuthMiddleware struct {
	adminKey string
	tokenSvc *security.TokenService
	store    storage.Store
}

func NewAuthMiddleware(adminKey string, tokenSvc *security.TokenService, store storage.Store) *AuthMiddleware {
	return &AuthMiddleware{
		adminKey: adminKey,
		tokenSvc: tokenSvc,
		store:    store,
	}
}

// Handle accepts x-admin-key, x-user-key, or a Bearer access token. Requests
// carrying none of them are rejected with 401.
func (a *AuthMiddleware) Handle(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {

		principal, err := a.resolve(r)
		if err != nil {
			utils.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), principalCtxKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	}

	return http.HandlerFunc(fn)
}

func (a *AuthMiddleware) resolve(r *http.Request) (*Principal, error) {
	if adminKey := r.Header.Get("x-admin-key"); adminKey != "" {
		if a.adminKey == "" || adminKey != a.adminKey {
			return nil, errors.New("invalid admin key")
		}
		return &Principal{IsAdmin: true}, nil
	}

	userKey := r.Header.Get("x-user-key")

	if userKey == "" {
		if token, ok := a.extractBearerToken(r); ok {
			claims, err := a.tokenSvc.ValidateAccessToken(token)
			if err != nil {
				return nil, errors.New("invalid token")
			}
			userKey = claims.UserKey
		}
	}

	if userKey == "" {
		return nil, errors.New("missing credentials")
	}

	user, err := a.store.GetUserByKey(r.Context(), userKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.New("invalid user key")
		}
		return nil, errors.New("unable to verify credentials")
	}

	return &Principal{UserID: user.ID, UserKey: user.UserKey}, nil
}

func (_ *AuthMiddleware) extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}

	return parts[1], true
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(*Principal)
	return p, ok
}
