package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/reqctx"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokenmanager"
)

type authService interface {
	Authenticate(ctx context.Context, access string) (tokenmanager.AccessIdentity, error)
}

type AuthMiddleware struct {
	auth authService
}

func NewAuth(as authService) *AuthMiddleware {
	return &AuthMiddleware{auth: as}
}

// Auth requires valid bearer access token
// Identity is put into request context
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			render.Error(w, r, apperrors.Unauthenticated(apperrors.ErrAccessTokenInvalid))
			return
		}

		identity, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			render.Error(w, r, err)
			return
		}

		ctx := reqctx.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole lets through authenticated callers with the given role only
// Must be used after Auth
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := reqctx.Identity(r.Context())
			switch {
			case !ok:
				render.Error(w, r, apperrors.Unauthenticated(apperrors.ErrAccessTokenInvalid))
			case identity.Role != role:
				render.Error(w, r, apperrors.ErrPermissionDenied)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
