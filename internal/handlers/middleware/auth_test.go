package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/reqctx"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokenmanager"
)

// Allow to use a function as auth service
type authFunc func(ctx context.Context, access string) (tokenmanager.AccessIdentity, error)

func (f authFunc) Authenticate(ctx context.Context, access string) (tokenmanager.AccessIdentity, error) {
	return f(ctx, access)
}

func TestAuthMiddleware_Auth(t *testing.T) {
	userID := uuid.New()

	// Simple handler that try to get identity from context
	// If ok write user id to response
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Must always be true cause middleware has to set identity or write error to response
		identity, ok := reqctx.Identity(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(identity.UserID.String()))
		require.NoError(t, err, "should write user id to response")
	})

	// Accepts token "good" only
	middleware := NewAuth(authFunc(func(ctx context.Context, access string) (tokenmanager.AccessIdentity, error) {
		if access != "good" {
			return tokenmanager.AccessIdentity{}, apperrors.Unauthenticated(apperrors.ErrAccessTokenInvalid)
		}
		return tokenmanager.AccessIdentity{UserID: userID, Role: models.RoleUser}, nil
	}))

	srv := httptest.NewServer(middleware.Auth(handler))
	defer srv.Close()

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "auth ok", header: "Bearer good", wantStatus: http.StatusOK},
		{name: "scheme case insensitive", header: "bearer good", wantStatus: http.StatusOK},
		{name: "no header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "other scheme", header: "Basic good", wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer bad", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/test", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err, "should make request to test server")
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err, "should read response body")
			defer resp.Body.Close() // nolint:errcheck

			require.Equalf(t, tt.wantStatus, resp.StatusCode, "unexpected status. Resp: %s", string(body))
			if tt.wantStatus == http.StatusOK {
				require.Equal(t, userID.String(), string(body), "should return user id in response")
				return
			}

			var envelope apperrors.Envelope
			require.NoError(t, json.Unmarshal(body, &envelope))
			require.Len(t, envelope.Errors, 1)
			require.Equal(t, "AUTH_CREDENTIALS_001", envelope.Errors[0].Code, "every auth failure looks the same")
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole(models.RoleAdmin)(ok)

	tests := []struct {
		name       string
		identity   *tokenmanager.AccessIdentity
		wantStatus int
		wantCode   string
	}{
		{
			name:       "admin",
			identity:   &tokenmanager.AccessIdentity{UserID: uuid.New(), Role: models.RoleAdmin},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "user",
			identity:   &tokenmanager.AccessIdentity{UserID: uuid.New(), Role: models.RoleUser},
			wantStatus: http.StatusForbidden,
			wantCode:   "AUTHZ_ACCESS_001",
		},
		{
			name:       "no identity",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "AUTH_CREDENTIALS_001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/users", nil)
			if tt.identity != nil {
				r = r.WithContext(reqctx.WithIdentity(r.Context(), *tt.identity))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode == "" {
				return
			}
			var envelope apperrors.Envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
			require.Len(t, envelope.Errors, 1)
			require.Equal(t, tt.wantCode, envelope.Errors[0].Code)
		})
	}
}
