package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository/memory"
	"github.com/nkiryanov/gopherauth/internal/service/auth"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
	"github.com/nkiryanov/gopherauth/internal/service/password"
	"github.com/nkiryanov/gopherauth/internal/service/user"
)

const strongPassword = "Correct-Horse-42"

type envelope struct {
	Data   json.RawMessage       `json:"data"`
	Meta   apperrors.Meta        `json:"meta"`
	Errors []apperrors.ErrorItem `json:"errors"`
}

type client struct {
	t   *testing.T
	url string

	storage *memory.Storage
	pool    *credential.Pool
}

// Run http server with production router over in-memory storage
func newServer(t *testing.T) client {
	t.Helper()

	storage := memory.NewStorage()
	policy := password.New(password.Config{})
	pool := credential.NewPool(credential.NewArgon2(credential.Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}), 2)
	l := logger.NewNoOpLogger()
	m := metrics.New()

	tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage.Refresh())
	require.NoError(t, err, "token manager should be created without errors")

	s, err := auth.NewService(auth.Config{
		Storage: storage,
		Users:   user.NewService(policy, pool, storage.User(), l),
		Tokens:  tokens,
		Policy:  policy,
		Logger:  l,
		Hooks:   []auth.Hook{auth.NewLogHook(l), m.Hook()},
	})
	require.NoError(t, err, "auth service starting error")

	srv := httptest.NewServer(NewRouter(s, m.Handler(), l))
	t.Cleanup(srv.Close)

	return client{t: t, url: srv.URL, storage: storage, pool: pool}
}

func (c client) do(method string, path string, body string, headers map[string]string) (*http.Response, envelope) {
	c.t.Helper()

	req, err := http.NewRequest(method, c.url+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	defer resp.Body.Close() //nolint:errcheck

	var env envelope
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoErrorf(c.t, json.Unmarshal(data, &env), "body: %s", string(data))
	}
	return resp, env
}

func (c client) post(path string, body string) (*http.Response, envelope) {
	return c.do(http.MethodPost, path, body, nil)
}

func (c client) register(login string) TokenPairResponse {
	c.t.Helper()

	resp, env := c.post("/api/auth/register", `{"login": "`+login+`", "password": "`+strongPassword+`", "device_name": "laptop"}`)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)

	var pair TokenPairResponse
	require.NoError(c.t, json.Unmarshal(env.Data, &pair))
	return pair
}

// Admins can't register themselves, so store one directly and log in
func (c client) loginAdmin(login string) TokenPairResponse {
	c.t.Helper()

	hash, err := c.pool.Hash(c.t.Context(), strongPassword)
	require.NoError(c.t, err)
	_, err = c.storage.User().CreateUser(c.t.Context(), login, hash, models.RoleAdmin)
	require.NoError(c.t, err)

	resp, env := c.post("/api/auth/login", `{"login": "`+login+`", "password": "`+strongPassword+`"}`)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)

	var pair TokenPairResponse
	require.NoError(c.t, json.Unmarshal(env.Data, &pair))
	return pair
}

func requireUnauthorized(t *testing.T, resp *http.Response, env envelope) {
	t.Helper()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Len(t, env.Errors, 1)
	require.Equal(t, apperrors.ErrorItem{
		Code:    "AUTH_CREDENTIALS_001",
		Message: "Invalid or expired credentials",
		Details: map[string]any{},
	}, env.Errors[0])
	require.Equal(t, "null", string(env.Data))
}

func Test_AuthHandler(t *testing.T) {
	t.Run("register ok", func(t *testing.T) {
		c := newServer(t)

		pair := c.register("nk")

		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, "Bearer", pair.TokenType)
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.AccessExpiresAt, 2*time.Second)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.RefreshExpiresAt, 2*time.Second)
	})

	t.Run("register weak password", func(t *testing.T) {
		c := newServer(t)

		resp, env := c.post("/api/auth/register", `{"login": "nk", "password": "password"}`)

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, env.Errors, 1)
		assert.Equal(t, "VAL_PASSWORD_001", env.Errors[0].Code)
		assert.Equal(t, "min_length", env.Errors[0].Details["rule"])
		assert.EqualValues(t, 4, env.Errors[0].Details["missing"])
	})

	t.Run("register duplicate", func(t *testing.T) {
		c := newServer(t)
		c.register("nk")

		resp, env := c.post("/api/auth/register", `{"login": "nk", "password": "`+strongPassword+`"}`)

		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "CONF_USER_001", env.Errors[0].Code)
	})

	t.Run("register bad request", func(t *testing.T) {
		c := newServer(t)

		resp, env := c.post("/api/auth/register", `{"login": "   "}`)

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VAL_REQUEST_002", env.Errors[0].Code)
	})

	t.Run("register with control characters in login", func(t *testing.T) {
		c := newServer(t)

		resp, env := c.post("/api/auth/register", `{"login": "go\u0000pher", "password": "`+strongPassword+`", "device_name": "lap\u0000top"}`)

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VAL_USERNAME_003", env.Errors[0].Code)
	})

	t.Run("nul in device name is dropped", func(t *testing.T) {
		c := newServer(t)

		resp, _ := c.post("/api/auth/register", `{"login": "nk", "password": "`+strongPassword+`", "device_name": "lap\u0000top"}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("login ok", func(t *testing.T) {
		c := newServer(t)
		c.register("nk")

		resp, env := c.post("/api/auth/login", `{"login": "nk", "password": "`+strongPassword+`"}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, env.Errors)
		assert.Contains(t, string(env.Data), "refresh_token")
	})

	t.Run("auth failures are indistinguishable", func(t *testing.T) {
		c := newServer(t)
		pair := c.register("nk")
		_, _ = c.post("/api/auth/logout", `{"refresh_token": "`+pair.RefreshToken+`"}`)

		resp, env := c.post("/api/auth/login", `{"login": "nk", "password": "Wrong-Password-1"}`)
		requireUnauthorized(t, resp, env)

		resp, env = c.post("/api/auth/login", `{"login": "nobody", "password": "`+strongPassword+`"}`)
		requireUnauthorized(t, resp, env)

		resp, env = c.post("/api/auth/login", `{"login": "n\u0000k", "password": "`+strongPassword+`"}`)
		requireUnauthorized(t, resp, env)

		resp, env = c.post("/api/auth/refresh", `{"refresh_token": "made-up"}`)
		requireUnauthorized(t, resp, env)

		resp, env = c.post("/api/auth/refresh", `{"refresh_token": "`+pair.RefreshToken+`"}`)
		requireUnauthorized(t, resp, env)

		resp, env = c.do(http.MethodGet, "/api/auth/me", "", map[string]string{"Authorization": "Bearer " + pair.AccessToken + "x"})
		requireUnauthorized(t, resp, env)

		resp, env = c.do(http.MethodGet, "/api/auth/me", "", nil)
		requireUnauthorized(t, resp, env)
	})

	t.Run("refresh rotates", func(t *testing.T) {
		c := newServer(t)
		pair := c.register("nk")

		resp, env := c.post("/api/auth/refresh", `{"refresh_token": "`+pair.RefreshToken+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var next TokenPairResponse
		require.NoError(t, json.Unmarshal(env.Data, &next))
		assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

		// Replay of the old token revokes the new one too
		resp, env = c.post("/api/auth/refresh", `{"refresh_token": "`+pair.RefreshToken+`"}`)
		requireUnauthorized(t, resp, env)
		resp, env = c.post("/api/auth/refresh", `{"refresh_token": "`+next.RefreshToken+`"}`)
		requireUnauthorized(t, resp, env)
	})

	t.Run("logout", func(t *testing.T) {
		c := newServer(t)
		pair := c.register("nk")

		resp, _ := c.post("/api/auth/logout", `{"refresh_token": "`+pair.RefreshToken+`"}`)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, _ = c.post("/api/auth/logout", `{"refresh_token": "`+pair.RefreshToken+`"}`)
		require.Equal(t, http.StatusNoContent, resp.StatusCode, "logout is idempotent")
	})

	t.Run("logout all", func(t *testing.T) {
		c := newServer(t)
		pair := c.register("nk")
		_, _ = c.post("/api/auth/login", `{"login": "nk", "password": "`+strongPassword+`"}`)
		bearer := map[string]string{"Authorization": "Bearer " + pair.AccessToken}

		resp, env := c.do(http.MethodPost, "/api/auth/logout/all", "", bearer)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"revoked": 2}`, string(env.Data))
	})

	t.Run("admin revokes user sessions", func(t *testing.T) {
		c := newServer(t)
		victim := c.register("nk")
		admin := c.loginAdmin("root")

		var me struct {
			ID string `json:"id"`
		}
		_, env := c.do(http.MethodGet, "/api/auth/me", "", map[string]string{"Authorization": "Bearer " + victim.AccessToken})
		require.NoError(t, json.Unmarshal(env.Data, &me))

		resp, env := c.do(http.MethodPost, "/api/auth/users/"+me.ID+"/logout/all", "", map[string]string{"Authorization": "Bearer " + admin.AccessToken})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"revoked": 1}`, string(env.Data))
		resp, env = c.post("/api/auth/refresh", `{"refresh_token": "`+victim.RefreshToken+`"}`)
		requireUnauthorized(t, resp, env)
	})

	t.Run("admin route forbidden for users", func(t *testing.T) {
		c := newServer(t)
		pair := c.register("nk")

		resp, env := c.do(http.MethodPost, "/api/auth/users/"+uuid.NewString()+"/logout/all", "", map[string]string{"Authorization": "Bearer " + pair.AccessToken})

		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Len(t, env.Errors, 1)
		assert.Equal(t, "AUTHZ_ACCESS_001", env.Errors[0].Code)
	})

	t.Run("admin route bad user id", func(t *testing.T) {
		c := newServer(t)
		admin := c.loginAdmin("root")

		resp, env := c.do(http.MethodPost, "/api/auth/users/not-a-uuid/logout/all", "", map[string]string{"Authorization": "Bearer " + admin.AccessToken})

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VAL_USER_ID_001", env.Errors[0].Code)
	})

	t.Run("me", func(t *testing.T) {
		c := newServer(t)
		pair := c.register("nk")

		resp, env := c.do(http.MethodGet, "/api/auth/me", "", map[string]string{
			"Authorization": "Bearer " + pair.AccessToken,
			"X-Request-ID":  "req-7",
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "req-7", resp.Header.Get("X-Request-ID"))
		require.NotNil(t, env.Meta.RequestID)
		assert.Equal(t, "req-7", *env.Meta.RequestID)

		var me struct {
			Username string `json:"username"`
			Role     string `json:"role"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &me))
		assert.Equal(t, "nk", me.Username)
		assert.Equal(t, "user", me.Role)
	})

	t.Run("password strength", func(t *testing.T) {
		c := newServer(t)

		resp, env := c.post("/api/auth/password/strength", `{"password": "abc"}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var report struct {
			Valid       bool     `json:"valid"`
			Strength    string   `json:"strength"`
			Score       int      `json:"score"`
			Suggestions []string `json:"suggestions"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &report))
		assert.False(t, report.Valid)
		assert.Equal(t, "medium", report.Strength)
		assert.Equal(t, 2, report.Score)
		assert.NotEmpty(t, report.Suggestions)
	})

	t.Run("metrics", func(t *testing.T) {
		c := newServer(t)
		c.register("nk")

		resp, err := http.Get(c.url + "/metrics")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		defer resp.Body.Close() //nolint:errcheck

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `gopherauth_auth_operations_total{operation="register",outcome="success"} 1`)
	})

	t.Run("wrong method", func(t *testing.T) {
		c := newServer(t)

		resp, _ := c.do(http.MethodGet, "/api/auth/login", "", nil)

		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}
