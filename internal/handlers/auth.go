package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/reqctx"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/service/password"
)

type authService interface {
	// Errors of every method are *apperrors.DomainError
	Register(ctx context.Context, username string, password string, device models.Device) (models.TokenPair, error)
	Login(ctx context.Context, username string, password string, device models.Device) (models.TokenPair, error)
	Refresh(ctx context.Context, refresh string, device models.Device) (models.TokenPair, error)
	Logout(ctx context.Context, refresh string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int, error)
	Me(ctx context.Context, userID uuid.UUID) (models.User, error)
	PasswordStrength(password string) password.Report
}

const (
	maxDeviceNameLength = 128
	maxUserAgentLength  = 256
)

type AuthHandler struct {
	auth authService
}

type TokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func NewAuth(auth authService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Public endpoints
func (h *AuthHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.HandleFunc("POST /logout", h.logout)
	mux.HandleFunc("POST /password/strength", h.passwordStrength)

	return mux
}

// Endpoints that require access token
func (h *AuthHandler) ProtectedHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", h.me)
	mux.HandleFunc("POST /logout/all", h.logoutAll)

	return mux
}

// Endpoints for admins, access token and role are checked by caller
func (h *AuthHandler) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/{id}/logout/all", h.logoutUser)

	return mux
}

type credentialsRequest struct {
	Login      string `json:"login" validate:"notblank,max=64"`
	Password   string `json:"password" validate:"required,max=256"`
	DeviceName string `json:"device_name" validate:"max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=512"`
	DeviceName   string `json:"device_name" validate:"max=128"`
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	data, err := render.BindAndValidate[credentialsRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.auth.Register(r.Context(), data.Login, data.Password, deviceFrom(r, data.DeviceName))
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, r, pairResponse(pair))
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	data, err := render.BindAndValidate[credentialsRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.auth.Login(r.Context(), data.Login, data.Password, deviceFrom(r, data.DeviceName))
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, r, pairResponse(pair))
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	data, err := render.BindAndValidate[refreshRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.auth.Refresh(r.Context(), data.RefreshToken, deviceFrom(r, data.DeviceName))
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, r, pairResponse(pair))
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	data, err := render.BindAndValidate[refreshRequest](w, r)
	if err != nil {
		return
	}

	if err := h.auth.Logout(r.Context(), data.RefreshToken); err != nil {
		render.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) passwordStrength(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Password string `json:"password" validate:"max=256"`
	}
	type response struct {
		Valid       bool     `json:"valid"`
		Strength    string   `json:"strength"`
		Score       int      `json:"score"`
		Suggestions []string `json:"suggestions"`
	}

	data, err := render.BindAndValidate[request](w, r)
	if err != nil {
		return
	}

	report := h.auth.PasswordStrength(data.Password)
	render.JSON(w, r, response{
		Valid:       report.Valid,
		Strength:    string(report.Strength),
		Score:       report.Score,
		Suggestions: report.Suggestions,
	})
}

func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	type response struct {
		ID        uuid.UUID   `json:"id"`
		Username  string      `json:"username"`
		Role      models.Role `json:"role"`
		CreatedAt time.Time   `json:"created_at"`
	}

	identity, ok := reqctx.Identity(r.Context())
	if !ok {
		render.Error(w, r, apperrors.Unauthenticated(apperrors.ErrAccessTokenInvalid))
		return
	}

	user, err := h.auth.Me(r.Context(), identity.UserID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, r, response{ID: user.ID, Username: user.Username, Role: user.Role, CreatedAt: user.CreatedAt})
}

func (h *AuthHandler) logoutAll(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Revoked int `json:"revoked"`
	}

	identity, ok := reqctx.Identity(r.Context())
	if !ok {
		render.Error(w, r, apperrors.Unauthenticated(apperrors.ErrAccessTokenInvalid))
		return
	}

	n, err := h.auth.LogoutAll(r.Context(), identity.UserID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, r, response{Revoked: n})
}

// Revoke every session of any user
func (h *AuthHandler) logoutUser(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Revoked int `json:"revoked"`
	}

	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.Error(w, r, apperrors.Validation("user_id", 1, "Invalid user id").WithCause(err))
		return
	}

	n, err := h.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, r, response{Revoked: n})
}

func pairResponse(pair models.TokenPair) TokenPairResponse {
	return TokenPairResponse{
		AccessToken:      pair.Access.Value,
		TokenType:        "Bearer",
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	}
}

// Device info is informational only, never used for decisions
func deviceFrom(r *http.Request, name string) models.Device {
	return models.Device{
		Name:      cleanText(name, maxDeviceNameLength),
		UserAgent: cleanText(r.UserAgent(), maxUserAgentLength),
		IPAddress: clientIP(r),
	}
}

// cleanText makes client text storable: valid UTF-8 without NUL, at most n bytes,
// cut on rune boundary
func cleanText(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
