package handlers

import (
	"context"
	"net"
	"net/http"

	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokenmanager"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type authenticator interface {
	Authenticate(ctx context.Context, access string) (tokenmanager.AccessIdentity, error)
}

// Auth service used by router: handlers and bearer middleware
type routerAuthService interface {
	authService
	authenticator
}

// NewRouter wires auth API under /api/auth
// metrics handler is optional
func NewRouter(authService routerAuthService, metrics http.Handler, logger logger.Logger) http.Handler {
	authMiddleware := middleware.NewAuth(authService)
	h := NewAuth(authService)

	apiauth := http.NewServeMux()
	apiauth.Handle("/", h.Handler())
	apiauth.Handle("GET /me", authMiddleware.Auth(h.ProtectedHandler()))
	apiauth.Handle("POST /logout/all", authMiddleware.Auth(h.ProtectedHandler()))
	apiauth.Handle("POST /users/{id}/logout/all", chain(h.AdminHandler(),
		authMiddleware.Auth,
		middleware.RequireRole(models.RoleAdmin),
	))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))
	if metrics != nil {
		root.Handle("GET /metrics", metrics)
	}

	handler := chain(root,
		middleware.RequestID,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

// clientIP is the remote address without port
// Proxy headers are not trusted
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
