package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/gopherauth/internal/db"
	"github.com/nkiryanov/gopherauth/internal/handlers"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/repository/memory"
	"github.com/nkiryanov/gopherauth/internal/repository/postgres"
	redisrepo "github.com/nkiryanov/gopherauth/internal/repository/redis"
	"github.com/nkiryanov/gopherauth/internal/service/auth"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
	"github.com/nkiryanov/gopherauth/internal/service/password"
	"github.com/nkiryanov/gopherauth/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger

	// Released in reverse order after server stopped
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	app := &ServerApp{ListenAddr: c.ListenAddr}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	// Initialize logger
	app.logger, err = logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	storage, err := app.newStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	// Initialize services
	policy := password.New(password.Config{MinLength: c.PasswordMinLength})
	hasher := credential.NewArgon2(credential.Config{Memory: c.HashMemoryKB, Iterations: c.HashIterations})
	pool := credential.NewPool(hasher, c.HashWorkers)

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	}, storage.Refresh())
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	m := metrics.New()
	authService, err := auth.NewService(auth.Config{
		Storage: storage,
		Users:   user.NewService(policy, pool, storage.User(), app.logger),
		Tokens:  tokenManager,
		Policy:  policy,
		Logger:  app.logger,
		Hooks:   []auth.Hook{auth.NewLogHook(app.logger), m.Hook()},
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.Handler = handlers.NewRouter(authService, m.Handler(), app.logger)
	app.logger.Info("App initialized",
		"refresh_store", c.RefreshStore,
		"hash_workers", pool.Size(),
		"access_ttl", c.AccessTTL,
		"refresh_ttl", c.RefreshTTL,
	)

	return app, nil
}

// Users live in postgres unless memory store is used
func (s *ServerApp) newStorage(ctx context.Context, c *Config) (repository.Storage, error) {
	if c.RefreshStore == StoreMemory {
		s.logger.Warn("Memory store is used, everything is lost on restart")
		return memory.NewStorage(), nil
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	if c.RefreshStore != StoreRedis {
		return postgres.NewStorage(pool), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	s.closers = append(s.closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
	}

	return postgres.NewStorage(pool, postgres.WithRefreshRepo(
		redisrepo.NewRefreshTokenRepo(rdb, redisrepo.Config{Retention: c.RefreshTTL}),
	)), nil
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
