package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/gopherauth/internal/service/password"
	"github.com/nkiryanov/gopherauth/internal/service/user"
)

// Auth service
// Every error it returns is *apperrors.DomainError
type AuthService struct {
	storage repository.Storage
	users   *user.UserService
	tokens  *tokenmanager.TokenManager
	policy  *password.Policy
	logger  logger.Logger
	hooks   []Hook
	now     func() time.Time
}

type Config struct {
	Storage repository.Storage
	Users   *user.UserService
	Tokens  *tokenmanager.TokenManager
	Policy  *password.Policy

	// If not set than no-op logger is used
	Logger logger.Logger
	Hooks  []Hook

	// Used to measure call durations, time.Now if not set
	Now func() time.Time
}

func NewService(cfg Config) (*AuthService, error) {
	if cfg.Storage == nil || cfg.Users == nil || cfg.Tokens == nil || cfg.Policy == nil {
		return nil, errors.New("storage, users, tokens and policy must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &AuthService{
		storage: cfg.Storage,
		users:   cfg.Users,
		tokens:  cfg.Tokens.WithRepo(cfg.Storage.Refresh()),
		policy:  cfg.Policy,
		logger:  cfg.Logger,
		hooks:   cfg.Hooks,
		now:     cfg.Now,
	}, nil
}

// Register creates user and logs it in
// User and its first refresh token are stored in one transaction, password is hashed before it
func (s *AuthService) Register(ctx context.Context, username string, pass string, device models.Device) (models.TokenPair, error) {
	c := s.begin(ctx, OpRegister)

	nu, err := s.users.Prepare(ctx, username, pass, models.RoleUser)
	if err != nil {
		return models.TokenPair{}, c.end(ctx, err)
	}

	var pair models.TokenPair
	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		u, err := s.users.WithRepo(tx.User()).Store(ctx, nu)
		if err != nil {
			return err
		}
		c.event.UserID = u.ID

		pair, err = s.tokens.WithRepo(tx.Refresh()).GeneratePair(ctx, u, device)
		if err != nil {
			return fmt.Errorf("token could not be generated. Err: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.TokenPair{}, c.end(ctx, err)
	}

	return pair, c.end(ctx, nil)
}

func (s *AuthService) Login(ctx context.Context, username string, pass string, device models.Device) (models.TokenPair, error) {
	c := s.begin(ctx, OpLogin)

	u, err := s.users.Login(ctx, username, pass)
	if err != nil {
		return models.TokenPair{}, c.end(ctx, err)
	}
	c.event.UserID = u.ID

	pair, err := s.tokens.GeneratePair(ctx, u, device)
	if err != nil {
		return models.TokenPair{}, c.end(ctx, fmt.Errorf("token could not be generated. Err: %w", err))
	}

	return pair, c.end(ctx, nil)
}

// Refresh exchanges refresh token for new pair
// Presenting already revoked token revokes every session of its user
func (s *AuthService) Refresh(ctx context.Context, refresh string, device models.Device) (models.TokenPair, error) {
	c := s.begin(ctx, OpRefresh)

	parent, err := s.tokens.VerifyRefresh(ctx, refresh)
	switch {
	case err == nil:
		c.event.UserID = parent.UserID
	case errors.Is(err, apperrors.ErrRefreshTokenRevoked):
		c.event.UserID = parent.UserID
		c.event.ReuseDetected = true
		s.revokeFamily(ctx, parent)
		return models.TokenPair{}, c.end(ctx, apperrors.Unauthenticated(err))
	default:
		return models.TokenPair{}, c.end(ctx, err)
	}

	u, err := s.users.GetUserByID(ctx, parent.UserID)
	if err != nil {
		var de *apperrors.DomainError
		if errors.As(err, &de) && de.Kind == apperrors.KindNotFound {
			err = apperrors.Unauthenticated(apperrors.ErrUserNotFound)
		}
		return models.TokenPair{}, c.end(ctx, err)
	}

	pair, err := s.tokens.RotatePair(ctx, parent, u, device)
	if err != nil {
		return models.TokenPair{}, c.end(ctx, err)
	}

	return pair, c.end(ctx, nil)
}

func (s *AuthService) revokeFamily(ctx context.Context, token models.RefreshToken) {
	n, err := s.tokens.RevokeAll(ctx, token.UserID)
	if err != nil {
		s.logger.Error("revoke user refresh tokens failed", "user_id", token.UserID, "error", err)
		return
	}
	s.logger.Warn("refresh token reused", "user_id", token.UserID, "token_id", token.ID, "revoked", n)
}

// Logout revokes presented refresh token
// Logging out twice is ok
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	c := s.begin(ctx, OpLogout)

	token, err := s.tokens.Revoke(ctx, refresh)
	c.event.UserID = token.UserID

	return c.end(ctx, err)
}

// LogoutAll revokes every refresh token of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int, error) {
	c := s.begin(ctx, OpLogoutAll)
	c.event.UserID = userID

	n, err := s.tokens.RevokeAll(ctx, userID)
	return n, c.end(ctx, err)
}

// Authenticate verifies access token
func (s *AuthService) Authenticate(ctx context.Context, access string) (tokenmanager.AccessIdentity, error) {
	c := s.begin(ctx, OpAuthenticate)

	identity, err := s.tokens.ParseAccess(access)
	c.event.UserID = identity.UserID

	return identity, c.end(ctx, err)
}

// Me returns authenticated user
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// PasswordStrength is advisory and never fails
func (s *AuthService) PasswordStrength(pass string) password.Report {
	return s.policy.Check(pass)
}
