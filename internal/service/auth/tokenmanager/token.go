package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 24 * time.Hour
)

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set unless Signer is given
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Custom signer, overrides SecretKey and Alg
	Signer TokenSigner

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Time source, time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	access *AccessCodec

	refreshTTL time.Duration
	now        func() time.Time

	// Refresh token repo
	refreshRepo repository.RefreshTokenRepo
}

func New(cfg Config, refreshRepo repository.RefreshTokenRepo) (*TokenManager, error) {
	signer := cfg.Signer
	if signer == nil {
		s, err := NewHMACSigner(cfg.Alg, cfg.SecretKey)
		if err != nil {
			return nil, err
		}
		signer = s
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("token ttl must be positive")
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		access:      NewAccessCodec(signer, cfg.AccessTTL, cfg.Now),
		refreshTTL:  cfg.RefreshTTL,
		now:         cfg.Now,
		refreshRepo: refreshRepo,
	}, nil
}

// WithRepo returns manager copy bound to another repo, e.g. the transactional one
func (m *TokenManager) WithRepo(repo repository.RefreshTokenRepo) *TokenManager {
	c := *m
	c.refreshRepo = repo
	return &c
}

// Stored timestamps have microseconds precision
func (m *TokenManager) clock() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// newRefresh builds unsaved refresh token record and its plaintext
func (m *TokenManager) newRefresh(userID uuid.UUID, device models.Device, now time.Time) (models.RefreshToken, string, error) {
	plain, digest, err := GenerateRefresh()
	if err != nil {
		return models.RefreshToken{}, "", err
	}

	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: digest,
		ExpiresAt: now.Add(m.refreshTTL),
		Device:    device,
		CreatedAt: now,
	}, plain, nil
}

func (m *TokenManager) GeneratePair(ctx context.Context, user models.User, device models.Device) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := m.access.Issue(user.ID, user.Role)
	if err != nil {
		return pair, err
	}

	record, plain, err := m.newRefresh(user.ID, device, m.clock())
	if err != nil {
		return pair, err
	}

	record, err = m.refreshRepo.Create(ctx, record)
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: plain, ExpiresAt: record.ExpiresAt},
	}, nil
}

// VerifyRefresh finds stored record by token and checks it is still usable.
// Record is returned with error too (when it was found), so caller can react on reuse of revoked token.
func (m *TokenManager) VerifyRefresh(ctx context.Context, plain string) (models.RefreshToken, error) {
	record, err := m.refreshRepo.GetByHash(ctx, HashRefresh(plain))
	if err != nil {
		return record, err
	}

	if err := VerifyRefresh(plain, record, m.clock()).Err(); err != nil {
		return record, fmt.Errorf("refresh token rejected: %w", err)
	}

	return record, nil
}

// RotatePair exchanges verified parent token for new pair
// Parent is revoked and child stored atomically; exactly one concurrent caller wins
func (m *TokenManager) RotatePair(ctx context.Context, parent models.RefreshToken, user models.User, device models.Device) (models.TokenPair, error) {
	var pair models.TokenPair

	if parent.UserID != user.ID {
		return pair, fmt.Errorf("refresh token rejected: %w", apperrors.ErrRefreshTokenMismatched)
	}

	now := m.clock()
	child, plain, err := m.newRefresh(user.ID, device, now)
	if err != nil {
		return pair, err
	}

	child, err = m.refreshRepo.Rotate(ctx, parent.ID, child, now)
	if err != nil {
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}

	access, err := m.access.Issue(user.ID, user.Role)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: plain, ExpiresAt: child.ExpiresAt},
	}, nil
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (AccessIdentity, error) {
	return m.access.Verify(access)
}

// Revoke refresh token by its plaintext
// Revoking revoked or expired token is ok
func (m *TokenManager) Revoke(ctx context.Context, plain string) (models.RefreshToken, error) {
	record, err := m.refreshRepo.GetByHash(ctx, HashRefresh(plain))
	if err != nil {
		return record, err
	}

	return m.refreshRepo.Revoke(ctx, record.ID, m.clock())
}

// RevokeAll revokes every active refresh token of the user
func (m *TokenManager) RevokeAll(ctx context.Context, userID uuid.UUID) (int, error) {
	return m.refreshRepo.RevokeAllForUser(ctx, userID, m.clock())
}
