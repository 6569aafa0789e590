package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string, role models.Role) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Replace stored password digest, used to upgrade digests made with weaker settings
	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error
}

// RefreshToken repository interface
// Implementations must keep Rotate and Revoke atomic per record
type RefreshTokenRepo interface {
	// Store new token record
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token even it is expired or revoked
	// If token not found must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error)
	GetByID(ctx context.Context, tokenID uuid.UUID) (models.RefreshToken, error)

	// Revoke parent and store child as one step, only if parent is active at 'at'.
	// Child's user is taken from the parent.
	// Exactly one of concurrent rotations of the same parent wins, others get
	// apperrors.ErrRefreshTokenRevoked (or ErrRefreshTokenExpired, ErrRefreshTokenNotFound).
	Rotate(ctx context.Context, parentID uuid.UUID, child models.RefreshToken, at time.Time) (models.RefreshToken, error)

	// Mark token revoked
	// Must be idempotent: revoking revoked token is ok and keeps the first 'revokedAt'
	Revoke(ctx context.Context, tokenID uuid.UUID, at time.Time) (models.RefreshToken, error)

	// Revoke every active token of the user, return number of revoked ones
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn with storage bound to one transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
