package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshTokenColumns = `id, user_id, token_hash, expires_at, revoked, revoked_at, device_name, user_agent, ip_address, created_at, last_used_at`

const createToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, revoked_at, device_name, user_agent, ip_address, created_at, last_used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + refreshTokenColumns

func (r *RefreshTokenRepo) Create(ctx context.Context, t models.RefreshToken) (models.RefreshToken, error) {
	token, err := queryOne(ctx, r.DB, rowToRefreshToken, createToken,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.Revoked, t.RevokedAt,
		t.Device.Name, t.Device.UserAgent, t.Device.IPAddress, t.CreatedAt, t.LastUsedAt,
	)
	if err != nil {
		return token, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

const getTokenByHash = `-- name: GetRefreshTokenByHash
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token
// It should return result even it expired or revoked already
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	return r.getOne(ctx, getTokenByHash, tokenHash)
}

const getTokenByID = `-- name: GetRefreshTokenByID
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE id = $1
`

func (r *RefreshTokenRepo) GetByID(ctx context.Context, id uuid.UUID) (models.RefreshToken, error) {
	return r.getOne(ctx, getTokenByID, id)
}

// Parent update and child insert is one statement.
// Parent row is locked by UPDATE, so concurrent rotation waits and then re-checks
// 'revoked = FALSE' against committed row: it finds nothing and inserts nothing.
const rotateToken = `-- name: RotateRefreshToken
WITH parent AS (
	UPDATE refresh_tokens
	SET revoked = TRUE, revoked_at = $2, last_used_at = $2
	WHERE id = $1 AND revoked = FALSE AND expires_at > $2
	RETURNING user_id
)
INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, revoked_at, device_name, user_agent, ip_address, created_at, last_used_at)
SELECT $3, parent.user_id, $4, $5, FALSE, NULL, $6, $7, $8, $2, NULL
FROM parent
RETURNING ` + refreshTokenColumns

func (r *RefreshTokenRepo) Rotate(ctx context.Context, parentID uuid.UUID, child models.RefreshToken, at time.Time) (models.RefreshToken, error) {
	token, err := queryOne(ctx, r.DB, rowToRefreshToken, rotateToken,
		parentID, at,
		child.ID, child.TokenHash, child.ExpiresAt,
		child.Device.Name, child.Device.UserAgent, child.Device.IPAddress,
	)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Lost: find out why parent was not active
		return token, r.inactiveReason(ctx, parentID, at)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func (r *RefreshTokenRepo) inactiveReason(ctx context.Context, id uuid.UUID, at time.Time) error {
	parent, err := r.GetByID(ctx, id)

	switch {
	case err != nil:
		return err
	case !parent.Revoked && !parent.ExpiresAt.After(at):
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	default:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	}
}

const revokeToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
WHERE id = $1
RETURNING ` + refreshTokenColumns

// Revoke token
// Must be idempotent: revoking revoked token keeps the first 'revoked_at'
func (r *RefreshTokenRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (models.RefreshToken, error) {
	return r.getOne(ctx, revokeToken, id, at)
}

const revokeAllForUser = `-- name: RevokeAllRefreshTokensForUser
UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $2
WHERE user_id = $1 AND revoked = FALSE
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Query one token, missing row is ErrRefreshTokenNotFound
func (r *RefreshTokenRepo) getOne(ctx context.Context, sql string, args ...any) (models.RefreshToken, error) {
	token, err := queryOne(ctx, r.DB, rowToRefreshToken, sql, args...)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.RevokedAt,
		&t.Device.Name, &t.Device.UserAgent, &t.Device.IPAddress, &t.CreatedAt, &t.LastUsedAt,
	)
	return t, err
}
