// Package repotest holds behaviour checks every repository implementation must pass.
package repotest

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

// Fixed instant all the checks are made at
var Now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TokenHash(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// NewToken returns active token with random hash created at Now
func NewToken(userID uuid.UUID, ttl time.Duration) models.RefreshToken {
	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: TokenHash(uuid.NewString()),
		ExpiresAt: Now.Add(ttl),
		Device:    models.Device{Name: "phone", UserAgent: "okhttp/4.12", IPAddress: "192.0.2.7"},
		CreatedAt: Now,
	}
}

// RefreshTokenRepo checks the repository contract
// Every subtest uses its own users and tokens, so repo may be shared
func RefreshTokenRepo(t *testing.T, repo repository.RefreshTokenRepo) {
	t.Run("create and get", func(t *testing.T) {
		token := NewToken(uuid.New(), time.Hour)

		created, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		byHash, err := repo.GetByHash(t.Context(), token.TokenHash)
		require.NoError(t, err)
		byID, err := repo.GetByID(t.Context(), token.ID)
		require.NoError(t, err)

		for _, got := range []models.RefreshToken{created, byHash, byID} {
			assert.Equal(t, token.ID, got.ID)
			assert.Equal(t, token.UserID, got.UserID)
			assert.Equal(t, token.TokenHash, got.TokenHash)
			assert.Equal(t, token.Device, got.Device)
			assert.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, 0)
			assert.WithinDuration(t, token.CreatedAt, got.CreatedAt, 0)
			assert.False(t, got.Revoked)
			assert.Nil(t, got.RevokedAt)
			assert.Nil(t, got.LastUsedAt)
		}
	})

	t.Run("get not existed", func(t *testing.T) {
		_, err := repo.GetByHash(t.Context(), TokenHash("unknown"))
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)

		_, err = repo.GetByID(t.Context(), uuid.New())
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("rotate active", func(t *testing.T) {
		parent := NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), parent)
		require.NoError(t, err)
		at := Now.Add(time.Minute)
		child := NewToken(uuid.Nil, 24*time.Hour)

		got, err := repo.Rotate(t.Context(), parent.ID, child, at)

		require.NoError(t, err)
		assert.Equal(t, child.ID, got.ID)
		assert.Equal(t, parent.UserID, got.UserID, "child belongs to parent's user")
		assert.Equal(t, child.TokenHash, got.TokenHash)
		assert.False(t, got.Revoked)
		assert.WithinDuration(t, at, got.CreatedAt, 0)

		stored, err := repo.GetByID(t.Context(), parent.ID)
		require.NoError(t, err)
		assert.True(t, stored.Revoked)
		require.NotNil(t, stored.RevokedAt)
		assert.WithinDuration(t, at, *stored.RevokedAt, 0)
		require.NotNil(t, stored.LastUsedAt)
		assert.WithinDuration(t, at, *stored.LastUsedAt, 0)

		byHash, err := repo.GetByHash(t.Context(), child.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, child.ID, byHash.ID)
	})

	t.Run("rotate twice", func(t *testing.T) {
		parent := NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), parent)
		require.NoError(t, err)

		_, err = repo.Rotate(t.Context(), parent.ID, NewToken(uuid.Nil, time.Hour), Now)
		require.NoError(t, err)

		second := NewToken(uuid.Nil, time.Hour)
		_, err = repo.Rotate(t.Context(), parent.ID, second, Now)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)

		_, err = repo.GetByHash(t.Context(), second.TokenHash)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "loser must not store child")
	})

	t.Run("rotate expired", func(t *testing.T) {
		parent := NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), parent)
		require.NoError(t, err)

		_, err = repo.Rotate(t.Context(), parent.ID, NewToken(uuid.Nil, time.Hour), parent.ExpiresAt)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired, "token is expired exactly at expires_at")

		stored, err := repo.GetByID(t.Context(), parent.ID)
		require.NoError(t, err)
		assert.False(t, stored.Revoked, "failed rotation must not touch parent")
	})

	t.Run("rotate not existed", func(t *testing.T) {
		_, err := repo.Rotate(t.Context(), uuid.New(), NewToken(uuid.Nil, time.Hour), Now)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		token := NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		first, err := repo.Revoke(t.Context(), token.ID, Now.Add(time.Minute))
		require.NoError(t, err)
		second, err := repo.Revoke(t.Context(), token.ID, Now.Add(time.Hour))
		require.NoError(t, err)

		assert.True(t, first.Revoked)
		assert.True(t, second.Revoked)
		require.NotNil(t, second.RevokedAt)
		assert.WithinDuration(t, Now.Add(time.Minute), *second.RevokedAt, 0, "first revoked_at must be kept")
	})

	t.Run("revoke not existed", func(t *testing.T) {
		_, err := repo.Revoke(t.Context(), uuid.New(), Now)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("revoke all for user", func(t *testing.T) {
		userID := uuid.New()
		var tokens []models.RefreshToken
		for range 3 {
			token, err := repo.Create(t.Context(), NewToken(userID, time.Hour))
			require.NoError(t, err)
			tokens = append(tokens, token)
		}
		other, err := repo.Create(t.Context(), NewToken(uuid.New(), time.Hour))
		require.NoError(t, err)
		_, err = repo.Revoke(t.Context(), tokens[0].ID, Now)
		require.NoError(t, err)

		n, err := repo.RevokeAllForUser(t.Context(), userID, Now.Add(time.Minute))

		require.NoError(t, err)
		assert.Equal(t, 2, n, "already revoked token is not counted")
		for _, token := range tokens {
			got, err := repo.GetByID(t.Context(), token.ID)
			require.NoError(t, err)
			assert.True(t, got.Revoked)
		}
		got, err := repo.GetByID(t.Context(), other.ID)
		require.NoError(t, err)
		assert.False(t, got.Revoked, "other user's tokens untouched")
	})

	t.Run("concurrent rotation has single winner", func(t *testing.T) {
		parent := NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), parent)
		require.NoError(t, err)

		const attempts = 16
		children := make([]models.RefreshToken, attempts)
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		for i := range attempts {
			children[i] = NewToken(uuid.Nil, time.Hour)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = repo.Rotate(t.Context(), parent.ID, children[i], Now)
			}()
		}
		wg.Wait()

		won := 0
		for i, err := range errs {
			_, getErr := repo.GetByHash(t.Context(), children[i].TokenHash)
			if err == nil {
				won++
				assert.NoError(t, getErr, "winner's child must be stored")
				continue
			}
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
			assert.ErrorIs(t, getErr, apperrors.ErrRefreshTokenNotFound, "loser's child must not be stored")
		}
		require.Equal(t, 1, won)
	})
}
