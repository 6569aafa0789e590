package redis

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/repository/repotest"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel()

	mr, rdb := testutil.StartRedis(t)
	// Absolute expirations are compared against this time
	mr.SetTime(repotest.Now)

	repo := NewRefreshTokenRepo(rdb, Config{Prefix: "test", Retention: time.Hour})

	repotest.RefreshTokenRepo(t, repo)

	t.Run("new defaults", func(t *testing.T) {
		r := NewRefreshTokenRepo(rdb, Config{})

		require.Equal(t, defaultPrefix, r.prefix)
		require.Equal(t, defaultRetention, r.retention)
	})

	t.Run("keys layout", func(t *testing.T) {
		token := repotest.NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		require.True(t, mr.Exists("test:rt:"+token.ID.String()))
		got, err := mr.Get("test:rth:" + token.TokenHash)
		require.NoError(t, err)
		require.Equal(t, token.ID.String(), got)
		ok, err := mr.SIsMember("test:rtu:"+token.UserID.String(), token.ID.String())
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("records expire after retention", func(t *testing.T) {
		token := repotest.NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		assert.Equal(t, 2*time.Hour, mr.TTL("test:rt:"+token.ID.String()), "token ttl plus retention")

		mr.FastForward(2 * time.Hour)

		_, err = repo.GetByHash(t.Context(), token.TokenHash)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("revoke all cleans stale ids", func(t *testing.T) {
		userID := uuid.New()
		token := repotest.NewToken(userID, time.Hour)
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)
		mr.Del("test:rt:" + token.ID.String())

		n, err := repo.RevokeAllForUser(t.Context(), userID, repotest.Now)

		require.NoError(t, err)
		require.Zero(t, n)
		ok, err := mr.SIsMember("test:rtu:"+userID.String(), token.ID.String())
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("corrupted record", func(t *testing.T) {
		id := uuid.New()
		mr.HSet("test:rt:"+id.String(), "id", id.String(), "user_id", "garbage")

		_, err := repo.GetByID(t.Context(), id)

		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})
}
