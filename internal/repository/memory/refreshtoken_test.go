package memory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/repository/repotest"
)

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel()

	repotest.RefreshTokenRepo(t, NewRefreshTokenRepo())

	t.Run("returned records are copies", func(t *testing.T) {
		repo := NewRefreshTokenRepo()
		token := repotest.NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)
		revoked, err := repo.Revoke(t.Context(), token.ID, repotest.Now)
		require.NoError(t, err)

		*revoked.RevokedAt = repotest.Now.Add(time.Hour)

		got, err := repo.GetByID(t.Context(), token.ID)
		require.NoError(t, err)
		require.WithinDuration(t, repotest.Now, *got.RevokedAt, 0)
	})

	t.Run("duplicate hash rejected", func(t *testing.T) {
		repo := NewRefreshTokenRepo()
		token := repotest.NewToken(uuid.New(), time.Hour)
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		dup := repotest.NewToken(uuid.New(), time.Hour)
		dup.TokenHash = token.TokenHash
		_, err = repo.Create(t.Context(), dup)

		require.Error(t, err)
	})
}
