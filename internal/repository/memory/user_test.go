package memory

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

func Test_UserRepo(t *testing.T) {
	t.Parallel()

	t.Run("create and get", func(t *testing.T) {
		r := NewUserRepo()

		created, err := r.CreateUser(t.Context(), "testuser", "digest", "")
		require.NoError(t, err)
		assert.Equal(t, models.RoleUser, created.Role)

		byID, err := r.GetUserByID(t.Context(), created.ID)
		require.NoError(t, err)
		byName, err := r.GetUserByUsername(t.Context(), "testuser")
		require.NoError(t, err)

		assert.Equal(t, created, byID)
		assert.Equal(t, created, byName)
	})

	t.Run("duplicate username", func(t *testing.T) {
		r := NewUserRepo()
		_, err := r.CreateUser(t.Context(), "testuser", "digest", models.RoleUser)
		require.NoError(t, err)

		_, err = r.CreateUser(t.Context(), "testuser", "digest", models.RoleAdmin)

		require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
	})

	t.Run("not found", func(t *testing.T) {
		r := NewUserRepo()

		_, err := r.GetUserByID(t.Context(), uuid.New())
		require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		_, err = r.GetUserByUsername(t.Context(), "nobody")
		require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		err = r.UpdatePassword(t.Context(), uuid.New(), "digest")
		require.ErrorIs(t, err, apperrors.ErrUserNotFound)
	})

	t.Run("update password", func(t *testing.T) {
		r := NewUserRepo()
		created, err := r.CreateUser(t.Context(), "testuser", "old", models.RoleUser)
		require.NoError(t, err)

		require.NoError(t, r.UpdatePassword(t.Context(), created.ID, "new"))

		got, err := r.GetUserByUsername(t.Context(), "testuser")
		require.NoError(t, err)
		assert.Equal(t, "new", got.HashedPassword)
	})
}

func Test_Storage(t *testing.T) {
	s := NewStorage()

	var userID uuid.UUID
	err := s.InTx(t.Context(), func(tx repository.Storage) error {
		user, err := tx.User().CreateUser(t.Context(), "testuser", "digest", models.RoleUser)
		userID = user.ID
		return err
	})
	require.NoError(t, err)

	_, err = s.User().GetUserByID(t.Context(), userID)
	require.NoError(t, err)
	require.Same(t, s.Refresh(), s.Refresh())

	boom := errors.New("boom")
	err = s.InTx(t.Context(), func(repository.Storage) error { return boom })
	require.ErrorIs(t, err, boom)
}
