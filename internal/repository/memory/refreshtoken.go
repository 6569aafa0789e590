package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

// Refresh tokens in memory
// One mutex guards every record, so Rotate check-and-set is atomic
type RefreshTokenRepo struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]models.RefreshToken
	byHash map[string]uuid.UUID
}

func NewRefreshTokenRepo() *RefreshTokenRepo {
	return &RefreshTokenRepo{
		byID:   make(map[uuid.UUID]models.RefreshToken),
		byHash: make(map[string]uuid.UUID),
	}
}

func (r *RefreshTokenRepo) Create(_ context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insert(token)
}

func (r *RefreshTokenRepo) GetByHash(_ context.Context, tokenHash string) (models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHash[tokenHash]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return copyToken(r.byID[id]), nil
}

func (r *RefreshTokenRepo) GetByID(_ context.Context, id uuid.UUID) (models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byID[id]
	if !ok {
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return copyToken(token), nil
}

func (r *RefreshTokenRepo) Rotate(_ context.Context, parentID uuid.UUID, child models.RefreshToken, at time.Time) (models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.byID[parentID]
	switch {
	case !ok:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case parent.Revoked:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case !parent.ExpiresAt.After(at):
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	}
	child.UserID = parent.UserID
	child.CreatedAt = at
	child.Revoked, child.RevokedAt, child.LastUsedAt = false, nil, nil
	created, err := r.insert(child)
	if err != nil {
		return created, err
	}

	parent.Revoked = true
	parent.RevokedAt = &at
	parent.LastUsedAt = &at
	r.byID[parent.ID] = parent

	return created, nil
}

func (r *RefreshTokenRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) (models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byID[id]
	if !ok {
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	if !token.Revoked {
		token.Revoked = true
		token.RevokedAt = &at
		r.byID[id] = token
	}
	return copyToken(token), nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, token := range r.byID {
		if token.UserID != userID || token.Revoked {
			continue
		}
		token.Revoked = true
		token.RevokedAt = &at
		r.byID[id] = token
		n++
	}
	return n, nil
}

// Must be called with mu held
func (r *RefreshTokenRepo) insert(token models.RefreshToken) (models.RefreshToken, error) {
	if _, ok := r.byID[token.ID]; ok {
		return token, fmt.Errorf("repo error: token %s already stored", token.ID)
	}
	if _, ok := r.byHash[token.TokenHash]; ok {
		return token, errors.New("repo error: token hash already stored")
	}

	token = copyToken(token)
	r.byID[token.ID] = token
	r.byHash[token.TokenHash] = token.ID

	return copyToken(token), nil
}

// Records hold pointers, never share them with callers
func copyToken(t models.RefreshToken) models.RefreshToken {
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		t.RevokedAt = &v
	}
	if t.LastUsedAt != nil {
		v := *t.LastUsedAt
		t.LastUsedAt = &v
	}
	return t
}
