// Package memory keeps users and refresh tokens in process memory.
// Handy for development and service tests; everything is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/nkiryanov/gopherauth/internal/repository"
)

type Storage struct {
	users   *UserRepo
	refresh *RefreshTokenRepo

	// InTx callers are serialized, repos still lock on their own
	txMu sync.Mutex
}

func NewStorage() *Storage {
	return &Storage{
		users:   NewUserRepo(),
		refresh: NewRefreshTokenRepo(),
	}
}

func (s *Storage) User() repository.UserRepo {
	return s.users
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return s.refresh
}

// InTx runs fn against the same storage
// There is no rollback: changes made before fn failed are kept
// Transactions run one at a time, so fn must not do slow work like password hashing
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return fn(s)
}
