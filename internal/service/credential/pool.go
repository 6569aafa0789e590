package credential

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of hashing operations running at once.
// Hashing is CPU and memory bound, so request handlers must never run it unbounded.
// Operations run on the caller goroutine; the pool only limits concurrency.
type Pool struct {
	hasher PasswordHasher
	sem    *semaphore.Weighted
	size   int
}

// NewPool creates pool with the given number of slots
// If workers <= 0 than GOMAXPROCS is used
func NewPool(hasher PasswordHasher, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Pool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(workers)),
		size:   workers,
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Hash waits for a free slot or ctx cancellation
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("hash pool busy: %w", err)
	}
	defer p.sem.Release(1)

	return p.hasher.Hash(password)
}

// Verify waits for a free slot or ctx cancellation
func (p *Pool) Verify(ctx context.Context, password string, digest string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("hash pool busy: %w", err)
	}
	defer p.sem.Release(1)

	return p.hasher.Verify(password, digest)
}

// NeedsRehash is false when hasher can't tell
func (p *Pool) NeedsRehash(digest string) bool {
	r, ok := p.hasher.(interface{ NeedsRehash(string) bool })
	return ok && r.NeedsRehash(digest)
}
