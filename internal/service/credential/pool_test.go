package credential

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// Hasher that blocks until released and tracks concurrent calls
type blockingHasher struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func (h *blockingHasher) enter() {
	n := h.running.Add(1)
	for {
		peak := h.peak.Load()
		if n <= peak || h.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-h.release
	h.running.Add(-1)
}

func (h *blockingHasher) Hash(password string) (string, error) {
	h.enter()
	return "digest:" + password, nil
}

func (h *blockingHasher) Verify(password string, digest string) (bool, error) {
	h.enter()
	return digest == "digest:"+password, nil
}

func Test_Pool(t *testing.T) {
	t.Run("default size", func(t *testing.T) {
		p := NewPool(NewArgon2(testConfig), 0)
		require.Positive(t, p.Size())
	})

	t.Run("hash and verify", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		p := NewPool(NewArgon2(testConfig), 2)

		digest, err := p.Hash(t.Context(), "Str0ng!Passw0rd")
		require.NoError(t, err)

		ok, err := p.Verify(t.Context(), "Str0ng!Passw0rd", digest)
		require.NoError(t, err)
		require.True(t, ok)
		require.False(t, p.NeedsRehash(digest))
	})

	t.Run("concurrency bounded by size", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		h := &blockingHasher{release: make(chan struct{})}
		p := NewPool(h, 3)

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.Hash(context.Background(), "pwd")
				assert.NoError(t, err)
			}()
		}

		require.Eventually(t, func() bool { return h.running.Load() == 3 }, time.Second, time.Millisecond)
		close(h.release)
		wg.Wait()

		require.Equal(t, int32(3), h.peak.Load(), "no more than pool size hashes at once")
	})

	t.Run("waiting respects context", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		h := &blockingHasher{release: make(chan struct{})}
		p := NewPool(h, 1)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = p.Verify(context.Background(), "pwd", "digest:pwd")
		}()
		require.Eventually(t, func() bool { return h.running.Load() == 1 }, time.Second, time.Millisecond)

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()

		_, err := p.Hash(ctx, "pwd")
		require.ErrorIs(t, err, context.DeadlineExceeded)

		ok, err := p.Verify(ctx, "pwd", "digest:pwd")
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.False(t, ok)

		close(h.release)
		<-done
	})

	t.Run("NeedsRehash false for hashers that can't tell", func(t *testing.T) {
		p := NewPool(BcryptHasher{Cost: 4}, 1)
		require.False(t, p.NeedsRehash("anything"))
	})
}
