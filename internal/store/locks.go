package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// lockRegistry hands out one advisory lock handle per data file path. The
// registry mutex only guards lazy creation; acquisition happens on the
// individual flock handles so unrelated paths never contend.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*flock.Flock
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*flock.Flock)}
}

// get returns the lock handle for path, creating it on first access. The
// sentinel file lives next to the data file as <path>.lock.
func (r *lockRegistry) get(path string) *flock.Flock {
	r.mu.Lock()
	defer r.mu.Unlock()
	fl, ok := r.locks[path]
	if !ok {
		fl = flock.New(path + ".lock")
		r.locks[path] = fl
	}
	return fl
}

// withExclusive runs fn while holding the exclusive lock for path.
func (s *Store) withExclusive(path string, fn func() error) error {
	return s.acquire(path, false, fn)
}

// withShared runs fn while holding the shared lock for path, so concurrent
// readers proceed together but never overlap a writer.
func (s *Store) withShared(path string, fn func() error) error {
	return s.acquire(path, true, fn)
}

func (s *Store) acquire(path string, shared bool, fn func() error) error {
	fl := s.locks.get(path)

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	}
	if !ok {
		if err == nil || err == context.DeadlineExceeded {
			return fmt.Errorf("lock %s after %s: %w", path, s.lockTimeout, ErrLockTimeout)
		}
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}
