// Package lock provides coordination primitives used to serialize manifest
// writes when more than one engine shares a backup root. The default,
// zero-configuration backend is a pure in-memory locker (direct port of the
// teacher's internal/lock memory locker, which this package's memory_test.go
// was retrieved from); an optional Redis-backed implementation (ported from
// internal/cache/redis/lock.go) lets multiple engine processes coordinate
// without relying solely on filesystem rename semantics.
package lock

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors, named after the teacher's repository.ErrLock* family.
var (
	ErrLockNotAcquired = errors.New("lock: not acquired")
	ErrLockNotOwned    = errors.New("lock: token does not own this lock")
)

// Locker acquires and releases named, TTL-bounded locks. Acquire never
// blocks; it reports whether the lock was obtained. AcquireWithRetry layers
// bounded retry on top for callers willing to wait out a short-lived holder.
type Locker interface {
	// Acquire attempts to take the named lock for ttl. Returns false
	// (without error) if another holder currently has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release releases the named lock. Returns false if it was not held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend refreshes the TTL of a lock this process currently holds.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld reports whether key is currently locked by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)

	// AcquireWithRetry retries Acquire up to maxRetries times, sleeping
	// retryInterval between attempts (or until ctx is done).
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryInterval time.Duration) (bool, error)
}
