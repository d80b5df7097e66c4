package lock

import (
	"context"
	"sync"
	"time"
)

// entry tracks a single held lock.
type entry struct {
	expiresAt time.Time
}

// MemoryLocker is a process-local, TTL-expiring lock table. It is the
// default Locker: correct within a single process and requiring no external
// service, matching the backup engine's "local" framing.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]entry
}

// NewMemoryLocker creates an empty in-memory lock table.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]entry)}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, held := m.locks[key]; held && e.expiresAt.After(now) {
		return false, nil
	}

	m.locks[key] = entry{expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, held := m.locks[key]
	if !held || e.expiresAt.Before(time.Now()) {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, held := m.locks[key]
	if !held || e.expiresAt.Before(time.Now()) {
		return false, nil
	}
	m.locks[key] = entry{expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, held := m.locks[key]
	return held && e.expiresAt.After(time.Now()), nil
}

func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryInterval time.Duration) (bool, error) {
	for attempt := 0; ; attempt++ {
		acquired, err := m.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if attempt >= maxRetries {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

var _ Locker = (*MemoryLocker)(nil)

// noOpLocker is a Locker where every operation trivially succeeds; used
// when coordination is known to be unnecessary (e.g. a single-engine
// process with exclusive ownership of its backup root).
type noOpLocker struct{}

// NewNoOpLocker returns a Locker that never actually contends.
func NewNoOpLocker() Locker { return noOpLocker{} }

func (noOpLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (noOpLocker) Release(context.Context, string) (bool, error)                { return true, nil }
func (noOpLocker) Extend(context.Context, string, time.Duration) (bool, error)  { return true, nil }
func (noOpLocker) IsHeld(context.Context, string) (bool, error)                 { return false, nil }
func (noOpLocker) AcquireWithRetry(context.Context, string, time.Duration, int, time.Duration) (bool, error) {
	return true, nil
}

var _ Locker = noOpLocker{}
