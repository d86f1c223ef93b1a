package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryLeaderLocker is a process-local LeaderLocker. Locks lapse after their
// ttl so a crashed holder cannot stall the sweeper forever.
type MemoryLeaderLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLease
	nowFn func() time.Time
	seq   uint64
}

type memoryLease struct {
	token uint64
	until time.Time
}

func NewMemoryLeaderLocker() *MemoryLeaderLocker {
	return &MemoryLeaderLocker{
		locks: make(map[string]memoryLease),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLeaderLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: leader locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultLeaderLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.locks[key]; ok && now.Before(lease.until) {
		return nil, fmt.Errorf("%w: %q", ErrLeaderLockHeld, key)
	}
	l.seq++
	l.locks[key] = memoryLease{token: l.seq, until: now.Add(ttl)}
	return &memoryLockHandle{locker: l, key: key, token: l.seq}, nil
}

type memoryLockHandle struct {
	locker *MemoryLeaderLocker
	key    string
	token  uint64
	once   sync.Once
}

// Unlock releases the lease only if it has not been taken over after expiry.
func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		defer h.locker.mu.Unlock()
		if lease, ok := h.locker.locks[h.key]; ok && lease.token == h.token {
			delete(h.locker.locks, h.key)
		}
	})
	return nil
}

var _ LeaderLocker = (*MemoryLeaderLocker)(nil)
