package core

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultReplayLedgerTTL        = 15 * time.Minute
	defaultReplayLedgerMaxEntries = 8192
)

// MemoryReplayLedger remembers payment callback delivery ids for a bounded
// time so a redelivered callback is recognised before it reaches the order
// controller. Claims sit in a min-heap on expiry: pruning pops expired keys
// and a full ledger drops the claim closest to expiring.
type MemoryReplayLedger struct {
	Now func() time.Time

	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	byKey      map[string]*replayClaim
	expiries   replayHeap
}

type replayClaim struct {
	key       string
	expiresAt time.Time
	index     int
}

func NewMemoryReplayLedger(defaultTTL time.Duration) *MemoryReplayLedger {
	return NewMemoryReplayLedgerWithLimits(defaultTTL, defaultReplayLedgerMaxEntries)
}

func NewMemoryReplayLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryReplayLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultReplayLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultReplayLedgerMaxEntries
	}
	return &MemoryReplayLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		byKey:      map[string]*replayClaim{},
	}
}

// Claim reports true the first time key is seen within its ttl.
func (l *MemoryReplayLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: replay ledger is not configured")
	}
	if key = strings.TrimSpace(key); key == "" {
		return false, fmt.Errorf("core: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.expiries) > 0 && !now.Before(l.expiries[0].expiresAt) {
		l.dropLocked(l.expiries[0])
	}
	if _, seen := l.byKey[key]; seen {
		return false, nil
	}
	for len(l.expiries) >= l.maxEntries {
		l.dropLocked(l.expiries[0])
	}
	claim := &replayClaim{key: key, expiresAt: now.Add(ttl)}
	heap.Push(&l.expiries, claim)
	l.byKey[key] = claim
	return true, nil
}

// Release forgets key so a delivery that failed downstream can be retried.
func (l *MemoryReplayLedger) Release(_ context.Context, key string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if claim, ok := l.byKey[strings.TrimSpace(key)]; ok {
		l.dropLocked(claim)
	}
	return nil
}

func (l *MemoryReplayLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

func (l *MemoryReplayLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryReplayLedger) dropLocked(claim *replayClaim) {
	heap.Remove(&l.expiries, claim.index)
	delete(l.byKey, claim.key)
}

type replayHeap []*replayClaim

func (h replayHeap) Len() int           { return len(h) }
func (h replayHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h replayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *replayHeap) Push(x any) {
	claim := x.(*replayClaim)
	claim.index = len(*h)
	*h = append(*h, claim)
}

func (h *replayHeap) Pop() any {
	old := *h
	claim := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return claim
}
