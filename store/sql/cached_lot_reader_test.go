package sqlstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-creditlots/core"
	sqlstore "github.com/goliatone/go-creditlots/store/sql"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubLotReader struct {
	mu       sync.Mutex
	lot      core.CreditLot
	getCalls int
	getErr   error
}

func (s *stubLotReader) GetLot(_ context.Context, _ string) (core.CreditLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.CreditLot{}, s.getErr
	}
	return s.lot, nil
}

func (s *stubLotReader) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func TestCachedLotReader_MissFetchThenHit(t *testing.T) {
	base := &stubLotReader{lot: core.CreditLot{ID: "lot-1", AvailableFaceValue: 500000}}
	reader, err := sqlstore.NewCachedLotReader(base, newTestLotCacheService(t))
	if err != nil {
		t.Fatalf("new cached lot reader: %v", err)
	}
	ctx := context.Background()

	if _, err := reader.GetLot(ctx, "lot-1"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	lot, err := reader.GetLot(ctx, "lot-1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if base.calls() != 1 {
		t.Fatalf("expected second get to be a cache hit, base calls=%d", base.calls())
	}
	if lot.AvailableFaceValue != 500000 {
		t.Fatalf("expected cached lot, got %+v", lot)
	}
}

func TestCachedLotReader_EventInvalidates(t *testing.T) {
	base := &stubLotReader{lot: core.CreditLot{ID: "lot-1", AvailableFaceValue: 500000}}
	reader, err := sqlstore.NewCachedLotReader(base, newTestLotCacheService(t))
	if err != nil {
		t.Fatalf("new cached lot reader: %v", err)
	}
	ctx := context.Background()
	if _, err := reader.GetLot(ctx, "lot-1"); err != nil {
		t.Fatalf("get: %v", err)
	}

	base.mu.Lock()
	base.lot.AvailableFaceValue = 400000
	base.mu.Unlock()
	if err := reader.Handle(ctx, core.Event{Name: core.EventHoldCreated, LotID: "lot-1"}); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	lot, err := reader.GetLot(ctx, "lot-1")
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if lot.AvailableFaceValue != 400000 || base.calls() != 2 {
		t.Fatalf("expected refetch after invalidation, got %+v with %d calls", lot, base.calls())
	}
	if err := reader.Handle(ctx, core.Event{Name: core.EventHoldCreated}); err != nil {
		t.Fatalf("expected event without lot to be ignored, got %v", err)
	}
}

func TestCachedLotReader_PropagatesErrors(t *testing.T) {
	base := &stubLotReader{getErr: core.ErrLotNotFound}
	reader, err := sqlstore.NewCachedLotReader(base, newTestLotCacheService(t))
	if err != nil {
		t.Fatalf("new cached lot reader: %v", err)
	}
	if _, err := reader.GetLot(context.Background(), "lot-missing"); !errors.Is(err, core.ErrLotNotFound) {
		t.Fatalf("expected lot not found, got %v", err)
	}
	if _, err := reader.GetLot(context.Background(), " "); err == nil {
		t.Fatalf("expected blank id to be rejected")
	}
	if _, err := sqlstore.NewCachedLotReader(nil, newTestLotCacheService(t)); err == nil {
		t.Fatalf("expected nil base reader to be rejected")
	}
}

func TestLotCacheKey_EscapesSegments(t *testing.T) {
	key, err := sqlstore.LotCacheKey("lot/1 a")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-creditlots::lot::v1::lot%2F1%20a" {
		t.Fatalf("unexpected cache key %q", key)
	}
}

func newTestLotCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
