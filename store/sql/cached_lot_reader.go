package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-creditlots/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const lotCacheKeyPrefix = "go-creditlots::lot::v1"

// LotReader is the read side a CachedLotReader fronts.
type LotReader interface {
	GetLot(ctx context.Context, id string) (core.CreditLot, error)
}

// CachedLotReader serves catalog lot reads from a cache. Capacity decisions
// never read through it; it is invalidated by lot lifecycle events.
type CachedLotReader struct {
	base  LotReader
	cache repositorycache.CacheService
}

func NewCachedLotReader(base LotReader, cacheService repositorycache.CacheService) (*CachedLotReader, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base lot reader is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: lot cache service is required")
	}
	return &CachedLotReader{base: base, cache: cacheService}, nil
}

// LotCacheKey returns go-creditlots::lot::v1::<lot_id> with the id URL-path escaped.
func LotCacheKey(lotID string) (string, error) {
	lotID = strings.TrimSpace(lotID)
	if lotID == "" {
		return "", fmt.Errorf("sqlstore: lot id is required")
	}
	return lotCacheKeyPrefix + "::" + url.PathEscape(lotID), nil
}

func (r *CachedLotReader) GetLot(ctx context.Context, id string) (core.CreditLot, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.CreditLot{}, fmt.Errorf("sqlstore: cached lot reader is not configured")
	}
	key, err := LotCacheKey(id)
	if err != nil {
		return core.CreditLot{}, err
	}
	return repositorycache.GetOrFetch(ctx, r.cache, key, func(ctx context.Context) (core.CreditLot, error) {
		return r.base.GetLot(ctx, strings.TrimSpace(id))
	})
}

func (r *CachedLotReader) Invalidate(ctx context.Context, lotID string) error {
	if r == nil || r.cache == nil {
		return nil
	}
	key, err := LotCacheKey(lotID)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, key)
}

// Handle drops the cached lot named by any lifecycle event, so the reader
// can be registered as an event sink.
func (r *CachedLotReader) Handle(ctx context.Context, event core.Event) error {
	if strings.TrimSpace(event.LotID) == "" {
		return nil
	}
	return r.Invalidate(ctx, event.LotID)
}
