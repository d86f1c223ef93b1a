package sqlstore

import "github.com/goliatone/go-creditlots/core"

var (
	_ core.Store                  = (*Store)(nil)
	_ core.StoreTx                = (*txStore)(nil)
	_ core.StoreProvider          = (*Store)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ core.OutboxStore            = (*OutboxStore)(nil)
	_ core.EventSink              = (*CachedLotReader)(nil)
	_ LotReader                   = (*Store)(nil)
)
