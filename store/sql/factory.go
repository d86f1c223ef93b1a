package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-creditlots/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// RepositoryFactory builds the engine store and the lifecycle outbox over one
// bun database. It satisfies core.RepositoryStoreFactory, so a service given a
// persistence client resolves its store through it.
type RepositoryFactory struct {
	db     *bun.DB
	store  *Store
	outbox *OutboxStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	return buildFactory(client)
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	return buildFactory(db)
}

func buildFactory(source any) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(source); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB. Repeated
// calls reuse the stores built by the first one.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.store != nil {
		return f, nil
	}
	db, err := bunDBOf(persistenceClient)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(db)
	if err != nil {
		return nil, err
	}
	outbox, err := NewOutboxStore(db)
	if err != nil {
		return nil, err
	}
	f.db, f.store, f.outbox = db, store, outbox
	return f, nil
}

func (f *RepositoryFactory) Store() core.Store {
	if f == nil || f.store == nil {
		return nil
	}
	return f.store
}

func (f *RepositoryFactory) SQLStore() *Store {
	if f == nil {
		return nil
	}
	return f.store
}

func (f *RepositoryFactory) OutboxStore() *OutboxStore {
	if f == nil {
		return nil
	}
	return f.outbox
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// Driver reports DriverPostgres or DriverSQLite from the bun dialect.
func (f *RepositoryFactory) Driver() string {
	if f == nil || f.db == nil {
		return ""
	}
	switch f.db.Dialect().Name() {
	case dialect.SQLite:
		return DriverSQLite
	case dialect.PG:
		return DriverPostgres
	default:
		return f.db.Dialect().Name().String()
	}
}

// ServiceOptions routes a service's writes to the SQL store and its lifecycle
// events through the SQL outbox.
func (f *RepositoryFactory) ServiceOptions() []core.Option {
	if f == nil || f.store == nil {
		return nil
	}
	return []core.Option{core.WithStore(f.store), core.WithOutbox(f.outbox)}
}

func bunDBOf(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		if db := typed.DB(); db != nil {
			return db, nil
		}
		return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
