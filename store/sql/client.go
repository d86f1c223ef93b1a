package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ClientConfig carries the settings go-persistence-bun reads from its config.
type ClientConfig struct {
	Driver         string
	DSN            string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c ClientConfig) GetDebug() bool {
	return c.Debug
}

func (c ClientConfig) GetDriver() string {
	return c.Driver
}

func (c ClientConfig) GetServer() string {
	return c.DSN
}

func (c ClientConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c ClientConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-creditlots"
	}
	return c.OtelIdentifier
}

// NewClient opens a persistence client for cfg.Driver, which is either
// postgres (lib/pq) or sqlite3 (mattn/go-sqlite3).
func NewClient(cfg ClientConfig) (*persistence.Client, error) {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	switch cfg.Driver {
	case DriverPostgres:
		sqlDB, err := sql.Open(DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
		}
		client, err := persistence.New(cfg, sqlDB, pgdialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return client, nil
	case DriverSQLite, "sqlite":
		cfg.Driver = DriverSQLite
		sqlDB, err := sql.Open(DriverSQLite, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
		client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
}

func NewPostgresClient(dsn string) (*persistence.Client, error) {
	return NewClient(ClientConfig{Driver: DriverPostgres, DSN: dsn})
}

// Migrate registers the embedded migrations for dialect and applies them.
func Migrate(ctx context.Context, client *persistence.Client, dialect string) error {
	if client == nil {
		return fmt.Errorf("sqlstore: persistence client is required")
	}
	_, err := migrations.Register(ctx, func(_ context.Context, set migrations.Set) error {
		client.RegisterSQLMigrations(set.FS)
		return nil
	}, migrations.ForDialects(migrationDialect(dialect)))
	if err != nil {
		return err
	}
	return client.Migrate(ctx)
}

func migrationDialect(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "sqlite":
		return migrations.DialectSQLite
	default:
		return migrations.DialectPostgres
	}
}
