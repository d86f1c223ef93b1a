package migrations

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	creditlots "github.com/goliatone/go-creditlots"
	_ "github.com/mattn/go-sqlite3"
)

func TestSets_EmbeddedTreesAreReversibleAndAligned(t *testing.T) {
	sets, err := Sets(nil)
	if err != nil {
		t.Fatalf("sets: %v", err)
	}
	if len(sets) != 2 || sets[0].Dialect != DialectPostgres || sets[1].Dialect != DialectSQLite {
		t.Fatalf("expected postgres then sqlite sets, got %+v", sets)
	}
	for _, set := range sets {
		if len(set.Versions) != 2 {
			t.Fatalf("expected two %s versions, got %v", set.Dialect, set.Versions)
		}
		if _, err := fs.Stat(set.FS, set.Versions[0]+".down.sql"); err != nil {
			t.Fatalf("expected %s down script inside the set filesystem: %v", set.Dialect, err)
		}
	}
}

func TestRegister_AppliesOnlySelectedDialect(t *testing.T) {
	var applied []string
	sets, err := Register(context.Background(), func(_ context.Context, set Set) error {
		applied = append(applied, set.Dialect)
		return nil
	}, ForDialects("sqlite3"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(applied) != 1 || applied[0] != DialectSQLite || len(sets) != 1 {
		t.Fatalf("expected one sqlite registration, got %v", applied)
	}
}

func TestRegister_Errors(t *testing.T) {
	ctx := context.Background()
	noop := func(context.Context, Set) error { return nil }
	if _, err := Register(ctx, nil); err == nil {
		t.Fatalf("expected error without apply function")
	}
	if _, err := Register(ctx, noop, ForDialects("mysql")); err == nil {
		t.Fatalf("expected unknown dialect error")
	}
	failing := func(context.Context, Set) error { return errors.New("boom") }
	if _, err := Register(ctx, failing); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected apply failure to surface, got %v", err)
	}
}

func TestSets_RejectsBrokenTrees(t *testing.T) {
	stub := &fstest.MapFile{Data: []byte("SELECT 1;")}
	cases := []struct {
		name  string
		files fstest.MapFS
		want  string
	}{
		{
			name: "missing down script",
			files: fstest.MapFS{
				"data/sql/migrations/00001_a.up.sql":          stub,
				"data/sql/migrations/sqlite/00001_a.up.sql":   stub,
				"data/sql/migrations/sqlite/00001_a.down.sql": stub,
			},
			want: "no down script",
		},
		{
			name: "dialects diverge",
			files: fstest.MapFS{
				"data/sql/migrations/00001_a.up.sql":          stub,
				"data/sql/migrations/00001_a.down.sql":        stub,
				"data/sql/migrations/00002_b.up.sql":          stub,
				"data/sql/migrations/00002_b.down.sql":        stub,
				"data/sql/migrations/sqlite/00001_a.up.sql":   stub,
				"data/sql/migrations/sqlite/00001_a.down.sql": stub,
			},
			want: "diverge",
		},
		{
			name: "sequence gap",
			files: fstest.MapFS{
				"data/sql/migrations/00001_a.up.sql":          stub,
				"data/sql/migrations/00001_a.down.sql":        stub,
				"data/sql/migrations/00003_c.up.sql":          stub,
				"data/sql/migrations/00003_c.down.sql":        stub,
				"data/sql/migrations/sqlite/00001_a.up.sql":   stub,
				"data/sql/migrations/sqlite/00001_a.down.sql": stub,
			},
			want: "expected sequence 2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Sets(tc.files)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestVersions_MatchAcrossDialects(t *testing.T) {
	postgres, err := Versions(DialectPostgres)
	if err != nil {
		t.Fatalf("postgres versions: %v", err)
	}
	sqlite, err := Versions(DialectSQLite)
	if err != nil {
		t.Fatalf("sqlite versions: %v", err)
	}
	if strings.Join(postgres, ",") != strings.Join(sqlite, ",") {
		t.Fatalf("expected matching migration sets, got postgres=%v sqlite=%v", postgres, sqlite)
	}
	if len(postgres) == 0 || postgres[0] != "00001_creditlots_schema" {
		t.Fatalf("expected schema migration first, got %v", postgres)
	}
	if _, err := Versions("mysql"); err == nil {
		t.Fatalf("expected unknown dialect error")
	}
}

func TestMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := creditlots.GetMigrationsFS()
	for _, name := range []string{"00001_creditlots_schema", "00002_lifecycle_outbox"} {
		for _, dir := range []string{"data/sql/migrations", "data/sql/migrations/sqlite"} {
			for _, suffix := range []string{".up.sql", ".down.sql"} {
				path := dir + "/" + name + suffix
				content, err := fs.ReadFile(root, path)
				if err != nil {
					t.Fatalf("read migration %s: %v", path, err)
				}
				if strings.TrimSpace(string(content)) == "" {
					t.Fatalf("expected migration %s to have SQL content", path)
				}
			}
		}
	}
}

func TestSQLiteSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-creditlots-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(creditlots.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	for _, migration := range []string{"00001_creditlots_schema.up.sql", "00002_lifecycle_outbox.up.sql"} {
		if err := execSQLMigration(ctx, db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO credit_lots (id, broker_id, credit_type, tax_year, jurisdiction, total_face_value, available_face_value, price_per_dollar, status, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"lot_migration_1", "broker_1", "ITC", 2025, "US", 1000, 1000, "0.92", "ACTIVE", 1,
	); err != nil {
		t.Fatalf("insert lot: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE credit_lots SET available_face_value = ? WHERE id = ?`, 1001, "lot_migration_1",
	); err == nil {
		t.Fatalf("expected check constraint to reject available above total")
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO purchase_orders (id, lot_id, buyer_id, amount_face_usd, price_per_dollar, total_cost_usd, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"order_migration_1", "lot_migration_1", "buyer_1", 100, "0.92", "92.00", "PAYMENT_PENDING",
	); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	insertPayment := `INSERT INTO payment_confirmations (id, external_ref, order_id, amount_paid, confirmed_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertPayment, "pay_1", "ext_1", "order_migration_1", "92.00", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertPayment, "pay_2", "ext_1", "order_migration_1", "92.00", "2026-01-01T00:00:00Z"); err == nil {
		t.Fatalf("expected unique external_ref violation")
	}

	for _, migration := range []string{"00002_lifecycle_outbox.down.sql", "00001_creditlots_schema.down.sql"} {
		if err := execSQLMigration(ctx, db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('credit_lots', 'lifecycle_outbox')`,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected tables dropped after down migrations, got %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
