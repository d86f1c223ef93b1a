// Package migrations exposes the embedded credit lot schema per SQL dialect
// and checks that every dialect ships the same reversible version history.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	creditlots "github.com/goliatone/go-creditlots"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const (
	rootDir    = "data/sql/migrations"
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Set is the migration tree for one dialect. Versions are sorted file stems
// such as 00001_creditlots_schema.
type Set struct {
	Dialect  string
	Dir      string
	FS       fs.FS
	Versions []string
}

// ApplyFunc hands a validated Set to the persistence layer.
type ApplyFunc func(ctx context.Context, set Set) error

type Option func(*registerOptions)

type registerOptions struct {
	dialects []string
	source   fs.FS
}

// ForDialects limits Register to the named dialects. Unknown names are an
// error at Register time.
func ForDialects(dialects ...string) Option {
	return func(o *registerOptions) {
		for _, dialect := range dialects {
			dialect = normalizeDialect(dialect)
			if dialect != "" && !slices.Contains(o.dialects, dialect) {
				o.dialects = append(o.dialects, dialect)
			}
		}
	}
}

// WithSource replaces the embedded tree, which must contain data/sql/migrations.
func WithSource(source fs.FS) Option {
	return func(o *registerOptions) {
		if source != nil {
			o.source = source
		}
	}
}

// Register validates the shipped sets and passes the selected ones to apply.
func Register(ctx context.Context, apply ApplyFunc, opts ...Option) ([]Set, error) {
	if apply == nil {
		return nil, fmt.Errorf("migrations: apply function is required")
	}
	options := registerOptions{source: creditlots.GetMigrationsFS()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	sets, err := Sets(options.source)
	if err != nil {
		return nil, err
	}

	selected := sets
	if len(options.dialects) > 0 {
		selected = selected[:0:0]
		for _, dialect := range options.dialects {
			set, ok := findSet(sets, dialect)
			if !ok {
				return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
			}
			selected = append(selected, set)
		}
	}
	for _, set := range selected {
		if err := apply(ctx, set); err != nil {
			return nil, fmt.Errorf("migrations: apply %s: %w", set.Dialect, err)
		}
	}
	return selected, nil
}

// Sets reads the postgres tree at data/sql/migrations and the sqlite tree in
// its sqlite subdirectory.
func Sets(source fs.FS) ([]Set, error) {
	if source == nil {
		source = creditlots.GetMigrationsFS()
	}
	postgres, err := readSet(source, DialectPostgres, rootDir)
	if err != nil {
		return nil, err
	}
	sqlite, err := readSet(source, DialectSQLite, rootDir+"/sqlite")
	if err != nil {
		return nil, err
	}
	if !slices.Equal(postgres.Versions, sqlite.Versions) {
		return nil, fmt.Errorf("migrations: dialects diverge: postgres=%v sqlite=%v", postgres.Versions, sqlite.Versions)
	}
	return []Set{postgres, sqlite}, nil
}

// Versions lists the embedded versions for dialect in apply order.
func Versions(dialect string) ([]string, error) {
	sets, err := Sets(nil)
	if err != nil {
		return nil, err
	}
	set, ok := findSet(sets, normalizeDialect(dialect))
	if !ok {
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
	return slices.Clone(set.Versions), nil
}

func readSet(source fs.FS, dialect string, dir string) (Set, error) {
	sub, err := fs.Sub(source, dir)
	if err != nil {
		return Set{}, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	ups, err := fs.Glob(sub, "*"+upSuffix)
	if err != nil {
		return Set{}, fmt.Errorf("migrations: list %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return Set{}, fmt.Errorf("migrations: %s has no %s files", dir, upSuffix)
	}

	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, upSuffix)
		if _, err := fs.Stat(sub, version+downSuffix); err != nil {
			return Set{}, fmt.Errorf("migrations: %s/%s has no down script", dir, version)
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	for i, version := range versions {
		seq, err := sequenceOf(version)
		if err != nil {
			return Set{}, fmt.Errorf("migrations: %s: %w", dir, err)
		}
		if seq != i+1 {
			return Set{}, fmt.Errorf("migrations: %s: expected sequence %d, found %s", dir, i+1, version)
		}
	}
	return Set{Dialect: dialect, Dir: dir, FS: sub, Versions: versions}, nil
}

func sequenceOf(version string) (int, error) {
	prefix, _, ok := strings.Cut(version, "_")
	if !ok {
		return 0, fmt.Errorf("version %q lacks a numeric prefix", version)
	}
	seq, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("version %q lacks a numeric prefix", version)
	}
	return seq, nil
}

func findSet(sets []Set, dialect string) (Set, bool) {
	for _, set := range sets {
		if set.Dialect == dialect {
			return set, true
		}
	}
	return Set{}, false
}

func normalizeDialect(dialect string) string {
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	if dialect == "sqlite3" {
		return DialectSQLite
	}
	return dialect
}
