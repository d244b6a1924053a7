// Package sqlite is the SQLite backend (modernc.org/sqlite, no cgo). It is
// the default kind and suits single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pimbridge/internal/storage"
	"pimbridge/internal/storage/sqlstore"
)

func init() {
	storage.Register("sqlite", NewRepo)
}

// NewRepo opens the database at cfg.DSN (a file path or "file:" URI).
//
// SQLite allows a single writer, so the pool holds one connection and every
// statement is serialized through it.
func NewRepo(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if dir := dataDir(cfg.DSN); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	return sqlstore.New(sqlstore.DB{DB: db}, Dialect{}), nil
}

// dataDir returns the directory of a plain file DSN, or "" for URIs and
// in-memory databases.
func dataDir(dsn string) string {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return ""
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return ""
	}
	return dir
}

// Dialect renders SQLite SQL. Timestamps are stored as RFC3339Nano text for
// reliable round trips.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) Ident(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (d Dialect) ColumnDef(c storage.ColumnSpec) string {
	name := d.Ident(c.Name)
	switch c.Type {
	case storage.TypeSerial:
		// INTEGER PRIMARY KEY is the rowid and auto-generates values.
		return name + " INTEGER PRIMARY KEY AUTOINCREMENT"
	case storage.TypeInt, storage.TypeBool:
		return name + " INTEGER NOT NULL DEFAULT 0"
	case storage.TypeTime:
		return name + " TEXT NOT NULL"
	}
	if c.Nullable {
		return name + " TEXT"
	}
	return name + " TEXT NOT NULL DEFAULT ''"
}

func (d Dialect) CreateTable(t storage.TableSpec) (string, error) {
	defs, err := sqlstore.TableDefs(d, t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Ident(t.Name), defs), nil
}

func (d Dialect) Upsert(u sqlstore.Upsert) string { return sqlstore.OnConflictUpsert(d, u) }

func (Dialect) Page(offset, limit int) string { return sqlstore.LimitOffset(offset, limit) }

func (Dialect) TimeArg(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) }
