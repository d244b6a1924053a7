// Package postgres is the Postgres backend, built on a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pimbridge/internal/storage"
	"pimbridge/internal/storage/sqlstore"
)

func init() {
	storage.Register("postgres", NewRepo)
}

// NewRepo opens a pool for cfg.DSN (URL or key=value form) and checks that
// the server is reachable.
func NewRepo(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return sqlstore.New(&poolConn{pool: pool}, Dialect{}), nil
}

// querier adapts a pgx.Tx to sqlstore.Querier.
type querier struct {
	exec  func(ctx context.Context, sql string, args ...any) (int64, error)
	query func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (q querier) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return q.exec(ctx, sql, args...)
}

func (q querier) Query(ctx context.Context, sql string, args ...any) (sqlstore.Rows, error) {
	rows, err := q.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type poolConn struct {
	pool *pgxpool.Pool
}

var _ sqlstore.Conn = (*poolConn)(nil)

func (c *poolConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *poolConn) Query(ctx context.Context, sql string, args ...any) (sqlstore.Rows, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *poolConn) InTx(ctx context.Context, fn func(q sqlstore.Querier) error) error {
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		return fn(querier{
			exec: func(ctx context.Context, sql string, args ...any) (int64, error) {
				tag, err := tx.Exec(ctx, sql, args...)
				if err != nil {
					return 0, err
				}
				return tag.RowsAffected(), nil
			},
			query: tx.Query,
		})
	})
}

func (c *poolConn) Close() { c.pool.Close() }

// Dialect renders Postgres SQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Ident quotes each part of a possibly schema-qualified name.
func (Dialect) Ident(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(strings.TrimSpace(p), `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func (d Dialect) ColumnDef(c storage.ColumnSpec) string {
	name := d.Ident(c.Name)
	switch c.Type {
	case storage.TypeSerial:
		return name + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	case storage.TypeInt:
		return name + " BIGINT NOT NULL DEFAULT 0"
	case storage.TypeBool:
		return name + " BOOLEAN NOT NULL DEFAULT FALSE"
	case storage.TypeTime:
		return name + " TIMESTAMPTZ NOT NULL"
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

func (Dialect) TimeArg(t time.Time) any { return t.UTC() }
