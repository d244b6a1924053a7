// Package mssql is the Microsoft SQL Server backend. Upserts use MERGE with
// HOLDLOCK so concurrent writers of the same key serialize.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"pimbridge/internal/storage"
	"pimbridge/internal/storage/sqlstore"
)

func init() {
	storage.Register("mssql", NewRepo)
}

// NewRepo opens cfg.DSN with the "sqlserver" driver and validates
// connectivity via PingContext.
func NewRepo(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return sqlstore.New(sqlstore.DB{DB: raw}, Dialect{}), nil
}

// Dialect renders T-SQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "mssql" }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// Ident returns a bracket-quoted identifier for a possibly schema-qualified
// name, escaping ']' as ']]'.
//
// Example:
//
//	"dbo.imports" -> [dbo].[imports]
func (Dialect) Ident(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "[" + strings.ReplaceAll(strings.TrimSpace(p), "]", "]]") + "]"
	}
	return strings.Join(parts, ".")
}

// ColumnDef bounds key columns to NVARCHAR(255) so that composite unique
// constraints stay under the index key size limit.
func (d Dialect) ColumnDef(c storage.ColumnSpec) string {
	name := d.Ident(c.Name)
	switch c.Type {
	case storage.TypeSerial:
		return name + " BIGINT IDENTITY(1,1) PRIMARY KEY"
	case storage.TypeInt:
		return name + " BIGINT NOT NULL DEFAULT 0"
	case storage.TypeBool:
		return name + " BIT NOT NULL DEFAULT 0"
	case storage.TypeTime:
		return name + " DATETIME2(7) NOT NULL"
	case storage.TypeKey:
		return name + " NVARCHAR(255) NOT NULL DEFAULT ''"
	}
	if c.Nullable {
		return name + " NVARCHAR(MAX) NULL"
	}
	return name + " NVARCHAR(MAX) NOT NULL DEFAULT ''"
}

// CreateTable wraps CREATE TABLE in an OBJECT_ID guard, since T-SQL has no
// CREATE TABLE IF NOT EXISTS.
func (d Dialect) CreateTable(t storage.TableSpec) (string, error) {
	defs, err := sqlstore.TableDefs(d, t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(t.Name, "'", "''"), d.Ident(t.Name), defs,
	), nil
}

// Upsert renders a MERGE statement. The source row is built from the bind
// parameters in u.Columns order.
func (d Dialect) Upsert(u sqlstore.Upsert) string {
	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(d.Ident(u.Table))
	b.WriteString(" WITH (HOLDLOCK) AS [target] USING (SELECT ")
	for i, c := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(i + 1))
		b.WriteString(" AS ")
		b.WriteString(d.Ident(c))
	}
	b.WriteString(") AS [source] ON ")
	for i, c := range u.Conflict {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "[target].%s = [source].%s", d.Ident(c), d.Ident(c))
	}

	if upd := u.UpdateColumns(); len(upd) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range upd {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "[target].%s = [source].%s", d.Ident(c), d.Ident(c))
		}
	}

	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	for i, c := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Ident(c))
	}
	b.WriteString(") VALUES (")
	for i, c := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("[source].")
		b.WriteString(d.Ident(c))
	}
	b.WriteString(")")

	if len(u.Returning) > 0 {
		b.WriteString(" OUTPUT ")
		for i, c := range u.Returning {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("inserted.")
			b.WriteString(d.Ident(c))
		}
	}
	b.WriteString(";")
	return b.String()
}

// Page requires an ORDER BY in the enclosing query.
func (Dialect) Page(offset, limit int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (Dialect) TimeArg(t time.Time) any { return t.UTC() }
