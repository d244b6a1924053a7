// Package sqlstore implements storage.Repository once, on top of a small
// connection seam and a per-backend SQL Dialect.
package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"pimbridge/internal/storage"
)

// Dialect is everything that differs between backends.
type Dialect interface {
	Name() string
	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder(n int) string
	// Ident quotes an identifier.
	Ident(name string) string
	// ColumnDef renders one column definition for CREATE TABLE.
	ColumnDef(c storage.ColumnSpec) string
	// CreateTable returns an idempotent CREATE TABLE statement.
	CreateTable(t storage.TableSpec) (string, error)
	// Upsert renders an insert-or-update statement. Its arguments are the
	// values of u.Columns in order.
	Upsert(u Upsert) string
	// Page renders the paging clause that follows ORDER BY.
	Page(offset, limit int) string
	// TimeArg converts a timestamp to a bind argument.
	TimeArg(t time.Time) any
}

// Upsert describes an insert that updates the conflicting row instead.
type Upsert struct {
	Table    string
	Columns  []string
	Conflict []string
	// Keep lists columns that are only written on insert.
	Keep []string
	// Returning lists columns to read back from the written row.
	Returning []string
}

// UpdateColumns are the columns overwritten on conflict.
func (u Upsert) UpdateColumns() []string {
	skip := map[string]bool{}
	for _, c := range u.Conflict {
		skip[c] = true
	}
	for _, c := range u.Keep {
		skip[c] = true
	}
	var out []string
	for _, c := range u.Columns {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}

// TableDefs renders the "(...)" content of CREATE TABLE for d.
func TableDefs(d Dialect, t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("%s: table name is empty", d.Name())
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s: table %s has no columns", d.Name(), t.Name)
	}
	parts := make([]string, 0, len(t.Columns)+len(t.Unique)+1)
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("%s: table %s has a column without name", d.Name(), t.Name)
		}
		parts = append(parts, d.ColumnDef(c))
	}
	if _, serial := t.SerialColumn(); !serial && len(t.PrimaryKey) > 0 {
		parts = append(parts, "PRIMARY KEY ("+identList(d, t.PrimaryKey)+")")
	}
	for _, u := range t.Unique {
		if len(u) == 0 {
			return "", fmt.Errorf("%s: table %s: unique constraint has no columns", d.Name(), t.Name)
		}
		parts = append(parts, "UNIQUE ("+identList(d, u)+")")
	}
	return strings.Join(parts, ", "), nil
}

// OnConflictUpsert renders the INSERT ... ON CONFLICT ... DO UPDATE form
// shared by SQLite and Postgres.
func OnConflictUpsert(d Dialect, u Upsert) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Ident(u.Table))
	b.WriteString(" (")
	b.WriteString(identList(d, u.Columns))
	b.WriteString(") VALUES (")
	b.WriteString(placeholders(d, 1, len(u.Columns)))
	b.WriteString(") ON CONFLICT (")
	b.WriteString(identList(d, u.Conflict))
	b.WriteString(")")

	upd := u.UpdateColumns()
	if len(upd) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		for i, c := range upd {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Ident(c))
			b.WriteString(" = excluded.")
			b.WriteString(d.Ident(c))
		}
	}
	if len(u.Returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(identList(d, u.Returning))
	}
	return b.String()
}

// LimitOffset is the LIMIT/OFFSET paging clause of SQLite and Postgres.
func LimitOffset(offset, limit int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func identList(d Dialect, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = d.Ident(c)
	}
	return strings.Join(out, ", ")
}

// placeholders renders n comma separated bind parameters starting at start.
func placeholders(d Dialect, start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(start + i))
	}
	return b.String()
}

// buildInsert renders a multi-row INSERT for nrows rows of cols.
func buildInsert(d Dialect, table string, cols []string, nrows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Ident(table))
	b.WriteString(" (")
	b.WriteString(identList(d, cols))
	b.WriteString(") VALUES ")
	p := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(placeholders(d, p, len(cols)))
		b.WriteString(")")
		p += len(cols)
	}
	return b.String()
}

// args collects bind arguments and hands out their placeholders.
type args struct {
	d    Dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.Placeholder(len(a.vals))
}

// in renders "(p1, p2, ...)" for vs.
func (a *args) in(vs []string) string {
	ps := make([]string, len(vs))
	for i, v := range vs {
		ps[i] = a.add(v)
	}
	return "(" + strings.Join(ps, ", ") + ")"
}

// escapeLike escapes LIKE wildcards with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// searchClause renders a case-insensitive substring match of search against
// cols. It returns "" when search is empty.
func (a *args) searchClause(search string, cols ...string) string {
	if search == "" {
		return ""
	}
	pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf(`LOWER(%s) LIKE %s ESCAPE '\'`, a.d.Ident(c), a.add(pattern))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
