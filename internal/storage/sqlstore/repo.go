package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pimbridge/internal/catalog"
	"pimbridge/internal/errs"
	"pimbridge/internal/mapping"
	"pimbridge/internal/similarity"
	"pimbridge/internal/storage"
)

// maxInsertArgs bounds the bind arguments of one multi-row INSERT. SQL Server
// allows 2100 per statement.
const maxInsertArgs = 2000

// Repo implements storage.Repository over a Conn.
type Repo struct {
	conn Conn
	d    Dialect
}

var _ storage.Repository = (*Repo)(nil)

// New returns a Repo speaking d over conn.
func New(conn Conn, d Dialect) *Repo {
	return &Repo{conn: conn, d: d}
}

func (r *Repo) Close() { r.conn.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.Schema {
		stmt, err := r.d.CreateTable(t)
		if err != nil {
			return err
		}
		if _, err := r.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: create table %s: %w", r.d.Name(), t.Name, err)
		}
	}
	return nil
}

func (r *Repo) ident(name string) string { return r.d.Ident(name) }

func (r *Repo) selectList(table string) string {
	t, _ := storage.TableByName(table)
	return identList(r.d, t.ColumnNames(true))
}

// ---- attribute mappings ----

var attributeColumns = []string{
	"origin_attribute", "is_new", "existing_code", "existing_label",
	"new_code", "new_label", "new_type", "created_at", "updated_at",
}

func scanAttribute(rows Rows) (mapping.AttributeMapping, error) {
	var (
		m                mapping.AttributeMapping
		created, updated any
	)
	err := rows.Scan(&m.ID, &m.OriginAttribute, &m.IsNew, &m.ExistingCode, &m.ExistingLabel,
		&m.NewCode, &m.NewLabel, &m.NewType, &created, &updated)
	if err != nil {
		return m, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return m, err
	}
	m.UpdatedAt, err = parseTime(updated)
	return m, err
}

func (r *Repo) GetAttributeMapping(ctx context.Context, originAttribute string) (mapping.AttributeMapping, error) {
	a := &args{d: r.d}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		r.selectList(storage.TableAttributeMappings), r.ident(storage.TableAttributeMappings),
		r.ident("origin_attribute"), a.add(originAttribute))
	ms, err := queryAll(ctx, r.conn, q, a.vals, scanAttribute)
	if err != nil {
		return mapping.AttributeMapping{}, fmt.Errorf("%s: get attribute mapping: %w", r.d.Name(), err)
	}
	if len(ms) == 0 {
		return mapping.AttributeMapping{}, fmt.Errorf("attribute mapping %q: %w", originAttribute, errs.ErrNotFound)
	}
	return ms[0], nil
}

func (r *Repo) UpsertAttributeMapping(ctx context.Context, m mapping.AttributeMapping) (mapping.AttributeMapping, error) {
	stmt := r.d.Upsert(Upsert{
		Table:     storage.TableAttributeMappings,
		Columns:   attributeColumns,
		Conflict:  []string{"origin_attribute"},
		Keep:      []string{"created_at"},
		Returning: []string{"id", "created_at"},
	})
	ts := r.d.TimeArg(m.UpdatedAt)
	vals := []any{m.OriginAttribute, m.IsNew, m.ExistingCode, m.ExistingLabel,
		m.NewCode, m.NewLabel, m.NewType, ts, ts}

	id, created, err := r.upsertReturning(ctx, stmt, vals)
	if err != nil {
		return mapping.AttributeMapping{}, fmt.Errorf("%s: upsert attribute mapping %q: %w", r.d.Name(), m.OriginAttribute, err)
	}
	m.ID, m.CreatedAt = id, created
	return m, nil
}

func (r *Repo) DeleteAttributeMapping(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, storage.TableAttributeMappings, "attribute mapping", id)
}

func (r *Repo) ListAttributeMappings(ctx context.Context, q mapping.Query) (mapping.AttributePage, error) {
	q = q.Normalize()
	a := &args{d: r.d}
	where := a.searchClause(q.Search, "origin_attribute", "existing_code", "existing_label", "new_code", "new_label")

	total, err := r.count(ctx, storage.TableAttributeMappings, where, a.vals)
	if err != nil {
		return mapping.AttributePage{}, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s, %s %s",
		r.selectList(storage.TableAttributeMappings), r.ident(storage.TableAttributeMappings), whereSQL(where),
		r.ident("origin_attribute"), r.ident("id"), r.d.Page(q.Offset(), q.Limit()))
	items, err := queryAll(ctx, r.conn, stmt, a.vals, scanAttribute)
	if err != nil {
		return mapping.AttributePage{}, fmt.Errorf("%s: list attribute mappings: %w", r.d.Name(), err)
	}
	if items == nil {
		items = []mapping.AttributeMapping{}
	}
	return mapping.AttributePage{Items: items, Total: total, Page: q.Page, PerPage: q.PerPage}, nil
}

// ---- value mappings ----

var valueColumns = []string{
	"origin_attribute", "origin_value", "origin_uom", "is_new", "existing_code",
	"existing_label", "new_code", "new_label", "created_at", "updated_at",
}

func scanValue(rows Rows) (mapping.ValueMapping, error) {
	var (
		m                mapping.ValueMapping
		created, updated any
	)
	err := rows.Scan(&m.ID, &m.OriginAttribute, &m.OriginValue, &m.OriginUOM, &m.IsNew,
		&m.ExistingCode, &m.ExistingLabel, &m.NewCode, &m.NewLabel, &created, &updated)
	if err != nil {
		return m, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return m, err
	}
	m.UpdatedAt, err = parseTime(updated)
	return m, err
}

func (r *Repo) GetValueMapping(ctx context.Context, key mapping.ValueKey) (mapping.ValueMapping, error) {
	a := &args{d: r.d}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s AND %s = %s",
		r.selectList(storage.TableValueMappings), r.ident(storage.TableValueMappings),
		r.ident("origin_attribute"), a.add(key.Attribute),
		r.ident("origin_value"), a.add(key.Value),
		r.ident("origin_uom"), a.add(key.UOM))
	ms, err := queryAll(ctx, r.conn, q, a.vals, scanValue)
	if err != nil {
		return mapping.ValueMapping{}, fmt.Errorf("%s: get value mapping: %w", r.d.Name(), err)
	}
	if len(ms) == 0 {
		return mapping.ValueMapping{}, fmt.Errorf("value mapping %q/%q/%q: %w", key.Attribute, key.Value, key.UOM, errs.ErrNotFound)
	}
	return ms[0], nil
}

func (r *Repo) UpsertValueMapping(ctx context.Context, m mapping.ValueMapping) (mapping.ValueMapping, error) {
	stmt := r.d.Upsert(Upsert{
		Table:     storage.TableValueMappings,
		Columns:   valueColumns,
		Conflict:  []string{"origin_attribute", "origin_value", "origin_uom"},
		Keep:      []string{"created_at"},
		Returning: []string{"id", "created_at"},
	})
	ts := r.d.TimeArg(m.UpdatedAt)
	vals := []any{m.OriginAttribute, m.OriginValue, m.OriginUOM, m.IsNew, m.ExistingCode,
		m.ExistingLabel, m.NewCode, m.NewLabel, ts, ts}

	id, created, err := r.upsertReturning(ctx, stmt, vals)
	if err != nil {
		return mapping.ValueMapping{}, fmt.Errorf("%s: upsert value mapping %q/%q: %w", r.d.Name(), m.OriginAttribute, m.OriginValue, err)
	}
	m.ID, m.CreatedAt = id, created
	return m, nil
}

func (r *Repo) DeleteValueMapping(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, storage.TableValueMappings, "value mapping", id)
}

func (r *Repo) ListValueMappings(ctx context.Context, q mapping.Query) (mapping.ValuePage, error) {
	q = q.Normalize()
	a := &args{d: r.d}
	var conds []string
	if q.OriginAttribute != "" {
		conds = append(conds, fmt.Sprintf("%s = %s", r.ident("origin_attribute"), a.add(q.OriginAttribute)))
	}
	if s := a.searchClause(q.Search, "origin_attribute", "origin_value", "existing_code", "existing_label", "new_code", "new_label"); s != "" {
		conds = append(conds, s)
	}
	where := strings.Join(conds, " AND ")

	total, err := r.count(ctx, storage.TableValueMappings, where, a.vals)
	if err != nil {
		return mapping.ValuePage{}, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s, %s, %s, %s %s",
		r.selectList(storage.TableValueMappings), r.ident(storage.TableValueMappings), whereSQL(where),
		r.ident("origin_attribute"), r.ident("origin_value"), r.ident("origin_uom"), r.ident("id"),
		r.d.Page(q.Offset(), q.Limit()))
	items, err := queryAll(ctx, r.conn, stmt, a.vals, scanValue)
	if err != nil {
		return mapping.ValuePage{}, fmt.Errorf("%s: list value mappings: %w", r.d.Name(), err)
	}
	if items == nil {
		items = []mapping.ValueMapping{}
	}
	return mapping.ValuePage{Items: items, Total: total, Page: q.Page, PerPage: q.PerPage}, nil
}

func (r *Repo) AllMappings(ctx context.Context) ([]mapping.AttributeMapping, []mapping.ValueMapping, error) {
	attrs, err := queryAll(ctx, r.conn, fmt.Sprintf("SELECT %s FROM %s",
		r.selectList(storage.TableAttributeMappings), r.ident(storage.TableAttributeMappings)), nil, scanAttribute)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: load attribute mappings: %w", r.d.Name(), err)
	}
	values, err := queryAll(ctx, r.conn, fmt.Sprintf("SELECT %s FROM %s",
		r.selectList(storage.TableValueMappings), r.ident(storage.TableValueMappings)), nil, scanValue)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: load value mappings: %w", r.d.Name(), err)
	}
	return attrs, values, nil
}

// ---- catalog ----

func (r *Repo) CountRecords(ctx context.Context) (int, error) {
	return r.count(ctx, storage.TableCatalogRecords, "", nil)
}

func (r *Repo) ListRecordIDs(ctx context.Context, offset, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s %s",
		r.ident("record_id"), r.ident(storage.TableCatalogRecords), r.ident("seq"), r.d.Page(offset, limit))
	ids, err := queryAll(ctx, r.conn, q, nil, scanString)
	if err != nil {
		return nil, fmt.Errorf("%s: list record ids: %w", r.d.Name(), err)
	}
	return ids, nil
}

type valueRow struct {
	recordID string
	value    catalog.AttributeValue
}

func (r *Repo) FetchRecords(ctx context.Context, ids []string) ([]catalog.Record, error) {
	if len(ids) == 0 {
		return []catalog.Record{}, nil
	}

	a := &args{d: r.d}
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN %s",
		r.ident("record_id"), r.ident("identifier"), r.ident(storage.TableCatalogRecords),
		r.ident("record_id"), a.in(ids))
	heads, err := queryAll(ctx, r.conn, q, a.vals, func(rows Rows) (catalog.Record, error) {
		var rec catalog.Record
		err := rows.Scan(&rec.ID, &rec.Identifier)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: fetch records: %w", r.d.Name(), err)
	}

	a = &args{d: r.d}
	q = fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s IN %s ORDER BY %s, %s",
		r.ident("record_id"), r.ident("attribute"), r.ident("value"), r.ident("uom"),
		r.ident(storage.TableCatalogValues), r.ident("record_id"), a.in(ids),
		r.ident("record_id"), r.ident("position"))
	vals, err := queryAll(ctx, r.conn, q, a.vals, func(rows Rows) (valueRow, error) {
		var (
			v   valueRow
			uom sql.NullString
		)
		if err := rows.Scan(&v.recordID, &v.value.Attribute, &v.value.Value, &uom); err != nil {
			return v, err
		}
		if uom.Valid {
			s := uom.String
			v.value.UOM = &s
		}
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: fetch record values: %w", r.d.Name(), err)
	}

	byID := make(map[string]*catalog.Record, len(heads))
	for i := range heads {
		byID[heads[i].ID] = &heads[i]
	}
	for _, v := range vals {
		if rec, ok := byID[v.recordID]; ok {
			rec.Values = append(rec.Values, v.value)
		}
	}

	out := make([]catalog.Record, 0, len(heads))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, *rec)
	}
	return out, nil
}

func (r *Repo) PutRecords(ctx context.Context, recs []catalog.Record) error {
	recordUpsert := r.d.Upsert(Upsert{
		Table:    storage.TableCatalogRecords,
		Columns:  []string{"record_id", "identifier"},
		Conflict: []string{"record_id"},
	})
	valueCols := []string{"record_id", "position", "attribute", "value", "uom"}

	return r.conn.InTx(ctx, func(tx Querier) error {
		for _, rec := range recs {
			if rec.ID == "" {
				return fmt.Errorf("%s: record without id: %w", r.d.Name(), errs.ErrValidation)
			}
			if _, err := tx.Exec(ctx, recordUpsert, rec.ID, rec.Identifier); err != nil {
				return fmt.Errorf("%s: put record %s: %w", r.d.Name(), rec.ID, err)
			}
			a := &args{d: r.d}
			del := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
				r.ident(storage.TableCatalogValues), r.ident("record_id"), a.add(rec.ID))
			if _, err := tx.Exec(ctx, del, a.vals...); err != nil {
				return fmt.Errorf("%s: clear values of %s: %w", r.d.Name(), rec.ID, err)
			}

			rows := make([][]any, len(rec.Values))
			for i, v := range rec.Values {
				var uom any
				if v.UOM != nil {
					uom = *v.UOM
				}
				rows[i] = []any{rec.ID, int64(i), v.Attribute, v.Value, uom}
			}
			if err := r.insertChunked(ctx, tx, storage.TableCatalogValues, valueCols, rows); err != nil {
				return fmt.Errorf("%s: put values of %s: %w", r.d.Name(), rec.ID, err)
			}
		}
		return nil
	})
}

// ---- vocabulary ----

func (r *Repo) ListOptions(ctx context.Context, attributeCode string) ([]similarity.Option, error) {
	a := &args{d: r.d}
	q := fmt.Sprintf("SELECT %s, %s FROM %s", r.ident("code"), r.ident("label"), r.ident(storage.TableDestinationOptions))
	if attributeCode != "" {
		q += fmt.Sprintf(" WHERE %s = %s", r.ident("attribute_code"), a.add(attributeCode))
	}
	q += fmt.Sprintf(" ORDER BY %s, %s", r.ident("code"), r.ident("attribute_code"))

	opts, err := queryAll(ctx, r.conn, q, a.vals, func(rows Rows) (similarity.Option, error) {
		var o similarity.Option
		err := rows.Scan(&o.Code, &o.Label)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: list options of %q: %w", r.d.Name(), attributeCode, err)
	}
	return opts, nil
}

func (r *Repo) PutOptions(ctx context.Context, attributeCode string, opts []similarity.Option) error {
	if attributeCode == "" {
		return fmt.Errorf("%s: options need an attribute code: %w", r.d.Name(), errs.ErrValidation)
	}
	seen := map[string]bool{}
	rows := make([][]any, 0, len(opts))
	for _, o := range opts {
		if o.Code == "" || seen[o.Code] {
			continue
		}
		seen[o.Code] = true
		rows = append(rows, []any{attributeCode, o.Code, o.Label})
	}

	return r.conn.InTx(ctx, func(tx Querier) error {
		a := &args{d: r.d}
		del := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			r.ident(storage.TableDestinationOptions), r.ident("attribute_code"), a.add(attributeCode))
		if _, err := tx.Exec(ctx, del, a.vals...); err != nil {
			return fmt.Errorf("%s: clear options of %q: %w", r.d.Name(), attributeCode, err)
		}
		if err := r.insertChunked(ctx, tx, storage.TableDestinationOptions, []string{"attribute_code", "code", "label"}, rows); err != nil {
			return fmt.Errorf("%s: put options of %q: %w", r.d.Name(), attributeCode, err)
		}
		return nil
	})
}

// ---- helpers ----

func (r *Repo) upsertReturning(ctx context.Context, stmt string, vals []any) (int64, time.Time, error) {
	type idTime struct {
		id      int64
		created time.Time
	}
	out, err := queryAll(ctx, r.conn, stmt, vals, func(rows Rows) (idTime, error) {
		var (
			v       idTime
			created any
		)
		if err := rows.Scan(&v.id, &created); err != nil {
			return v, err
		}
		t, err := parseTime(created)
		v.created = t
		return v, err
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(out) != 1 {
		return 0, time.Time{}, fmt.Errorf("upsert returned %d rows", len(out))
	}
	return out[0].id, out[0].created, nil
}

func (r *Repo) deleteByID(ctx context.Context, table, what string, id int64) error {
	a := &args{d: r.d}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", r.ident(table), r.ident("id"), a.add(id))
	n, err := r.conn.Exec(ctx, q, a.vals...)
	if err != nil {
		return fmt.Errorf("%s: delete %s id=%d: %w", r.d.Name(), what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s id=%d: %w", what, id, errs.ErrNotFound)
	}
	return nil
}

func (r *Repo) count(ctx context.Context, table, where string, vals []any) (int, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", r.ident(table), whereSQL(where))
	ns, err := queryAll(ctx, r.conn, q, vals, func(rows Rows) (int64, error) {
		var n int64
		err := rows.Scan(&n)
		return n, err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", r.d.Name(), table, err)
	}
	if len(ns) == 0 {
		return 0, nil
	}
	return int(ns[0]), nil
}

func (r *Repo) insertChunked(ctx context.Context, q Querier, table string, cols []string, rows [][]any) error {
	per := maxInsertArgs / len(cols)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		vals := make([]any, 0, len(chunk)*len(cols))
		for _, row := range chunk {
			vals = append(vals, row...)
		}
		if _, err := q.Exec(ctx, buildInsert(r.d, table, cols, len(chunk)), vals...); err != nil {
			return err
		}
	}
	return nil
}

func whereSQL(where string) string {
	if where == "" {
		return ""
	}
	return " WHERE " + where
}

// queryAll runs q and scans every row with scan. Rows are closed before it
// returns, so callers may issue the next statement on a single connection.
func queryAll[T any](ctx context.Context, q Querier, stmt string, vals []any, scan func(Rows) (T, error)) ([]T, error) {
	rows, err := q.Query(ctx, stmt, vals...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanString(rows Rows) (string, error) {
	var s string
	err := rows.Scan(&s)
	return s, err
}

// parseTime accepts what drivers return for timestamp columns: time.Time,
// or RFC3339 text for SQLite.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimeText(t)
	case []byte:
		return parseTimeText(string(t))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}

func parseTimeText(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
