package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pimbridge/internal/storage"
)

// qmark is a minimal dialect for builder tests.
type qmark struct{}

func (qmark) Name() string                          { return "test" }
func (qmark) Placeholder(n int) string              { return fmt.Sprintf("$%d", n) }
func (qmark) Ident(s string) string                 { return s }
func (qmark) ColumnDef(c storage.ColumnSpec) string { return c.Name + " " + string(c.Type) }
func (d qmark) CreateTable(t storage.TableSpec) (string, error) {
	defs, err := TableDefs(d, t)
	return "CREATE " + t.Name + " (" + defs + ")", err
}
func (d qmark) Upsert(u Upsert) string      { return OnConflictUpsert(d, u) }
func (qmark) Page(offset, limit int) string { return LimitOffset(offset, limit) }
func (qmark) TimeArg(t time.Time) any       { return t }

func TestParseTime_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      any
		wantUTC string
		wantErr bool
	}{
		{name: "rfc3339nano", in: "2026-01-27T12:17:08.123456789Z", wantUTC: "2026-01-27T12:17:08.123456789Z"},
		{name: "rfc3339_offset", in: "2026-01-27T13:17:08+01:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_space_tz", in: "2026-01-27 12:17:08+00:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_no_tz_assume_utc", in: "2026-01-27 12:17:08", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "bytes", in: []byte("2026-01-27T12:17:08Z"), wantUTC: "2026-01-27T12:17:08Z"},
		{name: "time", in: time.Date(2026, 1, 27, 13, 17, 8, 0, time.FixedZone("X", 3600)), wantUTC: "2026-01-27T12:17:08Z"},
		{name: "invalid", in: "not-a-time", wantErr: true},
		{name: "unsupported", in: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTime(%v) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			want, _ := time.Parse(time.RFC3339Nano, tt.wantUTC)
			if !got.Equal(want) || got.Location() != time.UTC {
				t.Fatalf("got=%s want=%s", got.Format(time.RFC3339Nano), tt.wantUTC)
			}
		})
	}
}

func TestUpdateColumns(t *testing.T) {
	t.Parallel()
	u := Upsert{Columns: []string{"k", "a", "b", "created"}, Conflict: []string{"k"}, Keep: []string{"created"}}
	if got := strings.Join(u.UpdateColumns(), ","); got != "a,b" {
		t.Fatalf("got %s", got)
	}
}

func TestBuildInsert_NumbersPlaceholders(t *testing.T) {
	t.Parallel()
	got := buildInsert(qmark{}, "t", []string{"a", "b"}, 2)
	if want := "INSERT INTO t (a, b) VALUES ($1, $2), ($3, $4)"; got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestSearchClause(t *testing.T) {
	t.Parallel()
	a := &args{d: qmark{}}
	a.add("first")
	got := a.searchClause("50%_Off", "x", "y")
	want := `(LOWER(x) LIKE $2 ESCAPE '\' OR LOWER(y) LIKE $3 ESCAPE '\')`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if a.vals[1] != `%50\%\_off%` {
		t.Fatalf("pattern %q", a.vals[1])
	}
	if (&args{d: qmark{}}).searchClause("", "x") != "" {
		t.Fatalf("empty search must render nothing")
	}
}

func TestTableDefs_Errors(t *testing.T) {
	t.Parallel()
	if _, err := TableDefs(qmark{}, storage.TableSpec{Name: "t"}); err == nil {
		t.Fatalf("expected error for table without columns")
	}
	spec := storage.TableSpec{Name: "t", Columns: []storage.ColumnSpec{{Name: "a", Type: storage.TypeKey}}, Unique: [][]string{{}}}
	if _, err := TableDefs(qmark{}, spec); err == nil {
		t.Fatalf("expected error for empty unique constraint")
	}
}

// recordingConn records statements and their argument counts.
type recordingConn struct {
	stmts []string
	nargs []int
}

func (c *recordingConn) Exec(_ context.Context, q string, args ...any) (int64, error) {
	c.stmts = append(c.stmts, q)
	c.nargs = append(c.nargs, len(args))
	return int64(len(args)), nil
}

func (c *recordingConn) Query(context.Context, string, ...any) (Rows, error) {
	return nil, fmt.Errorf("not implemented")
}

func (c *recordingConn) InTx(ctx context.Context, fn func(Querier) error) error { return fn(c) }
func (c *recordingConn) Close()                                                 {}

func TestInsertChunked_StaysUnderArgLimit(t *testing.T) {
	t.Parallel()
	conn := &recordingConn{}
	r := New(conn, qmark{})

	rows := make([][]any, 1500)
	for i := range rows {
		rows[i] = []any{"a", "b", "c"}
	}
	if err := r.insertChunked(context.Background(), conn, "t", []string{"x", "y", "z"}, rows); err != nil {
		t.Fatalf("insertChunked: %v", err)
	}
	// 2000/3 = 666 rows per statement.
	if len(conn.nargs) != 3 || conn.nargs[0] != 1998 || conn.nargs[2] != (1500-2*666)*3 {
		t.Fatalf("chunks: %v", conn.nargs)
	}
}

func TestEnsureSchema_CreatesEveryTable(t *testing.T) {
	t.Parallel()
	conn := &recordingConn{}
	if err := New(conn, qmark{}).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(conn.stmts) != len(storage.Schema) {
		t.Fatalf("got %d statements, want %d", len(conn.stmts), len(storage.Schema))
	}
	for i, spec := range storage.Schema {
		if !strings.HasPrefix(conn.stmts[i], "CREATE "+spec.Name+" (") {
			t.Fatalf("statement %d: %s", i, conn.stmts[i])
		}
	}
}

func TestFetchRecords_EmptyIDs(t *testing.T) {
	t.Parallel()
	recs, err := New(&recordingConn{}, qmark{}).FetchRecords(context.Background(), nil)
	if err != nil || len(recs) != 0 {
		t.Fatalf("recs=%v err=%v", recs, err)
	}
}
