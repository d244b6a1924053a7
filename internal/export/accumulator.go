// Package export turns catalog records into destination import files.
//
// A Worker drives one job through its lifecycle: it collects every scoped
// record into an Accumulator, resolving attributes and values against one
// mapping snapshot, then serializes the accumulated grid as CSV, JSON or a
// spreadsheet.
package export

import (
	"sort"
	"strings"

	"pimbridge/internal/catalog"
	"pimbridge/internal/mapping"
)

// Resolver answers mapping lookups without I/O. *mapping.Index implements it.
type Resolver interface {
	ResolveAttribute(name string) mapping.Resolution
	ResolveValue(attribute, value, uom string) mapping.Resolution
}

// MultiValueSeparator joins several resolved values of one destination
// attribute within a record.
const MultiValueSeparator = ","

// Row is one collected record: its export identifier and the resolved value
// codes per destination attribute code, in first-seen order.
type Row struct {
	Identifier string
	Values     map[string][]string
}

// Value returns the cell content for code ("" when the record has none).
func (r Row) Value(code string) string {
	return strings.Join(r.Values[code], MultiValueSeparator)
}

// Accumulator collects rows and the global set of destination attribute codes.
// Not safe for concurrent use; each job owns one.
type Accumulator struct {
	resolver Resolver
	columns  map[string]struct{}
	rows     []Row

	// Counters for logging.
	resolvedValues   int
	unresolvedValues int
}

func NewAccumulator(r Resolver) *Accumulator {
	return &Accumulator{resolver: r, columns: map[string]struct{}{}}
}

// Add resolves every attribute value of rec and stores the resulting row.
//
// A mapped attribute contributes its destination code to the column set even
// when the value itself is unmapped; the cell is then empty. Unmapped
// attributes are skipped.
func (a *Accumulator) Add(rec catalog.Record) {
	row := Row{Identifier: rec.ExportIdentifier(), Values: map[string][]string{}}
	for _, av := range rec.Values {
		attr := a.resolver.ResolveAttribute(av.Attribute)
		if !attr.Mapped() {
			continue
		}
		a.columns[attr.Code] = struct{}{}

		val := a.resolver.ResolveValue(av.Attribute, av.Value, mapping.NormalizeUOM(av.UOM))
		if !val.Mapped() {
			a.unresolvedValues++
			continue
		}
		a.resolvedValues++
		if !containsString(row.Values[attr.Code], val.Code) {
			row.Values[attr.Code] = append(row.Values[attr.Code], val.Code)
		}
	}
	a.rows = append(a.rows, row)
}

// Len is the number of collected rows.
func (a *Accumulator) Len() int { return len(a.rows) }

// Columns returns the destination attribute codes, sorted ascending.
func (a *Accumulator) Columns() []string {
	cols := make([]string, 0, len(a.columns))
	for c := range a.columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Grid freezes the accumulated data for serialization.
func (a *Accumulator) Grid() Grid {
	return Grid{Columns: a.Columns(), Rows: a.rows}
}

// Grid is the serializable result of a collection phase.
type Grid struct {
	Columns []string
	Rows    []Row
}

// Header is the CSV/spreadsheet header: identifier then the sorted codes.
func (g Grid) Header() []string {
	return append([]string{"identifier"}, g.Columns...)
}

// Record returns row i as flat cells aligned with Header.
func (g Grid) Record(i int) []string {
	r := g.Rows[i]
	out := make([]string, 0, len(g.Columns)+1)
	out = append(out, r.Identifier)
	for _, c := range g.Columns {
		out = append(out, r.Value(c))
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
