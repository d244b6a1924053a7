package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"pimbridge/internal/similarity"
)

// CSVColumns are the canonical columns of a long-format catalog CSV: one row
// per (record, attribute, value).
var CSVColumns = []string{"id", "identifier", "attribute", "value", "uom"}

// DefaultHeaderMap maps common header spellings onto CSVColumns.
var DefaultHeaderMap = map[string]string{
	"product_id":      "id",
	"record_id":       "id",
	"sku":             "identifier",
	"attribute_name":  "attribute",
	"attribute_code":  "attribute",
	"attribute_value": "value",
	"unit":            "uom",
	"unit_of_measure": "uom",
}

// CSVOptions controls LoadCSV. The zero value reads comma separated input
// with a header row.
type CSVOptions struct {
	Comma      rune
	LazyQuotes bool
	// HeaderMap overrides DefaultHeaderMap entries. Keys are compared after
	// trimming and lower-casing.
	HeaderMap map[string]string
}

// LoadCSV streams a long-format catalog CSV into dst. Rows of the same id
// are grouped into one record; records keep first-seen order. Rows that fail
// to parse or carry no id are reported to onErr and skipped.
//
// It returns the number of attribute rows loaded.
func LoadCSV(ctx context.Context, src io.Reader, dst *MemStore, opt CSVOptions, onErr func(line int, err error)) (int, error) {
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}

	cr := csv.NewReader(src)
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		return 0, fmt.Errorf("catalog: read csv header: %w", err)
	}
	colIx := headerIndex(hdr, CSVColumns, DefaultHeaderMap, opt.HeaderMap)
	if colIx["id"] < 0 || colIx["attribute"] < 0 {
		return 0, fmt.Errorf("catalog: csv header %q needs id and attribute columns", hdr)
	}

	field := fieldFunc(colIx)

	pending := map[string]*Record{}
	var order []string
	var n int
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		rec, err := readRec()
		if err == io.EOF {
			break
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		id := field(rec, "id")
		if id == "" {
			if onErr != nil {
				onErr(line, fmt.Errorf("missing id"))
			}
			continue
		}

		r, ok := pending[id]
		if !ok {
			r = &Record{ID: id}
			pending[id] = r
			order = append(order, id)
		}
		if ident := field(rec, "identifier"); ident != "" && r.Identifier == "" {
			r.Identifier = ident
		}

		attr := field(rec, "attribute")
		if attr == "" {
			continue
		}
		av := AttributeValue{Attribute: attr, Value: field(rec, "value")}
		if u := field(rec, "uom"); u != "" {
			av.UOM = &u
		}
		r.Values = append(r.Values, av)
		n++
	}

	for _, id := range order {
		dst.Put(*pending[id])
	}
	return n, nil
}

// headerIndex resolves cols to source column positions (-1 when absent).
func headerIndex(hdr, cols []string, defaults, overrides map[string]string) map[string]int {
	srcToIdx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
		if mapped, ok := overrides[h]; ok {
			h = mapped
		} else if mapped, ok := defaults[h]; ok {
			h = mapped
		}
		if _, dup := srcToIdx[h]; !dup {
			srcToIdx[h] = i
		}
	}

	out := make(map[string]int, len(cols))
	for _, c := range cols {
		out[c] = -1
		if si, ok := srcToIdx[c]; ok {
			out[c] = si
		}
	}
	return out
}

func fieldFunc(colIx map[string]int) func(rec []string, col string) string {
	return func(rec []string, col string) string {
		i := colIx[col]
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
}

// OptionColumns are the columns of a destination options CSV.
var OptionColumns = []string{"attribute_code", "code", "label"}

var optionHeaderMap = map[string]string{
	"attribute":    "attribute_code",
	"option_code":  "code",
	"option_label": "label",
}

// LoadOptionsCSV reads a destination options CSV (attribute_code, code,
// label) and groups the options by attribute code, keeping file order.
// Rows without an attribute code or option code are reported to onErr and
// skipped.
func LoadOptionsCSV(ctx context.Context, src io.Reader, opt CSVOptions, onErr func(line int, err error)) (map[string][]similarity.Option, error) {
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}
	cr := csv.NewReader(src)
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("catalog: read options header: %w", err)
	}
	colIx := headerIndex(hdr, OptionColumns, optionHeaderMap, opt.HeaderMap)
	if colIx["attribute_code"] < 0 || colIx["code"] < 0 {
		return nil, fmt.Errorf("catalog: options header %q needs attribute_code and code columns", hdr)
	}
	field := fieldFunc(colIx)

	out := map[string][]similarity.Option{}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		attr, code := field(rec, "attribute_code"), field(rec, "code")
		if attr == "" || code == "" {
			if onErr != nil {
				onErr(line, fmt.Errorf("missing attribute_code or code"))
			}
			continue
		}
		out[attr] = append(out[attr], similarity.Option{Code: code, Label: field(rec, "label")})
	}
	return out, nil
}
