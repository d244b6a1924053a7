package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// RowFunc is called after each serialized row with the number of rows
// written so far. A non-nil error aborts serialization.
type RowFunc func(written int) error

func noRowFunc(int) error { return nil }

// WriteCSV writes g as CSV: a header row then one line per row, "\n"
// terminated. Fields containing a comma, a double quote or a line break are
// quoted with inner quotes doubled; nothing else is quoted.
func WriteCSV(w io.Writer, g Grid, onRow RowFunc) error {
	if onRow == nil {
		onRow = noRowFunc
	}
	bw := bufio.NewWriter(w)
	if err := writeCSVLine(bw, g.Header()); err != nil {
		return err
	}
	for i := range g.Rows {
		if err := writeCSVLine(bw, g.Record(i)); err != nil {
			return err
		}
		if err := onRow(i + 1); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export: csv flush: %w", err)
	}
	return nil
}

func writeCSVLine(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return fmt.Errorf("export: csv write: %w", err)
			}
		}
		if _, err := w.WriteString(csvEscape(f)); err != nil {
			return fmt.Errorf("export: csv write: %w", err)
		}
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("export: csv write: %w", err)
	}
	return nil
}

func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// jsonValue is one localized, scoped value in the destination import format.
// Locale and Scope are always null: exports are not channel or locale aware.
type jsonValue struct {
	Locale *string `json:"locale"`
	Scope  *string `json:"scope"`
	Data   string  `json:"data"`
}

type jsonItem struct {
	Identifier string                 `json:"identifier"`
	Values     map[string][]jsonValue `json:"values"`
}

// WriteJSON writes g as a JSON array, one item per line. Codes without a
// value for the row are omitted from its values object.
func WriteJSON(w io.Writer, g Grid, onRow RowFunc) error {
	if onRow == nil {
		onRow = noRowFunc
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("["); err != nil {
		return fmt.Errorf("export: json write: %w", err)
	}
	for i, r := range g.Rows {
		item := jsonItem{Identifier: r.Identifier, Values: map[string][]jsonValue{}}
		for _, c := range g.Columns {
			if v := r.Value(c); v != "" {
				item.Values[c] = []jsonValue{{Data: v}}
			}
		}
		b, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("export: json encode row %d: %w", i, err)
		}
		sep := ",\n"
		if i == 0 {
			sep = "\n"
		}
		if _, err := bw.WriteString(sep); err != nil {
			return fmt.Errorf("export: json write: %w", err)
		}
		if _, err := bw.Write(b); err != nil {
			return fmt.Errorf("export: json write: %w", err)
		}
		if err := onRow(i + 1); err != nil {
			return err
		}
	}
	tail := "\n]\n"
	if len(g.Rows) == 0 {
		tail = "]\n"
	}
	if _, err := bw.WriteString(tail); err != nil {
		return fmt.Errorf("export: json write: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export: json flush: %w", err)
	}
	return nil
}
