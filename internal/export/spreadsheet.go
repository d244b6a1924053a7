package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// SpreadsheetWriter renders a grid as a workbook. Supported reports whether
// the capability is available; when it is not, the worker writes the grid as
// CSV under the spreadsheet file name instead.
type SpreadsheetWriter interface {
	Supported() bool
	WriteGrid(w io.Writer, g Grid, onRow RowFunc) error
}

// SheetName is the single worksheet written by ExcelWriter.
const SheetName = "export"

// ExcelWriter writes .xlsx workbooks through excelize's streaming writer.
type ExcelWriter struct{}

func (ExcelWriter) Supported() bool { return true }

func (ExcelWriter) WriteGrid(w io.Writer, g Grid, onRow RowFunc) error {
	if onRow == nil {
		onRow = noRowFunc
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("export: xlsx sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("export: xlsx stream: %w", err)
	}

	setRow := func(rowNum int, cells []string) error {
		addr, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		vals := make([]interface{}, len(cells))
		for i, c := range cells {
			vals[i] = c
		}
		return sw.SetRow(addr, vals)
	}

	if err := setRow(1, g.Header()); err != nil {
		return fmt.Errorf("export: xlsx header: %w", err)
	}
	for i := range g.Rows {
		if err := setRow(i+2, g.Record(i)); err != nil {
			return fmt.Errorf("export: xlsx row %d: %w", i+1, err)
		}
		if err := onRow(i + 1); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("export: xlsx flush: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: xlsx write: %w", err)
	}
	return nil
}

// Unsupported is a SpreadsheetWriter for environments without spreadsheet
// support. It always reports false and refuses to write.
type Unsupported struct{}

func (Unsupported) Supported() bool { return false }

func (Unsupported) WriteGrid(io.Writer, Grid, RowFunc) error {
	return fmt.Errorf("export: spreadsheet writing is not supported")
}
