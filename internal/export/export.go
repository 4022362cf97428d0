// Package export writes stored tables as CSV or as an XLSX workbook
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Exporter reads whole tables from the store
type Exporter struct {
	store  *store.Store
	logger *zap.Logger
}

// NewExporter creates an exporter
func NewExporter(st *store.Store, logger *zap.Logger) *Exporter {
	return &Exporter{store: st, logger: logger}
}

// Tables returns the exportable table names
func (e *Exporter) Tables() []string {
	return e.store.ExportTables()
}

func (e *Exporter) checkTable(table string) error {
	for _, t := range e.Tables() {
		if t == table {
			return nil
		}
	}
	return apperrors.ErrNotFound.WithMessage("unknown table %q", table)
}

// each streams every row of table in id order as formatted cells
func (e *Exporter) each(ctx context.Context, table string, header func([]string) error, row func([]string) error) (int, error) {
	if err := e.checkTable(table); err != nil {
		return 0, err
	}

	rows, err := e.store.DB().WithContext(ctx).Table(table).Order("id ASC").Rows()
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	if err := header(cols); err != nil {
		return 0, err
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		cells := make([]string, len(cols))
		for i, v := range values {
			cells[i] = formatValue(v)
		}
		if err := row(cells); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// WriteCSV writes table with a header row and returns the number of data rows
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, table string) (int, error) {
	cw := csv.NewWriter(w)
	n, err := e.each(ctx, table, cw.Write, cw.Write)
	if err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

// WriteXLSX writes one sheet per table. An empty tables list exports everything.
func (e *Exporter) WriteXLSX(ctx context.Context, w io.Writer, tables []string) (map[string]int, error) {
	if len(tables) == 0 {
		tables = e.Tables()
	}
	for _, t := range tables {
		if err := e.checkTable(t); err != nil {
			return nil, err
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	counts := make(map[string]int, len(tables))
	for i, table := range tables {
		sheet := sheetName(table)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}

		line := 1
		writeRow := func(cells []string) error {
			cell, err := excelize.CoordinatesToCellName(1, line)
			if err != nil {
				return err
			}
			vals := make([]interface{}, len(cells))
			for j, c := range cells {
				vals[j] = c
			}
			if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
				return fmt.Errorf("failed to write %s row %d: %w", sheet, line, err)
			}
			line++
			return nil
		}
		writeHeader := func(cols []string) error {
			if err := writeRow(cols); err != nil {
				return err
			}
			last, err := excelize.CoordinatesToCellName(len(cols), 1)
			if err != nil {
				return err
			}
			return f.SetCellStyle(sheet, "A1", last, headerStyle)
		}

		n, err := e.each(ctx, table, writeHeader, writeRow)
		if err != nil {
			return nil, err
		}
		counts[table] = n

		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return nil, fmt.Errorf("failed to freeze panes: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Workbook exported", zap.Int("sheets", len(tables)))
	return counts, nil
}

// sheetName fits table into the 31 character sheet name limit
func sheetName(table string) string {
	if len(table) > 31 {
		return table[:31]
	}
	return table
}
