package exporter

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"polyetl/internal/errors"
	"polyetl/pkg/contracts/domain"
)

// DefaultSheetName is the worksheet processed rows are written to
const DefaultSheetName = "processed"

// XLSXExporter writes processed rows into an Excel workbook
type XLSXExporter struct {
	logger *slog.Logger
	sheet  string
}

// NewXLSXExporter creates a workbook exporter
func NewXLSXExporter(logger *slog.Logger) *XLSXExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXExporter{
		logger: logger.With(slog.String("component", "xlsx_exporter")),
		sheet:  DefaultSheetName,
	}
}

// Export replaces the workbook at path with a header row and rows. Cells
// hold the same text as the CSV so both files read back identically.
func (x *XLSXExporter) Export(ctx context.Context, path string, rows []domain.ProcessedRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewStorageError("failed to create directory", err).WithContext("path", path)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", x.sheet); err != nil {
		return errors.NewStorageError("failed to name worksheet", err).WithContext("path", path)
	}

	if err := x.setRow(f, 1, domain.ProcessedColumns); err != nil {
		return errors.NewStorageError("failed to write header", err).WithContext("path", path)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.NewStorageError("failed to create header style", err).WithContext("path", path)
	}
	if err := f.SetRowStyle(x.sheet, 1, 1, bold); err != nil {
		return errors.NewStorageError("failed to style header", err).WithContext("path", path)
	}

	for i, r := range rows {
		if err := x.setRow(f, i+2, FormatRow(r)); err != nil {
			return errors.NewStorageError("failed to write row", err).
				WithContext("path", path).
				WithContext("index", i)
		}
	}

	if err := f.SetPanes(x.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return errors.NewStorageError("failed to freeze header", err).WithContext("path", path)
	}

	if err := f.SaveAs(path); err != nil {
		return errors.NewStorageError("failed to save workbook", err).WithContext("path", path)
	}

	x.logger.InfoContext(ctx, "workbook exported",
		slog.String("path", path),
		slog.Int("rows", len(rows)))
	return nil
}

func (x *XLSXExporter) setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(x.sheet, cell, &cells)
}

// ReadWorkbook returns the rows of the processed worksheet as text, header first
func ReadWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.NewStorageError("failed to open workbook", err).WithContext("path", path)
	}
	defer f.Close()

	rows, err := f.GetRows(DefaultSheetName)
	if err != nil {
		return nil, errors.NewStorageError("failed to read worksheet", err).WithContext("path", path)
	}
	return rows, nil
}
