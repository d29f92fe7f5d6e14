// Package exporter persists processed aggregate rows and captured trades.
//
// CSVWriter is the low-level writer. It creates parent directories, can
// prefix a UTF-8 BOM for spreadsheet tools and either truncates or appends.
//
// RowsExporter writes the fixed processed column layout
// (timestamp,open,high,low,close,volume,vwap,transactions,daily_return,outlier)
// in one of two modes:
//
//   - overwrite: the file is replaced by a header and the given rows
//   - append: only rows newer than the last timestamp already in the file are
//     added, so re-running with identical input leaves the file unchanged
//
// ReadRows parses a processed file back into rows and is used to verify what
// was written. XLSXExporter writes the same rows into a workbook.
//
// Example usage:
//
//	rows := exporter.NewRowsExporter(logger)
//	result, err := rows.Export(ctx, "data/AAPL_daily_adjusted_processed.csv", processed, exporter.ModeOverwrite)
package exporter
