package exporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"polyetl/internal/dataprocessing"
	"polyetl/internal/errors"
	"polyetl/pkg/contracts/domain"
)

// WriteMode selects how an existing processed file is treated
type WriteMode string

const (
	// ModeOverwrite replaces the file on every run
	ModeOverwrite WriteMode = "overwrite"
	// ModeAppend keeps existing rows and adds only newer ones
	ModeAppend WriteMode = "append"
)

// ParseWriteMode validates a configured mode string
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case ModeOverwrite, ModeAppend:
		return WriteMode(s), nil
	case "":
		return ModeOverwrite, nil
	default:
		return "", fmt.Errorf("unknown write mode %q", s)
	}
}

// ExportResult describes what one Export call did to the file
type ExportResult struct {
	Path    string    `json:"path"`
	Mode    WriteMode `json:"mode"`
	Written int       `json:"written"`
	Skipped int       `json:"skipped"`
	// Total is the number of data rows in the file afterwards
	Total int `json:"total"`
}

// RowsExporter writes processed rows in the fixed column layout
type RowsExporter struct {
	csvWriter *CSVWriter
	logger    *slog.Logger
	bom       bool
	threshold float64
}

// RowsOption configures a RowsExporter
type RowsOption func(*RowsExporter)

// WithBOM prefixes newly created files with a UTF-8 BOM
func WithBOM(enabled bool) RowsOption {
	return func(e *RowsExporter) {
		e.bom = enabled
	}
}

// WithOutlierThreshold sets the threshold used when the first appended row is
// rebased on the file's last close
func WithOutlierThreshold(threshold float64) RowsOption {
	return func(e *RowsExporter) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// NewRowsExporter creates a processed-row exporter
func NewRowsExporter(logger *slog.Logger, opts ...RowsOption) *RowsExporter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "exporter"))
	e := &RowsExporter{
		csvWriter: NewCSVWriter(logger),
		logger:    logger,
		threshold: dataprocessing.DefaultOptions().OutlierThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes rows to path. Rows must be in ascending timestamp order.
// In append mode a missing or empty file is created as in overwrite mode.
func (e *RowsExporter) Export(ctx context.Context, path string, rows []domain.ProcessedRow, mode WriteMode) (*ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ExportResult{Path: path, Mode: mode}

	switch mode {
	case ModeOverwrite:
		if err := e.write(path, rows, false); err != nil {
			return nil, err
		}
		result.Written = len(rows)
		result.Total = len(rows)

	case ModeAppend:
		last, existing, hasFile, err := lastRow(path)
		if err != nil {
			return nil, err
		}
		if !hasFile {
			if err := e.write(path, rows, false); err != nil {
				return nil, err
			}
			result.Written = len(rows)
			result.Total = len(rows)
			break
		}

		fresh := rowsAfter(rows, last.Timestamp)
		result.Skipped = len(rows) - len(fresh)
		if len(fresh) > 0 && existing > 0 {
			fresh = e.rebase(ctx, path, last, fresh)
		}
		if len(fresh) > 0 {
			if err := ensureTrailingNewline(path); err != nil {
				return nil, err
			}
			if err := e.write(path, fresh, true); err != nil {
				return nil, err
			}
		}
		result.Written = len(fresh)
		result.Total = existing + len(fresh)

	default:
		return nil, errors.NewStorageError(fmt.Sprintf("unknown write mode %q", mode), nil)
	}

	e.logger.InfoContext(ctx, "processed rows exported",
		slog.String("path", path),
		slog.String("mode", string(mode)),
		slog.Int("written", result.Written),
		slog.Int("skipped", result.Skipped))

	return result, nil
}

func (e *RowsExporter) write(path string, rows []domain.ProcessedRow, appendRows bool) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, FormatRow(r))
	}
	return e.csvWriter.WriteCSV(path, WriteOptions{
		Headers:   domain.ProcessedColumns,
		Records:   records,
		Append:    appendRows,
		BOMPrefix: e.bom,
	})
}

// rowsAfter returns the suffix of rows strictly newer than last. A zero last
// keeps every row.
func rowsAfter(rows []domain.ProcessedRow, last time.Time) []domain.ProcessedRow {
	if last.IsZero() {
		return rows
	}
	for i, r := range rows {
		if r.Timestamp.After(last) {
			return rows[i:]
		}
	}
	return nil
}

// rebase recomputes the first appended row's return against the last close
// already in the file, so the column stays continuous across runs. The
// caller's rows are not modified.
func (e *RowsExporter) rebase(ctx context.Context, path string, last domain.ProcessedRow, fresh []domain.ProcessedRow) []domain.ProcessedRow {
	out := slices.Clone(fresh)
	out[0].DailyReturn, out[0].Outlier = dataprocessing.ReturnFrom(last.Close, out[0].Close, e.threshold)
	if out[0].Outlier {
		e.logger.WarnContext(ctx, "potential outlier at append boundary",
			slog.String("path", path),
			slog.String("timestamp", formatTimestamp(out[0].Timestamp)),
			slog.Float64("daily_return", out[0].DailyReturn))
	}
	return out
}

// lastRow returns the newest row and the row count of an existing processed
// file. hasFile is false when the file is missing or empty.
func lastRow(path string) (last domain.ProcessedRow, count int, hasFile bool, err error) {
	info, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return last, 0, false, nil
	}
	if statErr != nil {
		return last, 0, false, errors.NewStorageError("failed to stat existing file", statErr).
			WithContext("path", path)
	}
	if info.Size() == 0 {
		return last, 0, false, nil
	}

	_, rows, err := ReadRows(path)
	if err != nil {
		return last, 0, false, err
	}
	for _, r := range rows {
		if r.Timestamp.After(last.Timestamp) {
			last = r
		}
	}
	return last, len(rows), true, nil
}

// ensureTrailingNewline terminates a final line left unterminated by another tool
func ensureTrailingNewline(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return errors.NewStorageError("failed to open existing file", err).WithContext("path", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.NewStorageError("failed to stat existing file", err).WithContext("path", path)
	}
	if info.Size() == 0 {
		return nil
	}

	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, info.Size()-1); err != nil {
		return errors.NewStorageError("failed to read existing file", err).WithContext("path", path)
	}
	if buf[0] == '\n' {
		return nil
	}
	if _, err := f.WriteAt([]byte{'\n'}, info.Size()); err != nil {
		return errors.NewStorageError("failed to terminate existing file", err).WithContext("path", path)
	}
	return nil
}

// FormatRow renders a processed row in column order
func FormatRow(r domain.ProcessedRow) []string {
	return []string{
		formatTimestamp(r.Timestamp),
		formatFloat(r.Open),
		formatFloat(r.High),
		formatFloat(r.Low),
		formatFloat(r.Close),
		formatFloat(r.Volume),
		formatOptionalFloat(r.VWAP),
		formatOptionalInt(r.Transactions),
		formatReturn(r.DailyReturn),
		formatBool(r.Outlier),
	}
}

// ParseRow is the inverse of FormatRow. daily_return comes back rounded to
// the precision it was written with.
func ParseRow(record []string) (domain.ProcessedRow, error) {
	var row domain.ProcessedRow
	if len(record) != len(domain.ProcessedColumns) {
		return row, fmt.Errorf("expected %d columns, got %d", len(domain.ProcessedColumns), len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return row, fmt.Errorf("%s: %w", domain.ColumnTimestamp, err)
	}
	row.Timestamp = ts.UTC()

	required := []struct {
		name string
		dst  *float64
		raw  string
	}{
		{domain.ColumnOpen, &row.Open, record[1]},
		{domain.ColumnHigh, &row.High, record[2]},
		{domain.ColumnLow, &row.Low, record[3]},
		{domain.ColumnClose, &row.Close, record[4]},
		{domain.ColumnVolume, &row.Volume, record[5]},
		{domain.ColumnDailyReturn, &row.DailyReturn, record[8]},
	}
	for _, f := range required {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return row, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}

	if row.VWAP, err = parseOptionalFloat(record[6]); err != nil {
		return row, fmt.Errorf("%s: %w", domain.ColumnVWAP, err)
	}
	if row.Transactions, err = parseOptionalInt(record[7]); err != nil {
		return row, fmt.Errorf("%s: %w", domain.ColumnTransactions, err)
	}
	if row.Outlier, err = strconv.ParseBool(record[9]); err != nil {
		return row, fmt.Errorf("%s: %w", domain.ColumnOutlier, err)
	}
	return row, nil
}

// ReadRows parses a processed CSV file and returns its header and rows. A
// leading UTF-8 BOM is ignored. A header that is not the processed column
// layout is a storage error.
func ReadRows(path string) ([]string, []domain.ProcessedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.NewStorageError("failed to open processed file", err).
			WithContext("path", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, nil, errors.NewStorageError("failed to read processed file", err).
				WithContext("path", path)
		}
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, errors.NewStorageError("processed file is empty", nil).
			WithContext("path", path)
	}
	if err != nil {
		return nil, nil, errors.NewStorageError("failed to read header", err).
			WithContext("path", path)
	}
	if !slices.Equal(header, domain.ProcessedColumns) {
		return nil, nil, errors.NewStorageError("processed file has unexpected columns", nil).
			WithContext("path", path).
			WithContext("columns", header)
	}

	rows := []domain.ProcessedRow{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.NewStorageError("failed to read record", err).
				WithContext("path", path).
				WithContext("line", line)
		}
		row, err := ParseRow(record)
		if err != nil {
			return nil, nil, errors.NewStorageError("malformed processed record", err).
				WithContext("path", path).
				WithContext("line", line)
		}
		rows = append(rows, row)
	}

	return header, rows, nil
}
