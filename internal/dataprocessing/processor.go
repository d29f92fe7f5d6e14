package dataprocessing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	apperrors "polyetl/internal/errors"
	"polyetl/pkg/contracts/domain"
)

// Preprocessor is the default Processor
type Preprocessor struct {
	logger  *slog.Logger
	options ProcessingOptions
}

// NewPreprocessor creates a new preprocessor
func NewPreprocessor(logger *slog.Logger, options ProcessingOptions) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	if options.OutlierThreshold <= 0 {
		options.OutlierThreshold = DefaultOptions().OutlierThreshold
	}
	return &Preprocessor{
		logger:  logger.With(slog.String("component", "processor")),
		options: options,
	}
}

// Process validates bars, orders and de-duplicates them by timestamp, fills
// optional fields and derives daily returns. Zero bars yield zero rows.
func (p *Preprocessor) Process(ctx context.Context, ticker string, bars []domain.Bar) ([]domain.ProcessedRow, Statistics, error) {
	stats := Statistics{InputRows: len(bars)}

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	if len(bars) == 0 {
		p.logger.WarnContext(ctx, "no bars to process", slog.String("ticker", ticker))
		return []domain.ProcessedRow{}, stats, nil
	}

	p.logger.InfoContext(ctx, "starting preprocessing",
		slog.String("ticker", ticker),
		slog.Int("rows", len(bars)))

	for i := range bars {
		if err := validateBar(bars[i]); err != nil {
			return nil, stats, err.
				WithContext("ticker", ticker).
				WithContext("index", i)
		}
	}

	rows := orderAndDedupe(bars, &stats)

	if p.options.EnableFill {
		stats.VWAPFilled = fillFloat(rows)
		stats.TransactionsFilled = fillInt(rows)
	}

	p.computeReturns(ctx, ticker, rows, &stats)

	stats.OutputRows = len(rows)
	stats.First = rows[0].Timestamp
	stats.Last = rows[len(rows)-1].Timestamp

	p.logger.InfoContext(ctx, "preprocessing completed",
		slog.String("ticker", ticker),
		slog.Int("input_rows", stats.InputRows),
		slog.Int("output_rows", stats.OutputRows),
		slog.Int("duplicates_dropped", stats.DuplicatesDropped),
		slog.Int("vwap_filled", stats.VWAPFilled),
		slog.Int("transactions_filled", stats.TransactionsFilled),
		slog.Int("outliers", stats.Outliers))

	return rows, stats, nil
}

// validateBar rejects bars with missing or impossible required fields
func validateBar(b domain.Bar) *apperrors.AppError {
	invalid := func(field string, value interface{}) *apperrors.AppError {
		return apperrors.NewProcessingError(fmt.Sprintf("record has invalid %s", field), nil).
			WithContext("field", field).
			WithContext("value", value)
	}

	if b.Timestamp.IsZero() {
		return invalid(domain.ColumnTimestamp, "missing")
	}
	prices := []struct {
		name  string
		value float64
	}{
		{domain.ColumnOpen, b.Open},
		{domain.ColumnHigh, b.High},
		{domain.ColumnLow, b.Low},
		{domain.ColumnClose, b.Close},
	}
	for _, f := range prices {
		if !isFinite(f.value) || f.value <= 0 {
			return invalid(f.name, f.value)
		}
	}
	if !isFinite(b.Volume) || b.Volume < 0 {
		return invalid(domain.ColumnVolume, b.Volume)
	}
	if b.High < b.Low {
		return invalid(domain.ColumnHigh, fmt.Sprintf("high %v below low %v", b.High, b.Low))
	}
	if b.VWAP != nil && (!isFinite(*b.VWAP) || *b.VWAP < 0) {
		return invalid(domain.ColumnVWAP, *b.VWAP)
	}
	if b.Transactions != nil && *b.Transactions < 0 {
		return invalid(domain.ColumnTransactions, *b.Transactions)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// orderAndDedupe converts bars to rows in ascending UTC time. For repeated
// timestamps the later bar wins.
func orderAndDedupe(bars []domain.Bar, stats *Statistics) []domain.ProcessedRow {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	rows := make([]domain.ProcessedRow, 0, len(sorted))
	for _, b := range sorted {
		row := domain.ProcessedRow{
			Timestamp:    b.Timestamp.UTC(),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			VWAP:         copyFloat(b.VWAP),
			Transactions: copyInt(b.Transactions),
		}
		if n := len(rows); n > 0 && rows[n-1].Timestamp.Equal(row.Timestamp) {
			rows[n-1] = row
			stats.DuplicatesDropped++
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// fillFloat forward- then back-fills VWAP and returns how many cells it filled
func fillFloat(rows []domain.ProcessedRow) int {
	filled := 0
	var last *float64
	for i := range rows {
		if rows[i].VWAP == nil {
			if last != nil {
				rows[i].VWAP = copyFloat(last)
				filled++
			}
			continue
		}
		last = rows[i].VWAP
	}
	last = nil
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].VWAP == nil {
			if last != nil {
				rows[i].VWAP = copyFloat(last)
				filled++
			}
			continue
		}
		last = rows[i].VWAP
	}
	return filled
}

// fillInt forward- then back-fills transactions and returns how many cells it filled
func fillInt(rows []domain.ProcessedRow) int {
	filled := 0
	var last *int64
	for i := range rows {
		if rows[i].Transactions == nil {
			if last != nil {
				rows[i].Transactions = copyInt(last)
				filled++
			}
			continue
		}
		last = rows[i].Transactions
	}
	last = nil
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Transactions == nil {
			if last != nil {
				rows[i].Transactions = copyInt(last)
				filled++
			}
			continue
		}
		last = rows[i].Transactions
	}
	return filled
}

// computeReturns sets daily_return and the outlier flag on every row
func (p *Preprocessor) computeReturns(ctx context.Context, ticker string, rows []domain.ProcessedRow, stats *Statistics) {
	var outliers []time.Time
	for i := range rows {
		if i == 0 {
			rows[i].DailyReturn = 0
			continue
		}
		rows[i].DailyReturn, rows[i].Outlier = ReturnFrom(rows[i-1].Close, rows[i].Close, p.options.OutlierThreshold)
		if rows[i].Outlier {
			outliers = append(outliers, rows[i].Timestamp)
		}
	}

	stats.Outliers = len(outliers)
	if len(outliers) == 0 {
		return
	}

	sample := make([]string, 0, 5)
	for _, ts := range outliers {
		if len(sample) == cap(sample) {
			break
		}
		sample = append(sample, ts.Format(time.RFC3339))
	}
	p.logger.WarnContext(ctx, "potential outliers detected",
		slog.String("ticker", ticker),
		slog.Float64("threshold", p.options.OutlierThreshold),
		slog.Int("count", len(outliers)),
		slog.Any("timestamps", sample))
}

// ReturnFrom returns close/prevClose - 1 and whether its magnitude exceeds threshold
func ReturnFrom(prevClose, close, threshold float64) (float64, bool) {
	ret := close/prevClose - 1
	return ret, math.Abs(ret) > threshold
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
