package dataprocessing

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"polyetl/internal/errors"
	"polyetl/pkg/contracts"
	"polyetl/pkg/contracts/domain"
)

// Summarizer reduces processed rows to one summary per ticker.
type Summarizer struct {
	logger       *slog.Logger
	maxLastBars  int
	timestampFmt string
}

// SummarizerConfig holds configuration options for the Summarizer.
type SummarizerConfig struct {
	MaxLastBars     int    // Number of trailing closes to keep
	TimestampFormat string // Format for timestamps in output
}

// TickerSummary describes one processed dataset.
type TickerSummary struct {
	Ticker       string    `json:"ticker"`
	File         string    `json:"file,omitempty"`
	Rows         int       `json:"rows"`
	FirstBar     string    `json:"first_bar"`
	LastBar      string    `json:"last_bar"`
	FirstClose   float64   `json:"first_close"`
	LastClose    float64   `json:"last_close"`
	PeriodReturn float64   `json:"period_return"`
	HighestHigh  float64   `json:"highest_high"`
	LowestLow    float64   `json:"lowest_low"`
	AverageClose float64   `json:"average_close"`
	TotalVolume  float64   `json:"total_volume"`
	MaxDrawdown  float64   `json:"max_drawdown"`
	Outliers     int       `json:"outliers"`
	LastCloses   []float64 `json:"last_closes"`
}

// NewSummarizer creates a new ticker summarizer with the given configuration.
func NewSummarizer(logger *slog.Logger, config SummarizerConfig) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}

	if config.MaxLastBars <= 0 {
		config.MaxLastBars = 10
	}
	if config.TimestampFormat == "" {
		config.TimestampFormat = time.RFC3339
	}

	return &Summarizer{
		logger:       logger,
		maxLastBars:  config.MaxLastBars,
		timestampFmt: config.TimestampFormat,
	}
}

// DefaultSummarizerConfig returns a default configuration for typical use cases.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		MaxLastBars:     10,
		TimestampFormat: time.RFC3339,
	}
}

// Summarize builds the summary for one ticker's processed rows. Rows must be
// in ascending time order, as Preprocessor returns them.
func (s *Summarizer) Summarize(ticker string, rows []domain.ProcessedRow) TickerSummary {
	summary := TickerSummary{
		Ticker:     ticker,
		Rows:       len(rows),
		LastCloses: []float64{},
	}
	if len(rows) == 0 {
		return summary
	}

	first, last := rows[0], rows[len(rows)-1]
	summary.FirstBar = first.Timestamp.UTC().Format(s.timestampFmt)
	summary.LastBar = last.Timestamp.UTC().Format(s.timestampFmt)
	summary.FirstClose = first.Close
	summary.LastClose = last.Close
	summary.PeriodReturn = last.Close/first.Close - 1

	summary.HighestHigh = first.High
	summary.LowestLow = first.Low
	peak := first.Close
	var closeSum float64
	for _, r := range rows {
		summary.HighestHigh = math.Max(summary.HighestHigh, r.High)
		summary.LowestLow = math.Min(summary.LowestLow, r.Low)
		summary.TotalVolume += r.Volume
		closeSum += r.Close
		if r.Outlier {
			summary.Outliers++
		}

		peak = math.Max(peak, r.Close)
		if dd := r.Close/peak - 1; dd < summary.MaxDrawdown {
			summary.MaxDrawdown = dd
		}
	}
	summary.AverageClose = closeSum / float64(len(rows))

	start := len(rows) - s.maxLastBars
	if start < 0 {
		start = 0
	}
	for _, r := range rows[start:] {
		summary.LastCloses = append(summary.LastCloses, r.Close)
	}

	return summary
}

// WriteJSON writes ticker summaries to a JSON file with metadata.
func (s *Summarizer) WriteJSON(ctx context.Context, path string, summaries []TickerSummary) error {
	s.logger.InfoContext(ctx, "writing ticker summaries to JSON",
		slog.String("path", path),
		slog.Int("summary_count", len(summaries)))

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewStorageError("failed to create directory for JSON output", err)
	}

	sorted := make([]TickerSummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ticker < sorted[j].Ticker
	})

	jsonData := map[string]interface{}{
		"tickers":      sorted,
		"count":        len(sorted),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"format":       "ticker_summary_" + contracts.DataFormatVersion,
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.NewStorageError("failed to create JSON file for ticker summaries", err).
			WithContext("path", path)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(jsonData); err != nil {
		file.Close()
		return errors.NewStorageError("failed to encode ticker summaries to JSON", err).
			WithContext("path", path)
	}

	// A failed close can mean the summary never reached the disk
	if err := file.Close(); err != nil {
		return errors.NewStorageError("failed to close JSON file for ticker summaries", err).
			WithContext("path", path)
	}

	s.logger.InfoContext(ctx, "successfully wrote ticker summaries to JSON",
		slog.String("path", path))

	return nil
}
