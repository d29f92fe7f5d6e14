package exporter

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"polyetl/pkg/contracts/domain"
)

// TradesExporter writes captured realtime trades, one file per ticker
type TradesExporter struct {
	csvWriter *CSVWriter
	logger    *slog.Logger
}

// NewTradesExporter creates a trades exporter
func NewTradesExporter(logger *slog.Logger) *TradesExporter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "trades_exporter"))
	return &TradesExporter{
		csvWriter: NewCSVWriter(logger),
		logger:    logger,
	}
}

// Export replaces the file at path with trades in arrival order
func (t *TradesExporter) Export(ctx context.Context, path string, trades []domain.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stream, err := t.csvWriter.CreateStreamWriter(path, domain.TradeColumns, false)
	if err != nil {
		return err
	}
	for _, tr := range trades {
		if err := stream.WriteRecord(FormatTrade(tr)); err != nil {
			stream.Close()
			return err
		}
	}
	if err := stream.Close(); err != nil {
		return err
	}

	t.logger.InfoContext(ctx, "trades exported",
		slog.String("path", path),
		slog.Int("trades", stream.Count()))
	return nil
}

// FormatTrade renders a trade in TradeColumns order. Condition codes are
// joined with ';' to stay inside one cell.
func FormatTrade(tr domain.Trade) []string {
	conditions := make([]string, len(tr.Conditions))
	for i, c := range tr.Conditions {
		conditions[i] = strconv.Itoa(c)
	}
	return []string{
		tr.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		tr.Ticker,
		formatFloat(tr.Price),
		formatInt(tr.Size),
		strconv.Itoa(tr.Exchange),
		strings.Join(conditions, ";"),
	}
}
