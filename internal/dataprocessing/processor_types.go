package dataprocessing

import (
	"context"
	"time"

	"polyetl/pkg/contracts/domain"
)

// Processor defines the interface for data processing operations
type Processor interface {
	// Process takes raw bars for one ticker and returns processed rows
	Process(ctx context.Context, ticker string, bars []domain.Bar) ([]domain.ProcessedRow, Statistics, error)
}

// ProcessingOptions configures processing behavior
type ProcessingOptions struct {
	// OutlierThreshold flags rows whose absolute daily return exceeds it
	OutlierThreshold float64

	// EnableFill forward- then back-fills vwap and transactions
	EnableFill bool
}

// DefaultOptions returns default processing options
func DefaultOptions() ProcessingOptions {
	return ProcessingOptions{
		OutlierThreshold: 0.15,
		EnableFill:       true,
	}
}

// Statistics describes what one Process call did
type Statistics struct {
	InputRows          int       `json:"input_rows"`
	OutputRows         int       `json:"output_rows"`
	DuplicatesDropped  int       `json:"duplicates_dropped"`
	VWAPFilled         int       `json:"vwap_filled"`
	TransactionsFilled int       `json:"transactions_filled"`
	Outliers           int       `json:"outliers"`
	First              time.Time `json:"first,omitempty"`
	Last               time.Time `json:"last,omitempty"`
}
