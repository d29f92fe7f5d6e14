package domain

import "time"

// Output column names of the processed CSV, in file order
const (
	ColumnTimestamp    = "timestamp"
	ColumnOpen         = "open"
	ColumnHigh         = "high"
	ColumnLow          = "low"
	ColumnClose        = "close"
	ColumnVolume       = "volume"
	ColumnVWAP         = "vwap"
	ColumnTransactions = "transactions"
	ColumnDailyReturn  = "daily_return"
	ColumnOutlier      = "outlier"
)

// ProcessedColumns is the fixed column layout of every processed file
var ProcessedColumns = []string{
	ColumnTimestamp,
	ColumnOpen,
	ColumnHigh,
	ColumnLow,
	ColumnClose,
	ColumnVolume,
	ColumnVWAP,
	ColumnTransactions,
	ColumnDailyReturn,
	ColumnOutlier,
}

// ProcessedRow is a cleaned bar with derived fields, ready for tabular storage
type ProcessedRow struct {
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	VWAP         *float64  `json:"vwap,omitempty"`
	Transactions *int64    `json:"transactions,omitempty"`
	DailyReturn  float64   `json:"daily_return"`
	Outlier      bool      `json:"outlier"`
}
