package testutil

import (
	"time"

	"polyetl/pkg/contracts/domain"
)

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v
func Int(v int64) *int64 { return &v }

// Day returns midnight UTC of the given date
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// MakeBars builds n consecutive daily bars starting at start. Closes rise by
// one per bar from 100 so returns stay well below outlier thresholds.
func MakeBars(ticker string, start time.Time, n int) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	for i := 0; i < n; i++ {
		c := 100 + float64(i)
		bars = append(bars, domain.Bar{
			Ticker:       ticker,
			Timestamp:    start.AddDate(0, 0, i),
			Open:         c - 0.5,
			High:         c + 1,
			Low:          c - 1,
			Close:        c,
			Volume:       1000 + float64(i)*10,
			VWAP:         Float(c - 0.1),
			Transactions: Int(int64(50 + i)),
		})
	}
	return bars
}
