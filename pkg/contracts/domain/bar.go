package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used by aggregate requests
const DateLayout = "2006-01-02"

// Timespan is the size of the aggregate window
type Timespan string

const (
	TimespanMinute  Timespan = "minute"
	TimespanHour    Timespan = "hour"
	TimespanDay     Timespan = "day"
	TimespanWeek    Timespan = "week"
	TimespanMonth   Timespan = "month"
	TimespanQuarter Timespan = "quarter"
	TimespanYear    Timespan = "year"
)

// Timespans lists every timespan accepted by the vendor
var Timespans = []Timespan{
	TimespanMinute, TimespanHour, TimespanDay, TimespanWeek,
	TimespanMonth, TimespanQuarter, TimespanYear,
}

// ParseTimespan converts a case-insensitive string into a Timespan
func ParseTimespan(s string) (Timespan, error) {
	ts := Timespan(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Timespans {
		if ts == known {
			return ts, nil
		}
	}
	return "", fmt.Errorf("unknown timespan %q", s)
}

// AggregateRequest describes one aggregate-bar query against the vendor
type AggregateRequest struct {
	Ticker     string   `json:"ticker" validate:"required,ticker"`
	Multiplier int      `json:"multiplier" validate:"min=1"`
	Timespan   Timespan `json:"timespan" validate:"required,oneof=minute hour day week month quarter year"`
	From       string   `json:"from" validate:"required,datetime=2006-01-02"`
	To         string   `json:"to" validate:"required,datetime=2006-01-02"`
	Adjusted   bool     `json:"adjusted"`
	Limit      int      `json:"limit" validate:"min=1,max=50000"`
}

// Range parses the From and To dates. To is inclusive, so the returned end
// is the last instant of that day in UTC.
func (r AggregateRequest) Range() (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(DateLayout, r.From, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: %w", r.From, err)
	}
	to, err := time.ParseInLocation(DateLayout, r.To, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: %w", r.To, err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("from date %s is after to date %s", r.From, r.To)
	}
	return from, to.Add(24*time.Hour - time.Millisecond), nil
}

// String renders the request for log lines
func (r AggregateRequest) String() string {
	return fmt.Sprintf("%s %d/%s %s..%s", r.Ticker, r.Multiplier, r.Timespan, r.From, r.To)
}

// Bar is a single OHLCV aggregate as returned by the vendor. Optional
// fields are nil when the vendor omitted them.
type Bar struct {
	Ticker       string    `json:"ticker"`
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	VWAP         *float64  `json:"vwap,omitempty"`
	Transactions *int64    `json:"transactions,omitempty"`
}
