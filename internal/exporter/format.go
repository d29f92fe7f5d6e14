package exporter

import (
	"strconv"
	"time"
)

// returnPrecision is the number of decimals kept for daily_return
const returnPrecision = 6

// formatFloat formats a price or volume with the shortest exact representation
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatReturn formats a daily return with a fixed number of decimals
func formatReturn(f float64) string {
	return strconv.FormatFloat(f, 'f', returnPrecision, 64)
}

// formatOptionalFloat renders nil as an empty cell
func formatOptionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

// formatInt formats an int64 value for CSV output
func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

// formatOptionalInt renders nil as an empty cell
func formatOptionalInt(i *int64) string {
	if i == nil {
		return ""
	}
	return formatInt(*i)
}

// formatBool formats a boolean value for CSV output
func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

// formatTimestamp renders t as RFC3339 in UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseOptionalInt(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &i, nil
}
