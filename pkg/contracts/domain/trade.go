package domain

import (
	"time"
)

// Trade is a single trade print received from the realtime feed
type Trade struct {
	Ticker     string    `json:"ticker"`
	Timestamp  time.Time `json:"timestamp"`
	Price      float64   `json:"price"`
	Size       int64     `json:"size"`
	Exchange   int       `json:"exchange"`
	Conditions []int     `json:"conditions,omitempty"`
}

// TradeColumns is the column layout of captured trade files
var TradeColumns = []string{"timestamp", "ticker", "price", "size", "exchange", "conditions"}
