package config

import "time"

// Application constants
const (
	// Application Info
	AppName = "polyetl"

	// Environment
	EnvPrefix      = "POLYETL"
	APIKeyEnvVar   = "POLYGON_API_KEY"
	DefaultEnvFile = ".env"

	// Request defaults
	DefaultTicker     = "AAPL"
	DefaultStartDate  = "2023-01-01"
	DefaultEndDate    = "2024-01-01"
	DefaultTimespan   = "day"
	DefaultMultiplier = 1
	MaxAggregateLimit = 50000

	// Vendor
	DefaultWebSocketURL = "wss://socket.polygon.io/stocks"
	DefaultHTTPTimeout  = 30 * time.Second

	// File Paths (relative to the working directory)
	DefaultDataDir = "data"
	DefaultLogsDir = "logs"

	// Write modes
	WriteModeOverwrite = "overwrite"
	WriteModeAppend    = "append"

	// Processing
	DefaultOutlierThreshold = 0.15

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// File naming
	ProcessedFileSuffix = "_processed.csv"
	TradesFileSuffix    = "_trades.csv"
	SummaryFileName     = "ticker_summary.json"
)
