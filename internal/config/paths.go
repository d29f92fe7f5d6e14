package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"polyetl/pkg/contracts/domain"
)

// Paths contains all the application paths.
// This is the single source of truth for output file locations.
type Paths struct {
	DataDir string
	LogsDir string
}

// GetPaths returns the application paths for cfg. Relative directories are
// resolved against the current working directory.
func GetPaths(cfg *Config) (*Paths, error) {
	dataDir, err := filepath.Abs(cfg.Output.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory %q: %w", cfg.Output.DataDir, err)
	}

	logsDir := DefaultLogsDir
	if cfg.Logging.FilePath != "" {
		logsDir = filepath.Dir(cfg.Logging.FilePath)
	}
	logsDir, err = filepath.Abs(logsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve logs directory %q: %w", logsDir, err)
	}

	return &Paths{
		DataDir: dataDir,
		LogsDir: logsDir,
	}, nil
}

// ProcessedFile returns the CSV path for a processed aggregate request
func (p *Paths) ProcessedFile(req domain.AggregateRequest) string {
	return filepath.Join(p.DataDir, ProcessedFileName(req))
}

// ProcessedWorkbook returns the XLSX path for a processed aggregate request
func (p *Paths) ProcessedWorkbook(req domain.AggregateRequest) string {
	return strings.TrimSuffix(p.ProcessedFile(req), ".csv") + ".xlsx"
}

// TradesFile returns the CSV path for captured realtime trades
func (p *Paths) TradesFile(ticker string) string {
	return filepath.Join(p.DataDir, safeTicker(ticker)+TradesFileSuffix)
}

// SummaryFile returns the path of the per-run ticker summary
func (p *Paths) SummaryFile() string {
	return filepath.Join(p.DataDir, SummaryFileName)
}

// ProcessedFileName builds <TICKER>_<label>_<adjusted|unadjusted>_processed.csv
func ProcessedFileName(req domain.AggregateRequest) string {
	adj := "adjusted"
	if !req.Adjusted {
		adj = "unadjusted"
	}
	return fmt.Sprintf("%s_%s_%s%s", safeTicker(req.Ticker), FileLabel(req.Multiplier, req.Timespan), adj, ProcessedFileSuffix)
}

// FileLabel names the bar size: "daily" for one-day bars, otherwise the
// multiplier followed by the timespan, e.g. "5minute".
func FileLabel(multiplier int, timespan domain.Timespan) string {
	if multiplier == 1 && timespan == domain.TimespanDay {
		return "daily"
	}
	return fmt.Sprintf("%d%s", multiplier, timespan)
}

// safeTicker makes a ticker usable as a file name component
func safeTicker(ticker string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return r.Replace(strings.ToUpper(ticker))
}
