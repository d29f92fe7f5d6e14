// Package config provides centralized configuration management for polyetl.
// It loads configuration from multiple sources, validates it, and exposes the
// output file naming rules used by the exporter.
//
// # Configuration Sources
//
// Configuration is layered in the following order, later sources winning:
//
//  1. Default values
//  2. YAML file (POLYETL_CONFIG, ./config.yaml or ./configs/config.yaml)
//  3. .env file (never overrides variables already set)
//  4. Environment variables
//  5. Command-line flags applied by the caller
//
// # Environment Variables
//
// The credential is read from POLYGON_API_KEY. Everything else follows the
// pattern POLYETL_<SECTION>_<FIELD>:
//
//	POLYGON_API_KEY=...
//	POLYETL_REQUEST_TICKERS=AAPL,MSFT
//	POLYETL_REQUEST_FROM=2023-01-01
//	POLYETL_OUTPUT_DATA_DIR=data
//	POLYETL_OUTPUT_MODE=append
//	POLYETL_LOG_LEVEL=debug
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    os.Exit(apperrors.ExitCode(err))
//	}
//	paths, _ := config.GetPaths(cfg)
//	out := paths.ProcessedFile(req) // data/AAPL_daily_adjusted_processed.csv
package config
