// Command polystream captures realtime trades from the Polygon.io websocket
// feed and writes one <TICKER>_trades.csv per subscribed ticker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"polyetl/internal/config"
	apperrors "polyetl/internal/errors"
	"polyetl/internal/exporter"
	"polyetl/internal/infrastructure"
	"polyetl/internal/stream"
	"polyetl/internal/validation"
	"polyetl/pkg/contracts"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("polystream", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "YAML config file")
	envFile := fs.String("env-file", "", "dotenv file to load (default: .env if present)")
	tickers := fs.String("tickers", "", "comma-separated tickers to subscribe to")
	duration := fs.Duration("duration", 0, "stop after this long, e.g. 30s")
	maxTrades := fs.Int("max-trades", 0, "stop after this many trades in total")
	dataDir := fs.String("data-dir", "", "output directory")
	wsURL := fs.String("url", "", "websocket endpoint")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn or error")
	version := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return apperrors.ExitOK
		}
		return apperrors.ExitConfig
	}
	if *version {
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return apperrors.ExitOK
	}

	cfg, err := config.Read(config.LoadOptions{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		return fail(stderr, err)
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tickers":
			cfg.Request.Tickers = strings.Split(*tickers, ",")
		case "duration":
			cfg.Stream.Duration = *duration
		case "max-trades":
			cfg.Stream.MaxTrades = *maxTrades
		case "data-dir":
			cfg.Output.DataDir = *dataDir
		case "url":
			cfg.Vendor.WebsocketURL = *wsURL
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})
	cfg.Normalize()
	if err := cfg.ValidateStream(); err != nil {
		return fail(stderr, err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("failed to initialize logger", err))
	}
	defer infrastructure.CloseLogFile()

	paths, err := config.GetPaths(cfg)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("failed to resolve paths", err))
	}

	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.TraceExporter = cfg.Telemetry.TraceExporter
	otelCfg.EnableMetrics = cfg.Telemetry.MetricsEnabled || cfg.Telemetry.MetricsFile != ""
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("failed to initialize telemetry", err))
	}
	defer providers.Shutdown(context.Background())

	metrics, err := infrastructure.CreateETLMetrics(providers.Meter)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("failed to create metrics", err))
	}

	s, err := stream.New(cfg.APIKey,
		stream.WithURL(cfg.Vendor.WebsocketURL),
		stream.WithLogger(logger),
		stream.WithMetrics(metrics),
	)
	if err != nil {
		return fail(stderr, err)
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	capture, captureErr := s.Capture(ctx, cfg.Request.Tickers, stream.Limits{
		Duration:  cfg.Stream.Duration,
		MaxTrades: cfg.Stream.MaxTrades,
	})
	if capture == nil {
		return fail(stderr, captureErr)
	}

	// Whatever arrived before a signal or a dropped connection is still written out
	if err := writeCapture(context.WithoutCancel(ctx), paths, capture, logger, stdout); err != nil {
		return fail(stderr, err)
	}

	if cfg.Telemetry.MetricsFile != "" {
		if err := providers.WriteMetricsFile(cfg.Telemetry.MetricsFile); err != nil {
			logger.Warn("failed to write metrics file", slog.String("error", err.Error()))
		}
	}

	if captureErr != nil {
		return fail(stderr, captureErr)
	}
	return apperrors.ExitOK
}

func writeCapture(ctx context.Context, paths *config.Paths, capture *stream.Capture, logger *slog.Logger, stdout io.Writer) error {
	if err := validation.NewFileValidator(logger).PrepareOutputDirectory(paths.DataDir); err != nil {
		return err
	}
	trades := exporter.NewTradesExporter(logger)
	for _, ticker := range capture.Tickers {
		path := paths.TradesFile(ticker)
		got := capture.For(ticker)
		if err := trades.Export(ctx, path, got); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%-10s trades=%d %s\n", ticker, len(got), path)
	}
	fmt.Fprintf(stdout, "capture stopped by %s after %s, %d trades\n",
		orUnknown(capture.StoppedBy), capture.Ended.Sub(capture.Started).Round(time.Millisecond), capture.Total)
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "error"
	}
	return s
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "polystream: %v\n", err)
	return apperrors.ExitCode(err)
}
