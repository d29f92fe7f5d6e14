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

	"polyetl/internal/acquirer"
	"polyetl/internal/config"
	"polyetl/internal/dataprocessing"
	apperrors "polyetl/internal/errors"
	"polyetl/internal/exporter"
	"polyetl/internal/infrastructure"
	"polyetl/internal/pipeline"
	"polyetl/pkg/contracts"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// flags holds the command line overrides. Only flags that were set are
// applied on top of the loaded configuration.
type flags struct {
	configFile  string
	envFile     string
	tickers     string
	from        string
	to          string
	timespan    string
	multiplier  int
	unadjusted  bool
	dataDir     string
	mode        string
	xlsx        bool
	summary     bool
	noVerify    bool
	logLevel    string
	metricsFile string
	version     bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, map[string]bool, error) {
	f := &flags{}
	fs := flag.NewFlagSet("polyetl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.configFile, "config", "", "YAML config file (default: $POLYETL_CONFIG, config.yaml or configs/config.yaml)")
	fs.StringVar(&f.envFile, "env-file", "", "dotenv file to load (default: .env if present)")
	fs.StringVar(&f.tickers, "tickers", "", "comma-separated tickers, e.g. AAPL,MSFT")
	fs.StringVar(&f.from, "from", "", "start date YYYY-MM-DD")
	fs.StringVar(&f.to, "to", "", "end date YYYY-MM-DD, inclusive")
	fs.StringVar(&f.timespan, "timespan", "", "bar size: minute, hour, day, week, month, quarter or year")
	fs.IntVar(&f.multiplier, "multiplier", 0, "number of timespans per bar")
	fs.BoolVar(&f.unadjusted, "unadjusted", false, "request prices not adjusted for splits")
	fs.StringVar(&f.dataDir, "data-dir", "", "output directory")
	fs.StringVar(&f.mode, "mode", "", "write mode: overwrite or append")
	fs.BoolVar(&f.xlsx, "xlsx", false, "also write an .xlsx workbook per ticker")
	fs.BoolVar(&f.summary, "summary", false, "write "+config.SummaryFileName+" to the data directory")
	fs.BoolVar(&f.noVerify, "no-verify", false, "skip reading files back after writing")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	return f, set, nil
}

// apply copies the flags that were given onto cfg
func (f *flags) apply(cfg *config.Config, set map[string]bool) {
	if set["tickers"] {
		cfg.Request.Tickers = strings.Split(f.tickers, ",")
	}
	if set["from"] {
		cfg.Request.From = f.from
	}
	if set["to"] {
		cfg.Request.To = f.to
	}
	if set["timespan"] {
		cfg.Request.Timespan = f.timespan
	}
	if set["multiplier"] {
		cfg.Request.Multiplier = f.multiplier
	}
	if set["unadjusted"] {
		cfg.Request.Adjusted = !f.unadjusted
	}
	if set["data-dir"] {
		cfg.Output.DataDir = f.dataDir
	}
	if set["mode"] {
		cfg.Output.Mode = f.mode
	}
	if set["xlsx"] {
		cfg.Output.XLSX = f.xlsx
	}
	if set["summary"] {
		cfg.Output.Summary = f.summary
	}
	if set["no-verify"] {
		cfg.Output.Verify = !f.noVerify
	}
	if set["log-level"] {
		cfg.Logging.Level = f.logLevel
	}
	if set["metrics-file"] {
		cfg.Telemetry.MetricsFile = f.metricsFile
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, set, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return apperrors.ExitOK
	}
	if err != nil {
		return apperrors.ExitConfig
	}
	if f.version {
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return apperrors.ExitOK
	}

	cfg, err := config.Read(config.LoadOptions{ConfigFile: f.configFile, EnvFile: f.envFile})
	if err != nil {
		return fail(stderr, err)
	}
	f.apply(cfg, set)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fail(stderr, err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("failed to initialize logger", err))
	}
	defer infrastructure.CloseLogFile()

	logger.Info("Starting polyetl",
		slog.String("version", contracts.Version),
		slog.Any("config", cfg))

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
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	metrics, err := infrastructure.CreateETLMetrics(providers.Meter)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("failed to create metrics", err))
	}

	client, err := acquirer.NewClient(cfg.APIKey,
		acquirer.WithBaseURL(cfg.Vendor.BaseURL),
		acquirer.WithTimeout(cfg.Vendor.Timeout),
		acquirer.WithRateLimit(cfg.Vendor.RequestsPerMinute),
		acquirer.WithLogger(logger),
		acquirer.WithTracer(providers.Tracer),
		acquirer.WithMetrics(metrics),
	)
	if err != nil {
		return fail(stderr, err)
	}

	mode, err := exporter.ParseWriteMode(cfg.Output.Mode)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("invalid write mode", err))
	}

	processor := dataprocessing.NewPreprocessor(logger, dataprocessing.ProcessingOptions{
		OutlierThreshold: cfg.Processing.OutlierThreshold,
		EnableFill:       true,
	})

	opts := []pipeline.Option{
		pipeline.WithRowsWriter(exporter.NewRowsExporter(logger,
			exporter.WithBOM(cfg.Output.BOM),
			exporter.WithOutlierThreshold(cfg.Processing.OutlierThreshold))),
		pipeline.WithMode(mode),
		pipeline.WithVerify(cfg.Output.Verify),
		pipeline.WithSummary(cfg.Output.Summary),
		pipeline.WithLogger(logger),
		pipeline.WithTracer(providers.Tracer),
		pipeline.WithMetrics(metrics),
	}
	if cfg.Output.XLSX {
		opts = append(opts, pipeline.WithWorkbook(exporter.NewXLSXExporter(logger)))
	}
	runner := pipeline.NewRunner(client, processor, paths, opts...)

	report, runErr := runner.Run(ctx, cfg.Requests())
	if report != nil {
		if err := report.WriteText(stdout); err != nil {
			logger.Warn("failed to print report", slog.String("error", err.Error()))
		}
	}

	if cfg.Telemetry.MetricsFile != "" {
		if err := providers.WriteMetricsFile(cfg.Telemetry.MetricsFile); err != nil {
			logger.Warn("failed to write metrics file",
				slog.String("path", cfg.Telemetry.MetricsFile),
				slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		return fail(stderr, runErr)
	}
	return apperrors.ExitOK
}

// fail prints err for the operator and maps it to the exit status
func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "polyetl: %v\n", err)
	return apperrors.ExitCode(err)
}
