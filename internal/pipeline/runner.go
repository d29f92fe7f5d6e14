package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"polyetl/internal/acquirer"
	"polyetl/internal/config"
	"polyetl/internal/dataprocessing"
	apperrors "polyetl/internal/errors"
	"polyetl/internal/exporter"
	"polyetl/internal/infrastructure"
	"polyetl/internal/validation"
	"polyetl/pkg/contracts/domain"
)

// RowsWriter persists processed rows for one request
type RowsWriter interface {
	Export(ctx context.Context, path string, rows []domain.ProcessedRow, mode exporter.WriteMode) (*exporter.ExportResult, error)
}

// WorkbookWriter writes processed rows into a workbook next to the CSV
type WorkbookWriter interface {
	Export(ctx context.Context, path string, rows []domain.ProcessedRow) error
}

// Runner drives acquire, process, export and verify for each request
type Runner struct {
	fetcher    acquirer.Fetcher
	processor  dataprocessing.Processor
	rows       RowsWriter
	workbook   WorkbookWriter
	summarizer *dataprocessing.Summarizer
	files      *validation.FileValidator
	paths      *config.Paths
	mode       exporter.WriteMode
	verify     bool
	summary    bool
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *infrastructure.ETLMetrics
}

// Option configures a Runner
type Option func(*Runner)

// WithRowsWriter replaces the CSV exporter
func WithRowsWriter(w RowsWriter) Option {
	return func(r *Runner) {
		r.rows = w
	}
}

// WithWorkbook also writes every processed dataset as a workbook
func WithWorkbook(w WorkbookWriter) Option {
	return func(r *Runner) {
		r.workbook = w
	}
}

// WithMode sets the CSV write mode
func WithMode(mode exporter.WriteMode) Option {
	return func(r *Runner) {
		r.mode = mode
	}
}

// WithVerify toggles reading each file back after it is written
func WithVerify(enabled bool) Option {
	return func(r *Runner) {
		r.verify = enabled
	}
}

// WithSummary writes a ticker summary JSON after a successful run
func WithSummary(enabled bool) Option {
	return func(r *Runner) {
		r.summary = enabled
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run and ticker spans
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithMetrics sets the ETL instruments
func WithMetrics(m *infrastructure.ETLMetrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a runner. fetcher and processor are required.
func NewRunner(fetcher acquirer.Fetcher, processor dataprocessing.Processor, paths *config.Paths, opts ...Option) *Runner {
	r := &Runner{
		fetcher:   fetcher,
		processor: processor,
		paths:     paths,
		mode:      exporter.ModeOverwrite,
		verify:    true,
		logger:    slog.Default(),
		tracer:    tracenoop.NewTracerProvider().Tracer("polyetl"),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.logger = infrastructure.WithComponent(r.logger, "pipeline")
	if r.rows == nil {
		r.rows = exporter.NewRowsExporter(r.logger)
	}
	r.summarizer = dataprocessing.NewSummarizer(r.logger, dataprocessing.DefaultSummarizerConfig())
	r.files = validation.NewFileValidator(r.logger)
	return r
}

// Run processes reqs in order and stops at the first failure. The returned
// report covers every ticker attempted, including the failed one.
func (r *Runner) Run(ctx context.Context, reqs []domain.AggregateRequest) (*Report, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	report := newReport(infrastructure.GetTraceID(ctx))

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.Int("tickers", len(reqs)),
		attribute.String("mode", string(r.mode)),
	))
	defer span.End()

	r.logger.InfoContext(ctx, "run started",
		slog.Int("tickers", len(reqs)),
		slog.String("mode", string(r.mode)),
		slog.String("data_dir", r.paths.DataDir))

	err := r.run(ctx, reqs, report)
	switch {
	case err == nil:
		report.finish(RunStatusCompleted, nil)
	case errors.Is(err, context.Canceled):
		report.finish(RunStatusCancelled, err)
	default:
		report.finish(RunStatusFailed, err)
	}

	if err != nil {
		infrastructure.RecordError(ctx, err)
		r.logger.ErrorContext(ctx, "run failed",
			slog.Any("report", report),
			slog.String("error_type", string(apperrors.TypeOf(err))),
			slog.String("error", err.Error()))
		return report, err
	}

	span.SetAttributes(attribute.Int("rows_written", report.RowsWritten()))
	r.logger.InfoContext(ctx, "run completed", slog.Any("report", report))
	return report, nil
}

func (r *Runner) run(ctx context.Context, reqs []domain.AggregateRequest, report *Report) error {
	if len(reqs) == 0 {
		return apperrors.NewConfigError("no tickers requested", nil)
	}
	// Checked before any vendor call
	if err := r.files.PrepareOutputDirectory(r.paths.DataDir); err != nil {
		return err
	}

	summaries := make([]dataprocessing.TickerSummary, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return err
		}

		tr, err := r.RunTicker(ctx, req)
		report.Tickers = append(report.Tickers, tr)
		if err != nil {
			return fmt.Errorf("ticker %s: %w", req.Ticker, err)
		}

		if r.summary {
			s := r.summarizer.Summarize(req.Ticker, tr.rows)
			s.File = tr.File
			summaries = append(summaries, s)
		}
		tr.rows = nil
	}

	if r.summary {
		path := r.paths.SummaryFile()
		if err := r.summarizer.WriteJSON(ctx, path, summaries); err != nil {
			return err
		}
		report.Summary = path
	}
	return nil
}

// RunTicker runs all steps for a single request
func (r *Runner) RunTicker(ctx context.Context, req domain.AggregateRequest) (*TickerReport, error) {
	tr := newTickerReport(req, r.paths.ProcessedFile(req))

	ctx, span := r.tracer.Start(ctx, "pipeline.ticker", trace.WithAttributes(
		attribute.String("ticker", req.Ticker),
		attribute.String("file", tr.File),
	))
	defer span.End()

	logger := r.logger.With(slog.String("ticker", req.Ticker))

	var bars []domain.Bar
	err := r.step(ctx, tr, StepAcquire, func(ctx context.Context, s *StepState) error {
		var err error
		bars, err = r.fetcher.FetchAggregates(ctx, req)
		tr.Fetched = len(bars)
		s.SetMetadata("records", len(bars))
		return err
	})

	var rows []domain.ProcessedRow
	if err == nil {
		err = r.step(ctx, tr, StepProcess, func(ctx context.Context, s *StepState) error {
			var err error
			rows, tr.Statistics, err = r.processor.Process(ctx, req.Ticker, bars)
			s.SetMetadata("rows", tr.Statistics.OutputRows)
			s.SetMetadata("outliers", tr.Statistics.Outliers)
			if err == nil && r.metrics != nil && tr.Statistics.Outliers > 0 {
				r.metrics.OutliersTotal.Add(ctx, int64(tr.Statistics.Outliers),
					metric.WithAttributes(attribute.String("ticker", req.Ticker)))
			}
			return err
		})
	}

	if err == nil {
		err = r.step(ctx, tr, StepExport, func(ctx context.Context, s *StepState) error {
			return r.export(ctx, tr, rows, s)
		})
	}

	if err == nil {
		if r.verify {
			err = r.step(ctx, tr, StepVerify, func(ctx context.Context, s *StepState) error {
				return r.verifyFile(tr)
			})
		} else {
			tr.Step(StepVerify).Skip("verification disabled")
		}
	}

	if err != nil {
		tr.Error = err.Error()
		tr.skipRemaining("previous step failed")
		infrastructure.RecordError(ctx, err)
		return tr, err
	}

	tr.rows = rows
	logger.InfoContext(ctx, "ticker completed",
		slog.String("file", tr.File),
		slog.Int("fetched", tr.Fetched),
		slog.Int("rows", tr.Statistics.OutputRows),
		slog.Int("written", tr.Export.Written))
	return tr, nil
}

// step runs fn as the named step, recording state, timing and metrics
func (r *Runner) step(ctx context.Context, tr *TickerReport, id string, fn func(context.Context, *StepState) error) error {
	state := tr.Step(id)
	state.Start()

	r.logger.DebugContext(ctx, "step started",
		slog.String("ticker", tr.Request.Ticker),
		slog.String("step", id))

	start := time.Now()
	err := fn(ctx, state)
	duration := time.Since(start)
	r.metrics.RecordStage(ctx, tr.Request.Ticker, id, duration, err)

	if err != nil {
		state.Fail(err)
		errType := string(apperrors.TypeOf(err))
		if errType == "" {
			errType = "UNKNOWN"
		}
		r.metrics.RecordError(ctx, tr.Request.Ticker, errType)
		r.logger.ErrorContext(ctx, "step failed",
			slog.String("ticker", tr.Request.Ticker),
			slog.String("step", id),
			slog.Duration("duration", duration),
			slog.String("error_type", errType),
			slog.String("error", err.Error()))
		return err
	}

	state.Complete()
	r.logger.DebugContext(ctx, "step completed",
		slog.String("ticker", tr.Request.Ticker),
		slog.String("step", id),
		slog.Duration("duration", duration))
	return nil
}

func (r *Runner) export(ctx context.Context, tr *TickerReport, rows []domain.ProcessedRow, s *StepState) error {
	result, err := r.rows.Export(ctx, tr.File, rows, r.mode)
	if err != nil {
		return err
	}
	tr.Export = result
	s.SetMetadata("written", result.Written)
	s.SetMetadata("skipped", result.Skipped)

	if r.metrics != nil && result.Written > 0 {
		r.metrics.RowsWritten.Add(ctx, int64(result.Written),
			metric.WithAttributes(attribute.String("ticker", tr.Request.Ticker)))
	}

	if r.workbook != nil {
		path := r.paths.ProcessedWorkbook(tr.Request)
		if err := r.workbook.Export(ctx, path, rows); err != nil {
			return err
		}
		tr.Workbook = path
	}
	return nil
}

// verifyFile reads the written file back and checks its layout and row count
func (r *Runner) verifyFile(tr *TickerReport) error {
	if err := r.files.ValidateCSVFile(tr.File); err != nil {
		return err
	}
	// ReadRows rejects a header that is not the processed layout
	_, rows, err := exporter.ReadRows(tr.File)
	if err != nil {
		return err
	}
	if tr.Export != nil && len(rows) != tr.Export.Total {
		return apperrors.NewStorageError(
			fmt.Sprintf("read-back row count %d does not match expected %d", len(rows), tr.Export.Total), nil).
			WithContext("path", tr.File)
	}
	return nil
}
