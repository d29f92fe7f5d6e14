package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyetl/internal/config"
	"polyetl/internal/dataprocessing"
	apperrors "polyetl/internal/errors"
	"polyetl/internal/exporter"
	"polyetl/internal/infrastructure"
	"polyetl/internal/shared/testutil"
	"polyetl/pkg/contracts/domain"
)

// fakeFetcher serves canned bars or errors per ticker
type fakeFetcher struct {
	mu    sync.Mutex
	bars  map[string][]domain.Bar
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) FetchAggregates(_ context.Context, req domain.AggregateRequest) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Ticker)
	if err := f.errs[req.Ticker]; err != nil {
		return nil, err
	}
	return f.bars[req.Ticker], nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func request(ticker string) domain.AggregateRequest {
	return domain.AggregateRequest{
		Ticker:     ticker,
		Multiplier: 1,
		Timespan:   domain.TimespanDay,
		From:       "2023-01-01",
		To:         "2023-01-31",
		Adjusted:   true,
		Limit:      50000,
	}
}

func testPaths(t *testing.T) *config.Paths {
	t.Helper()
	dir := t.TempDir()
	return &config.Paths{
		DataDir: filepath.Join(dir, "data"),
		LogsDir: filepath.Join(dir, "logs"),
	}
}

func newTestRunner(t *testing.T, f *fakeFetcher, paths *config.Paths, opts ...Option) (*Runner, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, handler := testutil.NewTestLogger(t)
	processor := dataprocessing.NewPreprocessor(logger, dataprocessing.DefaultOptions())
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewRunner(f, processor, paths, opts...), handler
}

func TestRunner_Run_WritesOneFilePerTicker(t *testing.T) {
	paths := testPaths(t)
	f := &fakeFetcher{bars: map[string][]domain.Bar{
		"AAPL": testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 4),
		"MSFT": testutil.MakeBars("MSFT", testutil.Day(2023, 1, 3), 2),
	}}
	r, handler := newTestRunner(t, f, paths)

	report, err := r.Run(context.Background(), []domain.AggregateRequest{request("AAPL"), request("MSFT")})
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, report.Status)
	assert.NotEmpty(t, report.TraceID)
	require.Len(t, report.Tickers, 2)
	assert.Equal(t, 6, report.RowsWritten())
	assert.Equal(t, []string{"AAPL", "MSFT"}, f.Calls())

	aapl := report.Tickers[0]
	assert.Equal(t, filepath.Join(paths.DataDir, "AAPL_daily_adjusted_processed.csv"), aapl.File)
	assert.Equal(t, 4, aapl.Fetched)
	for _, s := range aapl.Steps {
		assert.Equal(t, StepStatusCompleted, s.GetStatus(), s.ID)
	}

	header, rows, err := exporter.ReadRows(aapl.File)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessedColumns, header)
	require.Len(t, rows, 4)
	assert.Equal(t, 0.0, rows[0].DailyReturn)
	assert.InDelta(t, 0.01, rows[1].DailyReturn, 1e-6)

	assert.FileExists(t, filepath.Join(paths.DataDir, "MSFT_daily_adjusted_processed.csv"))
	assert.NoFileExists(t, paths.SummaryFile())
	testutil.AssertLogContains(t, handler, slogInfo, "run completed")
	testutil.AssertNoErrors(t, handler)
}

func TestRunner_Run_ZeroRecordsWritesHeaderOnly(t *testing.T) {
	paths := testPaths(t)
	f := &fakeFetcher{bars: map[string][]domain.Bar{}}
	r, _ := newTestRunner(t, f, paths)

	report, err := r.Run(context.Background(), []domain.AggregateRequest{request("AAPL")})
	require.NoError(t, err)

	data, err := os.ReadFile(report.Tickers[0].File)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(domain.ProcessedColumns, ",")+"\n", string(data))
	assert.Equal(t, StepStatusCompleted, report.Tickers[0].Step(StepVerify).GetStatus())
}

func TestRunner_Run_MalformedRecordStopsRun(t *testing.T) {
	paths := testPaths(t)
	bars := testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 3)
	bars[1].Close = 0
	f := &fakeFetcher{bars: map[string][]domain.Bar{
		"AAPL": bars,
		"MSFT": testutil.MakeBars("MSFT", testutil.Day(2023, 1, 3), 3),
	}}
	r, _ := newTestRunner(t, f, paths)

	report, err := r.Run(context.Background(), []domain.AggregateRequest{request("AAPL"), request("MSFT")})
	require.Error(t, err)

	assert.ErrorIs(t, err, apperrors.ErrProcessing)
	assert.Equal(t, apperrors.ExitProcessing, apperrors.ExitCode(err))
	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Equal(t, []string{"AAPL"}, f.Calls(), "run stops at the first failure")

	tr := report.Tickers[0]
	assert.Equal(t, StepStatusCompleted, tr.Step(StepAcquire).GetStatus())
	assert.Equal(t, StepStatusFailed, tr.Step(StepProcess).GetStatus())
	assert.Equal(t, StepStatusSkipped, tr.Step(StepExport).GetStatus())
	assert.Equal(t, StepStatusSkipped, tr.Step(StepVerify).GetStatus())
	assert.NotEmpty(t, tr.Error)

	assert.NoFileExists(t, tr.File)
}

func TestRunner_Run_FetchErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantExit int
	}{
		{"auth", apperrors.NewAuthError("vendor rejected credentials", nil), apperrors.ExitAuth},
		{"rate limit", apperrors.NewRateLimitError("too many requests", nil), apperrors.ExitUpstream},
		{"network", apperrors.NewNetworkError("connection refused", nil), apperrors.ExitUpstream},
		{"vendor", apperrors.NewVendorError("status 500", nil), apperrors.ExitUpstream},
		{"untyped", fmt.Errorf("boom"), apperrors.ExitUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := testPaths(t)
			f := &fakeFetcher{errs: map[string]error{"AAPL": tt.err}}
			r, handler := newTestRunner(t, f, paths)

			report, err := r.Run(context.Background(), []domain.AggregateRequest{request("AAPL"), request("MSFT")})
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, apperrors.ExitCode(err))
			assert.Equal(t, RunStatusFailed, report.Status)
			assert.Equal(t, StepStatusFailed, report.Tickers[0].Step(StepAcquire).GetStatus())
			assert.NoFileExists(t, report.Tickers[0].File)
			testutil.AssertLogContains(t, handler, slogError, "step failed")
		})
	}
}

func TestRunner_Run_NoRequests(t *testing.T) {
	r, _ := newTestRunner(t, &fakeFetcher{}, testPaths(t))

	_, err := r.Run(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestRunner_Run_DataDirNotWritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	paths := &config.Paths{DataDir: filepath.Join(blocker, "data")}

	f := &fakeFetcher{}
	r, _ := newTestRunner(t, f, paths)

	_, err := r.Run(context.Background(), []domain.AggregateRequest{request("AAPL")})
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.Contains(t, err.Error(), "failed to create output directory")
	assert.Empty(t, f.Calls())
}

func TestRunner_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetcher{}
	r, _ := newTestRunner(t, f, testPaths(t))

	report, err := r.Run(ctx, []domain.AggregateRequest{request("AAPL")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RunStatusCancelled, report.Status)
	assert.Empty(t, f.Calls())
}

func TestRunner_Rerun_IsDeterministic(t *testing.T) {
	for _, mode := range []exporter.WriteMode{exporter.ModeOverwrite, exporter.ModeAppend} {
		t.Run(string(mode), func(t *testing.T) {
			paths := testPaths(t)
			f := &fakeFetcher{bars: map[string][]domain.Bar{
				"AAPL": testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 5),
			}}
			r, _ := newTestRunner(t, f, paths, WithMode(mode))
			reqs := []domain.AggregateRequest{request("AAPL")}

			report, err := r.Run(context.Background(), reqs)
			require.NoError(t, err)
			first, err := os.ReadFile(report.Tickers[0].File)
			require.NoError(t, err)

			report, err = r.Run(context.Background(), reqs)
			require.NoError(t, err)
			second, err := os.ReadFile(report.Tickers[0].File)
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestRunner_Append_AddsOnlyNewBars(t *testing.T) {
	paths := testPaths(t)
	all := testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 6)
	f := &fakeFetcher{bars: map[string][]domain.Bar{"AAPL": all[:4]}}
	r, _ := newTestRunner(t, f, paths, WithMode(exporter.ModeAppend))
	reqs := []domain.AggregateRequest{request("AAPL")}

	_, err := r.Run(context.Background(), reqs)
	require.NoError(t, err)

	f.bars["AAPL"] = all
	report, err := r.Run(context.Background(), reqs)
	require.NoError(t, err)

	export := report.Tickers[0].Export
	require.NotNil(t, export)
	assert.Equal(t, 2, export.Written)
	assert.Equal(t, 4, export.Skipped)
	assert.Equal(t, 6, export.Total)

	_, rows, err := exporter.ReadRows(report.Tickers[0].File)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestRunner_Append_ConsecutiveRangesMatchSingleRun(t *testing.T) {
	all := testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 6)
	all[4].Close = 150
	reqs := []domain.AggregateRequest{request("AAPL")}

	appended := testPaths(t)
	f := &fakeFetcher{bars: map[string][]domain.Bar{"AAPL": all[:4]}}
	r, _ := newTestRunner(t, f, appended, WithMode(exporter.ModeAppend))
	_, err := r.Run(context.Background(), reqs)
	require.NoError(t, err)
	f.bars["AAPL"] = all[4:]
	report, err := r.Run(context.Background(), reqs)
	require.NoError(t, err)
	got, err := os.ReadFile(report.Tickers[0].File)
	require.NoError(t, err)

	single := testPaths(t)
	r, _ = newTestRunner(t, &fakeFetcher{bars: map[string][]domain.Bar{"AAPL": all}}, single)
	report, err = r.Run(context.Background(), reqs)
	require.NoError(t, err)
	want, err := os.ReadFile(report.Tickers[0].File)
	require.NoError(t, err)

	assert.Equal(t, string(want), string(got))

	_, rows, err := exporter.ReadRows(report.Tickers[0].File)
	require.NoError(t, err)
	assert.True(t, rows[4].Outlier)
}

// miscountingWriter writes correctly but reports the wrong total
type miscountingWriter struct {
	inner *exporter.RowsExporter
}

func (m miscountingWriter) Export(ctx context.Context, path string, rows []domain.ProcessedRow, mode exporter.WriteMode) (*exporter.ExportResult, error) {
	res, err := m.inner.Export(ctx, path, rows, mode)
	if err != nil {
		return nil, err
	}
	res.Total++
	return res, nil
}

func TestRunner_VerifyMismatchIsStorageError(t *testing.T) {
	paths := testPaths(t)
	f := &fakeFetcher{bars: map[string][]domain.Bar{
		"AAPL": testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 3),
	}}
	r, _ := newTestRunner(t, f, paths, WithRowsWriter(miscountingWriter{inner: exporter.NewRowsExporter(nil)}))

	report, err := r.Run(context.Background(), []domain.AggregateRequest{request("AAPL")})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.Equal(t, apperrors.ExitStorage, apperrors.ExitCode(err))
	assert.Equal(t, StepStatusFailed, report.Tickers[0].Step(StepVerify).GetStatus())
}

func TestRunner_VerifyDisabled(t *testing.T) {
	paths := testPaths(t)
	f := &fakeFetcher{bars: map[string][]domain.Bar{
		"AAPL": testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 3),
	}}
	r, _ := newTestRunner(t, f, paths,
		WithVerify(false),
		WithRowsWriter(miscountingWriter{inner: exporter.NewRowsExporter(nil)}))

	report, err := r.Run(context.Background(), []domain.AggregateRequest{request("AAPL")})
	require.NoError(t, err)
	assert.Equal(t, StepStatusSkipped, report.Tickers[0].Step(StepVerify).GetStatus())
	assert.Equal(t, StepStatusCompleted, report.Tickers[0].Status())

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	assert.Contains(t, buf.String(), "AAPL       completed")
	assert.NotContains(t, buf.String(), "skipped")
}

func TestTickerReport_Status(t *testing.T) {
	tests := []struct {
		name  string
		steps []StepStatus
		want  StepStatus
	}{
		{"all completed", []StepStatus{StepStatusCompleted, StepStatusCompleted}, StepStatusCompleted},
		{"skipped counts as done", []StepStatus{StepStatusCompleted, StepStatusSkipped}, StepStatusCompleted},
		{"failed wins over skipped", []StepStatus{StepStatusFailed, StepStatusSkipped}, StepStatusFailed},
		{"failed after pending", []StepStatus{StepStatusPending, StepStatusFailed}, StepStatusFailed},
		{"unfinished", []StepStatus{StepStatusCompleted, StepStatusActive}, StepStatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &TickerReport{}
			for i, st := range tt.steps {
				step := NewStepState(fmt.Sprintf("step%d", i))
				step.Status = st
				tr.Steps = append(tr.Steps, step)
			}
			assert.Equal(t, tt.want, tr.Status())
		})
	}
}

func TestRunner_WorkbookAndSummary(t *testing.T) {
	paths := testPaths(t)
	f := &fakeFetcher{bars: map[string][]domain.Bar{
		"MSFT": testutil.MakeBars("MSFT", testutil.Day(2023, 1, 3), 3),
		"AAPL": testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 2),
	}}
	r, _ := newTestRunner(t, f, paths,
		WithWorkbook(exporter.NewXLSXExporter(nil)),
		WithSummary(true))

	report, err := r.Run(context.Background(), []domain.AggregateRequest{request("MSFT"), request("AAPL")})
	require.NoError(t, err)

	wb := report.Tickers[0].Workbook
	assert.Equal(t, paths.ProcessedWorkbook(request("MSFT")), wb)
	sheet, err := exporter.ReadWorkbook(wb)
	require.NoError(t, err)
	assert.Len(t, sheet, 4)

	require.Equal(t, paths.SummaryFile(), report.Summary)
	data, err := os.ReadFile(report.Summary)
	require.NoError(t, err)

	var summary struct {
		Tickers []dataprocessing.TickerSummary `json:"tickers"`
	}
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Len(t, summary.Tickers, 2)
	assert.Equal(t, "AAPL", summary.Tickers[0].Ticker)
	assert.Equal(t, 2, summary.Tickers[0].Rows)
	assert.Equal(t, report.Tickers[1].File, summary.Tickers[0].File)
}

func TestRunner_RecordsMetrics(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	providers, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := infrastructure.CreateETLMetrics(providers.Meter)
	require.NoError(t, err)

	paths := testPaths(t)
	bars := testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 3)
	bars[2].Close = 150 // +48%, flagged as an outlier
	bars[2].High = 151
	f := &fakeFetcher{bars: map[string][]domain.Bar{"AAPL": bars}}
	r, _ := newTestRunner(t, f, paths, WithMetrics(metrics), WithTracer(providers.Tracer))

	_, err = r.Run(context.Background(), []domain.AggregateRequest{request("AAPL")})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "polyetl.prom")
	require.NoError(t, providers.WriteMetricsFile(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(content)
	assert.Contains(t, out, "polyetl_rows_written_total")
	assert.Contains(t, out, "polyetl_outliers_total")
	assert.Contains(t, out, "polyetl_stage_duration")
	assert.Contains(t, out, `stage="verify"`)
}

func TestReport_WriteText(t *testing.T) {
	paths := testPaths(t)
	f := &fakeFetcher{bars: map[string][]domain.Bar{
		"AAPL": testutil.MakeBars("AAPL", testutil.Day(2023, 1, 3), 2),
	}}
	r, _ := newTestRunner(t, f, paths)

	report, err := r.Run(context.Background(), []domain.AggregateRequest{request("AAPL")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "written=2")
	assert.Contains(t, out, report.TraceID)
}
