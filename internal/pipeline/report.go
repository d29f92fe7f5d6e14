package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"polyetl/internal/dataprocessing"
	"polyetl/internal/exporter"
	"polyetl/pkg/contracts/domain"
)

// RunStatus is the overall outcome of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// TickerReport records what happened to one request
type TickerReport struct {
	Request    domain.AggregateRequest   `json:"request"`
	File       string                    `json:"file"`
	Workbook   string                    `json:"workbook,omitempty"`
	Fetched    int                       `json:"fetched"`
	Statistics dataprocessing.Statistics `json:"statistics"`
	Export     *exporter.ExportResult    `json:"export,omitempty"`
	Steps      []*StepState              `json:"steps"`
	Error      string                    `json:"error,omitempty"`

	rows []domain.ProcessedRow
}

func newTickerReport(req domain.AggregateRequest, file string) *TickerReport {
	return &TickerReport{
		Request: req,
		File:    file,
		Steps: []*StepState{
			NewStepState(StepAcquire),
			NewStepState(StepProcess),
			NewStepState(StepExport),
			NewStepState(StepVerify),
		},
	}
}

// Step returns the state of the named step, or nil
func (t *TickerReport) Step(id string) *StepState {
	for _, s := range t.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// skipRemaining marks every step still pending as skipped
// Status folds the step states into one. A failed step wins, and skipped
// steps count as done.
func (t *TickerReport) Status() StepStatus {
	status := StepStatusCompleted
	for _, s := range t.Steps {
		switch st := s.GetStatus(); st {
		case StepStatusFailed:
			return StepStatusFailed
		case StepStatusCompleted, StepStatusSkipped:
		default:
			status = st
		}
	}
	return status
}

func (t *TickerReport) skipRemaining(reason string) {
	for _, s := range t.Steps {
		if s.GetStatus() == StepStatusPending {
			s.Skip(reason)
		}
	}
}

// Report describes a whole run
type Report struct {
	TraceID   string          `json:"trace_id"`
	Status    RunStatus       `json:"status"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Tickers   []*TickerReport `json:"tickers"`
	Summary   string          `json:"summary_file,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func newReport(traceID string) *Report {
	return &Report{
		TraceID:   traceID,
		Status:    RunStatusRunning,
		StartTime: time.Now(),
		Tickers:   []*TickerReport{},
	}
}

func (r *Report) finish(status RunStatus, err error) {
	now := time.Now()
	r.EndTime = &now
	r.Status = status
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration returns how long the run took so far
func (r *Report) Duration() time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return time.Since(r.StartTime)
}

// RowsWritten sums the rows written across tickers
func (r *Report) RowsWritten() int {
	total := 0
	for _, t := range r.Tickers {
		if t.Export != nil {
			total += t.Export.Written
		}
	}
	return total
}

// LogValue implements slog.LogValuer
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("trace_id", r.TraceID),
		slog.String("status", string(r.Status)),
		slog.Int("tickers", len(r.Tickers)),
		slog.Int("rows_written", r.RowsWritten()),
		slog.Duration("duration", r.Duration()),
	)
}

// WriteText prints a short human-readable result table
func (r *Report) WriteText(w io.Writer) error {
	for _, t := range r.Tickers {
		status := t.Status()
		written := 0
		if t.Export != nil {
			written = t.Export.Written
		}
		if _, err := fmt.Fprintf(w, "%-10s %-9s fetched=%d rows=%d written=%d outliers=%d %s\n",
			t.Request.Ticker, status, t.Fetched, t.Statistics.OutputRows, written, t.Statistics.Outliers, t.File); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "run %s %s in %s\n", r.TraceID, r.Status, r.Duration().Round(time.Millisecond))
	return err
}
