package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"polyetl/internal/config"
)

func testLogger() *config.LoggingConfig {
	return &config.LoggingConfig{Level: "error", Format: "json"}
}

// TestOTelInitialization tests OpenTelemetry initialization
func TestOTelInitialization(t *testing.T) {
	logger := NewLogger(*testLogger(), &bytes.Buffer{})

	providers, err := InitializeOTel(nil, logger)
	require.NoError(t, err)
	require.NotNil(t, providers)

	// Default configuration has tracing off but still hands out a tracer
	assert.Nil(t, providers.TracerProvider)
	assert.NotNil(t, providers.Tracer)

	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Registry)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestOTelConfiguration(t *testing.T) {
	logger := NewLogger(*testLogger(), &bytes.Buffer{})

	tests := []struct {
		name    string
		cfg     *OTelConfig
		wantErr bool
	}{
		{
			name: "everything disabled",
			cfg:  &OTelConfig{ServiceName: "test", TraceExporter: "none"},
		},
		{
			name: "stdout tracing",
			cfg:  &OTelConfig{ServiceName: "test", TraceExporter: "stdout", SampleRatio: 1, TraceWriter: &bytes.Buffer{}},
		},
		{
			name:    "unknown exporter",
			cfg:     &OTelConfig{ServiceName: "test", TraceExporter: "zipkin"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers, err := InitializeOTel(tt.cfg, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, providers.Tracer)
			assert.NotNil(t, providers.Meter)
			assert.NoError(t, providers.Shutdown(context.Background()))
		})
	}
}

// TestTraceCorrelation tests trace ID correlation and span export
func TestTraceCorrelation(t *testing.T) {
	var spans bytes.Buffer
	logger := NewLogger(*testLogger(), &bytes.Buffer{})
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:   "test",
		TraceExporter: "stdout",
		SampleRatio:   1,
		TraceWriter:   &spans,
	}, logger)
	require.NoError(t, err)

	ctx, span := providers.Tracer.Start(context.Background(), "fetch")
	traceID := TraceIDFromContext(ctx)
	assert.Len(t, traceID, 32)

	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	span.End()

	require.NoError(t, providers.Shutdown(context.Background()))
	assert.Contains(t, spans.String(), `"Name": "fetch"`)
	assert.Contains(t, spans.String(), "boom")
	assert.Contains(t, spans.String(), traceID)

	assert.Empty(t, TraceIDFromContext(context.Background()))
}

func TestETLMetrics_WriteMetricsFile(t *testing.T) {
	logger := NewLogger(*testLogger(), &bytes.Buffer{})
	providers, err := InitializeOTel(DefaultOTelConfig(), logger)
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	m, err := CreateETLMetrics(providers.Meter)
	require.NoError(t, err)

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("ticker", "AAPL"))
	m.RequestsTotal.Add(ctx, 1, attrs)
	m.RecordsFetched.Add(ctx, 250, attrs)
	m.RowsWritten.Add(ctx, 250, attrs)
	m.RecordStage(ctx, "AAPL", "acquire", 120*time.Millisecond, nil)
	m.RecordError(ctx, "AAPL", "AUTH")

	path := filepath.Join(t.TempDir(), "polyetl.prom")
	require.NoError(t, providers.WriteMetricsFile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(content)
	assert.Contains(t, out, "polyetl_requests_total")
	assert.Contains(t, out, "polyetl_records_fetched_total")
	assert.Contains(t, out, "polyetl_rows_written_total")
	assert.Contains(t, out, "polyetl_errors_total")
	assert.Contains(t, out, `ticker="AAPL"`)
}

func TestETLMetrics_Disabled(t *testing.T) {
	logger := NewLogger(*testLogger(), &bytes.Buffer{})
	providers, err := InitializeOTel(&OTelConfig{TraceExporter: "none"}, logger)
	require.NoError(t, err)

	m, err := CreateETLMetrics(providers.Meter)
	require.NoError(t, err)
	m.RecordStage(context.Background(), "AAPL", "process", time.Second, errors.New("x"))

	path := filepath.Join(t.TempDir(), "none.prom")
	require.NoError(t, providers.WriteMetricsFile(path))
	assert.NoFileExists(t, path)

	var nilMetrics *ETLMetrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordStage(context.Background(), "AAPL", "x", 0, nil)
		nilMetrics.RecordError(context.Background(), "AAPL", "x")
	})
}

func BenchmarkTraceOperations(b *testing.B) {
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:   "bench",
		TraceExporter: "stdout",
		SampleRatio:   1,
		TraceWriter:   &bytes.Buffer{},
	}, NewLogger(*testLogger(), &bytes.Buffer{}))
	if err != nil {
		b.Fatal(err)
	}
	defer providers.Shutdown(context.Background())

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := providers.Tracer.Start(ctx, "bench")
		span.End()
	}
}
