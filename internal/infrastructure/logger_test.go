package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyetl/internal/config"
)

func readLastEntry(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "logs", "test.log")
	var console bytes.Buffer
	consoleWriter = &console
	defer func() { consoleWriter = os.Stderr }()

	cfg := config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "both",
		FilePath: logFile,
	}

	logger, err := InitializeLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Logger is nil")
	}
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}

	logger.Info("test message", "key", "value")

	// Close log file to allow reading on Windows
	CloseLogFile()

	entry := readLastEntry(t, logFile)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Contains(t, console.String(), "test message")

	// Second call returns the same instance
	again, err := InitializeLogger(config.LoggingConfig{Level: "debug"})
	require.NoError(t, err)
	assert.Same(t, logger, again)
}

func TestInitializeLogger_BadFilePath(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	_, err := InitializeLogger(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)
}

func TestTraceIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	ctx := WithTraceID(context.Background(), "test-trace-123")
	WithComponent(logger, "pipeline").InfoContext(ctx, "test with trace")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test-trace-123", entry["trace_id"])
	assert.Equal(t, "pipeline", entry["component"])

	buf.Reset()
	logger.Info("no trace")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry["trace_id"]
	assert.False(t, ok)
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(config.LoggingConfig{Level: tt.level, Format: "json"}, &buf)

			logger.Debug("test debug")
			logger.Info("test info")
			logger.Warn("test warn")
			logger.Error("test error")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			var first map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
			assert.Equal(t, tt.expected, first["level"])
		})
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Info("hello", "ticker", "AAPL")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "ticker=AAPL")
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background())
	traceID := GetTraceID(ctx)
	if traceID == "" {
		t.Error("Expected trace ID to be generated")
	}

	// Existing trace IDs are preserved
	if GetTraceID(EnsureTraceID(ctx)) != traceID {
		t.Error("EnsureTraceID changed existing trace ID")
	}

	if GetTraceID(EnsureTraceID(context.Background())) == "" {
		t.Error("EnsureTraceID did not add trace ID")
	}
}

func TestTraceHandler_SpanTraceID(t *testing.T) {
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:   "test",
		TraceExporter: "stdout",
		SampleRatio:   1,
		TraceWriter:   &bytes.Buffer{},
	}, NewLogger(config.LoggingConfig{Format: "json"}, &bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { providers.Shutdown(context.Background()) })

	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Format: "json"}, &buf)

	ctx, span := providers.Tracer.Start(EnsureTraceID(context.Background()), "run")
	logger.InfoContext(ctx, "inside span")
	span.End()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, GetTraceID(ctx), entry["trace_id"])
	assert.Equal(t, TraceIDFromContext(ctx), entry["span_trace_id"])

	buf.Reset()
	logger.InfoContext(context.Background(), "outside span")
	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "span_trace_id")
	assert.NotContains(t, entry, "trace_id")
}
