package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyetl/internal/config"
	apperrors "polyetl/internal/errors"
	"polyetl/internal/infrastructure"
)

const testKey = "cli-test-key"

type bar struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
	T int64   `json:"t"`
}

func newFakeVendor(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/v2/aggs/ticker/{ticker}/range/{multiplier}/{timespan}/{from}/{to}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testKey && r.URL.Query().Get("apiKey") != testKey {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"status": "ERROR", "error": "Unknown API Key"})
			return
		}
		day := func(d int) int64 { return time.Date(2023, time.January, d, 0, 0, 0, 0, time.UTC).UnixMilli() }
		render.JSON(w, r, map[string]any{
			"ticker":       chi.URLParam(r, "ticker"),
			"status":       "OK",
			"resultsCount": 2,
			"results": []bar{
				{O: 100, H: 101, L: 99, C: 100, V: 1000, T: day(3)},
				{O: 100, H: 103, L: 100, C: 102, V: 1100, T: day(4)},
			},
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// setupEnv isolates the command from the developer's environment
func setupEnv(t *testing.T, key, baseURL string) {
	t.Helper()
	t.Setenv("POLYGON_API_KEY", key)
	t.Setenv("POLYETL_CONFIG", "")
	t.Setenv("POLYETL_VENDOR_BASE_URL", baseURL)
	t.Setenv("POLYETL_LOG_LEVEL", "error")
	infrastructure.ResetLoggerForTesting()
	t.Cleanup(infrastructure.ResetLoggerForTesting)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "-version")
	assert.Equal(t, apperrors.ExitOK, code)
	assert.True(t, strings.HasPrefix(out, "polyetl v"))
}

func TestRun_BadFlag(t *testing.T) {
	code, _, errOut := runCLI(t, "-no-such-flag")
	assert.Equal(t, apperrors.ExitConfig, code)
	assert.Contains(t, errOut, "no-such-flag")
}

func TestRun_MissingKey(t *testing.T) {
	setupEnv(t, "", "")
	dataDir := filepath.Join(t.TempDir(), "data")

	code, _, errOut := runCLI(t, "-data-dir", dataDir)

	assert.Equal(t, apperrors.ExitConfig, code)
	assert.Contains(t, errOut, "missing API credential")
	assert.NoDirExists(t, dataDir, "nothing is written before the key is checked")
}

func TestRun_InvalidFlagValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad timespan", []string{"-timespan", "fortnight"}},
		{"bad date", []string{"-from", "2023-13-01"}},
		{"reversed range", []string{"-from", "2023-02-01", "-to", "2023-01-01"}},
		{"bad mode", []string{"-mode", "merge"}},
		{"bad ticker", []string{"-tickers", "AA PL"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t, testKey, "")
			args := append([]string{"-data-dir", t.TempDir()}, tt.args...)
			code, _, _ := runCLI(t, args...)
			assert.Equal(t, apperrors.ExitConfig, code)
		})
	}
}

func TestRun_Success(t *testing.T) {
	srv := newFakeVendor(t)
	setupEnv(t, testKey, srv.URL)
	dataDir := t.TempDir()
	metricsFile := filepath.Join(t.TempDir(), "metrics.prom")

	code, out, errOut := runCLI(t,
		"-tickers", "aapl,MSFT",
		"-from", "2023-01-03",
		"-to", "2023-01-04",
		"-data-dir", dataDir,
		"-summary",
		"-metrics-file", metricsFile,
	)
	require.Equal(t, apperrors.ExitOK, code, errOut)
	assert.NotContains(t, out+errOut, testKey)

	for _, ticker := range []string{"AAPL", "MSFT"} {
		data, err := os.ReadFile(filepath.Join(dataDir, ticker+"_daily_adjusted_processed.csv"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "timestamp,open,high,low,close,volume,vwap,transactions,daily_return,outlier", lines[0])
		assert.Equal(t, "2023-01-04T00:00:00Z,100,103,100,102,1100,,,0.020000,false", lines[2])
	}
	assert.FileExists(t, filepath.Join(dataDir, "ticker_summary.json"))
	assert.Contains(t, out, "AAPL")

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "polyetl_rows_written")
}

func TestRun_AuthFailure(t *testing.T) {
	srv := newFakeVendor(t)
	setupEnv(t, "wrong-key", srv.URL)
	dataDir := t.TempDir()

	code, _, errOut := runCLI(t, "-tickers", "AAPL", "-from", "2023-01-03", "-to", "2023-01-04", "-data-dir", dataDir)

	assert.Equal(t, apperrors.ExitAuth, code)
	assert.NotContains(t, errOut, "wrong-key")
	assert.NoFileExists(t, filepath.Join(dataDir, "AAPL_daily_adjusted_processed.csv"))
}

func TestFlags_ApplyOnlySet(t *testing.T) {
	f, set, err := parseFlags([]string{"-mode", "append", "-unadjusted"}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg := config.Default()
	f.apply(cfg, set)

	assert.Equal(t, "append", cfg.Output.Mode)
	assert.False(t, cfg.Request.Adjusted)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Request.Tickers, "unset flags keep config values")
}
