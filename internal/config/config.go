package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "polyetl/internal/errors"
	"polyetl/pkg/contracts/domain"
)

// ErrMissingAPIKey is returned when POLYGON_API_KEY is not set
var ErrMissingAPIKey = errors.New(APIKeyEnvVar + " environment variable not set")

// Config represents the complete application configuration. Environment
// variables are POLYETL_<SECTION>_<FIELD>, e.g. POLYETL_REQUEST_TICKERS; only
// the credential also accepts an unprefixed name.
type Config struct {
	APIKey     string           `yaml:"-" envconfig:"POLYGON_API_KEY"`
	Request    RequestConfig    `yaml:"request" envconfig:"REQUEST"`
	Vendor     VendorConfig     `yaml:"vendor" envconfig:"VENDOR"`
	Output     OutputConfig     `yaml:"output" envconfig:"OUTPUT"`
	Processing ProcessingConfig `yaml:"processing" envconfig:"PROCESSING"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	Stream     StreamConfig     `yaml:"stream" envconfig:"STREAM"`
}

// RequestConfig holds the default aggregate query parameters
type RequestConfig struct {
	Tickers    []string `yaml:"tickers" split_words:"true" validate:"required,min=1,dive,ticker"`
	From       string   `yaml:"from" split_words:"true" validate:"required,datetime=2006-01-02"`
	To         string   `yaml:"to" split_words:"true" validate:"required,datetime=2006-01-02"`
	Timespan   string   `yaml:"timespan" split_words:"true" validate:"required"`
	Multiplier int      `yaml:"multiplier" split_words:"true" validate:"min=1"`
	Adjusted   bool     `yaml:"adjusted" split_words:"true"`
	Limit      int      `yaml:"limit" split_words:"true" validate:"min=1,max=50000"`
}

// VendorConfig contains Polygon.io transport settings. Timeout applies to
// each HTTP call separately and excludes the wait imposed by
// RequestsPerMinute, so multi-page fetches on the free tier do not expire.
type VendorConfig struct {
	BaseURL           string        `yaml:"base_url" split_words:"true" validate:"omitempty,url"`
	WebsocketURL      string        `yaml:"websocket_url" split_words:"true" validate:"required,url"`
	Timeout           time.Duration `yaml:"timeout" split_words:"true" validate:"gt=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" split_words:"true" validate:"min=0"`
}

// OutputConfig contains persistence settings
type OutputConfig struct {
	DataDir string `yaml:"data_dir" split_words:"true" validate:"required"`
	Mode    string `yaml:"mode" split_words:"true" validate:"oneof=overwrite append"`
	XLSX    bool   `yaml:"xlsx" split_words:"true"`
	BOM     bool   `yaml:"bom" split_words:"true"`
	Verify  bool   `yaml:"verify" split_words:"true"`
	Summary bool   `yaml:"summary" split_words:"true"`
}

// ProcessingConfig contains processor settings
type ProcessingConfig struct {
	OutlierThreshold float64 `yaml:"outlier_threshold" split_words:"true" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" split_words:"true" validate:"oneof=json text"`
	Output   string `yaml:"output" split_words:"true" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" split_words:"true" validate:"oneof=none stdout"`
	MetricsEnabled bool   `yaml:"metrics_enabled" split_words:"true"`
	MetricsFile    string `yaml:"metrics_file" split_words:"true"`
}

// StreamConfig bounds a realtime capture session
type StreamConfig struct {
	Duration  time.Duration `yaml:"duration" split_words:"true" validate:"min=0"`
	MaxTrades int           `yaml:"max_trades" split_words:"true" validate:"min=0"`
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// ConfigFile is an explicit YAML file; empty means POLYETL_CONFIG or the default locations
	ConfigFile string
	// EnvFile is a dotenv file; empty means ".env" if present
	EnvFile string
}

// Load reads and validates configuration from the default sources
func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

// LoadWithOptions reads configuration from opts and validates it
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	cfg, err := Read(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read layers defaults, the YAML file, the dotenv file and the environment
// without validating the result. Callers that apply flags on top must call
// Validate themselves.
func Read(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, apperrors.NewConfigError("failed to load env file", err)
	}

	configFile := opts.ConfigFile
	explicit := configFile != ""
	if !explicit {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
		explicit = configFile != ""
	}
	if !explicit {
		configFile = getConfigFilePath()
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to load config from file", err).
				WithContext("path", configFile)
		}
	}

	// Fields without a matching variable keep their file or default value
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	cfg.Normalize()
	return cfg, nil
}

// loadEnvFile loads a dotenv file without overriding variables already set
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}
	return godotenv.Load(path)
}

// loadFromFile merges a YAML file into cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the first config file found in the default locations
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Normalize canonicalises free-form values before validation
func (c *Config) Normalize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	tickers := make([]string, 0, len(c.Request.Tickers))
	for _, t := range c.Request.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			tickers = append(tickers, t)
		}
	}
	c.Request.Tickers = tickers
	c.Request.Timespan = strings.ToLower(strings.TrimSpace(c.Request.Timespan))
	c.Output.Mode = strings.ToLower(strings.TrimSpace(c.Output.Mode))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.Logging.Output = strings.ToLower(c.Logging.Output)
}

// Requests expands the request defaults into one aggregate request per ticker
func (c *Config) Requests() []domain.AggregateRequest {
	reqs := make([]domain.AggregateRequest, 0, len(c.Request.Tickers))
	for _, ticker := range c.Request.Tickers {
		reqs = append(reqs, domain.AggregateRequest{
			Ticker:     ticker,
			Multiplier: c.Request.Multiplier,
			Timespan:   domain.Timespan(c.Request.Timespan),
			From:       c.Request.From,
			To:         c.Request.To,
			Adjusted:   c.Request.Adjusted,
			Limit:      c.Request.Limit,
		})
	}
	return reqs
}

// LogValue implements slog.LogValuer so the credential never reaches a log line
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("api_key", maskSecret(c.APIKey)),
		slog.Any("tickers", c.Request.Tickers),
		slog.String("from", c.Request.From),
		slog.String("to", c.Request.To),
		slog.String("timespan", c.Request.Timespan),
		slog.Int("multiplier", c.Request.Multiplier),
		slog.Bool("adjusted", c.Request.Adjusted),
		slog.String("data_dir", c.Output.DataDir),
		slog.String("mode", c.Output.Mode),
		slog.Int("requests_per_minute", c.Vendor.RequestsPerMinute),
	)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Request: RequestConfig{
			Tickers:    []string{DefaultTicker, "MSFT"},
			From:       DefaultStartDate,
			To:         DefaultEndDate,
			Timespan:   DefaultTimespan,
			Multiplier: DefaultMultiplier,
			Adjusted:   true,
			Limit:      MaxAggregateLimit,
		},
		Vendor: VendorConfig{
			WebsocketURL: DefaultWebSocketURL,
			Timeout:      DefaultHTTPTimeout,
		},
		Output: OutputConfig{
			DataDir: DefaultDataDir,
			Mode:    WriteModeOverwrite,
			Verify:  true,
		},
		Processing: ProcessingConfig{
			OutlierThreshold: DefaultOutlierThreshold,
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   "console",
			FilePath: fmt.Sprintf("%s/polyetl.log", DefaultLogsDir),
		},
		Telemetry: TelemetryConfig{
			TraceExporter: "none",
		},
		Stream: StreamConfig{
			Duration:  time.Minute,
			MaxTrades: 1000,
		},
	}
}
