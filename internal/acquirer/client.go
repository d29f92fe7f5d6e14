package acquirer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	apperrors "polyetl/internal/errors"
	"polyetl/internal/infrastructure"
	"polyetl/internal/validation"
	"polyetl/pkg/contracts/domain"
)

// Fetcher retrieves aggregate bars for one request
type Fetcher interface {
	FetchAggregates(ctx context.Context, req domain.AggregateRequest) ([]domain.Bar, error)
}

// Client provides access to the Polygon.io aggregates endpoint.
type Client struct {
	apiKey     string
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *infrastructure.ETLMetrics
	validator  *validation.Validator

	rest *polygon.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new aggregates client. An empty apiKey is a
// configuration error and is reported before any network call.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, apperrors.NewConfigError("missing API credential", nil)
	}

	c := &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    30 * time.Second,
		logger:     slog.Default(),
		tracer:     tracenoop.NewTracerProvider().Tracer("polyetl"),
		validator:  validation.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = infrastructure.WithComponent(c.logger, "acquirer")

	hc := *c.httpClient
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = &transport{
		base:    base,
		baseURL: c.baseURL,
		limiter: c.limiter,
		timeout: c.timeout,
	}
	c.rest = polygon.NewWithClient(apiKey, &hc)
	// The SDK's client-wide timeout would also count the limiter wait
	c.rest.HTTP.SetTimeout(0)

	return c, nil
}

// WithTimeout bounds each vendor HTTP call, one page at a time. Time spent
// waiting on the rate limiter is not counted, so a paginated fetch under a
// low requests-per-minute budget is limited only by the caller's context.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL sends every vendor call to u instead of api.polygon.io.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u == "" {
			return
		}
		parsed, err := url.Parse(u)
		if err != nil || parsed.Host == "" {
			c.logger.Warn("ignoring invalid vendor base URL", slog.String("base_url", u))
			return
		}
		c.baseURL = parsed
	}
}

// WithRateLimit paces outbound calls to perMinute requests. Zero disables pacing.
func WithRateLimit(perMinute int) ClientOption {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithTracer sets the tracer used for fetch spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithMetrics records request and record counters.
func WithMetrics(m *infrastructure.ETLMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// FetchAggregates retrieves every bar for req in ascending time order.
// Zero records is not an error.
func (c *Client) FetchAggregates(ctx context.Context, req domain.AggregateRequest) ([]domain.Bar, error) {
	if req.Limit == 0 {
		req.Limit = 50000
	}
	if err := c.validator.Struct(req); err != nil {
		return nil, apperrors.NewConfigError("invalid aggregate request", err).
			WithContext("ticker", req.Ticker)
	}
	from, to, err := req.Range()
	if err != nil {
		return nil, apperrors.NewConfigError("invalid aggregate request", err).
			WithContext("ticker", req.Ticker)
	}

	ctx, span := c.tracer.Start(ctx, "acquirer.fetch_aggregates", trace.WithAttributes(
		attribute.String("ticker", req.Ticker),
		attribute.String("timespan", string(req.Timespan)),
		attribute.Int("multiplier", req.Multiplier),
		attribute.String("from", req.From),
		attribute.String("to", req.To),
	))
	defer span.End()

	params := models.ListAggsParams{
		Ticker:     req.Ticker,
		Multiplier: req.Multiplier,
		Timespan:   models.Timespan(req.Timespan),
		From:       models.Millis(from),
		To:         models.Millis(to),
	}.WithOrder(models.Asc).WithLimit(req.Limit).WithAdjusted(req.Adjusted)

	c.logger.InfoContext(ctx, "fetching aggregates",
		slog.String("ticker", req.Ticker),
		slog.String("request", req.String()),
		slog.Bool("adjusted", req.Adjusted))

	start := time.Now()
	bars := make([]domain.Bar, 0)
	iter := c.rest.ListAggs(ctx, params)
	for iter.Next() {
		bars = append(bars, toBar(req.Ticker, iter.Item()))
	}

	outcome := "success"
	if err := iter.Err(); err != nil {
		appErr := classify(err).WithContext("ticker", req.Ticker)
		outcome = string(appErr.Type)
		c.recordRequest(ctx, req.Ticker, outcome, 0)
		infrastructure.RecordError(ctx, appErr)
		c.logger.ErrorContext(ctx, "aggregate fetch failed",
			slog.String("ticker", req.Ticker),
			slog.String("error_type", string(appErr.Type)),
			slog.String("error", err.Error()),
			slog.Int("records_before_failure", len(bars)))
		return nil, appErr
	}

	c.recordRequest(ctx, req.Ticker, outcome, len(bars))
	span.SetAttributes(attribute.Int("records", len(bars)))

	if len(bars) == 0 {
		c.logger.WarnContext(ctx, "vendor returned no records",
			slog.String("ticker", req.Ticker),
			slog.String("from", req.From),
			slog.String("to", req.To))
	} else {
		c.logger.InfoContext(ctx, "fetched aggregates",
			slog.String("ticker", req.Ticker),
			slog.Int("records", len(bars)),
			slog.Duration("duration", time.Since(start)))
	}

	return bars, nil
}

func (c *Client) recordRequest(ctx context.Context, ticker, outcome string, records int) {
	if c.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("ticker", ticker))
	c.metrics.RequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ticker", ticker),
		attribute.String("outcome", outcome),
	))
	if records > 0 {
		c.metrics.RecordsFetched.Add(ctx, int64(records), attrs)
	}
}

// toBar converts an SDK aggregate. The vendor omits vwap and transactions
// for some bars; the SDK decodes those as zero, which is kept as absent.
func toBar(ticker string, agg models.Agg) domain.Bar {
	bar := domain.Bar{
		Ticker: ticker,
		Open:   agg.Open,
		High:   agg.High,
		Low:    agg.Low,
		Close:  agg.Close,
		Volume: agg.Volume,
	}

	ts := time.Time(agg.Timestamp)
	if !ts.IsZero() && ts.UnixMilli() != 0 {
		bar.Timestamp = ts.UTC()
	}
	if agg.VWAP != 0 {
		v := agg.VWAP
		bar.VWAP = &v
	}
	if agg.Transactions != 0 {
		n := agg.Transactions
		bar.Transactions = &n
	}
	return bar
}

// String identifies the client in log lines without exposing the key
func (c *Client) String() string {
	host := "api.polygon.io"
	if c.baseURL != nil {
		host = c.baseURL.Host
	}
	return fmt.Sprintf("polygon aggregates client (%s)", host)
}
