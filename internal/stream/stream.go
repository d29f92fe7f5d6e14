package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	apperrors "polyetl/internal/errors"
	"polyetl/internal/infrastructure"
	"polyetl/pkg/contracts/domain"
)

// DefaultURL is the Polygon.io stocks feed
const DefaultURL = "wss://socket.polygon.io/stocks"

const defaultHandshakeTimeout = 10 * time.Second

// Stop reasons reported in Capture.StoppedBy
const (
	StoppedByMaxTrades = "max_trades"
	StoppedByDuration  = "duration"
	StoppedByCancel    = "cancelled"
)

var errMaxTrades = errors.New("trade limit reached")

// TradeHandler is called for every captured trade, in arrival order
type TradeHandler func(domain.Trade)

// Limits bounds a capture. Zero values disable a limit; at least one limit
// or a cancellable context is expected.
type Limits struct {
	Duration  time.Duration
	MaxTrades int
}

// Capture holds the trades received for each subscribed ticker
type Capture struct {
	Tickers   []string
	Trades    map[string][]domain.Trade
	Total     int
	StoppedBy string
	Started   time.Time
	Ended     time.Time
}

// For returns the trades captured for ticker
func (c *Capture) For(ticker string) []domain.Trade {
	return c.Trades[strings.ToUpper(ticker)]
}

// Stream is a Polygon.io realtime trades client
type Stream struct {
	apiKey           string
	url              string
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	handler          TradeHandler
	logger           *slog.Logger
	metrics          *infrastructure.ETLMetrics
}

// Option configures a Stream
type Option func(*Stream)

// WithURL overrides the feed URL
func WithURL(u string) Option {
	return func(s *Stream) {
		if u != "" {
			s.url = u
		}
	}
}

// WithDialer replaces the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Stream) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithHandshakeTimeout bounds the wait for the authentication reply
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithHandler registers a callback for every trade
func WithHandler(h TradeHandler) Option {
	return func(s *Stream) {
		s.handler = h
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts received trades
func WithMetrics(m *infrastructure.ETLMetrics) Option {
	return func(s *Stream) {
		s.metrics = m
	}
}

// New creates a Stream. An empty apiKey is a configuration error.
func New(apiKey string, opts ...Option) (*Stream, error) {
	if apiKey == "" {
		return nil, apperrors.NewConfigError("missing API credential", nil)
	}
	s := &Stream{
		apiKey:           apiKey,
		url:              DefaultURL,
		dialer:           websocket.DefaultDialer,
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = infrastructure.WithComponent(s.logger, "stream")
	return s, nil
}

// Capture connects, subscribes to tickers and collects trades until a limit
// is reached or ctx is done.
func (s *Stream) Capture(ctx context.Context, tickers []string, limits Limits) (*Capture, error) {
	if len(tickers) == 0 {
		return nil, apperrors.NewConfigError("no tickers to subscribe", nil)
	}

	capture := &Capture{
		Tickers: make([]string, 0, len(tickers)),
		Trades:  make(map[string][]domain.Trade, len(tickers)),
		Started: time.Now(),
	}
	channels := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if _, dup := capture.Trades[t]; dup || t == "" {
			continue
		}
		capture.Tickers = append(capture.Tickers, t)
		capture.Trades[t] = []domain.Trade{}
		channels = append(channels, "T."+t)
	}

	runCtx := ctx
	if limits.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, limits.Duration)
		defer cancel()
	}

	conn, err := s.dial(runCtx)
	if err != nil {
		return nil, err
	}

	if err := s.authenticate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(action{Action: "subscribe", Params: strings.Join(channels, ",")}); err != nil {
		conn.Close()
		return nil, apperrors.NewNetworkError("failed to subscribe", err)
	}
	s.logger.InfoContext(ctx, "subscribed to trades",
		slog.Any("tickers", capture.Tickers),
		slog.Duration("duration", limits.Duration),
		slog.Int("max_trades", limits.MaxTrades))

	readCtx, stop := context.WithCancel(runCtx)
	defer stop()

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		<-readCtx.Done()
		closeConn()
		return nil
	})
	g.Go(func() error {
		defer stop()
		return s.readLoop(readCtx, conn, capture, limits.MaxTrades)
	})
	err = g.Wait()
	capture.Ended = time.Now()

	switch {
	case errors.Is(err, errMaxTrades):
		capture.StoppedBy = StoppedByMaxTrades
	case err != nil && ctx.Err() != nil:
		capture.StoppedBy = StoppedByCancel
	case err != nil && runCtx.Err() != nil:
		capture.StoppedBy = StoppedByDuration
	case err != nil:
		s.logger.ErrorContext(ctx, "stream failed",
			slog.Int("trades", capture.Total),
			slog.String("error", err.Error()))
		return capture, err
	}

	s.logger.InfoContext(ctx, "capture finished",
		slog.String("stopped_by", capture.StoppedBy),
		slog.Int("trades", capture.Total),
		slog.Duration("elapsed", capture.Ended.Sub(capture.Started)))
	return capture, nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, apperrors.NewAuthError("feed rejected the connection", err).
				WithContext("status", resp.StatusCode)
		}
		return nil, apperrors.NewNetworkError("failed to connect to feed", err).
			WithContext("url", s.url)
	}
	s.logger.DebugContext(ctx, "connected to feed", slog.String("url", s.url))
	return conn, nil
}

// authenticate sends the key and waits for the feed's verdict
func (s *Stream) authenticate(conn *websocket.Conn) error {
	if err := conn.WriteJSON(action{Action: "auth", Params: s.apiKey}); err != nil {
		return apperrors.NewNetworkError("failed to send auth", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout)); err != nil {
		return apperrors.NewNetworkError("failed to set read deadline", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return apperrors.NewNetworkError("no auth reply from feed", err)
		}
		events, err := decodeEvents(data)
		if err != nil {
			return apperrors.NewVendorError("malformed feed message", err)
		}
		for _, ev := range events {
			if ev.Ev != eventStatus {
				continue
			}
			switch ev.Status {
			case statusAuthSuccess:
				return nil
			case statusAuthFailed:
				return apperrors.NewAuthError("feed rejected credentials", errors.New(ev.Message))
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, capture *Capture, maxTrades int) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.NewNetworkError("feed connection lost", err)
		}

		events, err := decodeEvents(data)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed feed message",
				slog.String("error", err.Error()))
			continue
		}

		for _, ev := range events {
			switch ev.Ev {
			case eventTrade:
				buf, ok := capture.Trades[ev.Symbol]
				if !ok {
					continue
				}
				trade := ev.toTrade()
				capture.Trades[ev.Symbol] = append(buf, trade)
				capture.Total++
				if s.metrics != nil {
					s.metrics.TradesReceived.Add(ctx, 1,
						metric.WithAttributes(attribute.String("ticker", ev.Symbol)))
				}
				if s.handler != nil {
					s.handler(trade)
				}
				if maxTrades > 0 && capture.Total >= maxTrades {
					return errMaxTrades
				}
			case eventStatus:
				if ev.Status == statusAuthFailed {
					return apperrors.NewAuthError("feed rejected credentials", errors.New(ev.Message))
				}
				s.logger.DebugContext(ctx, "feed status",
					slog.String("status", ev.Status),
					slog.String("message", ev.Message))
			}
		}
	}
}
