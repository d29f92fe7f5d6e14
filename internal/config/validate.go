package config

import (
	"fmt"
	"strings"

	apperrors "polyetl/internal/errors"
	"polyetl/internal/validation"
	"polyetl/pkg/contracts/domain"
)

// Validate checks the configuration. A missing API key is reported on its
// own so callers can fail before any network call.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return apperrors.NewConfigError("missing API credential", ErrMissingAPIKey)
	}

	if err := validation.New().Struct(c); err != nil {
		return apperrors.NewConfigError("invalid configuration", err)
	}

	if _, err := domain.ParseTimespan(c.Request.Timespan); err != nil {
		return apperrors.NewConfigError("invalid timespan", err)
	}

	req := domain.AggregateRequest{From: c.Request.From, To: c.Request.To}
	if _, _, err := req.Range(); err != nil {
		return apperrors.NewConfigError("invalid date range", err)
	}

	return nil
}

// ValidateStream checks only what a realtime capture needs
func (c *Config) ValidateStream() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return apperrors.NewConfigError("missing API credential", ErrMissingAPIKey)
	}
	if len(c.Request.Tickers) == 0 {
		return apperrors.NewConfigError("at least one ticker is required", nil)
	}
	for _, t := range c.Request.Tickers {
		if !validation.IsTicker(t) {
			return apperrors.NewConfigError(fmt.Sprintf("invalid ticker %q", t), nil)
		}
	}
	if c.Stream.Duration <= 0 && c.Stream.MaxTrades <= 0 {
		return apperrors.NewConfigError("stream needs a duration or a trade limit", nil)
	}
	return nil
}
