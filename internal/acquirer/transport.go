package acquirer

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// transport paces every outbound call, including SDK pagination and
// retries, and optionally redirects them to another host. The timeout
// starts after the limiter wait and ends when the response body is closed.
type transport struct {
	base    http.RoundTripper
	baseURL *url.URL
	limiter *rate.Limiter
	timeout time.Duration
}

// RoundTrip implements http.RoundTripper
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	ctx, cancel := req.Context(), context.CancelFunc(func() {})
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
	}

	// RoundTrippers must not modify the caller's request
	req = req.Clone(ctx)
	if t.baseURL != nil {
		req.URL.Scheme = t.baseURL.Scheme
		req.URL.Host = t.baseURL.Host
		req.Host = t.baseURL.Host
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
