package httpx

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ClientConfig controls the shared HTTP client. Retries apply to transport
// level failures only, never to HTTP statuses; status handling belongs to
// the protocol layer.
type ClientConfig struct {
	// RetryCount is the number of times a request is retried after a
	// socket-level failure.
	RetryCount int

	// SocketTimeout bounds connection establishment and the wait for
	// response headers on each attempt.
	SocketTimeout time.Duration

	// MaxConnectionsPerRoute caps pooled connections per host.
	MaxConnectionsPerRoute int
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RetryCount:             3,
		SocketTimeout:          30 * time.Second,
		MaxConnectionsPerRoute: 32,
	}
}

// NewClient builds an *http.Client from the configuration. The returned
// client owns its transport; CloseIdleConnections releases the pool.
func NewClient(cfg ClientConfig, log zerolog.Logger) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.SocketTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: cfg.SocketTimeout,
		MaxConnsPerHost:       cfg.MaxConnectionsPerRoute,
		MaxIdleConnsPerHost:   cfg.MaxConnectionsPerRoute,
	}
	return &http.Client{
		Transport: &retryTransport{
			base:    transport,
			retries: cfg.RetryCount,
			log:     log,
		},
	}
}

// retryTransport retries requests that fail before an HTTP response is
// received. Any response, whatever its status, is returned as-is.
type retryTransport struct {
	base    http.RoundTripper
	retries int
	log     zerolog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		// The caller's request must stay untouched; retries go out on a
		// clone with a replayed body.
		outgoing := req
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				// Body already consumed and not replayable.
				break
			}
			outgoing = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("replaying request body: %w", err)
				}
				outgoing.Body = body
			}
			t.log.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("attempt", attempt).
				Msg("retrying request after transport error")
		}
		resp, err := t.base.RoundTrip(outgoing)
		if err == nil {
			return resp, nil
		}
		if req.Context().Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// CloseIdleConnections drains the pool of the given client if its transport
// was built by NewClient.
func CloseIdleConnections(client *http.Client) {
	if t, ok := client.Transport.(*retryTransport); ok {
		if base, ok := t.base.(*http.Transport); ok {
			base.CloseIdleConnections()
		}
		return
	}
	if base, ok := client.Transport.(*http.Transport); ok {
		base.CloseIdleConnections()
	}
}
