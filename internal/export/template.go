package export

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/bulk-export/internal/httpx"
)

// AsyncConfig tunes the status polling loop.
type AsyncConfig struct {
	// MaxTransientErrors bounds the cumulative number of transient server
	// errors tolerated over the whole poll. The budget is never reset by
	// intervening successes.
	MaxTransientErrors int

	// MinPollingDelay is used when the server sends no Retry-After.
	MinPollingDelay time.Duration

	// MaxPollingDelay caps any server-suggested delay.
	MaxPollingDelay time.Duration
}

// DefaultAsyncConfig returns the polling defaults.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		MaxTransientErrors: 3,
		MinPollingDelay:    time.Second,
		MaxPollingDelay:    60 * time.Second,
	}
}

// template drives the async protocol state machine: kick-off, then poll the
// status URL until the manifest is ready, a fatal error occurs, the
// transient budget is exhausted, or the deadline expires.
type template struct {
	service *service
	cfg     AsyncConfig
	log     zerolog.Logger
}

func newTemplate(service *service, cfg AsyncConfig, log zerolog.Logger) *template {
	return &template{service: service, cfg: cfg, log: log}
}

func (t *template) export(ctx context.Context, request Request, timeout time.Duration, deadline time.Time) (*Manifest, error) {
	response, err := t.service.kickOff(ctx, request)
	if err != nil {
		return nil, err
	}
	if response.manifest != nil {
		// A synchronous completion is unexpected but accepted.
		return response.manifest, nil
	}
	if response.accepted.ContentLocation == "" {
		return nil, &ProtocolError{Message: "accepted kick-off response has no Content-Location"}
	}
	statusURL := response.accepted.ContentLocation
	t.log.Info().Str("status_url", statusURL).Msg("export accepted")

	transientErrors := 0
	for {
		if httpx.Expired(deadline) {
			return nil, &TimeoutError{After: timeout}
		}

		response, err := t.service.checkStatus(ctx, statusURL)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.Transient() {
				transientErrors++
				t.log.Warn().
					Int("status", httpErr.StatusCode).
					Int("transient_errors", transientErrors).
					Int("budget", t.cfg.MaxTransientErrors).
					Msg("transient error while polling")
				if transientErrors > t.cfg.MaxTransientErrors {
					return nil, httpErr
				}
				if err := t.sleep(ctx, t.delayFor(httpErr.RetryAfter, httpErr.HasRetry), deadline); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		if response.manifest != nil {
			return response.manifest, nil
		}

		if progress := response.accepted.Progress; progress != "" {
			t.log.Info().Str("progress", progress).Msg("export in progress")
		}
		delay := t.delayFor(response.accepted.RetryAfter, response.accepted.HasRetry)
		if err := t.sleep(ctx, delay, deadline); err != nil {
			return nil, err
		}
	}
}

// delayFor computes the next polling delay: the server's Retry-After when
// present, otherwise the configured minimum, in both cases capped by the
// configured maximum.
func (t *template) delayFor(retryAfter time.Duration, hasRetry bool) time.Duration {
	delay := t.cfg.MinPollingDelay
	if hasRetry {
		delay = retryAfter
	}
	if delay > t.cfg.MaxPollingDelay {
		delay = t.cfg.MaxPollingDelay
	}
	return delay
}

// sleep pauses between polls, clamped so an expired deadline is observed on
// the next iteration rather than overslept.
func (t *template) sleep(ctx context.Context, delay time.Duration, deadline time.Time) error {
	if remaining, bounded := httpx.Remaining(deadline); bounded && delay > remaining {
		delay = remaining
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &SystemError{Message: "export interrupted", Cause: ctx.Err()}
	case <-timer.C:
		return nil
	}
}
