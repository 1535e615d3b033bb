// Package httpx builds the HTTP client used for all protocol and download
// traffic and provides the small time helpers the async protocol needs.
package httpx

import (
	"context"
	"time"
)

// DeadlineAfter converts a requested timeout into an absolute deadline.
// A zero or negative timeout means no deadline and yields the zero time.
func DeadlineAfter(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// Expired reports whether the deadline has passed. The zero deadline never
// expires.
func Expired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

// Remaining returns the budget left until the deadline, clamped at zero.
// The second return is false when there is no deadline.
func Remaining(deadline time.Time) (time.Duration, bool) {
	if deadline.IsZero() {
		return 0, false
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return d, true
}

// WithDeadline derives a context bounded by the given absolute deadline.
// The zero deadline leaves the context unbounded.
func WithDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}
