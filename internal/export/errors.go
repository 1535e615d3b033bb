package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/bulk-export/internal/fhir"
)

// ConfigurationError reports invalid client configuration or an already
// existing destination directory. It is raised before any network I/O.
type ConfigurationError struct {
	Title      string
	Violations []Violation
}

func (e *ConfigurationError) Error() string {
	if len(e.Violations) == 0 {
		return e.Title
	}
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, v.String())
	}
	return e.Title + "\n" + strings.Join(lines, "\n")
}

// HTTPError reports a non-2xx response from a protocol call or a failed
// download. The OperationOutcome and Retry-After value are carried when the
// server supplied them.
type HTTPError struct {
	StatusCode int
	Outcome    *fhir.OperationOutcome
	RetryAfter time.Duration
	HasRetry   bool
}

func (e *HTTPError) Error() string {
	if e.Outcome != nil && len(e.Outcome.Issue) > 0 {
		issue := e.Outcome.Issue[0]
		return fmt.Sprintf("http status %d: %s (%s)", e.StatusCode, issue.Diagnostics, issue.Code)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Transient reports whether this error is retryable during status polling:
// a 5xx carrying an OperationOutcome whose issue codes are all retryable.
func (e *HTTPError) Transient() bool {
	return e.StatusCode >= 500 && e.Outcome != nil && e.Outcome.IsTransient()
}

// ProtocolError reports a malformed server response: an Accepted response
// without Content-Location, or an unparseable manifest.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return "protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// DownloadError wraps the first failure observed by the download engine.
type DownloadError struct {
	Cause error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("download failed: %v", e.Cause) }
func (e *DownloadError) Unwrap() error { return e.Cause }

// TimeoutError reports that the global deadline expired during polling or
// downloading.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("export timed out after %v", e.After)
}

// SystemError reports an interruption or an I/O failure outside the
// protocol, e.g. writing to the destination.
type SystemError struct {
	Message string
	Cause   error
}

func (e *SystemError) Error() string { return fmt.Sprintf("%s: %v", e.Message, e.Cause) }
func (e *SystemError) Unwrap() error { return e.Cause }
