package export

import (
	"time"

	"github.com/ehr/bulk-export/internal/fhir"
)

// Accepted is an intermediate async protocol response: the server is still
// computing the export.
type Accepted struct {
	// ContentLocation is the status URL to poll. Required on the kick-off
	// response, optional afterwards.
	ContentLocation string

	// Progress is the server's x-progress header, informational only.
	Progress string

	// RetryAfter is the server-suggested delay before the next poll.
	RetryAfter time.Duration
	HasRetry   bool
}

// FileItem is one entry of the manifest's output, deleted or error arrays.
type FileItem struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Count int64  `json:"count,omitempty"`
}

// Manifest is the completion response of the export operation. Field names
// on the wire are snake_case.
type Manifest struct {
	TransactionTime fhir.Instant `json:"transaction_time"`
	Request         string       `json:"request"`
	Output          []FileItem   `json:"output"`
	Deleted         []FileItem   `json:"deleted,omitempty"`
	Error           []FileItem   `json:"error,omitempty"`
}

// asyncResponse is the classified outcome of a protocol call: exactly one
// of accepted or manifest is set. Error outcomes are returned as errors by
// the service.
type asyncResponse struct {
	accepted *Accepted
	manifest *Manifest
}
