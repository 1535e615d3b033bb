// Package download fans a list of URLs out across a bounded worker pool and
// streams each response into a file store handle. The engine fails fast: the
// first worker error cancels the rest. Partial files are left in place.
package download

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/bulk-export/internal/filestore"
	"github.com/ehr/bulk-export/internal/httpx"
)

// Entry pairs a source URL with its destination handle.
type Entry struct {
	Source      string
	Destination filestore.FileHandle
}

// StatusError reports a non-200 response from a download URL.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downloading %s: status %d", e.URL, e.StatusCode)
}

// Engine downloads entries concurrently through a shared HTTP client.
type Engine struct {
	client      *http.Client
	concurrency int
	log         zerolog.Logger
}

// NewEngine creates an engine with the given worker pool width.
func NewEngine(client *http.Client, concurrency int, log zerolog.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{client: client, concurrency: concurrency, log: log}
}

// Run downloads all entries before the deadline. The returned sizes preserve
// the input order regardless of completion order. On any failure the
// remaining workers are cancelled and the first error is returned; when the
// deadline expires the error wraps context.DeadlineExceeded.
func (e *Engine) Run(ctx context.Context, entries []Entry, deadline time.Time) ([]int64, error) {
	ctx, cancel := httpx.WithDeadline(ctx, deadline)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	sizes := make([]int64, len(entries))
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			n, err := e.fetch(ctx, entry)
			if err != nil {
				return err
			}
			sizes[i] = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sizes, nil
}

func (e *Engine) fetch(ctx context.Context, entry Entry) (int64, error) {
	e.log.Debug().Str("url", entry.Source).Str("dest", entry.Destination.URI()).Msg("starting download")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.Source, nil)
	if err != nil {
		return 0, fmt.Errorf("building download request for %s: %w", entry.Source, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", entry.Source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{URL: entry.Source, StatusCode: resp.StatusCode}
	}

	n, err := entry.Destination.WriteAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", entry.Destination.URI(), err)
	}
	e.log.Debug().Str("url", entry.Source).Int64("bytes", n).Msg("download complete")
	return n, nil
}
