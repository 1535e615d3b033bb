// Package export implements the client side of the FHIR bulk data export
// operation: kick-off, status polling and parallel download of the result
// files into a file store.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/bulk-export/internal/auth"
	"github.com/ehr/bulk-export/internal/download"
	"github.com/ehr/bulk-export/internal/fhir"
	"github.com/ehr/bulk-export/internal/filestore"
	"github.com/ehr/bulk-export/internal/httpx"
)

const (
	// DefaultOutputFormat is the _outputFormat sent when none is configured.
	DefaultOutputFormat = "application/fhir+ndjson"

	// DefaultOutputExtension is the file extension of downloaded files.
	DefaultOutputExtension = "ndjson"

	// DefaultMaxConcurrentDownloads bounds the download fan-out.
	DefaultMaxConcurrentDownloads = 10

	// successMarker is the zero-byte file written to the destination once
	// every result file has been downloaded.
	successMarker = "_SUCCESS"
)

// Client runs bulk export operations against one FHIR endpoint. Construct it
// through a Builder, or populate the fields directly and let Export validate
// them. A Client is stateless across Export calls.
type Client struct {
	// FhirEndpointURL is the base URL of the FHIR server.
	FhirEndpointURL string

	// Level selects the scope of the export.
	Level Level

	// OutputFormat is the requested _outputFormat.
	OutputFormat string

	// Since restricts the export to resources changed at or after this time.
	Since *time.Time

	// Types, Elements and TypeFilters are the _type, _elements and
	// _typeFilter kick-off parameters.
	Types       []string
	Elements    []string
	TypeFilters []string

	// IncludeAssociatedData is the includeAssociatedData kick-off parameter.
	IncludeAssociatedData []AssociatedData

	// Patients limits a patient or group level export to these patient
	// references. A non-empty list forces the kick-off onto POST.
	Patients []fhir.Reference

	// OutputDir is the destination directory within the file store. It must
	// not exist yet.
	OutputDir string

	// OutputExtension names the extension of downloaded files.
	OutputExtension string

	// Timeout bounds the whole operation, polling and downloads included.
	// Zero means unbounded.
	Timeout time.Duration

	// MaxConcurrentDownloads bounds the download fan-out.
	MaxConcurrentDownloads int

	// Store is the destination file store. Nil means the local filesystem.
	Store filestore.FileStore

	// HTTPClient, Async and Auth configure the transport, the polling loop
	// and token acquisition.
	HTTPClient httpx.ClientConfig
	Async      AsyncConfig
	Auth       auth.Config

	Log zerolog.Logger
}

// FileResult describes one downloaded result file.
type FileResult struct {
	// Source is the URL the file was downloaded from.
	Source string

	// Destination is the URI of the file within the store.
	Destination string

	// Size is the number of bytes written.
	Size int64
}

// Result is the outcome of a completed export.
type Result struct {
	// TransactionTime is the manifest's transaction time: the instant the
	// exported snapshot is consistent with.
	TransactionTime time.Time

	// Files lists the downloaded result files in manifest order.
	Files []FileResult
}

// Export runs the full operation: validate, kick-off, poll until the
// manifest is ready, download every result file, then write the _SUCCESS
// marker. The context cancels the operation; the configured Timeout bounds
// it independently.
func (c *Client) Export(ctx context.Context) (*Result, error) {
	if violations := validate(c); len(violations) > 0 {
		return nil, &ConfigurationError{
			Title:      "invalid bulk export configuration",
			Violations: violations,
		}
	}
	deadline := httpx.DeadlineAfter(c.Timeout)

	store := c.Store
	if store == nil {
		local := filestore.NewLocal()
		defer local.Close()
		store = local
	}
	destination := store.Get(c.OutputDir)
	exists, err := destination.Exists()
	if err != nil {
		return nil, &SystemError{Message: "checking destination directory", Cause: err}
	}
	if exists {
		return nil, &ConfigurationError{
			Title: "destination directory already exists: " + destination.URI(),
		}
	}
	if err := destination.MkDirs(); err != nil {
		return nil, &SystemError{Message: "creating destination directory", Cause: err}
	}

	if c.HTTPClient.MaxConnectionsPerRoute < c.MaxConcurrentDownloads {
		c.Log.Warn().
			Int("max_connections_per_route", c.HTTPClient.MaxConnectionsPerRoute).
			Int("max_concurrent_downloads", c.MaxConcurrentDownloads).
			Msg("connection pool is smaller than the download concurrency")
	}

	baseClient := httpx.NewClient(c.HTTPClient, c.Log)
	defer httpx.CloseIdleConnections(baseClient)
	provider := auth.NewProvider(c.Auth, c.FhirEndpointURL, baseClient, c.Log)
	defer provider.Close()
	transport, err := auth.NewTransport(baseClient.Transport, provider, c.FhirEndpointURL)
	if err != nil {
		return nil, &SystemError{Message: "configuring authenticated transport", Cause: err}
	}
	client := &http.Client{Transport: transport}

	started := time.Now()
	c.Log.Info().
		Str("endpoint", c.FhirEndpointURL).
		Str("level", c.Level.String()).
		Str("destination", destination.URI()).
		Msg("starting bulk export")

	tmpl := newTemplate(newService(client, c.FhirEndpointURL, c.Log), c.Async, c.Log)
	manifest, err := tmpl.export(ctx, c.request(), c.Timeout, deadline)
	if err != nil {
		return nil, err
	}
	c.Log.Info().
		Int("files", len(manifest.Output)).
		Time("transaction_time", manifest.TransactionTime.Time).
		Msg("manifest received, downloading")

	entries := downloadEntries(manifest, destination, c.OutputExtension)
	engine := download.NewEngine(client, c.MaxConcurrentDownloads, c.Log)
	sizes, err := engine.Run(ctx, entries, deadline)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && httpx.Expired(deadline) {
			return nil, &TimeoutError{After: c.Timeout}
		}
		if ctx.Err() != nil {
			return nil, &SystemError{Message: "export interrupted", Cause: ctx.Err()}
		}
		return nil, &DownloadError{Cause: err}
	}

	if _, err := destination.Child(successMarker).WriteAll(bytes.NewReader(nil)); err != nil {
		return nil, &SystemError{Message: "writing completion marker", Cause: err}
	}

	files := make([]FileResult, len(entries))
	var total int64
	for i, entry := range entries {
		files[i] = FileResult{
			Source:      entry.Source,
			Destination: entry.Destination.URI(),
			Size:        sizes[i],
		}
		total += sizes[i]
	}
	c.Log.Info().
		Int("files", len(files)).
		Int64("bytes", total).
		Dur("elapsed", time.Since(started)).
		Msg("bulk export finished")

	return &Result{TransactionTime: manifest.TransactionTime.Time, Files: files}, nil
}

func (c *Client) request() Request {
	return Request{
		Level:                 c.Level,
		OutputFormat:          c.OutputFormat,
		Since:                 c.Since,
		Types:                 c.Types,
		Elements:              c.Elements,
		TypeFilters:           c.TypeFilters,
		IncludeAssociatedData: c.IncludeAssociatedData,
		Patients:              c.Patients,
	}
}

// downloadEntries maps the manifest's output files onto destination handles.
// Files are named <Type>.<NNNN>.<extension> with a dense counter per
// resource type, in the order the type's URLs appear in the manifest.
func downloadEntries(manifest *Manifest, dir filestore.FileHandle, extension string) []download.Entry {
	counters := make(map[string]int)
	entries := make([]download.Entry, 0, len(manifest.Output))
	for _, item := range manifest.Output {
		chunk := counters[item.Type]
		counters[item.Type]++
		name := fmt.Sprintf("%s.%04d.%s", item.Type, chunk, extension)
		entries = append(entries, download.Entry{
			Source:      item.URL,
			Destination: dir.Child(name),
		})
	}
	return entries
}
