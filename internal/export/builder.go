package export

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/bulk-export/internal/auth"
	"github.com/ehr/bulk-export/internal/fhir"
	"github.com/ehr/bulk-export/internal/filestore"
	"github.com/ehr/bulk-export/internal/httpx"
)

// Builder assembles a Client fluently. Build applies defaults and validates
// the assembled configuration; invalid input supplied along the way (e.g. an
// unknown associated data code) is reported there as well.
type Builder struct {
	client     Client
	violations []Violation
}

// NewSystemBuilder starts a system-level export configuration.
func NewSystemBuilder() *Builder {
	return &Builder{client: Client{Level: SystemLevel()}}
}

// NewPatientBuilder starts a patient-level export configuration.
func NewPatientBuilder() *Builder {
	return &Builder{client: Client{Level: PatientLevel()}}
}

// NewGroupBuilder starts a group-level export configuration for the given
// group ID.
func NewGroupBuilder(groupID string) *Builder {
	return &Builder{client: Client{Level: GroupLevel(groupID)}}
}

// WithFhirEndpointURL sets the base URL of the FHIR server.
func (b *Builder) WithFhirEndpointURL(u string) *Builder {
	b.client.FhirEndpointURL = u
	return b
}

// WithOutputFormat sets the requested _outputFormat.
func (b *Builder) WithOutputFormat(format string) *Builder {
	b.client.OutputFormat = format
	return b
}

// WithSince restricts the export to resources changed at or after t.
func (b *Builder) WithSince(t time.Time) *Builder {
	since := t
	b.client.Since = &since
	return b
}

// WithTypes appends resource types to the _type parameter.
func (b *Builder) WithTypes(types ...string) *Builder {
	b.client.Types = append(b.client.Types, types...)
	return b
}

// WithElements appends element paths to the _elements parameter.
func (b *Builder) WithElements(elements ...string) *Builder {
	b.client.Elements = append(b.client.Elements, elements...)
	return b
}

// WithTypeFilters appends filter expressions to the _typeFilter parameter.
func (b *Builder) WithTypeFilters(filters ...string) *Builder {
	b.client.TypeFilters = append(b.client.TypeFilters, filters...)
	return b
}

// WithIncludeAssociatedData appends associated data values.
func (b *Builder) WithIncludeAssociatedData(values ...AssociatedData) *Builder {
	b.client.IncludeAssociatedData = append(b.client.IncludeAssociatedData, values...)
	return b
}

// WithAssociatedDataCodes appends associated data values given as string
// codes. Unknown codes surface as violations from Build.
func (b *Builder) WithAssociatedDataCodes(codes ...string) *Builder {
	for _, code := range codes {
		value, err := AssociatedDataFromCode(code)
		if err != nil {
			b.violations = append(b.violations, Violation{
				Path:    "includeAssociatedData",
				Message: err.Error(),
			})
			continue
		}
		b.client.IncludeAssociatedData = append(b.client.IncludeAssociatedData, value)
	}
	return b
}

// WithPatients appends patient references, e.g. "Patient/123".
func (b *Builder) WithPatients(references ...string) *Builder {
	for _, reference := range references {
		b.client.Patients = append(b.client.Patients, fhir.Ref(reference))
	}
	return b
}

// WithOutputDir sets the destination directory within the file store.
func (b *Builder) WithOutputDir(dir string) *Builder {
	b.client.OutputDir = dir
	return b
}

// WithOutputExtension sets the extension of downloaded files.
func (b *Builder) WithOutputExtension(extension string) *Builder {
	b.client.OutputExtension = extension
	return b
}

// WithTimeout bounds the whole operation. Zero means unbounded.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.client.Timeout = timeout
	return b
}

// WithMaxConcurrentDownloads bounds the download fan-out.
func (b *Builder) WithMaxConcurrentDownloads(n int) *Builder {
	b.client.MaxConcurrentDownloads = n
	return b
}

// WithFileStore sets the destination file store. The caller keeps ownership
// and closes it.
func (b *Builder) WithFileStore(store filestore.FileStore) *Builder {
	b.client.Store = store
	return b
}

// WithHTTPClientConfig sets the transport configuration.
func (b *Builder) WithHTTPClientConfig(cfg httpx.ClientConfig) *Builder {
	b.client.HTTPClient = cfg
	return b
}

// WithAsyncConfig sets the polling configuration.
func (b *Builder) WithAsyncConfig(cfg AsyncConfig) *Builder {
	b.client.Async = cfg
	return b
}

// WithAuthConfig sets the token acquisition configuration.
func (b *Builder) WithAuthConfig(cfg auth.Config) *Builder {
	b.client.Auth = cfg
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.client.Log = log
	return b
}

// Build applies defaults, validates the configuration and returns the
// Client. The builder stays usable afterwards; the returned Client is a
// detached copy.
func (b *Builder) Build() (*Client, error) {
	c := b.client
	if c.OutputFormat == "" {
		c.OutputFormat = DefaultOutputFormat
	}
	if c.OutputExtension == "" {
		c.OutputExtension = DefaultOutputExtension
	}
	if c.MaxConcurrentDownloads == 0 {
		c.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	if c.HTTPClient == (httpx.ClientConfig{}) {
		c.HTTPClient = httpx.DefaultClientConfig()
	}
	if c.Async == (AsyncConfig{}) {
		c.Async = DefaultAsyncConfig()
	}

	violations := append(append([]Violation(nil), b.violations...), validate(&c)...)
	if len(violations) > 0 {
		sortViolations(violations)
		return nil, &ConfigurationError{
			Title:      "invalid bulk export configuration",
			Violations: violations,
		}
	}
	return &c, nil
}
