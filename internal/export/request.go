package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ehr/bulk-export/internal/fhir"
)

// Request is a validated kick-off request for a bulk export operation.
type Request struct {
	Level                 Level
	OutputFormat          string
	Since                 *time.Time
	Types                 []string
	Elements              []string
	TypeFilters           []string
	IncludeAssociatedData []AssociatedData
	Patients              []fhir.Reference
}

// toParameters renders the request as the FHIR Parameters body of a POST
// kick-off. Entries keep the order _outputFormat, _since, _type, _elements,
// _typeFilter, includeAssociatedData, then one patient entry per reference.
func (r Request) toParameters() fhir.Parameters {
	var params []fhir.Parameter
	if r.OutputFormat != "" {
		params = append(params, fhir.StringParam("_outputFormat", r.OutputFormat))
	}
	if r.Since != nil {
		params = append(params, fhir.InstantParam("_since", *r.Since))
	}
	if len(r.Types) > 0 {
		params = append(params, fhir.StringParam("_type", strings.Join(r.Types, ",")))
	}
	if len(r.Elements) > 0 {
		params = append(params, fhir.StringParam("_elements", strings.Join(r.Elements, ",")))
	}
	if len(r.TypeFilters) > 0 {
		params = append(params, fhir.StringParam("_typeFilter", strings.Join(r.TypeFilters, ",")))
	}
	if len(r.IncludeAssociatedData) > 0 {
		params = append(params, fhir.StringParam("includeAssociatedData", joinAssociatedData(r.IncludeAssociatedData)))
	}
	for _, patient := range r.Patients {
		params = append(params, fhir.ReferenceParam("patient", patient))
	}
	return fhir.NewParameters(params...)
}

// rawQuery renders the populated fields as a query string, preserving the
// parameter order. Lists are comma-joined.
func (r Request) rawQuery() string {
	var pairs []string
	add := func(name, value string) {
		pairs = append(pairs, name+"="+url.QueryEscape(value))
	}
	if r.OutputFormat != "" {
		add("_outputFormat", r.OutputFormat)
	}
	if r.Since != nil {
		add("_since", fhir.FormatInstant(*r.Since))
	}
	if len(r.Types) > 0 {
		add("_type", strings.Join(r.Types, ","))
	}
	if len(r.Elements) > 0 {
		add("_elements", strings.Join(r.Elements, ","))
	}
	if len(r.TypeFilters) > 0 {
		add("_typeFilter", strings.Join(r.TypeFilters, ","))
	}
	if len(r.IncludeAssociatedData) > 0 {
		add("includeAssociatedData", joinAssociatedData(r.IncludeAssociatedData))
	}
	return strings.Join(pairs, "&")
}

// HTTPRequest builds the kick-off HTTP request against the FHIR endpoint:
// a GET with query parameters, or, when patients are present, a POST with a
// Parameters body.
func (r Request) HTTPRequest(ctx context.Context, fhirEndpoint string) (*http.Request, error) {
	if len(r.Patients) > 0 && !r.Level.PatientSupported() {
		return nil, fmt.Errorf("'patient' is not supported for a %s-level export", r.Level)
	}

	base, err := url.Parse(fhirEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing FHIR endpoint %q: %w", fhirEndpoint, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	operation := &url.URL{Path: r.Level.Path()}
	target := base.ResolveReference(operation)

	var req *http.Request
	if len(r.Patients) == 0 {
		target.RawQuery = r.rawQuery()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("building kick-off request: %w", err)
		}
	} else {
		body, err := json.Marshal(r.toParameters())
		if err != nil {
			return nil, fmt.Errorf("encoding Parameters body: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building kick-off request: %w", err)
		}
		req.Header.Set("Content-Type", "application/fhir+json; charset=UTF-8")
	}

	req.Header.Set("Accept", "application/fhir+json")
	req.Header.Set("Prefer", "respond-async")
	return req, nil
}
