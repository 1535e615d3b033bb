package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/bulk-export/internal/fhir"
	"github.com/ehr/bulk-export/internal/httpx"
)

const progressHeader = "x-progress"

// service issues the async protocol HTTP calls: kick-off and status
// polling. Responses are classified into Accepted, Final (manifest) or an
// error.
type service struct {
	client   *http.Client
	endpoint string
	log      zerolog.Logger
}

func newService(client *http.Client, endpoint string, log zerolog.Logger) *service {
	return &service{client: client, endpoint: endpoint, log: log}
}

// kickOff submits the export request and classifies the response.
func (s *service) kickOff(ctx context.Context, request Request) (*asyncResponse, error) {
	req, err := request.HTTPRequest(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("kick-off")
	return s.do(req)
}

// checkStatus polls the status URL returned by the kick-off.
func (s *service) checkStatus(ctx context.Context, statusURL string) (*asyncResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building status request for %s: %w", statusURL, err)
	}
	req.Header.Set("Accept", "application/json")
	return s.do(req)
}

func (s *service) do(req *http.Request) (*asyncResponse, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SystemError{Message: "async protocol request failed", Cause: err}
	}
	defer resp.Body.Close()
	return classify(resp)
}

// classify maps an HTTP response onto the async protocol states: 200 is the
// final manifest, 202 is accepted, anything else is an HTTPError carrying
// any OperationOutcome and Retry-After the server supplied.
func classify(resp *http.Response) (*asyncResponse, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &ProtocolError{Message: "reading manifest body", Cause: err}
		}
		var manifest Manifest
		if err := json.Unmarshal(body, &manifest); err != nil {
			return nil, &ProtocolError{Message: "parsing manifest", Cause: err}
		}
		return &asyncResponse{manifest: &manifest}, nil

	case http.StatusAccepted:
		io.Copy(io.Discard, resp.Body)
		accepted := &Accepted{
			ContentLocation: resp.Header.Get("Content-Location"),
			Progress:        resp.Header.Get(progressHeader),
		}
		accepted.RetryAfter, accepted.HasRetry = httpx.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return &asyncResponse{accepted: accepted}, nil

	default:
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		httpErr.RetryAfter, httpErr.HasRetry = httpx.ParseRetryAfter(resp.Header.Get("Retry-After"))
		if strings.Contains(resp.Header.Get("Content-Type"), "json") {
			if body, err := io.ReadAll(resp.Body); err == nil {
				httpErr.Outcome = fhir.ParseOperationOutcome(body)
			}
		}
		return nil, httpErr
	}
}
