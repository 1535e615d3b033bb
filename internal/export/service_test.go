package export

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func classifyResponse(t *testing.T, handler http.HandlerFunc) (*asyncResponse, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc := newService(srv.Client(), srv.URL, zerolog.Nop())
	return svc.checkStatus(context.Background(), srv.URL+"/status")
}

func TestService_ClassifiesManifest(t *testing.T) {
	response, err := classifyResponse(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"transaction_time": "2023-05-01T10:30:00.000Z",
			"request": "http://example.com/fhir/$export",
			"output": [
				{"type": "Patient", "url": "http://example.com/files/1", "count": 10}
			]
		}`)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	manifest := response.manifest
	if manifest == nil {
		t.Fatal("expected a manifest")
	}
	want := time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC)
	if !manifest.TransactionTime.Time.Equal(want) {
		t.Errorf("unexpected transaction time: %v", manifest.TransactionTime.Time)
	}
	if len(manifest.Output) != 1 || manifest.Output[0].Type != "Patient" || manifest.Output[0].Count != 10 {
		t.Errorf("unexpected output: %+v", manifest.Output)
	}
}

func TestService_ClassifiesAccepted(t *testing.T) {
	response, err := classifyResponse(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Location", "http://example.com/status")
		w.Header().Set("X-Progress", "50% complete")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusAccepted)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	accepted := response.accepted
	if accepted == nil {
		t.Fatal("expected an accepted response")
	}
	if accepted.ContentLocation != "http://example.com/status" {
		t.Errorf("unexpected Content-Location: %q", accepted.ContentLocation)
	}
	if accepted.Progress != "50% complete" {
		t.Errorf("unexpected progress: %q", accepted.Progress)
	}
	if !accepted.HasRetry || accepted.RetryAfter != 7*time.Second {
		t.Errorf("unexpected Retry-After: %v (has=%v)", accepted.RetryAfter, accepted.HasRetry)
	}
}

func TestService_TransientErrorWithOutcome(t *testing.T) {
	_, err := classifyResponse(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{
			"resourceType": "OperationOutcome",
			"issue": [{"severity": "error", "code": "transient", "diagnostics": "busy"}]
		}`)
	})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected an HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unexpected status: %d", httpErr.StatusCode)
	}
	if !httpErr.Transient() {
		t.Error("expected a transient error")
	}
	if !httpErr.HasRetry || httpErr.RetryAfter != 3*time.Second {
		t.Errorf("unexpected Retry-After: %v (has=%v)", httpErr.RetryAfter, httpErr.HasRetry)
	}
}

func TestService_FatalErrorWithoutOutcome(t *testing.T) {
	_, err := classifyResponse(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "nope")
	})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected an HTTPError, got %v", err)
	}
	if httpErr.Outcome != nil {
		t.Errorf("expected no outcome, got %+v", httpErr.Outcome)
	}
	if httpErr.Transient() {
		t.Error("a 400 must not be transient")
	}
}

func TestService_ServerErrorWithNonRetryableOutcome(t *testing.T) {
	_, err := classifyResponse(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{
			"resourceType": "OperationOutcome",
			"issue": [{"severity": "error", "code": "exception", "diagnostics": "boom"}]
		}`)
	})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected an HTTPError, got %v", err)
	}
	if httpErr.Transient() {
		t.Error("a non-retryable issue code must not be transient")
	}
}

func TestService_MalformedManifest(t *testing.T) {
	_, err := classifyResponse(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"transaction_time": [`)
	})
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected a ProtocolError, got %v", err)
	}
}
