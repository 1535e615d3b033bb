package auth

import (
	"context"
	"net/http"
	"testing"
	"time"
)

type stubProvider struct {
	credential *Credential
	calls      int
}

func (s *stubProvider) Credential(context.Context) (*Credential, error) {
	s.calls++
	return s.credential, nil
}

func (s *stubProvider) Close() error { return nil }

type recordingRoundTripper struct {
	last *http.Request
}

func (r *recordingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r.last = req
	return &http.Response{StatusCode: http.StatusOK, Request: req, Body: http.NoBody}, nil
}

func TestTransport_InjectsBearerOnSameOrigin(t *testing.T) {
	base := &recordingRoundTripper{}
	provider := &stubProvider{credential: &Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}}
	transport, err := NewTransport(base, provider, "http://srv:8080/fhir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://srv:8080/fhir/$export", nil)
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := base.last.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("expected bearer header, got %q", got)
	}
}

func TestTransport_SkipsForeignOrigins(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"different host", "http://cdn.example.com/files/1"},
		{"different port", "http://srv:9090/files/1"},
		{"different scheme", "https://srv:8080/files/1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := &recordingRoundTripper{}
			provider := &stubProvider{credential: &Credential{Value: "tok"}}
			transport, err := NewTransport(base, provider, "http://srv:8080/fhir")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			req, _ := http.NewRequest(http.MethodGet, tc.url, nil)
			if _, err := transport.RoundTrip(req); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := base.last.Header.Get("Authorization"); got != "" {
				t.Errorf("expected no auth header, got %q", got)
			}
			if provider.calls != 0 {
				t.Errorf("provider should not be consulted for foreign origins")
			}
		})
	}
}

func TestTransport_DefaultPortsMatch(t *testing.T) {
	base := &recordingRoundTripper{}
	provider := &stubProvider{credential: &Credential{Value: "tok"}}
	transport, err := NewTransport(base, provider, "https://srv/fhir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "https://srv:443/fhir/status", nil)
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := base.last.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("expected bearer header for explicit default port, got %q", got)
	}
}

func TestTransport_NoCredentialSendsBare(t *testing.T) {
	base := &recordingRoundTripper{}
	provider := &stubProvider{credential: nil}
	transport, err := NewTransport(base, provider, "http://srv/fhir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://srv/fhir/$export", nil)
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := base.last.Header.Get("Authorization"); got != "" {
		t.Errorf("expected no auth header, got %q", got)
	}
}
