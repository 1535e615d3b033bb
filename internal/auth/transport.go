package auth

import (
	"fmt"
	"net/http"
	"net/url"
)

// Transport injects a bearer token into outgoing requests. Only requests
// sharing scheme, host and port with the FHIR endpoint are authenticated;
// download URLs pointing elsewhere (e.g. a CDN) are treated as opaque and
// sent bare.
type Transport struct {
	Base     http.RoundTripper
	Provider Provider
	Origin   *url.URL
}

// NewTransport wraps base so that same-origin requests carry a bearer token
// from the provider.
func NewTransport(base http.RoundTripper, provider Provider, fhirEndpoint string) (*Transport, error) {
	origin, err := url.Parse(fhirEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing FHIR endpoint %q: %w", fhirEndpoint, err)
	}
	return &Transport{Base: base, Provider: provider, Origin: origin}, nil
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if sameOrigin(t.Origin, req.URL) {
		credential, err := t.Provider.Credential(req.Context())
		if err != nil {
			return nil, err
		}
		if credential != nil {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+credential.Value)
		}
	}
	return t.Base.RoundTrip(req)
}

// sameOrigin compares scheme, hostname and effective port.
func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme &&
		a.Hostname() == b.Hostname() &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch u.Scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}
