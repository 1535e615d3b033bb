// Package auth implements SMART-on-FHIR client-credentials token
// acquisition for the bulk export client: token endpoint discovery,
// symmetric (client secret) and asymmetric (JWK-signed assertion) client
// authentication, token caching with an expiry tolerance, and bearer
// injection into outgoing requests.
package auth

import "time"

// Config controls authentication of requests to the FHIR endpoint.
type Config struct {
	// Enabled turns authentication on. When false all other fields are
	// ignored and requests are sent unauthenticated.
	Enabled bool

	// UseSMART discovers the token endpoint from the server's
	// .well-known/smart-configuration document. When false, TokenEndpoint
	// is used verbatim.
	UseSMART bool

	// TokenEndpoint is an explicit OAuth2 token endpoint. Only consulted
	// when UseSMART is false.
	TokenEndpoint string

	// ClientID identifies the client in the client-credentials grant.
	ClientID string

	// ClientSecret selects the symmetric client authentication profile.
	ClientSecret string

	// PrivateKeyJWK is a private key in JWK JSON format and selects the
	// asymmetric (signed JWT assertion) profile. The JWK's "alg" names the
	// signing algorithm.
	PrivateKeyJWK string

	// UseFormForBasicAuth sends the symmetric credentials in the form body
	// instead of the Authorization: Basic header.
	UseFormForBasicAuth bool

	// Scope is the requested OAuth2 scope.
	Scope string

	// TokenExpiryTolerance is the minimum remaining lifetime a cached token
	// must have to be used without a refresh.
	TokenExpiryTolerance time.Duration
}

// DefaultConfig returns the authentication defaults: disabled, SMART
// discovery on, two minutes of expiry tolerance.
func DefaultConfig() Config {
	return Config{
		UseSMART:             true,
		TokenExpiryTolerance: 120 * time.Second,
	}
}
