package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// assertionLifetime is the exp horizon of a client assertion JWT, per SMART
// Backend Services.
const assertionLifetime = 5 * time.Minute

const jwtBearerAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Credential is a bearer token snapshot. Callers receive copies; the
// provider owns the cached value.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Provider supplies bearer credentials for requests to the FHIR endpoint.
// A nil credential with a nil error means requests go out unauthenticated.
type Provider interface {
	Credential(ctx context.Context) (*Credential, error)
	Close() error
}

// NewProvider creates a Provider for the given configuration. When
// authentication is disabled the provider always returns no credential.
func NewProvider(cfg Config, fhirEndpoint string, client *http.Client, log zerolog.Logger) Provider {
	if !cfg.Enabled {
		return nopProvider{}
	}
	return &tokenProvider{
		cfg:          cfg,
		fhirEndpoint: fhirEndpoint,
		client:       client,
		log:          log,
	}
}

type nopProvider struct{}

func (nopProvider) Credential(context.Context) (*Credential, error) { return nil, nil }
func (nopProvider) Close() error                                    { return nil }

// tokenProvider acquires and caches one token per provider instance. The
// mutex serializes refreshes: concurrent callers block on the one in flight.
type tokenProvider struct {
	cfg          Config
	fhirEndpoint string
	client       *http.Client
	log          zerolog.Logger

	mu            sync.Mutex
	cached        *Credential
	tokenEndpoint string
	signer        *signingKey
}

// tokenResponse is the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

func (p *tokenProvider) Credential(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Until(p.cached.ExpiresAt) > p.cfg.TokenExpiryTolerance {
		snapshot := *p.cached
		return &snapshot, nil
	}

	credential, err := p.refresh(ctx)
	if err != nil {
		return nil, err
	}
	p.cached = credential
	snapshot := *credential
	return &snapshot, nil
}

func (p *tokenProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
	return nil
}

func (p *tokenProvider) refresh(ctx context.Context) (*Credential, error) {
	endpoint, err := p.resolveTokenEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if p.cfg.Scope != "" {
		form.Set("scope", p.cfg.Scope)
	}

	var useBasicHeader bool
	switch {
	case p.cfg.ClientSecret != "":
		if p.cfg.UseFormForBasicAuth {
			form.Set("client_id", p.cfg.ClientID)
			form.Set("client_secret", p.cfg.ClientSecret)
		} else {
			useBasicHeader = true
		}
	case p.cfg.PrivateKeyJWK != "":
		assertion, err := p.buildAssertion(endpoint)
		if err != nil {
			return nil, err
		}
		form.Set("client_assertion_type", jwtBearerAssertionType)
		form.Set("client_assertion", assertion)
	default:
		return nil, fmt.Errorf("no client secret or private key configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if useBasicHeader {
		req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	p.log.Debug().Str("token_endpoint", endpoint).Msg("requesting access token")
	requestedAt := time.Now()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting token from %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request to %s failed with status %d", endpoint, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if token.AccessToken == "" || token.TokenType == "" {
		return nil, fmt.Errorf("token response from %s is missing access_token or token_type", endpoint)
	}

	expiresAt := requestedAt.Add(time.Duration(token.ExpiresIn) * time.Second)
	p.log.Debug().Time("expires_at", expiresAt).Msg("access token acquired")
	return &Credential{Value: token.AccessToken, ExpiresAt: expiresAt}, nil
}

func (p *tokenProvider) resolveTokenEndpoint(ctx context.Context) (string, error) {
	if p.tokenEndpoint != "" {
		return p.tokenEndpoint, nil
	}
	if p.cfg.UseSMART {
		endpoint, err := discoverTokenEndpoint(ctx, p.client, p.fhirEndpoint)
		if err != nil {
			return "", err
		}
		p.log.Debug().Str("token_endpoint", endpoint).Msg("discovered token endpoint")
		p.tokenEndpoint = endpoint
		return endpoint, nil
	}
	if p.cfg.TokenEndpoint == "" {
		return "", fmt.Errorf("no token endpoint configured")
	}
	p.tokenEndpoint = p.cfg.TokenEndpoint
	return p.tokenEndpoint, nil
}

// buildAssertion signs a client assertion JWT with the configured JWK, per
// SMART Backend Services: iss and sub are the client ID, aud is the token
// endpoint, jti is unique per assertion.
func (p *tokenProvider) buildAssertion(tokenEndpoint string) (string, error) {
	if p.signer == nil {
		signer, err := parseSigningKey(p.cfg.PrivateKeyJWK)
		if err != nil {
			return "", err
		}
		p.signer = signer
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": p.cfg.ClientID,
		"sub": p.cfg.ClientID,
		"aud": tokenEndpoint,
		"jti": uuid.New().String(),
		"exp": now.Add(assertionLifetime).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(p.signer.method, claims)
	if p.signer.kid != "" {
		token.Header["kid"] = p.signer.kid
	}
	assertion, err := token.SignedString(p.signer.key)
	if err != nil {
		return "", fmt.Errorf("signing client assertion: %w", err)
	}
	return assertion, nil
}
