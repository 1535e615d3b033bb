package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func TestProvider_DisabledReturnsNoCredential(t *testing.T) {
	provider := NewProvider(Config{Enabled: false}, "http://srv/fhir", http.DefaultClient, zerolog.Nop())
	defer provider.Close()

	credential, err := provider.Credential(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credential != nil {
		t.Fatalf("expected no credential, got %+v", credential)
	}
}

func TestProvider_SymmetricBasicHeader(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-1" || secret != "secret-1" {
			t.Errorf("expected basic auth credentials, got ok=%v id=%s", ok, id)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("expected grant_type=client_credentials, got %s", got)
		}
		if got := r.PostForm.Get("scope"); got != "system/*.read" {
			t.Errorf("expected scope=system/*.read, got %s", got)
		}
		if r.PostForm.Get("client_secret") != "" {
			t.Error("client_secret must not be in the form when basic auth is used")
		}
		writeToken(w, "token-abc", 3600)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.UseSMART = false
	cfg.TokenEndpoint = srv.URL
	cfg.ClientID = "client-1"
	cfg.ClientSecret = "secret-1"
	cfg.Scope = "system/*.read"

	provider := NewProvider(cfg, "http://srv/fhir", srv.Client(), zerolog.Nop())
	defer provider.Close()

	credential, err := provider.Credential(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credential.Value != "token-abc" {
		t.Errorf("expected token-abc, got %s", credential.Value)
	}
	if time.Until(credential.ExpiresAt) < 59*time.Minute {
		t.Errorf("unexpected expiry: %v", credential.ExpiresAt)
	}

	// A fresh-enough token is served from cache.
	if _, err := provider.Credential(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 token request, got %d", calls.Load())
	}
}

func TestProvider_SymmetricFormBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("basic auth header must be absent when form auth is used")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if got := r.PostForm.Get("client_id"); got != "client-1" {
			t.Errorf("expected client_id in form, got %q", got)
		}
		if got := r.PostForm.Get("client_secret"); got != "secret-1" {
			t.Errorf("expected client_secret in form, got %q", got)
		}
		writeToken(w, "token-form", 3600)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.UseSMART = false
	cfg.TokenEndpoint = srv.URL
	cfg.ClientID = "client-1"
	cfg.ClientSecret = "secret-1"
	cfg.UseFormForBasicAuth = true

	provider := NewProvider(cfg, "http://srv/fhir", srv.Client(), zerolog.Nop())
	defer provider.Close()

	credential, err := provider.Credential(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credential.Value != "token-form" {
		t.Errorf("expected token-form, got %s", credential.Value)
	}
}

func TestProvider_RefreshesStaleToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, fmt.Sprintf("token-%d", calls.Add(1)), 1)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.UseSMART = false
	cfg.TokenEndpoint = srv.URL
	cfg.ClientID = "client-1"
	cfg.ClientSecret = "secret-1"
	// expires_in=1 is always within this tolerance, so every call refreshes
	cfg.TokenExpiryTolerance = 120 * time.Second

	provider := NewProvider(cfg, "http://srv/fhir", srv.Client(), zerolog.Nop())
	defer provider.Close()

	first, err := provider.Credential(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.Credential(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Value == second.Value {
		t.Error("expected a refreshed token")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 token requests, got %d", calls.Load())
	}
}

func TestProvider_SMARTDiscovery(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/fhir/.well-known/smart-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token_endpoint": srv.URL + "/auth/token"})
	})
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, "token-smart", 3600)
	})

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ClientID = "client-1"
	cfg.ClientSecret = "secret-1"

	provider := NewProvider(cfg, srv.URL+"/fhir", srv.Client(), zerolog.Nop())
	defer provider.Close()

	credential, err := provider.Credential(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credential.Value != "token-smart" {
		t.Errorf("expected token-smart, got %s", credential.Value)
	}
}

func TestProvider_SMARTDiscoveryMissingTokenEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": "http://x"})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ClientID = "client-1"
	cfg.ClientSecret = "secret-1"

	provider := NewProvider(cfg, srv.URL, srv.Client(), zerolog.Nop())
	defer provider.Close()

	if _, err := provider.Credential(context.Background()); err == nil {
		t.Fatal("expected an error for a configuration without token_endpoint")
	}
}

func TestProvider_AsymmetricAssertion(t *testing.T) {
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	var tokenURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if got := r.PostForm.Get("client_assertion_type"); got != jwtBearerAssertionType {
			t.Errorf("unexpected client_assertion_type: %s", got)
		}
		assertion := r.PostForm.Get("client_assertion")
		if assertion == "" {
			t.Fatal("expected a client_assertion")
		}

		parsed, err := jwt.Parse(assertion, func(tok *jwt.Token) (interface{}, error) {
			if tok.Method.Alg() != "RS384" {
				return nil, fmt.Errorf("unexpected alg %s", tok.Method.Alg())
			}
			return &private.PublicKey, nil
		}, jwt.WithExpirationRequired())
		if err != nil {
			t.Fatalf("verifying assertion: %v", err)
		}
		claims := parsed.Claims.(jwt.MapClaims)
		if claims["iss"] != "client-asym" || claims["sub"] != "client-asym" {
			t.Errorf("unexpected iss/sub: %v/%v", claims["iss"], claims["sub"])
		}
		if claims["aud"] != tokenURL {
			t.Errorf("expected aud=%s, got %v", tokenURL, claims["aud"])
		}
		if jti, _ := claims["jti"].(string); jti == "" {
			t.Error("expected a jti claim")
		}
		if kid, _ := parsed.Header["kid"].(string); kid != "key-1" {
			t.Errorf("expected kid=key-1, got %q", kid)
		}
		writeToken(w, "token-asym", 3600)
	}))
	defer srv.Close()
	tokenURL = srv.URL

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.UseSMART = false
	cfg.TokenEndpoint = srv.URL
	cfg.ClientID = "client-asym"
	cfg.PrivateKeyJWK = rsaJWK(t, private, "RS384", "key-1")

	provider := NewProvider(cfg, "http://srv/fhir", srv.Client(), zerolog.Nop())
	defer provider.Close()

	credential, err := provider.Credential(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credential.Value != "token-asym" {
		t.Errorf("expected token-asym, got %s", credential.Value)
	}
}

func TestParseSigningKey_RejectsUnknownAlg(t *testing.T) {
	if _, err := parseSigningKey(`{"kty":"RSA","alg":"XX999"}`); err == nil {
		t.Fatal("expected an error for an unknown alg")
	}
	if _, err := parseSigningKey(`{"kty":"OKP","alg":"RS384"}`); err == nil {
		t.Fatal("expected an error for an unsupported kty")
	}
}

func writeToken(w http.ResponseWriter, token string, expiresIn int64) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   expiresIn,
	})
}

// rsaJWK renders a private RSA key as a JWK JSON string.
func rsaJWK(t *testing.T, key *rsa.PrivateKey, alg, kid string) string {
	t.Helper()
	b64 := func(i *big.Int) string {
		return base64.RawURLEncoding.EncodeToString(i.Bytes())
	}
	jwk := map[string]string{
		"kty": "RSA",
		"alg": alg,
		"kid": kid,
		"n":   b64(key.N),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		"d":   b64(key.D),
		"p":   b64(key.Primes[0]),
		"q":   b64(key.Primes[1]),
		"dp":  b64(key.Precomputed.Dp),
		"dq":  b64(key.Precomputed.Dq),
		"qi":  b64(key.Precomputed.Qinv),
	}
	data, err := json.Marshal(jwk)
	if err != nil {
		t.Fatalf("marshaling JWK: %v", err)
	}
	return string(data)
}
