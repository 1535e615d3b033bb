package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

// jwk is a private key in JWK format, covering the RSA and EC key types
// used by SMART backend services.
type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`

	// RSA
	N  string `json:"n"`
	E  string `json:"e"`
	D  string `json:"d"`
	P  string `json:"p"`
	Q  string `json:"q"`
	Dp string `json:"dp"`
	Dq string `json:"dq"`
	Qi string `json:"qi"`

	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// signingKey is a parsed JWK ready for assertion signing.
type signingKey struct {
	method jwt.SigningMethod
	key    crypto.PrivateKey
	kid    string
}

// parseSigningKey parses a private JWK and resolves its signing method from
// the "alg" member.
func parseSigningKey(jwkJSON string) (*signingKey, error) {
	var key jwk
	if err := json.Unmarshal([]byte(jwkJSON), &key); err != nil {
		return nil, fmt.Errorf("parsing private key JWK: %w", err)
	}
	if key.Alg == "" {
		return nil, fmt.Errorf("private key JWK has no alg")
	}
	method := jwt.GetSigningMethod(key.Alg)
	if method == nil {
		return nil, fmt.Errorf("unsupported JWK alg %q", key.Alg)
	}

	switch key.Kty {
	case "RSA":
		private, err := key.rsaKey()
		if err != nil {
			return nil, err
		}
		return &signingKey{method: method, key: private, kid: key.Kid}, nil
	case "EC":
		private, err := key.ecKey()
		if err != nil {
			return nil, err
		}
		return &signingKey{method: method, key: private, kid: key.Kid}, nil
	default:
		return nil, fmt.Errorf("unsupported JWK kty %q", key.Kty)
	}
}

func (k jwk) rsaKey() (*rsa.PrivateKey, error) {
	n, err := b64Int(k.N, "n")
	if err != nil {
		return nil, err
	}
	e, err := b64Int(k.E, "e")
	if err != nil {
		return nil, err
	}
	d, err := b64Int(k.D, "d")
	if err != nil {
		return nil, err
	}
	p, err := b64Int(k.P, "p")
	if err != nil {
		return nil, err
	}
	q, err := b64Int(k.Q, "q")
	if err != nil {
		return nil, err
	}

	private := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	private.Precompute()
	if err := private.Validate(); err != nil {
		return nil, fmt.Errorf("invalid RSA key in JWK: %w", err)
	}
	return private, nil
}

func (k jwk) ecKey() (*ecdsa.PrivateKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported JWK crv %q", k.Crv)
	}
	x, err := b64Int(k.X, "x")
	if err != nil {
		return nil, err
	}
	y, err := b64Int(k.Y, "y")
	if err != nil {
		return nil, err
	}
	d, err := b64Int(k.D, "d")
	if err != nil {
		return nil, err
	}
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}

func b64Int(value, member string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("private key JWK is missing %q", member)
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decoding JWK member %q: %w", member, err)
	}
	return new(big.Int).SetBytes(raw), nil
}
