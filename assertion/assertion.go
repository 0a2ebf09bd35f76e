// Package assertion builds and signs the short-lived JWT client assertions a
// tool presents to a platform's OAuth2 token endpoint (RFC 7523
// private_key_jwt, as profiled by IMS Security Framework 1.0).
package assertion

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Backdate is subtracted from now to form iat, absorbing small clock
	// differences with the platform.
	Backdate = 5 * time.Second
	// Lifetime is added to now to form exp. Token exchanges must complete
	// well inside this window.
	Lifetime = 60 * time.Second
)

// Algorithm is the only signing algorithm used for assertions.
const Algorithm = "RS256"

// Claims is the payload of one client assertion.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// NewClaims returns assertion claims for clientID addressed to
// tokenEndpoint, with a fresh jti.
func NewClaims(clientID, tokenEndpoint string, now time.Time) Claims {
	return Claims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  tokenEndpoint,
		IssuedAt:  now.Add(-Backdate),
		ExpiresAt: now.Add(Lifetime),
		ID:        uuid.NewString(),
	}
}

// MapClaims renders c with aud as a single JSON string and NumericDate
// seconds for iat/exp.
func (c Claims) MapClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": c.Issuer,
		"sub": c.Subject,
		"aud": c.Audience,
		"iat": c.IssuedAt.Unix(),
		"exp": c.ExpiresAt.Unix(),
		"jti": c.ID,
	}
}

// ParsePrivateKey parses PKCS#1 or PKCS#8 PEM text into an RSA private key.
func ParsePrivateKey(privateKeyText string) (*rsa.PrivateKey, error) {
	pk, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyText))
	if err != nil {
		return nil, fmt.Errorf("assertion: parse private key: %w", err)
	}
	return pk, nil
}

// KeyID returns the RFC 7638 SHA-256 thumbprint of pub, base64url encoded.
func KeyID(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", errors.New("assertion: nil public key")
	}
	jwk := jose.JSONWebKey{Key: pub}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("assertion: thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// StrictHeaders derives the JOSE header fields for privateKeyText and reports
// any failure to do so.
func StrictHeaders(privateKeyText string) (map[string]any, error) {
	pk, err := ParsePrivateKey(privateKeyText)
	if err != nil {
		return nil, err
	}
	kid, err := KeyID(&pk.PublicKey)
	if err != nil {
		return nil, err
	}
	return map[string]any{"kid": kid}, nil
}

// Headers is the lenient form of StrictHeaders: when the public key cannot be
// derived it returns an empty header set and signing proceeds without a kid.
// Some platforms reject assertions without a kid; use StrictHeaders to fail
// early instead.
func Headers(privateKeyText string) map[string]any {
	h, err := StrictHeaders(privateKeyText)
	if err != nil {
		return map[string]any{}
	}
	return h
}

// Sign produces a compact RS256 JWS over claims using privateKeyText, adding
// headers to the JOSE header. The alg and typ header fields are not
// overridable.
func Sign(claims jwt.Claims, privateKeyText string, headers map[string]any) (string, error) {
	pk, err := ParsePrivateKey(privateKeyText)
	if err != nil {
		return "", err
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	for k, v := range headers {
		if k == "alg" || k == "typ" {
			continue
		}
		tok.Header[k] = v
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		return "", fmt.Errorf("assertion: sign: %w", err)
	}
	return s, nil
}

// PublicJWKS returns the JSON Web Key Set a platform uses to verify
// assertions signed with privateKeyText. The key id matches Headers.
func PublicJWKS(privateKeyText string) (jose.JSONWebKeySet, error) {
	pk, err := ParsePrivateKey(privateKeyText)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	kid, err := KeyID(&pk.PublicKey)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &pk.PublicKey,
		KeyID:     kid,
		Algorithm: Algorithm,
		Use:       "sig",
	}}}, nil
}
