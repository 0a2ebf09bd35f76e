// Package jwtauth verifies platform-issued LTI launch id_tokens against the
// platform's published JSON Web Key Set.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/lti13-go/launch"
)

// Config controls id_token validation.
type Config struct {
	// Issuer, when set, must equal the token's iss claim.
	Issuer string
	// AllowedAlgs lists acceptable JWS algorithms. Defaults to RS256.
	AllowedAlgs []string
	// Leeway is the clock skew tolerated on exp, nbf and iat.
	Leeway time.Duration
}

// DefaultConfig returns RS256 only with no clock leeway.
func DefaultConfig() *Config {
	return &Config{AllowedAlgs: []string{"RS256"}}
}

// Verifier checks an id_token's signature and registered claims. It holds no
// per-call state and is safe for concurrent use.
type Verifier struct {
	cfg  Config
	keys KeySource
	log  *slog.Logger
	now  func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// WithClock overrides the time source used for exp/nbf/iat checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier returns a Verifier obtaining keys from keys. A nil cfg means
// DefaultConfig and a nil keys means a FetchingKeySource on
// http.DefaultClient.
func NewVerifier(cfg *Config, keys KeySource, opts ...Option) *Verifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	v := &Verifier{
		cfg:  *cfg,
		keys: keys,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:  time.Now,
	}
	if len(v.cfg.AllowedAlgs) == 0 {
		v.cfg.AllowedAlgs = []string{"RS256"}
	}
	v.cfg.AllowedAlgs = append([]string(nil), v.cfg.AllowedAlgs...)
	for _, opt := range opts {
		opt(v)
	}
	if v.keys == nil {
		v.keys = NewFetchingKeySource(nil)
	}
	return v
}

// VerifyAndDecode verifies idToken with the key set published at jwksURL and
// returns its claims. audience must appear in the token's aud claim.
//
// Failures are *launch.SignatureVerificationError when the token cannot be
// trusted at all (including when the key set is unavailable) and
// *launch.ClaimValidationError when a verified token's registered claims are
// unacceptable.
func (v *Verifier) VerifyAndDecode(ctx context.Context, idToken, jwksURL, audience string) (map[string]any, error) {
	if audience == "" {
		return nil, errors.New("jwtauth: expected audience is required")
	}
	if idToken == "" {
		return nil, &launch.SignatureVerificationError{Err: errors.New("empty token")}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience(audience),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(idToken, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		raw, err := v.keys.KeySet(ctx, jwksURL, kid)
		if err != nil {
			v.log.WarnContext(ctx, "jwks.fetch.fail", slog.String("jwks_url", jwksURL), slog.String("err", err.Error()))
			return nil, err
		}
		kf, err := keyfunc.NewJWKSetJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("parse key set: %w", err)
		}
		return kf.Keyfunc(t)
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &launch.SignatureVerificationError{Err: errors.New("invalid claims type")}
	}
	return map[string]any(claims), nil
}

// classify sorts parser errors into the two launch failure classes. The
// parser checks the signature before any claim, so a claim error implies a
// valid signature.
func classify(err error) error {
	for _, c := range []struct {
		target error
		claim  string
	}{
		{jwt.ErrTokenExpired, "exp"},
		{jwt.ErrTokenNotValidYet, "nbf"},
		{jwt.ErrTokenUsedBeforeIssued, "iat"},
		{jwt.ErrTokenInvalidAudience, "aud"},
		{jwt.ErrTokenInvalidIssuer, "iss"},
		{jwt.ErrTokenRequiredClaimMissing, ""},
	} {
		if errors.Is(err, c.target) {
			return &launch.ClaimValidationError{Claim: c.claim, Err: err}
		}
	}
	return &launch.SignatureVerificationError{Err: err}
}
