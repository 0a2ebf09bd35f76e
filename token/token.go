// Package token obtains platform API access tokens using the OAuth2
// client_credentials grant authenticated with a signed JWT client assertion.
//
// Tokens are never cached: every call to GetAccessToken signs a fresh
// assertion and performs a fresh exchange.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/lti13-go/assertion"
	"github.com/ggoodman/lti13-go/keys"
)

const (
	GrantType           = "client_credentials"
	ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	agsScopePrefix = "https://purl.imsglobal.org/spec/lti-ags/scope/"
)

// DefaultScopes are requested when GetAccessToken is called with an empty
// scope.
var DefaultScopes = []string{
	agsScopePrefix + "score",
	agsScopePrefix + "lineitem",
	agsScopePrefix + "result.readonly",
	agsScopePrefix + "lineitem.readonly",
}

// DefaultScope is DefaultScopes joined with single spaces.
func DefaultScope() string { return strings.Join(DefaultScopes, " ") }

// DefaultTimeout bounds one token exchange.
const DefaultTimeout = 30 * time.Second

// maxResponseBody caps how much of a token response is read.
const maxResponseBody = 1 << 20

// ErrTokenRequest matches any *TokenRequestError via errors.Is.
var ErrTokenRequest = errors.New("token: request failed")

var errNotObject = errors.New("decode response: not a JSON object")

// TokenRequestError reports a failed token exchange. StatusCode and Body are
// set when the platform answered with a non-2xx status; Err is set for
// transport, signing and decoding failures.
type TokenRequestError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token: endpoint returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token: request failed: %v", e.Err)
}

func (e *TokenRequestError) Unwrap() error { return e.Err }

func (e *TokenRequestError) Is(target error) bool { return target == ErrTokenRequest }

// Response is the decoded JSON body of a successful token response. It is
// returned as-is; the accessors read the standard RFC 6749 fields.
type Response map[string]any

func (r Response) AccessToken() string {
	s, _ := r["access_token"].(string)
	return s
}

func (r Response) TokenType() string {
	s, _ := r["token_type"].(string)
	return s
}

func (r Response) Scope() string {
	s, _ := r["scope"].(string)
	return s
}

// ExpiresIn returns the expires_in lifetime, or zero when absent.
func (r Response) ExpiresIn() time.Duration {
	switch v := r["expires_in"].(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return time.Duration(n) * time.Second
		}
	case string:
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}

// Client performs token exchanges. The zero value is not usable; construct
// with NewClient.
type Client struct {
	httpClient *http.Client
	keys       keys.Provider
	log        *slog.Logger
	timeout    time.Duration
	strictKID  bool
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for the exchange.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithKeyProvider replaces the default per-call disk read of the private key.
func WithKeyProvider(p keys.Provider) Option {
	return func(c *Client) {
		if p != nil {
			c.keys = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTimeout bounds each exchange. Values at or above the assertion
// lifetime are clamped below it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStrictKID makes GetAccessToken fail when no kid can be derived from the
// private key instead of signing without one.
func WithStrictKID(strict bool) Option {
	return func(c *Client) { c.strictKID = strict }
}

// WithClock overrides the time source used for assertion timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient returns a Client with the given options applied.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		keys:       keys.DiskProvider{},
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:    DefaultTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout >= assertion.Lifetime {
		c.timeout = assertion.Lifetime - 5*time.Second
	}
	return c
}

// GetAccessToken exchanges a freshly signed client assertion for an access
// token at tokenEndpoint. An empty scope requests DefaultScope.
func (c *Client) GetAccessToken(ctx context.Context, tokenEndpoint, privateKeyPath, clientID, scope string) (Response, error) {
	if scope == "" {
		scope = DefaultScope()
	}

	signed, err := c.signAssertion(ctx, tokenEndpoint, privateKeyPath, clientID)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type":            {GrantType},
		"client_assertion_type": {ClientAssertionType},
		"client_assertion":      {signed},
		"scope":                 {scope},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TokenRequestError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "token.exchange.fail", slog.String("endpoint", tokenEndpoint), slog.String("err", err.Error()))
		return nil, &TokenRequestError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TokenRequestError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.WarnContext(ctx, "token.exchange.rejected",
			slog.String("endpoint", tokenEndpoint),
			slog.Int("status", resp.StatusCode),
		)
		return nil, &TokenRequestError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &TokenRequestError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if out == nil {
		return nil, &TokenRequestError{Err: errNotObject}
	}

	c.log.InfoContext(ctx, "token.exchange.ok",
		slog.String("endpoint", tokenEndpoint),
		slog.String("scope", out.Scope()),
		slog.Duration("elapsed", c.now().Sub(start)),
	)
	return out, nil
}

func (c *Client) signAssertion(ctx context.Context, tokenEndpoint, privateKeyPath, clientID string) (string, error) {
	claims := assertion.NewClaims(clientID, tokenEndpoint, c.now())

	var signed string
	err := keys.With(ctx, c.keys, privateKeyPath, func(keyText string) error {
		var headers map[string]any
		if c.strictKID {
			h, err := assertion.StrictHeaders(keyText)
			if err != nil {
				return &TokenRequestError{Err: fmt.Errorf("derive kid: %w", err)}
			}
			headers = h
		} else {
			headers = assertion.Headers(keyText)
			if len(headers) == 0 {
				c.log.WarnContext(ctx, "token.assertion.no_kid")
			}
		}
		s, err := assertion.Sign(claims.MapClaims(), keyText, headers)
		if err != nil {
			return &TokenRequestError{Err: err}
		}
		signed = s
		return nil
	})
	if err != nil {
		return "", err
	}
	return signed, nil
}
