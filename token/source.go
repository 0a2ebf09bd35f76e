package token

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// SourceConfig names the exchange parameters for a TokenSource.
type SourceConfig struct {
	TokenEndpoint  string
	PrivateKeyPath string
	ClientID       string
	// Scope is space separated; empty requests DefaultScope.
	Scope string
}

type tokenSource struct {
	ctx    context.Context
	client *Client
	cfg    SourceConfig
}

// TokenSource adapts c to oauth2.TokenSource. Every Token call performs a
// fresh exchange; wrap the result in oauth2.ReuseTokenSource to reuse tokens
// until they expire.
func (c *Client) TokenSource(ctx context.Context, cfg SourceConfig) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, client: c, cfg: cfg}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	resp, err := s.client.GetAccessToken(s.ctx, s.cfg.TokenEndpoint, s.cfg.PrivateKeyPath, s.cfg.ClientID, s.cfg.Scope)
	if err != nil {
		return nil, err
	}
	at := resp.AccessToken()
	if at == "" {
		return nil, &TokenRequestError{Err: errors.New("response has no access_token")}
	}
	tok := &oauth2.Token{
		AccessToken: at,
		TokenType:   resp.TokenType(),
	}
	tok.Expiry = resp.Expiry(s.client.now())
	return tok.WithExtra(map[string]any(resp)), nil
}

// Expiry returns the absolute expiry for a response received at issuedAt, or
// the zero time when the platform did not send expires_in.
func (r Response) Expiry(issuedAt time.Time) time.Time {
	if d := r.ExpiresIn(); d > 0 {
		return issuedAt.Add(d)
	}
	return time.Time{}
}
