package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"

	"github.com/ggoodman/lti13-go/token"
)

// ErrAccessTokenConfig is returned when TokenURL or PrivateKeyPath is unset.
var ErrAccessTokenConfig = errors.New("auth: access tokens require LTI13_TOKEN_URL and LTI13_PRIVATE_KEY")

// GetAccessToken requests a platform API access token for scope (empty means
// the default Assignment and Grade Services scopes). A fresh exchange is
// performed on every call.
func (a *LaunchAuthenticator) GetAccessToken(ctx context.Context, scope string) (token.Response, error) {
	if a.cfg.TokenURL == "" || a.cfg.PrivateKeyPath == "" {
		return nil, ErrAccessTokenConfig
	}
	return a.tokens.GetAccessToken(ctx, a.cfg.TokenURL, a.cfg.PrivateKeyPath, a.cfg.ClientID, scope)
}

// TokenSource adapts GetAccessToken to oauth2.TokenSource, reusing each token
// until shortly before it expires.
func (a *LaunchAuthenticator) TokenSource(ctx context.Context, scope string) (oauth2.TokenSource, error) {
	if a.cfg.TokenURL == "" || a.cfg.PrivateKeyPath == "" {
		return nil, ErrAccessTokenConfig
	}
	src := a.tokens.TokenSource(ctx, token.SourceConfig{
		TokenEndpoint:  a.cfg.TokenURL,
		PrivateKeyPath: a.cfg.PrivateKeyPath,
		ClientID:       a.cfg.ClientID,
		Scope:          scope,
	})
	return oauth2.ReuseTokenSource(nil, src), nil
}
