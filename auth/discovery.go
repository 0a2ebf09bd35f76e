package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discover fills cfg's empty Endpoint, TokenURL and AuthorizeURL from the
// OpenID configuration published under cfg.Issuer. Explicitly configured
// values are kept. hc may be nil.
func Discover(ctx context.Context, cfg Config, hc *http.Client) (Config, error) {
	if cfg.Issuer == "" {
		return cfg, errors.New("auth: discovery requires an issuer")
	}
	if hc != nil {
		ctx = oidc.ClientContext(ctx, hc)
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return cfg, fmt.Errorf("auth: oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI       string `json:"jwks_uri"`
		Authorization string `json:"authorization_endpoint"`
		Token         string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return cfg, fmt.Errorf("auth: invalid discovery metadata: %w", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = meta.JwksURI
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = meta.Token
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = meta.Authorization
	}
	if cfg.Endpoint == "" {
		return cfg, errors.New("auth: discovery incomplete: missing jwks_uri")
	}
	return cfg, nil
}
