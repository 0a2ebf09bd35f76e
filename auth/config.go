package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ggoodman/lti13-go/launch"
)

// RoleMatch selects how multiple matching role URIs are resolved.
type RoleMatch string

const (
	// RoleMatchLast lets the last matching role decide.
	RoleMatchLast RoleMatch = "last"
	// RoleMatchFirst lets the first matching role decide.
	RoleMatchFirst RoleMatch = "first"
)

// DefaultUsernameKey is the default of Config.UsernameKey.
const DefaultUsernameKey = "email"

// Config is the tool's registration with one platform. It is passed by value
// and never modified after New.
type Config struct {
	// ClientID is the tool's client id; id_tokens must carry it in aud.
	ClientID string `env:"LTI13_CLIENT_ID"`
	// Endpoint is the platform's JWKS URL.
	Endpoint string `env:"LTI13_ENDPOINT"`
	// CallbackURL is the tool's registered redirect URI.
	CallbackURL string `env:"LTI13_CALLBACK_URL"`
	// TokenURL is the platform's OAuth2 token endpoint.
	TokenURL string `env:"LTI13_TOKEN_URL"`
	// AuthorizeURL is the platform's OIDC authorization endpoint.
	AuthorizeURL string `env:"LTI13_AUTHORIZE_URL"`
	// PrivateKeyPath is the PEM file holding the tool's RSA private key.
	PrivateKeyPath string `env:"LTI13_PRIVATE_KEY"`
	// UsernameKey names the claim intended to carry the username. It is
	// accepted for compatibility but does not influence username resolution.
	UsernameKey string `env:"LTI13_USERNAME_KEY,default=email"`

	// Issuer, when set, must equal the id_token iss claim and enables
	// Discover.
	Issuer string `env:"LTI13_ISSUER"`
	// StrictKID fails access token requests when no kid can be derived
	// from the private key instead of omitting the kid header.
	StrictKID bool `env:"LTI13_STRICT_KID,default=false"`
	// RoleMatch is "last" (default) or "first".
	RoleMatch RoleMatch `env:"LTI13_ROLE_MATCH,default=last"`
	// Leeway is the clock skew tolerated on id_token time claims.
	Leeway time.Duration `env:"LTI13_LEEWAY,default=0s"`
}

// ConfigFromEnv decodes a Config from LTI13_* environment variables. The
// result is not validated.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("auth: decode environment: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.UsernameKey == "" {
		c.UsernameKey = DefaultUsernameKey
	}
	if c.RoleMatch == "" {
		c.RoleMatch = RoleMatchLast
	}
	return c
}

// Validate reports every setting required to authenticate launches that is
// missing or invalid. TokenURL and PrivateKeyPath are only required by
// GetAccessToken and are checked there.
func (c Config) Validate() error {
	var problems []string
	if c.ClientID == "" {
		problems = append(problems, "client id (LTI13_CLIENT_ID) is required")
	}
	if c.Endpoint == "" {
		problems = append(problems, "platform jwks endpoint (LTI13_ENDPOINT) is required")
	}
	switch c.RoleMatch {
	case "", RoleMatchLast, RoleMatchFirst:
	default:
		problems = append(problems, fmt.Sprintf("role match %q must be %q or %q", c.RoleMatch, RoleMatchLast, RoleMatchFirst))
	}
	if c.Leeway < 0 {
		problems = append(problems, "leeway must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("auth: invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) roleResolver() launch.RoleResolver {
	if c.RoleMatch == RoleMatchFirst {
		return launch.ResolveRoleFirstMatch
	}
	return launch.ResolveRole
}
