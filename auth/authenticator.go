package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/lti13-go/internal/jwtauth"
	"github.com/ggoodman/lti13-go/internal/logctx"
	"github.com/ggoodman/lti13-go/keys"
	"github.com/ggoodman/lti13-go/launch"
	"github.com/ggoodman/lti13-go/storage"
	"github.com/ggoodman/lti13-go/token"
)

// KeySource supplies the raw platform JWKS for a verification.
type KeySource = jwtauth.KeySource

// NewFetchingKeySource returns a KeySource that GETs the key set on every
// call. hc may be nil.
func NewFetchingKeySource(hc *http.Client) KeySource {
	return jwtauth.NewFetchingKeySource(hc)
}

// NewCachingKeySource returns a KeySource that keeps key sets in store for
// ttl and refetches once when a token's kid is not in the stored set. Fetch
// failures are never masked by a stored set.
func NewCachingKeySource(hc *http.Client, store storage.Storage, ttl time.Duration, l *slog.Logger) KeySource {
	return jwtauth.NewCachingKeySource(jwtauth.NewFetchingKeySource(hc), store,
		jwtauth.WithCacheTTL(ttl),
		jwtauth.WithCacheLogger(l),
	)
}

// LaunchAuthenticator implements Authenticator for one platform registration.
type LaunchAuthenticator struct {
	cfg         Config
	verifier    LaunchVerifier
	resolveRole launch.RoleResolver
	tokens      *token.Client
	log         *slog.Logger
}

var _ Authenticator = (*LaunchAuthenticator)(nil)

// Option configures a LaunchAuthenticator.
type Option func(*options)

type options struct {
	log        *slog.Logger
	verifier   LaunchVerifier
	keySource  KeySource
	keys       keys.Provider
	httpClient *http.Client
	now        func() time.Time
}

// WithLogger sets the logger. Records carry the launch group from
// internal/logctx when the handler is wrapped with it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithLaunchVerifier replaces id_token verification entirely.
func WithLaunchVerifier(v LaunchVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithKeySource sets where platform key sets come from. Ignored when
// WithLaunchVerifier is used.
func WithKeySource(ks KeySource) Option {
	return func(o *options) { o.keySource = ks }
}

// WithKeyProvider sets how the tool private key is read for access token
// requests.
func WithKeyProvider(p keys.Provider) Option {
	return func(o *options) { o.keys = p }
}

// WithHTTPClient sets the client used for key set fetches and token
// requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithClock overrides the time source for token validation and assertions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates cfg and returns an authenticator for it.
func New(cfg Config, opts ...Option) (*LaunchAuthenticator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if o.verifier == nil {
		ks := o.keySource
		if ks == nil {
			ks = jwtauth.NewFetchingKeySource(o.httpClient)
		}
		vcfg := jwtauth.DefaultConfig()
		vcfg.Issuer = cfg.Issuer
		vcfg.Leeway = cfg.Leeway
		o.verifier = jwtauth.NewVerifier(vcfg, ks,
			jwtauth.WithLogger(o.log),
			jwtauth.WithClock(o.now),
		)
	}

	a := &LaunchAuthenticator{
		cfg:         cfg,
		verifier:    o.verifier,
		resolveRole: cfg.roleResolver(),
		tokens: token.NewClient(
			token.WithHTTPClient(o.httpClient),
			token.WithKeyProvider(o.keys),
			token.WithLogger(o.log),
			token.WithStrictKID(cfg.StrictKID),
			token.WithClock(o.now),
		),
		log: o.log,
	}

	if cfg.UsernameKey != DefaultUsernameKey {
		a.log.Warn("config.username_key.unused",
			slog.String("username_key", cfg.UsernameKey),
			slog.String("effective", "email, name, given_name, family_name, lis person_sourcedid, custom lms_user_id"),
		)
	}
	return a, nil
}

// Config returns the configuration the authenticator was built with.
func (a *LaunchAuthenticator) Config() Config { return a.cfg }

// Authenticate verifies idToken and derives the launch identity.
func (a *LaunchAuthenticator) Authenticate(ctx context.Context, idToken string) (Result, error) {
	ld := &logctx.LaunchData{ClientID: a.cfg.ClientID}
	ctx = logctx.WithLaunchData(ctx, ld)

	raw, err := a.verifier.VerifyAndDecode(ctx, idToken, a.cfg.Endpoint, a.cfg.ClientID)
	if err != nil {
		return a.fail(ctx, "verify", err)
	}
	claims := launch.Decode(raw)
	ld.Issuer = claims.Issuer
	ld.DeploymentID = claims.DeploymentID

	if err := launch.Validate(claims); err != nil {
		return a.fail(ctx, "validate", err)
	}
	courseID := launch.NormalizeString(claims.CourseLabel())

	username, err := launch.ResolveUsername(claims)
	if err != nil {
		return a.fail(ctx, "username", err)
	}
	role := a.resolveRole(claims.Roles)

	lmsUserID := username
	if claims.HasSubject() {
		lmsUserID = claims.Subject
	}

	res := Result{
		Name: username,
		AuthState: AuthState{
			CourseID:        courseID,
			UserRole:        role,
			LMSUserID:       lmsUserID,
			LaunchReturnURL: claims.ReturnURL(),
		},
	}
	a.log.InfoContext(ctx, "launch.ok",
		slog.String("user", res.Name),
		slog.String("role", string(role)),
		slog.String("course_id", courseID),
	)
	return res, nil
}

func (a *LaunchAuthenticator) fail(ctx context.Context, stage string, err error) (Result, error) {
	a.log.WarnContext(ctx, "launch."+stage+".fail", slog.String("err", err.Error()))
	return Result{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
}
