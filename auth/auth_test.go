package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/lti13-go/auth"
	"github.com/ggoodman/lti13-go/auth/authtest"
	"github.com/ggoodman/lti13-go/launch"
	"github.com/ggoodman/lti13-go/storage/memory"
	"github.com/ggoodman/lti13-go/token"
)

func newAuthenticator(t *testing.T, cfg auth.Config, opts ...auth.Option) *auth.LaunchAuthenticator {
	t.Helper()
	a, err := auth.New(cfg, opts...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return a
}

func TestAuthenticate_LearnerLaunch(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	a := newAuthenticator(t, p.Config())

	res, err := a.Authenticate(context.Background(), p.MintIDToken(t, p.LaunchClaims()))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	want := auth.Result{
		Name: "student",
		AuthState: auth.AuthState{
			CourseID:        "cs101",
			UserRole:        launch.Learner,
			LMSUserID:       "platform-user-42",
			LaunchReturnURL: "https://platform.example/return",
		},
	}
	if res != want {
		t.Fatalf("result = %+v\nwant     %+v", res, want)
	}
}

func TestAuthenticate_LooselyTypedOptionalClaims(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	a := newAuthenticator(t, p.Config())

	claims := p.LaunchClaims()
	claims[launch.ClaimContext] = map[string]any{"id": "ctx-1", "label": "CS101", "type": "CourseOffering"}
	claims[launch.ClaimResourceLink] = map[string]any{"id": 4021}

	res, err := a.Authenticate(context.Background(), p.MintIDToken(t, claims))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.AuthState.CourseID != "cs101" {
		t.Fatalf("course id = %q", res.AuthState.CourseID)
	}
}

func TestAuthenticate_BadSignature(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	a := newAuthenticator(t, p.Config())

	forged := authtest.SignRS256(t, authtest.NewRSAKey(t), p.KID, p.LaunchClaims())
	res, err := a.Authenticate(context.Background(), forged)
	if res != (auth.Result{}) {
		t.Fatalf("no result may be produced on failure: %+v", res)
	}
	var sve *launch.SignatureVerificationError
	if !errors.As(err, &sve) {
		t.Fatalf("want SignatureVerificationError, got %T %v", err, err)
	}
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("launch failures must match ErrUnauthorized")
	}
}

func TestAuthenticate_ClaimFailures(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	a := newAuthenticator(t, p.Config())

	wrongAud := p.LaunchClaims()
	wrongAud["aud"] = "another-tool"
	expired := p.LaunchClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	wrongIss := p.LaunchClaims()
	wrongIss["iss"] = "https://impostor.example"

	for name, claims := range map[string]jwt.MapClaims{
		"audience": wrongAud,
		"expired":  expired,
		"issuer":   wrongIss,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), p.MintIDToken(t, claims))
			var cve *launch.ClaimValidationError
			if !errors.As(err, &cve) {
				t.Fatalf("want ClaimValidationError, got %T %v", err, err)
			}
		})
	}
}

func TestAuthenticate_MissingLaunchClaims(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	a := newAuthenticator(t, p.Config())

	claims := p.LaunchClaims()
	delete(claims, launch.ClaimDeploymentID)
	claims[launch.ClaimContext] = map[string]any{"id": "context-1"}

	_, err := a.Authenticate(context.Background(), p.MintIDToken(t, claims))
	var mrc *launch.MissingRequiredClaimError
	if !errors.As(err, &mrc) {
		t.Fatalf("want MissingRequiredClaimError, got %v", err)
	}
	if len(mrc.Claims) != 2 {
		t.Fatalf("want both problems reported, got %v", mrc.Claims)
	}
}

func TestAuthenticate_MissingUsername(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	a := newAuthenticator(t, p.Config())

	claims := p.LaunchClaims()
	delete(claims, "email")
	delete(claims, "name")
	_, err := a.Authenticate(context.Background(), p.MintIDToken(t, claims))
	if !errors.Is(err, launch.ErrMissingUsername) {
		t.Fatalf("want ErrMissingUsername, got %v", err)
	}
}

func TestAuthenticate_Roles(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	claims := p.LaunchClaims()
	claims[launch.ClaimRoles] = []string{
		"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor",
		"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Student",
	}
	tok := p.MintIDToken(t, claims)

	res, err := newAuthenticator(t, p.Config()).Authenticate(context.Background(), tok)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.AuthState.UserRole != launch.Learner {
		t.Fatalf("last matching role should win, got %s", res.AuthState.UserRole)
	}

	cfg := p.Config()
	cfg.RoleMatch = auth.RoleMatchFirst
	res, err = newAuthenticator(t, cfg).Authenticate(context.Background(), tok)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.AuthState.UserRole != launch.Instructor {
		t.Fatalf("first matching role should win, got %s", res.AuthState.UserRole)
	}
}

func TestAuthenticate_NoSubjectUsesUsername(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	claims := p.LaunchClaims()
	delete(claims, "sub")
	delete(claims, launch.ClaimLaunchPresentation)

	res, err := newAuthenticator(t, p.Config()).Authenticate(context.Background(), p.MintIDToken(t, claims))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.AuthState.LMSUserID != "student" {
		t.Fatalf("lms_user_id should fall back to the username, got %q", res.AuthState.LMSUserID)
	}
	if res.AuthState.LaunchReturnURL != "" {
		t.Fatalf("absent return url should be empty, got %q", res.AuthState.LaunchReturnURL)
	}
}

func TestAuthenticate_InsecureVerifierOnlyByOption(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	forged := authtest.SignRS256(t, authtest.NewRSAKey(t), "whatever", p.LaunchClaims())

	if _, err := newAuthenticator(t, p.Config()).Authenticate(context.Background(), forged); err == nil {
		t.Fatal("default authenticator must verify signatures")
	}
	res, err := newAuthenticator(t, p.Config(), auth.WithLaunchVerifier(authtest.InsecureVerifier{})).Authenticate(context.Background(), forged)
	if err != nil {
		t.Fatalf("insecure verifier: %v", err)
	}
	if res.Name != "student" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAuthenticate_CachingKeySource(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	store, err := memory.New(8)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	defer store.Close()

	a := newAuthenticator(t, p.Config(), auth.WithKeySource(auth.NewCachingKeySource(nil, store, time.Minute, nil)))
	for i := 0; i < 3; i++ {
		if _, err := a.Authenticate(context.Background(), p.MintIDToken(t, p.LaunchClaims())); err != nil {
			t.Fatalf("authenticate %d: %v", i, err)
		}
	}
	if p.JWKSHits() != 1 {
		t.Fatalf("want key set fetched once, got %d", p.JWKSHits())
	}

	b := newAuthenticator(t, p.Config())
	for i := 0; i < 2; i++ {
		if _, err := b.Authenticate(context.Background(), p.MintIDToken(t, p.LaunchClaims())); err != nil {
			t.Fatalf("authenticate %d: %v", i, err)
		}
	}
	if p.JWKSHits() != 3 {
		t.Fatalf("default key source should fetch per launch, got %d total fetches", p.JWKSHits())
	}
}

type recordingProvisioner struct {
	got []auth.Result
	err error
}

func (r *recordingProvisioner) Provision(_ context.Context, res auth.Result) error {
	r.got = append(r.got, res)
	return r.err
}

func TestWithLocalProvisioning(t *testing.T) {
	prov := &recordingProvisioner{}
	a := auth.WithLocalProvisioning(authtest.NewNoAuth("alice"), prov)
	res, err := a.Authenticate(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if len(prov.got) != 1 || prov.got[0].Name != "alice" || res.Name != "alice" {
		t.Fatalf("provisioner not called with result: %+v", prov.got)
	}

	prov.err = errors.New("useradd failed")
	if _, err := a.Authenticate(context.Background(), "ignored"); err == nil || !strings.Contains(err.Error(), "useradd failed") {
		t.Fatalf("provisioning failure must fail the launch, got %v", err)
	}

	rejecting := auth.WithLocalProvisioning(authtest.Reject{}, prov)
	calls := len(prov.got)
	if _, err := rejecting.Authenticate(context.Background(), "x"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if len(prov.got) != calls {
		t.Fatalf("rejected launches must not be provisioned")
	}
}

func TestGetAccessToken(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	keyPath, toolKey := authtest.WriteToolKey(t)
	p.RegisterTool(&toolKey.PublicKey)

	cfg := p.Config()
	cfg.PrivateKeyPath = keyPath
	a := newAuthenticator(t, cfg)

	resp, err := a.GetAccessToken(context.Background(), "")
	if err != nil {
		t.Fatalf("get access token: %v", err)
	}
	if resp.AccessToken() != "platform-access-token" {
		t.Fatalf("unexpected response %v", resp)
	}
	if got := p.LastTokenForm()["scope"]; got != token.DefaultScope() {
		t.Fatalf("default scope not requested: %q", got)
	}
}

func TestGetAccessToken_PlatformRejects(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	keyPath, _ := authtest.WriteToolKey(t)
	p.FailTokens(http.StatusBadRequest, `{"error":"invalid_client"}`)

	cfg := p.Config()
	cfg.PrivateKeyPath = keyPath
	_, err := newAuthenticator(t, cfg).GetAccessToken(context.Background(), "")
	var tre *token.TokenRequestError
	if !errors.As(err, &tre) || tre.StatusCode != http.StatusBadRequest {
		t.Fatalf("want TokenRequestError 400, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid_client") {
		t.Fatalf("error should carry platform body: %v", err)
	}
}

func TestGetAccessToken_WrongToolKey(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	keyPath, _ := authtest.WriteToolKey(t)
	p.RegisterTool(&authtest.NewRSAKey(t).PublicKey)

	cfg := p.Config()
	cfg.PrivateKeyPath = keyPath
	_, err := newAuthenticator(t, cfg).GetAccessToken(context.Background(), "")
	var tre *token.TokenRequestError
	if !errors.As(err, &tre) || tre.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401 from platform, got %v", err)
	}
}

func TestGetAccessToken_RequiresConfig(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	a := newAuthenticator(t, p.Config())
	if _, err := a.GetAccessToken(context.Background(), ""); !errors.Is(err, auth.ErrAccessTokenConfig) {
		t.Fatalf("want ErrAccessTokenConfig, got %v", err)
	}
	if _, err := a.TokenSource(context.Background(), ""); !errors.Is(err, auth.ErrAccessTokenConfig) {
		t.Fatalf("want ErrAccessTokenConfig, got %v", err)
	}
	if p.TokenHits() != 0 {
		t.Fatal("no token request expected")
	}
}

func TestTokenSource(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	keyPath, toolKey := authtest.WriteToolKey(t)
	p.RegisterTool(&toolKey.PublicKey)
	cfg := p.Config()
	cfg.PrivateKeyPath = keyPath

	ts, err := newAuthenticator(t, cfg).TokenSource(context.Background(), "scope-a")
	if err != nil {
		t.Fatalf("token source: %v", err)
	}
	for i := 0; i < 2; i++ {
		tok, err := ts.Token()
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if tok.AccessToken != "platform-access-token" {
			t.Fatalf("unexpected token %+v", tok)
		}
	}
	if p.TokenHits() != 1 {
		t.Fatalf("token should be reused until expiry, got %d exchanges", p.TokenHits())
	}
}

func TestNew_WarnsOnUnusedUsernameKey(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	var buf bytes.Buffer
	cfg := p.Config()
	cfg.UsernameKey = "given_name"
	newAuthenticator(t, cfg, auth.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	if !strings.Contains(buf.String(), "config.username_key.unused") {
		t.Fatalf("expected a warning about the unused username key, got %q", buf.String())
	}

	buf.Reset()
	cfg.UsernameKey = ""
	newAuthenticator(t, cfg, auth.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	if buf.Len() != 0 {
		t.Fatalf("default username key should not warn: %q", buf.String())
	}
}
