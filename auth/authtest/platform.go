package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/lti13-go/assertion"
	"github.com/ggoodman/lti13-go/auth"
	"github.com/ggoodman/lti13-go/launch"
	"github.com/ggoodman/lti13-go/token"
)

// Platform is a fake LTI platform: it publishes a JWKS, mints id_tokens and
// runs an OAuth2 token endpoint that verifies client assertions.
type Platform struct {
	Server   *httptest.Server
	ClientID string
	KID      string

	key *rsa.PrivateKey

	mu          sync.Mutex
	toolKey     *rsa.PublicKey
	tokenStatus int
	tokenBody   string
	lastForm    map[string]string
	jwksHits    atomic.Int32
	tokenHits   atomic.Int32
}

const (
	JWKSPath  = "/jwks"
	TokenPath = "/token"
	AuthPath  = "/authorize"
)

// NewPlatform starts a fake platform for clientID. It is closed when the test
// ends.
func NewPlatform(t testing.TB, clientID string) *Platform {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen platform key: %v", err)
	}
	p := &Platform{ClientID: clientID, KID: "platform-key-1", key: key, tokenStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 p.Issuer(),
			"jwks_uri":               p.JWKSURL(),
			"authorization_endpoint": p.Server.URL + AuthPath,
			"token_endpoint":         p.TokenURL(),
		})
	})
	mux.HandleFunc(JWKSPath, func(w http.ResponseWriter, r *http.Request) {
		p.jwksHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &p.key.PublicKey, KeyID: p.KID, Algorithm: "RS256", Use: "sig"},
		}})
	})
	mux.HandleFunc(TokenPath, p.serveToken)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

func (p *Platform) Issuer() string   { return p.Server.URL }
func (p *Platform) JWKSURL() string  { return p.Server.URL + JWKSPath }
func (p *Platform) TokenURL() string { return p.Server.URL + TokenPath }

// JWKSHits reports how many times the key set was fetched.
func (p *Platform) JWKSHits() int { return int(p.jwksHits.Load()) }

// TokenHits reports how many token requests were received.
func (p *Platform) TokenHits() int { return int(p.tokenHits.Load()) }

// Config returns an auth.Config registered with this platform.
func (p *Platform) Config() auth.Config {
	return auth.Config{
		ClientID:     p.ClientID,
		Endpoint:     p.JWKSURL(),
		TokenURL:     p.TokenURL(),
		AuthorizeURL: p.Server.URL + AuthPath,
		Issuer:       p.Issuer(),
	}
}

// RegisterTool makes the token endpoint verify client assertions with pub.
func (p *Platform) RegisterTool(pub *rsa.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toolKey = pub
}

// FailTokens makes the token endpoint answer with status and body.
func (p *Platform) FailTokens(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
	p.tokenBody = body
}

// LastTokenForm returns the form fields of the most recent token request.
func (p *Platform) LastTokenForm() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

func (p *Platform) serveToken(w http.ResponseWriter, r *http.Request) {
	p.tokenHits.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	p.mu.Lock()
	p.lastForm = form
	status, body, toolKey := p.tokenStatus, p.tokenBody, p.toolKey
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}
	if form["grant_type"] != token.GrantType || form["client_assertion_type"] != token.ClientAssertionType {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		return
	}
	if toolKey != nil {
		_, err := jwt.NewParser(
			jwt.WithValidMethods([]string{assertion.Algorithm}),
			jwt.WithAudience(p.TokenURL()),
			jwt.WithIssuer(p.ClientID),
			jwt.WithSubject(p.ClientID),
			jwt.WithExpirationRequired(),
		).Parse(form["client_assertion"], func(*jwt.Token) (any, error) { return toolKey, nil })
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "platform-access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        form["scope"],
	})
}

// LaunchClaims returns a complete, valid resource link launch for a learner
// with email student@example.com in course CS101.
func (p *Platform) LaunchClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                          p.Issuer(),
		"sub":                          "platform-user-42",
		"aud":                          p.ClientID,
		"exp":                          now.Add(5 * time.Minute).Unix(),
		"iat":                          now.Unix(),
		"nonce":                        "nonce-1",
		"email":                        "student@example.com",
		"name":                         "Student Example",
		launch.ClaimMessageType:        launch.MessageTypeResourceLink,
		launch.ClaimVersion:            launch.Version13,
		launch.ClaimDeploymentID:       "deployment-1",
		launch.ClaimTargetLinkURI:      "https://tool.example/launch",
		launch.ClaimResourceLink:       map[string]any{"id": "resource-1"},
		launch.ClaimRoles:              []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"},
		launch.ClaimContext:            map[string]any{"id": "context-1", "label": "CS101", "title": "Intro to CS"},
		launch.ClaimLaunchPresentation: map[string]any{"return_url": "https://platform.example/return"},
	}
}

// MintIDToken signs claims with the platform key.
func (p *Platform) MintIDToken(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	return SignRS256(t, p.key, p.KID, claims)
}

// SignRS256 signs claims with key under kid.
func SignRS256(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign id_token: %v", err)
	}
	return s
}

// NewRSAKey generates a 2048-bit RSA key.
func NewRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return key
}

// WriteToolKey writes a fresh PKCS#1 tool key to a temporary PEM file and
// returns its path and key.
func WriteToolKey(t testing.TB) (string, *rsa.PrivateKey) {
	t.Helper()
	key := NewRSAKey(t)
	path := filepath.Join(t.TempDir(), "tool-key.pem")
	b := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write tool key: %v", err)
	}
	return path, key
}
