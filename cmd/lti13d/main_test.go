package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/lti13-go/auth"
	"github.com/ggoodman/lti13-go/auth/authtest"
	"github.com/ggoodman/lti13-go/internal/jwtauth"
	"github.com/ggoodman/lti13-go/keys"
)

func clearServerEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LTI13D_ADDR", "LTI13D_LOG_LEVEL", "LTI13D_CORS_ORIGINS", "LTI13D_JWKS_CACHE_TTL", "LTI13D_KEY_CACHE_SIZE", "REDIS_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestServerConfig_DefaultsLeaveCachesOff(t *testing.T) {
	clearServerEnv(t)
	sc, err := loadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sc.JWKSCacheTTL != 0 || sc.KeyCacheSize != 0 {
		t.Fatalf("caches should be off by default: ttl=%v size=%d", sc.JWKSCacheTTL, sc.KeyCacheSize)
	}
	if sc.Addr != "127.0.0.1:8080" {
		t.Fatalf("addr = %q", sc.Addr)
	}

	log := newLogger("error")
	ks, closeKS, err := newKeySource(context.Background(), sc, log)
	if err != nil {
		t.Fatalf("key source: %v", err)
	}
	defer closeKS()
	if _, ok := ks.(*jwtauth.FetchingKeySource); !ok {
		t.Fatalf("default key source = %T, want *jwtauth.FetchingKeySource", ks)
	}

	kp, closeKP, err := newKeyProvider(sc, log)
	if err != nil {
		t.Fatalf("key provider: %v", err)
	}
	defer closeKP()
	if _, ok := kp.(keys.DiskProvider); !ok {
		t.Fatalf("default key provider = %T, want keys.DiskProvider", kp)
	}
}

func TestServerConfig_CachesOptIn(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("LTI13D_JWKS_CACHE_TTL", "2m")
	t.Setenv("LTI13D_KEY_CACHE_SIZE", "3")
	sc, err := loadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sc.JWKSCacheTTL != 2*time.Minute || sc.KeyCacheSize != 3 {
		t.Fatalf("unexpected config %+v", sc)
	}

	log := newLogger("error")
	ks, closeKS, err := newKeySource(context.Background(), sc, log)
	if err != nil {
		t.Fatalf("key source: %v", err)
	}
	defer closeKS()
	if _, ok := ks.(*jwtauth.CachingKeySource); !ok {
		t.Fatalf("key source = %T, want *jwtauth.CachingKeySource", ks)
	}

	kp, closeKP, err := newKeyProvider(sc, log)
	if err != nil {
		t.Fatalf("key provider: %v", err)
	}
	defer closeKP()
	if _, ok := kp.(*keys.WatchingCache); !ok {
		t.Fatalf("key provider = %T, want *keys.WatchingCache", kp)
	}
}

func TestKeySource_DefaultFetchesPerLaunch(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	launches := func(sc serverConfig) int {
		before := p.JWKSHits()
		ks, closeKS, err := newKeySource(context.Background(), sc, newLogger("error"))
		if err != nil {
			t.Fatalf("key source: %v", err)
		}
		defer closeKS()
		a, err := auth.New(p.Config(), auth.WithKeySource(ks))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		for i := 0; i < 3; i++ {
			if _, err := a.Authenticate(context.Background(), p.MintIDToken(t, p.LaunchClaims())); err != nil {
				t.Fatalf("authenticate: %v", err)
			}
		}
		return p.JWKSHits() - before
	}

	if n := launches(serverConfig{}); n != 3 {
		t.Fatalf("uncached daemon fetched the key set %d times for 3 launches", n)
	}
	if n := launches(serverConfig{JWKSCacheTTL: time.Minute}); n != 1 {
		t.Fatalf("cached daemon fetched the key set %d times for 3 launches", n)
	}
}

func TestRouter(t *testing.T) {
	p := authtest.NewPlatform(t, "client-123")
	keyPath, _ := authtest.WriteToolKey(t)
	cfg := p.Config()
	cfg.PrivateKeyPath = keyPath
	a, err := auth.New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	srv := httptest.NewServer(newRouter(a, keys.DiskProvider{}, keyPath, []string{"*"}, newLogger("error")))
	defer srv.Close()

	form := url.Values{"id_token": {p.MintIDToken(t, p.LaunchClaims())}}
	resp, err := http.PostForm(srv.URL+callbackPath, form)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+jwksPath, nil)
	req.Header.Set("Origin", "https://platform.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get jwks: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("jwks status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("jwks should be readable cross-origin")
	}
}

func TestRouter_NoKeyNoJWKS(t *testing.T) {
	srv := httptest.NewServer(newRouter(authtest.NewNoAuth(""), keys.DiskProvider{}, "", nil, newLogger("error")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + jwksPath)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+callbackPath, "application/x-www-form-urlencoded", strings.NewReader("id_token=x"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}
}
