// Command lti13d serves the LTI 1.3 launch callback and the tool's public key
// set. Platform registration is read from LTI13_* environment variables; see
// auth.Config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joeshaw/envdecode"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ggoodman/lti13-go/auth"
	"github.com/ggoodman/lti13-go/internal/logctx"
	"github.com/ggoodman/lti13-go/keys"
	"github.com/ggoodman/lti13-go/ltihttp"
	"github.com/ggoodman/lti13-go/storage"
	"github.com/ggoodman/lti13-go/storage/memory"
	"github.com/ggoodman/lti13-go/storage/redis"
)

const (
	callbackPath = "/lti13/callback"
	jwksPath     = "/.well-known/jwks.json"
)

type serverConfig struct {
	Addr         string        `env:"LTI13D_ADDR,default=127.0.0.1:8080"`
	LogLevel     string        `env:"LTI13D_LOG_LEVEL,default=info"`
	CORSOrigins  []string      `env:"LTI13D_CORS_ORIGINS,default=*"`
	JWKSCacheTTL time.Duration `env:"LTI13D_JWKS_CACHE_TTL,default=0"`
	KeyCacheSize int           `env:"LTI13D_KEY_CACHE_SIZE,default=0"`
	RedisAddr    string        `env:"REDIS_ADDR"`
}

func loadServerConfig() (serverConfig, error) {
	var sc serverConfig
	if err := envdecode.Decode(&sc); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return sc, fmt.Errorf("decode environment: %w", err)
	}
	return sc, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lti13d:", err)
		os.Exit(1)
	}
}

func run() error {
	sc, err := loadServerConfig()
	if err != nil {
		return err
	}
	log := newLogger(sc.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := auth.ConfigFromEnv()
	if err != nil {
		return err
	}
	if cfg.Issuer != "" {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		cfg, err = auth.Discover(dctx, cfg, nil)
		cancel()
		if err != nil {
			return err
		}
		log.Info("discovery.ok", slog.String("issuer", cfg.Issuer), slog.String("jwks_url", cfg.Endpoint))
	}

	ks, closeKS, err := newKeySource(ctx, sc, log)
	if err != nil {
		return err
	}
	defer closeKS()

	kp, closeKP, err := newKeyProvider(sc, log)
	if err != nil {
		return err
	}
	defer closeKP()

	a, err := auth.New(cfg,
		auth.WithLogger(log),
		auth.WithKeySource(ks),
		auth.WithKeyProvider(kp),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           newRouter(a, kp, cfg.PrivateKeyPath, sc.CORSOrigins, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("http.listen", slog.String("addr", sc.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("http.shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(logctx.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func nopClose() error { return nil }

// newKeySource fetches the platform key set on every launch unless a cache
// TTL is configured.
func newKeySource(ctx context.Context, sc serverConfig, log *slog.Logger) (auth.KeySource, func() error, error) {
	if sc.JWKSCacheTTL <= 0 {
		if sc.RedisAddr != "" {
			log.Warn("jwks.cache.disabled", slog.String("reason", "REDIS_ADDR set without LTI13D_JWKS_CACHE_TTL"))
		}
		return auth.NewFetchingKeySource(nil), nopClose, nil
	}
	store, err := newStorage(ctx, sc.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	log.Info("jwks.cache.enabled", slog.Duration("ttl", sc.JWKSCacheTTL), slog.Bool("redis", sc.RedisAddr != ""))
	return auth.NewCachingKeySource(nil, store, sc.JWKSCacheTTL, log), store.Close, nil
}

// newKeyProvider reads the tool key from disk on every use unless a cache
// size is configured.
func newKeyProvider(sc serverConfig, log *slog.Logger) (keys.Provider, func() error, error) {
	if sc.KeyCacheSize <= 0 {
		return keys.DiskProvider{}, nopClose, nil
	}
	kc, err := keys.NewWatchingCache(sc.KeyCacheSize, keys.WithWatchLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return kc, kc.Close, nil
}

// newStorage returns Redis storage when addr is set so that replicas share
// the key set cache, and an in-process LRU otherwise.
func newStorage(ctx context.Context, addr string) (storage.Storage, error) {
	if addr == "" {
		return memory.New(64)
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return redis.New(redis.Config{Client: client})
}

func newRouter(a auth.Authenticator, kp keys.Provider, keyPath string, origins []string, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer)

	r.Handle(callbackPath, ltihttp.NewCallbackHandler(a, ltihttp.WithLogger(log)))

	if keyPath != "" {
		r.Group(func(jr chi.Router) {
			jr.Use(cors.Handler(cors.Options{
				AllowedOrigins: origins,
				AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
				ExposedHeaders: []string{"ETag"},
				MaxAge:         300,
			}))
			jr.Handle(jwksPath, ltihttp.NewJWKSHandler(kp, keyPath, ltihttp.WithLogger(log)))
		})
	}
	return r
}
