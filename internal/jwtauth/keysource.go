package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/ggoodman/lti13-go/storage"
)

// ErrKeySetUnavailable wraps every failure to obtain a platform key set.
var ErrKeySetUnavailable = errors.New("jwtauth: key set unavailable")

// KeySource returns the raw JWKS document published at jwksURL. kid is the
// key id the caller needs, letting caching implementations decide whether a
// stored set is still sufficient.
type KeySource interface {
	KeySet(ctx context.Context, jwksURL, kid string) (json.RawMessage, error)
}

const maxKeySetBytes = 1 << 20

// FetchingKeySource performs a fresh GET for every call.
type FetchingKeySource struct {
	client *http.Client
}

var _ KeySource = (*FetchingKeySource)(nil)

// NewFetchingKeySource uses hc, or http.DefaultClient when hc is nil.
func NewFetchingKeySource(hc *http.Client) *FetchingKeySource {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &FetchingKeySource{client: hc}
}

func (f *FetchingKeySource) KeySet(ctx context.Context, jwksURL, _ string) (json.RawMessage, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: no jwks url configured", ErrKeySetUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	req.Header.Set("Accept", "application/jwk-set+json, application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrKeySetUnavailable, jwksURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrKeySetUnavailable, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s did not return JSON", ErrKeySetUnavailable, jwksURL)
	}
	return json.RawMessage(body), nil
}

// DefaultCacheTTL is how long CachingKeySource keeps a key set.
const DefaultCacheTTL = 5 * time.Minute

// CachingKeySource stores key sets in a storage.Storage keyed by endpoint URL.
// A stored set lacking the requested kid triggers one refetch. Fetch failures
// are returned to the caller; a stale set is never served in their place.
type CachingKeySource struct {
	next  KeySource
	store storage.Storage
	ttl   time.Duration
	log   *slog.Logger
}

var _ KeySource = (*CachingKeySource)(nil)

// CacheOption configures a CachingKeySource.
type CacheOption func(*CachingKeySource)

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachingKeySource) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *CachingKeySource) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCachingKeySource caches the results of next in store.
func NewCachingKeySource(next KeySource, store storage.Storage, opts ...CacheOption) *CachingKeySource {
	c := &CachingKeySource{
		next:  next,
		store: store,
		ttl:   DefaultCacheTTL,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(jwksURL string) string { return "jwks:" + jwksURL }

func (c *CachingKeySource) KeySet(ctx context.Context, jwksURL, kid string) (json.RawMessage, error) {
	key := cacheKey(jwksURL)
	item, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "jwks.cache.get.fail", slog.String("jwks_url", jwksURL), slog.String("err", err.Error()))
		item = nil
	}
	if item != nil {
		if hasKID(item.Data, kid) {
			c.log.DebugContext(ctx, "jwks.cache.hit", slog.String("jwks_url", jwksURL))
			return json.RawMessage(item.Data), nil
		}
		c.log.DebugContext(ctx, "jwks.cache.kid_miss", slog.String("jwks_url", jwksURL), slog.String("kid", kid))
	}

	raw, err := c.next.KeySet(ctx, jwksURL, kid)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, raw, storage.WithTTL(c.ttl)); err != nil {
		c.log.WarnContext(ctx, "jwks.cache.set.fail", slog.String("jwks_url", jwksURL), slog.String("err", err.Error()))
	}
	return raw, nil
}

// hasKID reports whether the JWKS document contains a key with id kid. A set
// that cannot be parsed never matches.
func hasKID(raw []byte, kid string) bool {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return false
	}
	if kid == "" {
		return len(set.Keys) > 0
	}
	return len(set.Key(kid)) > 0
}
