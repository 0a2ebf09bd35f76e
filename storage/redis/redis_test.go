package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/lti13-go/storage"
)

const testKeySet = `{"keys":[{"kty":"RSA","kid":"k1","n":"AQAB","e":"AQAB"}]}`

// newTestStorage connects to a local Redis on DB 2 and skips when none is
// running. Keys are namespaced per test and removed afterwards.
func newTestStorage(t *testing.T) (*Storage, *redis.Client, string) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 2})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unavailable: %v", err)
	}
	prefix := "lti13test:" + strings.ReplaceAll(t.Name(), "/", ":") + ":"
	s, err := New(Config{Client: client, KeyPrefix: prefix})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() {
		if keys, err := client.Keys(ctx, prefix+"*").Result(); err == nil && len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = s.Close()
	})
	return s, client, prefix
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()
	if s.keyPrefix != "lti13:" {
		t.Fatalf("default prefix = %q", s.keyPrefix)
	}
}

func TestKeySetRoundTrip(t *testing.T) {
	s, client, prefix := newTestStorage(t)
	ctx := context.Background()

	if err := s.Set(ctx, "jwks:https://lms.example/jwks", []byte(testKeySet), storage.WithTTL(time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	item, err := s.Get(ctx, "jwks:https://lms.example/jwks")
	if err != nil || item == nil {
		t.Fatalf("get: %v %v", item, err)
	}
	if string(item.Data) != testKeySet || item.ExpiresAt == nil {
		t.Fatalf("unexpected item %+v", item)
	}

	ttl, err := client.PTTL(ctx, prefix+"jwks:https://lms.example/jwks").Result()
	if err != nil {
		t.Fatalf("pttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("redis expiry not set from TTL: %v", ttl)
	}
}

func TestMissingAndDeleted(t *testing.T) {
	s, _, _ := newTestStorage(t)
	ctx := context.Background()

	if item, err := s.Get(ctx, "absent"); err != nil || item != nil {
		t.Fatalf("absent key: %v %v", item, err)
	}
	if err := s.Set(ctx, "jwks:a", []byte(testKeySet)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete(ctx, "jwks:a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if item, _ := s.Get(ctx, "jwks:a"); item != nil {
		t.Fatal("deleted key still readable")
	}
}

func TestExpiry(t *testing.T) {
	s, _, _ := newTestStorage(t)
	ctx := context.Background()

	if err := s.Set(ctx, "jwks:short", []byte(testKeySet), storage.WithTTL(100*time.Millisecond)); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	if item, err := s.Get(ctx, "jwks:short"); err != nil || item != nil {
		t.Fatalf("expired key: %v %v", item, err)
	}
}

func TestCorruptValue(t *testing.T) {
	s, client, prefix := newTestStorage(t)
	ctx := context.Background()

	if err := client.Set(ctx, prefix+"jwks:bad", "not json", 0).Err(); err != nil {
		t.Fatalf("raw set: %v", err)
	}
	if _, err := s.Get(ctx, "jwks:bad"); err == nil {
		t.Fatal("expected decode error")
	}
}
