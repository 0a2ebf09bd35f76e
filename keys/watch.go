package keys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
)

// WatchingCache is a Provider that keeps up to a fixed number of key texts in
// memory and invalidates an entry whenever its file is written, replaced,
// removed or has its permissions changed.
//
// The cached text outlives every lease handed out for it.
type WatchingCache struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, string]
	watcher *fsnotify.Watcher
	dirs    map[string]int
	log     *slog.Logger
	done    chan struct{}
}

var _ Provider = (*WatchingCache)(nil)

// WatchOption configures a WatchingCache.
type WatchOption func(*WatchingCache)

// WithWatchLogger sets the logger used for watcher diagnostics.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(c *WatchingCache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewWatchingCache starts a filesystem watcher and returns a cache holding at
// most maxEntries keys. Call Close to stop the watcher.
func NewWatchingCache(maxEntries int, opts ...WatchOption) (*WatchingCache, error) {
	if maxEntries <= 0 {
		maxEntries = 8
	}
	c := &WatchingCache{
		dirs: make(map[string]int),
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	cache, err := lru.NewWithEvict[string, string](maxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("keys: create cache: %w", err)
	}
	c.cache = cache
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("keys: start watcher: %w", err)
	}
	c.watcher = w
	go c.run()
	return c, nil
}

// Acquire returns the cached text for path, loading and watching it on a miss.
func (c *WatchingCache) Acquire(ctx context.Context, path string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = cleanPath(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if text, ok := c.cache.Get(path); ok {
		return &Lease{text: text}, nil
	}
	text, err := Load(path)
	if err != nil {
		return nil, err
	}
	// Watch the directory rather than the file so that atomic replacement
	// (write temp + rename) is observed.
	dir := filepath.Dir(path)
	if c.dirs[dir] == 0 {
		if err := c.watcher.Add(dir); err != nil {
			c.log.Debug("keys.watch.add.fail", slog.String("dir", dir), slog.String("err", err.Error()))
			// Without a watch we cannot invalidate, so do not cache.
			return &Lease{text: text}, nil
		}
	}
	c.dirs[dir]++
	c.cache.Add(path, text)
	return &Lease{text: text}, nil
}

// Invalidate drops path from the cache.
func (c *WatchingCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(cleanPath(path))
}

// Len reports the number of cached keys.
func (c *WatchingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Close stops the watcher and purges all cached keys.
func (c *WatchingCache) Close() error {
	err := c.watcher.Close()
	<-c.done
	c.mu.Lock()
	c.cache.Purge()
	c.mu.Unlock()
	return err
}

// onEvict runs with c.mu held (Add/Remove/Purge are only called under it).
func (c *WatchingCache) onEvict(path string, _ string) {
	dir := filepath.Dir(path)
	c.dirs[dir]--
	if c.dirs[dir] <= 0 {
		delete(c.dirs, dir)
		_ = c.watcher.Remove(dir)
	}
}

func (c *WatchingCache) run() {
	defer close(c.done)
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			name := cleanPath(ev.Name)
			c.mu.Lock()
			if c.cache.Contains(name) {
				c.cache.Remove(name)
				c.log.Debug("keys.cache.invalidate", slog.String("path", name), slog.String("op", ev.Op.String()))
			}
			c.mu.Unlock()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Debug("keys.watch.error", slog.String("err", err.Error()))
		}
	}
}

func cleanPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
