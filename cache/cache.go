// Package cache provides the in-memory content cache: weight-bounded by
// stored body size, idle-expiring, with single-flight asynchronous loads
// through the content store.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	contentdrop "github.com/wolfeidau/content-drop"
	"github.com/wolfeidau/content-drop/pool"
	"github.com/wolfeidau/content-drop/telemetry"
)

// Loader loads a record from backing storage. It runs on the I/O pool.
type Loader func(key string) (*contentdrop.Content, error)

// Config holds cache configuration.
type Config struct {
	// MaxWeight bounds the sum of cached body lengths in bytes.
	// Zero disables weight-based eviction.
	MaxWeight int64

	// IdleTTL is how long an entry may go unaccessed before it becomes
	// eligible for eviction. Zero disables idle expiry.
	IdleTTL time.Duration

	// Loader fetches records on a cache miss.
	Loader Loader

	// Pool runs miss loads.
	Pool *pool.Pool

	// Logger for eviction events.
	Logger *slog.Logger
}

// Cache maps keys to content records.
//
// Concurrency model:
//   - Get and Put are called from request-handling goroutines and only
//     hold c.mu long enough to install or touch an entry; waiting for a
//     pending entry happens outside the lock on the entry's ready channel.
//   - At most one load is in flight per key: the first miss installs a
//     pending entry and every concurrent caller waits on the same one.
//   - A janitor goroutine drops idle entries so expiry does not depend
//     on traffic.
type Cache struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently accessed
	weight  int64

	stopCh chan struct{}
	doneCh chan struct{}
}

type entry struct {
	key        string
	elem       *list.Element
	lastAccess time.Time

	ready    chan struct{}
	resolved bool
	content  *contentdrop.Content
	err      error
	weight   int64
}

// Promise resolves a pending cache entry installed by Put.
type Promise struct {
	cache *Cache
	e     *entry
}

// Resolve completes the entry with the given record. Later calls for an
// already-resolved entry are ignored.
func (p *Promise) Resolve(content *contentdrop.Content) {
	p.cache.resolve(p.e, content, nil)
}

// Fail completes the entry with an error, dropping it from the cache so
// the next lookup retries the load.
func (p *Promise) Fail(err error) {
	p.cache.resolve(p.e, nil, err)
}

// New creates a cache. Start must be called to run the janitor.
func New(cfg Config) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		config:  cfg,
		logger:  cfg.Logger,
		now:     time.Now,
		entries: make(map[string]*entry),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the janitor goroutine.
func (c *Cache) Start() {
	go c.run()
}

// Stop signals the janitor to exit and waits for it.
func (c *Cache) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Get returns the record for key, loading it through the store at most
// once across concurrent callers. The wait is bounded by ctx.
func (c *Cache) Get(ctx context.Context, key string) (*contentdrop.Content, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.touchLocked(e)
		c.mu.Unlock()
		telemetry.RecordCacheLookup(ctx, true)
		return c.wait(ctx, e)
	}

	e := c.installLocked(key)
	c.mu.Unlock()
	telemetry.RecordCacheLookup(ctx, false)

	c.config.Pool.Submit(func() {
		content, err := c.config.Loader(key)
		c.resolve(e, content, err)
	})
	return c.wait(ctx, e)
}

// Put installs a pending entry for key and returns its promise. Used on
// POST so readers see the new key before the disk write lands.
func (c *Cache) Put(key string) *Promise {
	c.mu.Lock()
	e := c.installLocked(key)
	c.mu.Unlock()
	return &Promise{cache: c, e: e}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Weight returns the summed weight of resolved entries in bytes.
func (c *Cache) Weight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weight
}

func (c *Cache) wait(ctx context.Context, e *entry) (*contentdrop.Content, error) {
	select {
	case <-e.ready:
		// content and err are immutable once ready is closed.
		return e.content, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// installLocked creates a fresh pending entry for key, displacing any
// existing entry. Displaced waiters keep their reference and resolve
// through the old entry.
func (c *Cache) installLocked(key string) *entry {
	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	e := &entry{
		key:        key,
		lastAccess: c.now(),
		ready:      make(chan struct{}),
	}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	return e
}

func (c *Cache) resolve(e *entry, content *contentdrop.Content, err error) {
	c.mu.Lock()
	if e.resolved {
		c.mu.Unlock()
		return
	}
	e.resolved = true
	e.content = content
	e.err = err

	if err != nil {
		// Failed loads are not worth caching; drop the entry so the
		// next lookup retries.
		if c.entries[e.key] == e {
			c.removeLocked(e)
		}
	} else {
		e.weight = content.Weight()
		if c.entries[e.key] == e {
			c.weight += e.weight
			c.evictLocked()
		}
	}
	c.mu.Unlock()

	close(e.ready)
}

func (c *Cache) touchLocked(e *entry) {
	e.lastAccess = c.now()
	c.lru.MoveToFront(e.elem)
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
	if e.resolved {
		c.weight -= e.weight
	}
}

// evictLocked removes least-recently-accessed resolved entries until the
// weight bound is met. Pending entries are skipped; their eviction waits
// for resolution.
func (c *Cache) evictLocked() {
	if c.config.MaxWeight <= 0 {
		return
	}
	for elem := c.lru.Back(); elem != nil && c.weight > c.config.MaxWeight; {
		e := elem.Value.(*entry)
		elem = elem.Prev()
		if !e.resolved {
			continue
		}
		c.logger.Debug("evicting for weight", "key", e.key, "weight", e.weight)
		c.removeLocked(e)
	}
}

// evictIdleLocked removes resolved entries not accessed since the idle
// cutoff.
func (c *Cache) evictIdleLocked(now time.Time) {
	if c.config.IdleTTL <= 0 {
		return
	}
	cutoff := now.Add(-c.config.IdleTTL)
	for elem := c.lru.Back(); elem != nil; {
		e := elem.Value.(*entry)
		elem = elem.Prev()
		if !e.resolved || !e.lastAccess.Before(cutoff) {
			continue
		}
		c.logger.Debug("evicting idle entry", "key", e.key, "idle", now.Sub(e.lastAccess))
		c.removeLocked(e)
	}
}

func (c *Cache) run() {
	defer close(c.doneCh)

	interval := c.config.IdleTTL
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictIdleLocked(c.now())
			entries, weight := len(c.entries), c.weight
			c.mu.Unlock()
			telemetry.UpdateCacheState(context.Background(), int64(entries), weight)
		case <-c.stopCh:
			return
		}
	}
}
