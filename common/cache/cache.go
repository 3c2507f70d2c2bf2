package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/logger"
)

// Cache interface for key-value storage
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options tunes a TTLCache. Zero values fall back to defaults.
type Options struct {
	DefaultTTL       time.Duration
	MaxEntries       int
	SweepProbability float64
	Clock            clock.Clock
	Snapshots        SnapshotStore

	// Rand returns a float in [0,1) and decides whether a write sweeps
	Rand func() float64
}

// TTLCache is an in-memory cache with per-entry TTL, a size bound and
// optional snapshot persistence
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	opts    Options
	log     *logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	value     []byte
	writtenAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.writtenAt) >= e.ttl
}

// NewTTLCache creates a new TTL cache
func NewTTLCache(opts Options, log *logger.Logger) *TTLCache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 500
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}

	return &TTLCache{
		entries: make(map[string]*entry),
		opts:    opts,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// Get retrieves a value from cache. Expired entries are evicted on read.
func (c *TTLCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(c.opts.Clock.Now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores a value with TTL (ttl <= 0 uses the default)
func (c *TTLCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{
		value:     value,
		writtenAt: c.opts.Clock.Now(),
		ttl:       ttl,
	}

	// The size bound is enforced on every overflowing write; expired
	// entries are collected probabilistically.
	if len(c.entries) > c.opts.MaxEntries || c.opts.Rand() < c.opts.SweepProbability {
		c.sweepLocked()
	}
	return nil
}

// Delete invalidates a key
func (c *TTLCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Clear drops every entry
func (c *TTLCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.log.Info("cache cleared")
	return nil
}

// Len returns the number of stored entries, expired or not
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries, then evicts the oldest-written entries
// until the cache fits MaxEntries. It returns the number removed.
func (c *TTLCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

func (c *TTLCache) sweepLocked() int {
	now := c.opts.Clock.Now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}

	overflow := len(c.entries) - c.opts.MaxEntries
	if overflow <= 0 {
		return removed
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]].writtenAt, c.entries[keys[j]].writtenAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys[:overflow] {
		delete(c.entries, k)
	}
	return removed + overflow
}

// StartJanitor sweeps on a fixed interval until Close is called
func (c *TTLCache) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.log.Debug("cache sweep", "removed", n)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the janitor
func (c *TTLCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.log.Info("ttl cache closed")
	return nil
}

// Stats returns cache statistics
func (c *TTLCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"entries":     len(c.entries),
		"max_entries": c.opts.MaxEntries,
		"type":        "ttl",
	}
}

// SetJSON marshals v and stores it under key
func (c *TTLCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// GetJSON loads key into out and reports whether it was present
func (c *TTLCache) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		// a value we cannot read is as good as a miss
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}
