package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lyzr/toolcrib/common/redis"
)

// ErrNoSnapshot is returned by a SnapshotStore that has nothing saved
var ErrNoSnapshot = errors.New("no cache snapshot")

// SnapshotStore persists the serialized cache blob
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// snapshotEntry is the persisted shape of one cache entry
type snapshotEntry struct {
	Value      []byte    `json:"value"`
	WrittenAt  time.Time `json:"writtenAt"`
	TTLSeconds float64   `json:"ttlSeconds"`
}

// Save writes the live entries to the snapshot store
func (c *TTLCache) Save(ctx context.Context) error {
	if c.opts.Snapshots == nil {
		return nil
	}

	c.mu.Lock()
	now := c.opts.Clock.Now()
	blob := make(map[string]snapshotEntry, len(c.entries))
	for k, e := range c.entries {
		if e.expired(now) {
			continue
		}
		blob[k] = snapshotEntry{Value: e.value, WrittenAt: e.writtenAt, TTLSeconds: e.ttl.Seconds()}
	}
	c.mu.Unlock()

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode cache snapshot: %w", err)
	}
	if err := c.opts.Snapshots.Save(ctx, data); err != nil {
		return fmt.Errorf("failed to save cache snapshot: %w", err)
	}
	c.log.Info("cache snapshot saved", "entries", len(blob))
	return nil
}

// Load replaces the cache contents with the saved snapshot. A missing or
// unreadable snapshot leaves the cache empty; only store errors are returned.
func (c *TTLCache) Load(ctx context.Context) error {
	if c.opts.Snapshots == nil {
		return nil
	}

	data, err := c.opts.Snapshots.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		c.log.Info("no cache snapshot found, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load cache snapshot: %w", err)
	}

	var blob map[string]snapshotEntry
	if err := json.Unmarshal(data, &blob); err != nil {
		c.log.Warn("cache snapshot is corrupt, starting empty", "error", err)
		blob = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Clock.Now()
	c.entries = make(map[string]*entry, len(blob))
	for k, se := range blob {
		e := &entry{
			value:     se.Value,
			writtenAt: se.WrittenAt,
			ttl:       time.Duration(se.TTLSeconds * float64(time.Second)),
		}
		if e.ttl <= 0 || e.expired(now) {
			continue
		}
		c.entries[k] = e
	}
	if len(c.entries) > c.opts.MaxEntries {
		c.sweepLocked()
	}
	c.log.Info("cache snapshot loaded", "entries", len(c.entries))
	return nil
}

// FileSnapshotStore keeps the snapshot in a local JSON file
type FileSnapshotStore struct {
	path string
}

// NewFileSnapshotStore creates a file-backed snapshot store
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

// Load reads the snapshot file
func (s *FileSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return data, nil
}

// Save writes via a temp file and rename so a crash never leaves half a blob
func (s *FileSnapshotStore) Save(ctx context.Context, blob []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// RedisSnapshotStore keeps the snapshot under a single Redis key
type RedisSnapshotStore struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshotStore creates a Redis-backed snapshot store
func NewRedisSnapshotStore(client *redis.Client, key string) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, key: key}
}

// Load fetches the blob
func (s *RedisSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key)
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return []byte(val), nil
}

// Save stores the blob without expiry
func (s *RedisSnapshotStore) Save(ctx context.Context, blob []byte) error {
	return s.client.Set(ctx, s.key, string(blob), 0)
}
