package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNil is returned by Get when the key does not exist
var ErrNil = errors.New("redis: key not found")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	return c.redis.Close()
}

// Get retrieves a value by key. Missing keys return ErrNil.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("redis GET key not found", "key", key)
		return "", ErrNil
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	c.logger.Debug("redis GET", "key", key)
	return val, nil
}

// Set sets a key with optional expiration (0 = no expiration)
func (c *Client) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	err := c.redis.Set(ctx, key, value, expiry).Err()
	if err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	if expiry > 0 {
		c.logger.Debug("redis SET", "key", key, "expiry", expiry)
	} else {
		c.logger.Debug("redis SET", "key", key)
	}
	return nil
}

// Delete removes a key
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	err := c.redis.Del(ctx, keys...).Err()
	if err != nil {
		c.logger.Error("redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	c.logger.Debug("redis DEL", "keys", keys)
	return nil
}

// PublishEvent publishes an event to a Redis channel
func (c *Client) PublishEvent(ctx context.Context, channel string, message string) error {
	err := c.redis.Publish(ctx, channel, message).Err()
	if err != nil {
		c.logger.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	c.logger.Debug("redis PUBLISH", "channel", channel)
	return nil
}

// ListRange returns every element of a list in order
func (c *Client) ListRange(ctx context.Context, key string) ([]string, error) {
	vals, err := c.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		c.logger.Error("redis LRANGE failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to lrange %s: %w", key, err)
	}
	c.logger.Debug("redis LRANGE", "key", key, "count", len(vals))
	return vals, nil
}

// Transaction wraps a MULTI/EXEC pipeline
type Transaction struct {
	pipe   redis.Pipeliner
	client *Client
}

// NewTransaction creates a new transaction (TxPipeline)
func (c *Client) NewTransaction() *Transaction {
	return &Transaction{
		pipe:   c.redis.TxPipeline(),
		client: c,
	}
}

// Del queues a DEL
func (t *Transaction) Del(ctx context.Context, keys ...string) {
	t.pipe.Del(ctx, keys...)
}

// RPush queues an RPUSH
func (t *Transaction) RPush(ctx context.Context, key string, values ...interface{}) {
	t.pipe.RPush(ctx, key, values...)
}

// Exec executes all queued operations atomically
func (t *Transaction) Exec(ctx context.Context) error {
	_, err := t.pipe.Exec(ctx)
	if err != nil {
		t.client.logger.Error("redis transaction exec failed", "error", err)
		return fmt.Errorf("failed to execute transaction: %w", err)
	}
	t.client.logger.Debug("redis transaction executed successfully")
	return nil
}

// ReplaceList atomically rewrites key to hold exactly values
func (c *Client) ReplaceList(ctx context.Context, key string, values []string) error {
	tx := c.NewTransaction()
	tx.Del(ctx, key)
	if len(values) > 0 {
		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = v
		}
		tx.RPush(ctx, key, args...)
	}
	return tx.Exec(ctx)
}
