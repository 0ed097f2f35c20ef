package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelwatch/modelwatch/pkg/config"
	"github.com/modelwatch/modelwatch/pkg/errors"
)

// Client wraps the Redis client with the operations the limiter, cache
// and tracker need. The shared store is the single source of truth for
// counters, cached values and locks; no per-instance state is kept here.
type Client struct {
	client *redis.Client
	config *config.RedisConfig
}

// NewClient creates a new Redis client and verifies connectivity
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewStoreUnavailableError("failed to connect to Redis").WithCause(err)
	}

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis connection
func (r *Client) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *Client) Health(ctx context.Context) error {
	if r.client == nil {
		return errors.NewStoreUnavailableError("Redis client is nil")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewStoreUnavailableError("Redis health check failed").WithCause(err)
	}
	return nil
}

// Client returns the underlying Redis client
func (r *Client) Client() *redis.Client {
	return r.client
}

// FlushDB flushes the current database (tests only)
func (r *Client) FlushDB(ctx context.Context) error {
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		return errors.NewStoreUnavailableError("failed to flush Redis database").WithCause(err)
	}
	return nil
}

// Exists checks if keys exist
func (r *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	count, err := r.client.Exists(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("failed to check key existence").WithCause(err)
	}
	return count, nil
}

// Del deletes keys
func (r *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	count, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("failed to delete keys").WithCause(err)
	}
	return count, nil
}

// Set sets a key-value pair with optional expiration
func (r *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := r.client.Set(ctx, key, value, expiration).Err(); err != nil {
		return errors.NewStoreUnavailableError("failed to set Redis key").WithCause(err)
	}
	return nil
}

// SetNX sets a key only if it does not exist, returning whether it was set
func (r *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, errors.NewStoreUnavailableError("failed to set Redis key with NX").WithCause(err)
	}
	return ok, nil
}

// Get gets a value by key
func (r *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.NewNotFoundError("key")
		}
		return "", errors.NewStoreUnavailableError("failed to get Redis key").WithCause(err)
	}
	return val, nil
}

// Eval runs a Lua script against the store
func (r *Client) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := r.client.Eval(ctx, script, keys, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.NewStoreUnavailableError("failed to eval Redis script").WithCause(err)
	}
	return res, nil
}

// Scan iterates keys matching a pattern without blocking the store the
// way KEYS would.
func (r *Client) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	keys, next, err := r.client.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return nil, 0, errors.NewStoreUnavailableError("failed to scan Redis keys").WithCause(err)
	}
	return keys, next, nil
}

// ZAdd adds members to a sorted set
func (r *Client) ZAdd(ctx context.Context, key string, members ...redis.Z) error {
	if err := r.client.ZAdd(ctx, key, members...).Err(); err != nil {
		return errors.NewStoreUnavailableError("failed to add to Redis sorted set").WithCause(err)
	}
	return nil
}

// ZRem removes members from a sorted set
func (r *Client) ZRem(ctx context.Context, key string, members ...interface{}) error {
	if err := r.client.ZRem(ctx, key, members...).Err(); err != nil {
		return errors.NewStoreUnavailableError("failed to remove from Redis sorted set").WithCause(err)
	}
	return nil
}

// ZRemRangeByScore removes members with scores inside the given range
func (r *Client) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	if err := r.client.ZRemRangeByScore(ctx, key, min, max).Err(); err != nil {
		return errors.NewStoreUnavailableError("failed to trim Redis sorted set").WithCause(err)
	}
	return nil
}

// ZCard returns the cardinality of a sorted set
func (r *Client) ZCard(ctx context.Context, key string) (int64, error) {
	count, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("failed to get Redis sorted set cardinality").WithCause(err)
	}
	return count, nil
}

// ZCount counts members with scores inside the given range
func (r *Client) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	count, err := r.client.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("failed to count Redis sorted set range").WithCause(err)
	}
	return count, nil
}

// ZRangeWithScores returns members with scores by rank range
func (r *Client) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]redis.Z, error) {
	vals, err := r.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, errors.NewStoreUnavailableError("failed to range Redis sorted set").WithCause(err)
	}
	return vals, nil
}

// ZRangeByScoreWithScores returns members with scores inside a score range
func (r *Client) ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) ([]redis.Z, error) {
	vals, err := r.client.ZRangeByScoreWithScores(ctx, key, opt).Result()
	if err != nil {
		return nil, errors.NewStoreUnavailableError("failed to range Redis sorted set by score").WithCause(err)
	}
	return vals, nil
}

// Expire sets a timeout on a key
func (r *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if err := r.client.Expire(ctx, key, expiration).Err(); err != nil {
		return errors.NewStoreUnavailableError("failed to set Redis key expiration").WithCause(err)
	}
	return nil
}

// TTL returns the time to live of a key
func (r *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("failed to get Redis key TTL").WithCause(err)
	}
	return ttl, nil
}

// TxPipeline returns a transactional pipeline. Commands queued on it
// execute atomically (MULTI/EXEC).
func (r *Client) TxPipeline() redis.Pipeliner {
	return r.client.TxPipeline()
}
