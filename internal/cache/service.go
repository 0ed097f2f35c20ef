package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modelwatch/modelwatch/internal/redisstore"
	"github.com/modelwatch/modelwatch/pkg/config"
	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
)

// Service is a cache-aside store over Redis with stampede protection:
// concurrent misses for the same key are collapsed into a single factory
// invocation through a distributed lock.
type Service struct {
	store   *redisstore.Client
	config  *config.CacheConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Factory produces the value for a key on a confirmed miss. It is the
// only path that reaches the upstream system.
type Factory func(ctx context.Context) (interface{}, error)

// Stats describes the cache keyspace
type Stats struct {
	KeyPrefix   string        `json:"key_prefix"`
	CachedItems int           `json:"cached_items"`
	DefaultTTL  time.Duration `json:"default_ttl"`
}

// NewService creates a new cache service
func NewService(store *redisstore.Client, cfg *config.CacheConfig, logger *logging.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
}

// HashKey derives a deterministic cache key from the given fields: the
// canonical JSON encoding (keys sorted) is hashed with SHA-256 and the
// first 16 hex characters are used. Identical inputs always map to the
// same key, so near-identical requests rounded to the same precision
// collapse onto one entry.
func HashKey(fields map[string]interface{}) string {
	data, err := json.Marshal(fields)
	if err != nil {
		// Map keys of string type always marshal; non-serializable
		// values fall back to their formatted representation.
		data = []byte(fmt.Sprintf("%v", fields))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Service) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", s.config.KeyPrefix, key)
}

// Get reads a cached value into dest. Returns false when the key is
// absent or expired.
func (s *Service) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	start := time.Now()
	defer func() {
		s.metrics.CacheOperationSeconds.WithLabelValues("get").Observe(time.Since(start).Seconds())
	}()

	data, err := s.store.Get(ctx, s.fullKey(key))
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}
	return true, nil
}

// Set stores a value with the given TTL (zero means the default TTL)
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		s.metrics.CacheOperationSeconds.WithLabelValues("set").Observe(time.Since(start).Seconds())
	}()

	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl <= 0 {
		ttl = s.config.TTL
	}

	if err := s.store.Set(ctx, s.fullKey(key), data, ttl); err != nil {
		s.metrics.CacheWritesTotal.WithLabelValues("error").Inc()
		return err
	}
	s.metrics.CacheWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Delete removes a cached value
func (s *Service) Delete(ctx context.Context, key string) error {
	_, err := s.store.Del(ctx, s.fullKey(key))
	return err
}

// Exists checks whether a key currently holds a live value
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.store.Exists(ctx, s.fullKey(key))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// TTL returns the remaining lifetime of a key
func (s *Service) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.store.TTL(ctx, s.fullKey(key))
}

// GetOrSetWithLock returns the cached value for key or produces it with
// factory, guaranteeing (under normal operation) exactly one factory run
// system-wide per key per TTL window. Double-checked locking:
//
//  1. fast lookup, no lock on a hit
//  2. on miss, acquire the per-key lock (bounded by LockWait, the lock
//     itself expires after LockTTL)
//  3. wait timeout: run factory unprotected — liveness over consistency,
//     a few duplicate upstream calls beat blocking forever
//  4. acquired: re-check the cache, another caller may have filled it
//  5. confirmed miss: run factory
//  6. success: write the result with ttl
//  7. release the lock on every exit path; TTL expiry is the backstop
//     for a holder that died without releasing
//
// The produced or cached value is deserialized into dest.
func (s *Service) GetOrSetWithLock(ctx context.Context, key string, dest interface{}, factory Factory, ttl time.Duration) error {
	// Step 1: fast path
	found, err := s.Get(ctx, key, dest)
	if err != nil {
		return err
	}
	if found {
		s.metrics.CacheHitsTotal.WithLabelValues("fast").Inc()
		s.logger.LogCacheEvent(ctx, "hit_fast", key, nil)
		return nil
	}
	s.metrics.CacheMissesTotal.WithLabelValues("fast").Inc()
	s.logger.LogCacheEvent(ctx, "miss", key, nil)

	// Step 2: lock the key
	lockKey := s.fullKey(key) + ":lock"
	token, acquired, err := s.acquireLock(ctx, lockKey, s.config.LockTTL, s.config.LockWait)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Store trouble while locking: degrade to an unprotected call
		// rather than failing the request.
		s.logger.LogCacheEvent(ctx, "lock_error", key, logrus.Fields{"error": err.Error()})
		return s.runFactoryInto(ctx, key, dest, factory, ttl, false)
	}

	if !acquired {
		// Step 3: waited out. Proceed without protection so the caller
		// is never blocked indefinitely; under heavy contention this
		// admits a few duplicate upstream calls.
		s.metrics.CacheLockTimeouts.Inc()
		s.logger.LogCacheEvent(ctx, "lock_timeout", key, logrus.Fields{
			"lock_wait": s.config.LockWait.String(),
		})
		return s.runFactoryInto(ctx, key, dest, factory, ttl, false)
	}

	s.metrics.CacheLockAcquired.Inc()
	s.logger.LogCacheEvent(ctx, "lock_acquired", key, nil)

	// Step 7: release on every exit path, including factory failure
	defer func() {
		if err := s.releaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.LogCacheEvent(ctx, "lock_release_failed", key, logrus.Fields{
				"error": err.Error(),
			})
		}
	}()

	// Step 4: double-check; another caller may have populated the key
	// while we were waiting for the lock
	found, err = s.Get(ctx, key, dest)
	if err != nil {
		return err
	}
	if found {
		s.metrics.CacheHitsTotal.WithLabelValues("locked").Inc()
		s.logger.LogCacheEvent(ctx, "hit_after_lock", key, nil)
		return nil
	}

	// Steps 5-6: confirmed miss
	return s.runFactoryInto(ctx, key, dest, factory, ttl, true)
}

// runFactoryInto invokes factory, optionally writes the result back, and
// deserializes it into dest via a JSON round trip so cached and fresh
// values take the same shape.
func (s *Service) runFactoryInto(ctx context.Context, key string, dest interface{}, factory Factory, ttl time.Duration, writeBack bool) error {
	value, err := factory(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize factory result").WithCause(err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.NewInternalError("failed to deserialize factory result").WithCause(err)
	}

	if writeBack {
		if err := s.Set(ctx, key, value, ttl); err != nil {
			// A failed write degrades the next request to a miss; the
			// current caller still gets its value.
			s.logger.LogCacheEvent(ctx, "write_failed", key, logrus.Fields{
				"error": err.Error(),
			})
		} else {
			s.logger.LogCacheEvent(ctx, "write", key, logrus.Fields{"ttl": ttl.String()})
		}
	}
	return nil
}

// InvalidatePrefix removes all cached entries matching the glob pattern
// under the service prefix, using SCAN so the store is never blocked the
// way KEYS would block it. Returns the number of deleted keys.
func (s *Service) InvalidatePrefix(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}
	fullPattern := fmt.Sprintf("%s:%s", s.config.KeyPrefix, pattern)

	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.store.Scan(ctx, cursor, fullPattern, 100)
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := s.store.Del(ctx, keys...)
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.LogCacheEvent(ctx, "invalidated", pattern, logrus.Fields{"deleted": deleted})
	return deleted, nil
}

// GetStats counts live entries under the service prefix
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	pattern := fmt.Sprintf("%s:*", s.config.KeyPrefix)

	var cursor uint64
	count := 0
	for {
		keys, next, err := s.store.Scan(ctx, cursor, pattern, 100)
		if err != nil {
			return nil, err
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return &Stats{
		KeyPrefix:   s.config.KeyPrefix,
		CachedItems: count,
		DefaultTTL:  s.config.TTL,
	}, nil
}
