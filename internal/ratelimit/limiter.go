package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/modelwatch/modelwatch/internal/redisstore"
	"github.com/modelwatch/modelwatch/pkg/config"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
)

// Limiter is a distributed sliding-window rate limiter backed by a Redis
// sorted set. Every instance shares the same counters, so the limit holds
// globally across processes.
//
// Data layout per identifier:
//
//	key:    "<prefix>:<identifier>"  (ZSET)
//	score:  unix timestamp in milliseconds
//	member: "<timestamp_ms>:<nonce>" (unique per admitted attempt)
type Limiter struct {
	store       *redisstore.Client
	keyPrefix   string
	maxRequests int
	window      time.Duration
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// Status describes the current window for one identifier
type Status struct {
	Identifier   string        `json:"identifier"`
	CurrentCount int           `json:"current_count"`
	MaxRequests  int           `json:"max_requests"`
	Remaining    int           `json:"remaining"`
	Window       time.Duration `json:"window"`
	ResetIn      time.Duration `json:"reset_in"`
}

// NewLimiter creates a sliding-window limiter over the shared store
func NewLimiter(store *redisstore.Client, cfg config.RateLimitConfig, logger *logging.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{
		store:       store,
		keyPrefix:   cfg.KeyPrefix,
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		logger:      logger,
		metrics:     m,
	}
}

func (l *Limiter) key(identifier string) string {
	return fmt.Sprintf("%s:%s", l.keyPrefix, identifier)
}

// Allow checks whether one more operation is admitted for the identifier
// and, if so, consumes one slot. Returns the decision and the remaining
// quota in the current window.
//
// The purge, add and count run in a single MULTI/EXEC pipeline: counting
// before adding would let two concurrent callers both pass a check meant
// to admit only one. The entry is added first and rolled back with ZREM
// if the count came out over the limit.
//
// Fail-open policy: if the shared store is unreachable the limiter admits
// the request with the full quota. This trades overload risk for
// availability; the limiter guards upstream spend, not security, and an
// outage window is visible via the fail_open log field and the
// ratelimit_store_errors_total counter.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, int) {
	key := l.key(identifier)
	nowMs := time.Now().UnixMilli()
	windowStartMs := nowMs - l.window.Milliseconds()

	// Unique member so two admissions in the same millisecond never collide
	member := fmt.Sprintf("%d:%s", nowMs, uuid.NewString()[:8])

	pipe := l.store.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStartMs, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
	cardCmd := pipe.ZCard(ctx, key)
	// TTL backstop so idle identifiers do not leak keys
	pipe.Expire(ctx, key, l.window+10*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(ctx, identifier, err)
	}

	count := int(cardCmd.Val())
	if count > l.maxRequests {
		// Over limit: remove the entry added above so a denied attempt
		// does not consume quota.
		if err := l.store.ZRem(ctx, key, member); err != nil {
			l.logger.LogRateLimitEvent(ctx, "rollback_failed", identifier, logrus.Fields{
				"error": err.Error(),
			})
		}
		l.metrics.RateLimitDeniedTotal.Inc()
		l.logger.LogRateLimitEvent(ctx, "denied", identifier, logrus.Fields{
			"count": count,
			"limit": l.maxRequests,
		})
		return false, 0
	}

	l.metrics.RateLimitAllowedTotal.Inc()
	return true, l.maxRequests - count
}

// failOpen logs and counts a store failure, then admits with full quota
func (l *Limiter) failOpen(ctx context.Context, identifier string, err error) (bool, int) {
	l.metrics.RateLimitStoreErrors.Inc()
	l.logger.LogRateLimitEvent(ctx, "fail_open", identifier, logrus.Fields{
		"fail_open": true,
		"error":     err.Error(),
	})
	return true, l.maxRequests
}

// Remaining returns the unused quota in the current window without
// consuming a slot.
func (l *Limiter) Remaining(ctx context.Context, identifier string) (int, error) {
	key := l.key(identifier)
	nowMs := time.Now().UnixMilli()
	windowStartMs := nowMs - l.window.Milliseconds()

	count, err := l.store.ZCount(ctx, key, strconv.FormatInt(windowStartMs, 10), "+inf")
	if err != nil {
		return 0, err
	}

	remaining := l.maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ResetTime returns how long until the oldest entry leaves the window,
// i.e. when one slot frees up. Zero means the window is open now.
func (l *Limiter) ResetTime(ctx context.Context, identifier string) (time.Duration, error) {
	oldest, err := l.store.ZRangeWithScores(ctx, l.key(identifier), 0, 0)
	if err != nil {
		return 0, err
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	expiresAtMs := int64(oldest[0].Score) + l.window.Milliseconds()
	remainingMs := expiresAtMs - time.Now().UnixMilli()
	if remainingMs < 0 {
		return 0, nil
	}
	return time.Duration(remainingMs) * time.Millisecond, nil
}

// Reset clears the window for an identifier
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	_, err := l.store.Del(ctx, l.key(identifier))
	return err
}

// Stats returns the current window state for an identifier
func (l *Limiter) Stats(ctx context.Context, identifier string) (*Status, error) {
	key := l.key(identifier)
	nowMs := time.Now().UnixMilli()
	windowStartMs := nowMs - l.window.Milliseconds()

	count, err := l.store.ZCount(ctx, key, strconv.FormatInt(windowStartMs, 10), "+inf")
	if err != nil {
		return nil, err
	}

	resetIn, err := l.ResetTime(ctx, identifier)
	if err != nil {
		return nil, err
	}

	remaining := l.maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Status{
		Identifier:   identifier,
		CurrentCount: int(count),
		MaxRequests:  l.maxRequests,
		Remaining:    remaining,
		Window:       l.window,
		ResetIn:      resetIn,
	}, nil
}
