package analyzer

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
)

// RetryConfig parameterizes the retry policy: which errors to retry, how
// many attempts, and how backoff grows.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, first try included
	MaxAttempts int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration
	// BackoffMultiplier is the exponential growth factor
	BackoffMultiplier float64
	// Jitter adds randomness to delays to avoid synchronized retry
	// storms across independent callers
	Jitter bool
	// Retryable decides whether an error is worth another attempt
	Retryable func(error) bool
}

// DefaultRetryConfig returns the default policy: 4 attempts, exponential
// backoff from 1s capped at 10s with jitter, retrying only transient
// upstream errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		Retryable:         errors.IsRetryable,
	}
}

// Retrier runs operations under the retry policy from a plain loop
type Retrier struct {
	config  RetryConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewRetrier creates a retrier, filling zero config values with defaults
func NewRetrier(config RetryConfig, logger *logging.Logger, m *metrics.Metrics) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.Retryable == nil {
		config.Retryable = errors.IsRetryable
	}

	return &Retrier{
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// Execute runs the operation until it succeeds, fails non-retryably, or
// the attempt budget is spent. Non-retryable errors propagate after the
// first attempt; exhaustion yields a RetryExhausted error carrying the
// last cause.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if attempt > 1 {
			r.metrics.UpstreamRetriesTotal.Inc()
		}

		result, err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return result, nil
		}

		lastErr = err

		if !r.config.Retryable(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return "", err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay.String(),
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.config.MaxAttempts,
	)
	return "", errors.NewRetryExhaustedError(r.config.MaxAttempts, lastErr)
}

func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}

	return time.Duration(delay)
}
