package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/modelwatch/modelwatch/pkg/errors"
)

// releaseScript deletes the lock only if the caller still owns it, so a
// holder whose lock already expired cannot release a successor's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// lockRetryInterval is how often a waiter re-attempts SETNX
const lockRetryInterval = 100 * time.Millisecond

// acquireLock tries to take the named lock within the wait bound. The
// lock auto-expires after ttl regardless of release, bounding staleness
// if the holder crashes. Returns the owner token on success.
func (s *Service) acquireLock(ctx context.Context, lockKey string, ttl, wait time.Duration) (string, bool, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		acquired, err := s.store.SetNX(ctx, lockKey, token, ttl)
		if err != nil {
			return "", false, err
		}
		if acquired {
			return token, true, nil
		}

		if time.Now().After(deadline) {
			return "", false, nil
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// releaseLock releases the lock if the token still owns it. A lock that
// already expired (and was possibly re-acquired by someone else) is left
// alone.
func (s *Service) releaseLock(ctx context.Context, lockKey, token string) error {
	_, err := s.store.Eval(ctx, releaseScript, []string{lockKey}, token)
	if err != nil {
		return errors.NewStoreUnavailableError("failed to release lock").WithCause(err)
	}
	return nil
}
