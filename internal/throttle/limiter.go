// Package throttle implements keyed attempt counters backed by Redis. Each
// key is a fixed window: the first hit starts the window and sets its TTL,
// later hits only increment. Callers decide what a key means (email+IP for
// failed logins, user ID for code resends).
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces throttle counters from sessions and caches.
const keyPrefix = "throttle:"

// ErrUnavailable indicates the Redis backend could not be reached.
var ErrUnavailable = errors.New("throttle backend unavailable")

// Limiter counts attempts per key in Redis.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a Limiter on the given Redis client.
func New(rdb redis.UniversalClient) *Limiter {
	return &Limiter{redis: rdb}
}

func (l *Limiter) key(k string) string {
	return keyPrefix + k
}

// TooManyAttempts reports whether key has reached maxAttempts within its
// current window. A missing key means no attempts.
func (l *Limiter) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	count, err := l.Attempts(ctx, key)
	if err != nil {
		return false, err
	}
	return count >= int64(maxAttempts), nil
}

// Attempts returns the current counter for key.
func (l *Limiter) Attempts(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Hit increments the counter for key and returns the new value. The first
// hit in a window sets the TTL to decay.
func (l *Limiter) Hit(ctx context.Context, key string, decay time.Duration) (int64, error) {
	k := l.key(key)

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, k, decay).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return count, nil
	}

	// A crash between INCR and EXPIRE would leave a counter that never
	// decays. Repair it on the next hit.
	ttl, err := l.redis.TTL(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl == -1 {
		if err := l.redis.Expire(ctx, k, decay).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count, nil
}

// Clear removes the counter for key.
func (l *Limiter) Clear(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AvailableIn returns how long until the window for key resets. Zero when
// there is no active window.
func (l *Limiter) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.redis.TTL(ctx, l.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
