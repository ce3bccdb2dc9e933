// Package lock provides redis backed mutual exclusion for ledger critical
// sections that span more than one database transaction.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired indicates another holder owns the key.
var ErrNotAcquired = errors.New("platform/lock: already held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis hands out expiring locks keyed by string.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis builds a lock manager. ttl bounds how long a crashed holder can
// keep a key.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}
}

// Acquire takes key or fails with ErrNotAcquired. The returned release
// function only deletes the key while this holder still owns it.
func (l *Redis) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("platform/lock: release %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
