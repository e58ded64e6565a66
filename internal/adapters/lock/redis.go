// Package lock provides the Redis-backed publish lock. Publish runs must not
// overlap; a SET NX key with a TTL serializes them across manager instances.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKey = "dnsmgr:publish:lock"

// releaseScript deletes the key only if this holder still owns it, so an
// expired lock taken over by another run is never released from here.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock implements ports.PublishLock on a Redis instance.
type RedisLock struct {
	client *redis.Client
	holder string
}

// NewRedisLock creates a lock with a unique holder identity.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, holder: uuid.New().String()}
}

// Acquire attempts to take the lock. It returns false without error when the
// lock is held elsewhere.
func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey, l.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

// Release gives the lock back if this instance still holds it.
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, l.holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
