// README: Distributed sweep lock backed by Redis (SET NX PX with owner-checked release).
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sweepLockTTL = 5 * time.Minute

// Locker guards work that a single instance should run at a time.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLock struct {
	redis *redis.Client
	owner string
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{redis: client, owner: uuid.NewString()}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.redis.SetNX(ctx, key, l.owner, ttl).Result()
}

// Release deletes the key only if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.redis, []string{key}, l.owner).Err()
}
