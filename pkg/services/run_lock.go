package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock guards a named critical section across processes.
type RunLock interface {
	// TryAcquire takes the lock for at most ttl. acquired is false when
	// another holder owns it. release must be called when acquired is true.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-taken by another pass is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisRunLock struct {
	client redis.Cmdable
	prefix string
}

// NewRedisRunLock creates a RunLock backed by Redis SET NX PX.
func NewRedisRunLock(client redis.Cmdable) RunLock {
	return &redisRunLock{client: client, prefix: "scopeops:lock:"}
}

func (l *redisRunLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

type noopRunLock struct{}

// NewNoopRunLock returns a RunLock that always succeeds. Used when Redis is not configured.
func NewNoopRunLock() RunLock {
	return noopRunLock{}
}

func (noopRunLock) TryAcquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}
