package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "ordr:monitor:lock:"

// ErrLockNotAcquired is returned when another process holds the lock.
var ErrLockNotAcquired = errors.New("lock held by another process")

// Locker serialises a job across processes sharing one journal.
type Locker interface {
	// TryLock takes the named lock for at most ttl. The returned func
	// releases it.
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// Releases only if the value still carries our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// RedisLocker is a Locker backed by SET NX.
type RedisLocker struct {
	redis *redis.Client
	owner string
}

// NewRedisLocker creates a locker with a random owner id.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		redis: client,
		owner: uuid.New().String(),
	}
}

// Owner returns the id written into held locks.
func (l *RedisLocker) Owner() string {
	return l.owner
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := lockKeyPrefix + name
	token := fmt.Sprintf("%s:%d", l.owner, time.Now().UnixNano())

	acquired, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockNotAcquired
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.redis, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}, nil
}
