package reconciliation

import (
	"context"
	"time"

	"schoolreg/apperrors"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Locker serialises work on one payment reference across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// RedisLocker takes a SETNX lock. When Redis itself is unavailable it lets the
// caller through; the row lock and the unique reference still hold.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) Locker {
	if client == nil {
		return noopLocker{}
	}
	return &RedisLocker{client: client, prefix: "lock:payment:"}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		logrus.WithError(err).WithField("key", fullKey).Warn("Redis lock unavailable, relying on database lock")
		return func() {}, nil
	}
	if !ok {
		return nil, apperrors.Conflict("Payment %s is already being processed", key)
	}

	return func() {
		if err := releaseScript.Run(context.Background(), l.client, []string{fullKey}, token).Err(); err != nil && err != redis.Nil {
			logrus.WithError(err).WithField("key", fullKey).Warn("Failed to release payment lock")
		}
	}, nil
}
