package lock

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by another instance is never released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker shares account locks between API instances. Each key is held
// with SET NX PX; the TTL bounds how long a crashed holder can block others.
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	newToken   func() string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:     client,
		ttl:        ttl,
		retryDelay: 10 * time.Millisecond,
		newToken:   uuid.NewString,
	}
}

func redisKey(key string) string {
	return "lock:" + key
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	token := l.newToken()
	ordered := Ordered(keys)
	held := make([]string, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Release must run even when the caller's context is already done.
			if err := l.client.Eval(context.Background(), releaseScript, []string{redisKey(held[i])}, token).Err(); err != nil {
				log.Printf("[LOCK] Failed to release %s: %v", held[i], err)
			}
		}
	}

	for _, key := range ordered {
		if err := l.acquire(ctx, redisKey(key), token); err != nil {
			release()
			return func() {}, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	delay := l.retryDelay
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ErrLockTimeout
			}
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ErrLockTimeout
		}
		if delay < 200*time.Millisecond {
			delay *= 2
		}
	}
}
