package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "shopbot:lock:"

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only while the key holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// leaseStore is the token-guarded key store the locker runs on.
type leaseStore interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

type redisLeases struct {
	client *redis.Client
}

func (s redisLeases) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, token, ttl).Result()
}

func (s redisLeases) extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, s.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return n == 1, nil
}

func (s redisLeases) release(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, s.client, []string{key}, token).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// Redis is a distributed lock built on SET NX PX. The TTL bounds how long
// a crashed holder can block a session; a live holder renews the lease
// every ttl/3 until it unlocks.
type Redis struct {
	store  leaseStore
	ttl    time.Duration
	retry  time.Duration
	renew  time.Duration
	logger *zap.Logger
}

// NewRedis creates a Redis locker.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	return newRedis(redisLeases{client: client}, ttl, logger)
}

func newRedis(store leaseStore, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{store: store, ttl: ttl, retry: 50 * time.Millisecond, renew: ttl / 3, logger: logger}
}

// Lock retries until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := keyPrefix + key
	token := uuid.NewString()
	wait := r.retry

	for {
		ok, err := r.store.acquire(ctx, k, token, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if wait < time.Second {
			wait *= 2
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(k, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			// The caller's ctx may already be cancelled; release on a fresh one.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.store.release(ctx, k, token); err != nil {
				r.logger.Warn("failed to release session lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive extends the lease until stop is closed or the lease is lost.
func (r *Redis) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.renew)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.renew)
		held, err := r.store.extend(ctx, key, token, r.ttl)
		cancel()
		switch {
		case err != nil:
			r.logger.Warn("failed to renew session lock", zap.String("key", key), zap.Error(err))
		case !held:
			r.logger.Error("session lock lost before unlock", zap.String("key", key))
			return
		}
	}
}
