package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default RedisLocker timings.
const (
	DefaultLockTTL       = 10 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process using the same Redis.
// Keys expire after TTL so a crashed holder cannot wedge a session.
type RedisLocker struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	interval time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithPrefix sets the key prefix. The default is "liteagent:bind:".
func WithPrefix(p string) RedisOption {
	return func(l *RedisLocker) { l.prefix = p }
}

// WithTTL sets the lock expiry.
func WithTTL(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.ttl = d }
}

// WithRetryInterval sets the polling interval while the key is held elsewhere.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.interval = d }
}

// NewRedisLocker creates a RedisLocker on client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:   client,
		prefix:   "liteagent:bind:",
		ttl:      DefaultLockTTL,
		interval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock acquires key with SET NX PX, polling until ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session: redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must succeed even when the caller's context is gone.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{k}, token).Err()
		})
	}, nil
}
