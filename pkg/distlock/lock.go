// Package distlock provides a named, auto-extending distributed mutex on
// Redis. A lease refreshes itself at half its TTL via a background loop until
// released, so a healthy holder never expires mid-critical-section while a
// crashed holder's lease lapses on its own.
//
// Acquisition is best-effort: failure to acquire is a retryable busy
// condition, never fatal.
package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when the lock is held by someone else.
var ErrNotAcquired = errors.New("distlock: lock not acquired")

// Lease is a held lock. Release stops the refresh loop and frees the lock if
// this lease still holds it.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Lock acquires named leases.
type Lock interface {
	// Acquire takes the named lock for ttl, or returns ErrNotAcquired when
	// the lock is currently held. Callers should treat acquisition as
	// best-effort with a short timeout.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// refreshScript extends the expiry only while we still hold the lock.
var refreshScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only if we still hold the lock.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock implements Lock on a Redis client.
type RedisLock struct {
	client goredis.Cmdable
	logger *zap.Logger
	prefix string
}

var _ Lock = (*RedisLock)(nil)

// Option configures the RedisLock.
type Option func(*RedisLock)

// WithPrefix sets the key namespace prefix. Default "gohaul:lock:".
func WithPrefix(p string) Option {
	return func(l *RedisLock) { l.prefix = p }
}

// New creates a Redis-backed lock. The caller owns the client lifecycle.
func New(client goredis.Cmdable, logger *zap.Logger, opts ...Option) *RedisLock {
	l := &RedisLock{client: client, logger: logger, prefix: "gohaul:lock:"}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("distlock: ttl must be positive")
	}
	fullKey := l.prefix + key
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("distlock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	lease := &redisLease{
		client: l.client,
		logger: l.logger,
		key:    fullKey,
		token:  token,
		ttl:    ttl,
		done:   make(chan struct{}),
	}
	go lease.refreshLoop()
	return lease, nil
}

type redisLease struct {
	client goredis.Cmdable
	logger *zap.Logger
	key    string
	token  string
	ttl    time.Duration
	done   chan struct{}
}

func (le *redisLease) Key() string { return le.key }

// refreshLoop extends the lease at half its TTL until Release.
func (le *redisLease) refreshLoop() {
	t := time.NewTicker(le.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-le.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), le.ttl/2)
			n, err := refreshScript.Run(ctx, le.client, []string{le.key}, le.token, le.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				le.logger.Warn("lock refresh failed", zap.String("key", le.key), zap.Error(err))
				continue
			}
			if n == 0 {
				// Lost the lock; stop refreshing a key we no longer hold.
				le.logger.Warn("lock lost before release", zap.String("key", le.key))
				return
			}
		}
	}
}

func (le *redisLease) Release(ctx context.Context) error {
	select {
	case <-le.done:
	default:
		close(le.done)
	}
	if _, err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Int(); err != nil {
		return fmt.Errorf("distlock: release %s: %w", le.key, err)
	}
	return nil
}
