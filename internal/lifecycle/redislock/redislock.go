// Package redislock provides a lifecycle.Locker backed by Redis, so several
// alertbot replicas sharing one store serialize work on the same fingerprint.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
	keyPrefix    = "alertbot:lock:"
)

// releaseScript deletes the lock only if it still carries our token, a lock
// that expired and was taken by another replica is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Options configures a Locker.
type Options struct {
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration

	// Retry is the poll interval while waiting for a held lock.
	Retry time.Duration
}

// Locker takes per-key locks with SET NX PX.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	logger log.Logger
}

// New returns a Locker using client. Zero option values use defaults.
func New(client redis.UniversalClient, logger log.Logger, opts Options) *Locker {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Retry <= 0 {
		opts.Retry = defaultRetry
	}
	return &Locker{
		client: client,
		ttl:    opts.TTL,
		retry:  opts.Retry,
		logger: logger,
	}
}

// Connect creates a client for addr and verifies it answers PING.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Key returns the redis key used to lock name.
func Key(name string) string {
	return keyPrefix + name
}

// Lock blocks until the lock for key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	rkey := Key(key)
	token := ulid.Make().String()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", rkey, err)
		}
		if ok {
			return l.unlocker(rkey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(rkey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(rkey, token) })
	}
}

func (l *Locker) release(rkey, token string) {
	// the caller's context may already be cancelled, release regardless
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{rkey}, token).Int()
	switch {
	case err != nil && !errors.Is(err, redis.Nil):
		l.logger.Error(ctx, err, "failed to release lock", "key", rkey)
	case n == 0:
		l.logger.Warn(ctx, "lock expired before release", "key", rkey, "ttl", l.ttl.String())
	}
}
