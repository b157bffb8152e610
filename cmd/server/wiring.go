package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/alertbot/internal/cfg"
	"github.com/linnemanlabs/alertbot/internal/chatlog"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
	"github.com/linnemanlabs/alertbot/internal/lifecycle/memstore"
	"github.com/linnemanlabs/alertbot/internal/lifecycle/pgstore"
	"github.com/linnemanlabs/alertbot/internal/lifecycle/redislock"
	"github.com/linnemanlabs/alertbot/internal/lifecycle/sqlitestore"
	"github.com/linnemanlabs/alertbot/internal/matrix"
	"github.com/linnemanlabs/alertbot/internal/postgres"
)

// chatGateway is a lifecycle.Gateway that may also deliver reactions.
type chatGateway interface {
	lifecycle.Gateway
	Run(ctx context.Context, out chan<- lifecycle.Reaction) error
}

// transcript adapts the chatlog gateway, which has no inbound side.
type transcript struct{ *chatlog.Gateway }

func (transcript) Run(ctx context.Context, _ chan<- lifecycle.Reaction) error {
	<-ctx.Done()
	return nil
}

// openStore picks the alert store from config: postgres, then sqlite, then memory.
// The returned close func is never nil.
func openStore(ctx context.Context, c *vc.Config, L log.Logger) (lifecycle.Store, func(context.Context) error, error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{
			SlowQuery: time.Duration(c.SlowQueryMillis) * time.Millisecond,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return st, closeOnce(func(context.Context) error { pool.Close(); return nil }), nil

	case c.SQLitePath != "":
		st, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", c.SQLitePath)
		return st, closeOnce(func(context.Context) error { return st.Close() }), nil

	default:
		L.Warn(ctx, "using in-memory store, open alerts are lost on restart (no database-url or sqlite-path configured)")
		return memstore.New(), func(context.Context) error { return nil }, nil
	}
}

// openGateway returns the Matrix gateway when a homeserver is configured and
// a logging transcript otherwise. botUserID is empty for the transcript.
func openGateway(ctx context.Context, c *vc.Config, L log.Logger) (chatGateway, string, error) {
	if !c.MatrixEnabled() {
		L.Warn(ctx, "no homeserver configured, alert messages are only logged")
		return transcript{chatlog.New(L)}, "", nil
	}
	gw, err := matrix.New(matrix.Config{
		HomeserverURL: c.HomeserverURL,
		UserID:        c.MatrixUserID,
		AccessToken:   c.MatrixToken,
	}, L)
	if err != nil {
		return nil, "", fmt.Errorf("matrix gateway: %w", err)
	}
	L.Info(ctx, "using matrix gateway", "homeserver", c.HomeserverURL, "user_id", gw.Self())
	return gw, gw.Self(), nil
}

// openLocker returns a redis-backed locker when redis is configured, nil
// otherwise so the engine falls back to in-process locks.
func openLocker(ctx context.Context, c *vc.Config, L log.Logger) (lifecycle.Locker, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if c.RedisAddr == "" {
		return nil, noop, nil
	}
	client, err := redislock.Connect(ctx, c.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	L.Info(ctx, "using redis fingerprint locks", "redis_addr", c.RedisAddr, "lock_ttl_seconds", c.LockTTLSeconds)
	locker := redislock.New(client, L, redislock.Options{TTL: time.Duration(c.LockTTLSeconds) * time.Second})
	return locker, closeOnce(func(context.Context) error { return client.Close() }), nil
}

// closeOnce lets a closer sit in both a defer and the shutdown sequence.
// Later calls return the first call's result.
func closeOnce(fn func(context.Context) error) func(context.Context) error {
	var (
		once sync.Once
		err  error
	)
	return func(ctx context.Context) error {
		once.Do(func() { err = fn(ctx) })
		return err
	}
}
