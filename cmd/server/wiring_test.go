package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/alertbot/internal/cfg"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
	"github.com/linnemanlabs/alertbot/internal/lifecycle/memstore"
	"github.com/linnemanlabs/alertbot/internal/lifecycle/sqlitestore"
	"github.com/linnemanlabs/alertbot/internal/matrix"
)

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()

	st, closeFn, err := openStore(context.Background(), &vc.Config{}, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if _, ok := st.(*memstore.Store); !ok {
		t.Errorf("store = %T, want *memstore.Store", st)
	}
	if err := closeFn(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	t.Parallel()

	c := &vc.Config{SQLitePath: filepath.Join(t.TempDir(), "alerts.db")}
	st, closeFn, err := openStore(context.Background(), c, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if _, ok := st.(*sqlitestore.Store); !ok {
		t.Errorf("store = %T, want *sqlitestore.Store", st)
	}
	// deferred and shutdown-sequence closes both run
	for i := range 2 {
		if err := closeFn(context.Background()); err != nil {
			t.Errorf("close #%d: %v", i+1, err)
		}
	}
}

func TestCloseOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("boom")
	closeFn := closeOnce(func(context.Context) error {
		calls++
		return boom
	})

	for range 3 {
		if err := closeFn(context.Background()); !errors.Is(err, boom) {
			t.Errorf("close = %v, want %v", err, boom)
		}
	}
	if calls != 1 {
		t.Errorf("underlying close ran %d times, want 1", calls)
	}
}

func TestOpenStore_BadDatabaseURL(t *testing.T) {
	t.Parallel()

	c := &vc.Config{DatabaseURL: "postgres://%zz"}
	if _, _, err := openStore(context.Background(), c, log.Nop()); err == nil {
		t.Fatal("expected error for unparsable database url")
	}
}

func TestOpenGateway_Transcript(t *testing.T) {
	t.Parallel()

	gw, self, err := openGateway(context.Background(), &vc.Config{}, log.Nop())
	if err != nil {
		t.Fatalf("openGateway: %v", err)
	}
	if self != "" {
		t.Errorf("bot user id = %q, want empty", self)
	}
	if _, ok := gw.(transcript); !ok {
		t.Fatalf("gateway = %T, want transcript", gw)
	}

	// the transcript has no inbound side, Run just waits for cancellation
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx, make(chan lifecycle.Reaction)) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOpenGateway_Matrix(t *testing.T) {
	t.Parallel()

	c := &vc.Config{
		HomeserverURL: "https://matrix.example.com",
		MatrixUserID:  "@alertbot:example.com",
		MatrixToken:   "syt_token",
	}
	gw, self, err := openGateway(context.Background(), c, log.Nop())
	if err != nil {
		t.Fatalf("openGateway: %v", err)
	}
	if _, ok := gw.(*matrix.Gateway); !ok {
		t.Errorf("gateway = %T, want *matrix.Gateway", gw)
	}
	if self != "@alertbot:example.com" {
		t.Errorf("bot user id = %q, want %q", self, "@alertbot:example.com")
	}
}

func TestOpenGateway_MatrixMissingToken(t *testing.T) {
	t.Parallel()

	c := &vc.Config{HomeserverURL: "https://matrix.example.com", MatrixUserID: "@alertbot:example.com"}
	_, _, err := openGateway(context.Background(), c, log.Nop())
	if err == nil {
		t.Fatal("expected error without access token")
	}
	if !strings.Contains(err.Error(), "matrix gateway") {
		t.Errorf("error = %q, want substring %q", err, "matrix gateway")
	}
}

func TestOpenLocker_Disabled(t *testing.T) {
	t.Parallel()

	locker, closeFn, err := openLocker(context.Background(), &vc.Config{}, log.Nop())
	if err != nil {
		t.Fatalf("openLocker: %v", err)
	}
	if locker != nil {
		t.Errorf("locker = %T, want nil", locker)
	}
	if err := closeFn(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestOpenLocker_Unreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := &vc.Config{RedisAddr: "127.0.0.1:1", LockTTLSeconds: 30}
	if _, _, err := openLocker(ctx, c, log.Nop()); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}
