package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/alertbot/internal/lifecycle/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Upsert", "(*Store).Upsert"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tag  pgconn.CommandTag
		sql  string
		want string
	}{
		{"from tag", pgconn.NewCommandTag("INSERT 0 1"), "insert into alerts", "INSERT"},
		{"tag wins", pgconn.NewCommandTag("DELETE 1"), "select 1", "DELETE"},
		{"fallback to sql", pgconn.CommandTag{}, "  select fingerprint from alerts", "SELECT"},
		{"nothing", pgconn.CommandTag{}, "", "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := operationName(tt.tag, tt.sql); got != tt.want {
				t.Errorf("operationName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &Stats{}
	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	count, total, errs := s.Snapshot()
	if count != 3 {
		t.Errorf("QueryCount = %d, want 3", count)
	}
	if total != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewStatsContext(context.Background())
	got, ok := StatsFromContext(ctx)
	if !ok || got == nil {
		t.Fatal("expected stats in context")
	}

	got.AddQuery(time.Millisecond, nil)
	again, _ := StatsFromContext(ctx)
	if again.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", again.QueryCount)
	}

	if _, ok := StatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithSource(t *testing.T) {
	t.Parallel()

	if got := sourceFromContext(WithSource(context.Background(), "webhook")); got != "webhook" {
		t.Errorf("source = %q, want webhook", got)
	}
	if got := sourceFromContext(WithSource(context.Background(), "")); got != "unknown" {
		t.Errorf("source = %q, want unknown", got)
	}
}

// recordingTracer is an inner tracer that notes it was called.
type recordingTracer struct {
	started, ended int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.started++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) {
	r.ended++
}

// TestLoggingTracer is not parallel, it swaps the global observer.
func TestLoggingTracer(t *testing.T) {
	defer SetQueryObserver(nil)

	var (
		gotSource, gotOp, gotOutcome string
		calls                        int
	)
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, source, op, outcome string, _ time.Duration) {
		gotSource, gotOp, gotOutcome = source, op, outcome
		calls++
	}))

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner, time.Hour)

	ctx := NewStatsContext(WithSource(context.Background(), "reaction"))
	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	qctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "DELETE FROM alerts"})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	if inner.started != 2 || inner.ended != 2 {
		t.Errorf("inner tracer start/end = %d/%d, want 2/2", inner.started, inner.ended)
	}
	if calls != 2 {
		t.Fatalf("observer calls = %d, want 2", calls)
	}
	if gotSource != "reaction" || gotOp != "DELETE" || gotOutcome != "error" {
		t.Errorf("last observation = %s/%s/%s", gotSource, gotOp, gotOutcome)
	}

	stats, _ := StatsFromContext(ctx)
	if count, _, errs := stats.Snapshot(); count != 2 || errs != 1 {
		t.Errorf("stats = %d queries, %d errors; want 2, 1", count, errs)
	}
}

func TestSetQueryObserver_Nil(t *testing.T) {
	defer SetQueryObserver(nil)

	SetQueryObserver(QueryObserverFunc(func(context.Context, string, string, string, time.Duration) {}))
	if getQueryObserver() == nil {
		t.Fatal("expected observer after Set")
	}
	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("expected nil observer after Set(nil)")
	}
}
