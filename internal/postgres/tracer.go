package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var queryObserver atomic.Pointer[queryObserverHolder]

type ctxKey string

const (
	ctxKeyQuery  ctxKey = "pgx.query"
	ctxKeySource ctxKey = "alertbot.source"
)

type statsKey struct{}

type queryObserverHolder struct{ QueryObserver }

// queryStart is stashed in the query context between start and end hooks.
type queryStart struct {
	sql    string
	args   []any
	start  time.Time
	caller string
}

// Stats accumulates database query statistics for one inbound event.
type Stats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, source, operation, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, source, operation, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, source, operation, outcome string, dur time.Duration) {
	f(ctx, source, operation, outcome, dur)
}

// AddQuery records a single query execution.
func (s *Stats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns the counters under the lock.
func (s *Stats) Snapshot() (count int, total time.Duration, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.TotalDuration, s.ErrorCount
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

// WithSource tags the context with the event source (webhook, reaction,
// kafka) that triggered the queries made under it.
func WithSource(ctx context.Context, source string) context.Context {
	if source == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeySource, source)
}

// NewStatsContext returns a new context with an empty Stats attached.
func NewStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, statsKey{}, &Stats{})
}

// StatsFromContext extracts the Stats from the context, if present.
func StatsFromContext(ctx context.Context) (*Stats, bool) {
	s, ok := ctx.Value(statsKey{}).(*Stats)
	return s, ok
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func sourceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySource).(string); ok {
		return v
	}
	return "unknown"
}

// loggingTracer wraps another pgx.QueryTracer (e.g. otelpgx), feeds the
// query observer and logs failed or slow queries.
type loggingTracer struct {
	inner pgx.QueryTracer
	slow  time.Duration // 0 logs every query
}

func wrapQueryTracer(inner pgx.QueryTracer, slow time.Duration) pgx.QueryTracer {
	return loggingTracer{inner: inner, slow: slow}
}

func (t loggingTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	qs := &queryStart{
		sql:    data.SQL,
		args:   data.Args,
		start:  time.Now(),
		caller: findStoreCaller(),
	}

	// let the inner tracer open its span first
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	ctx = context.WithValue(ctx, ctxKeyQuery, qs)

	if span := trace.SpanFromContext(ctx); span.IsRecording() && qs.caller != "" {
		span.SetAttributes(attribute.String("db.caller", qs.caller))
	}
	return ctx
}

func (t loggingTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, _ := ctx.Value(ctxKeyQuery).(*queryStart)
	if qs == nil {
		return
	}
	dur := time.Since(qs.start)
	op := operationName(data.CommandTag, qs.sql)

	if s, ok := StatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	if obs := getQueryObserver(); obs != nil {
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, sourceFromContext(ctx), op, outcome, dur)
	}

	if data.Err == nil && dur < t.slow {
		return
	}

	fields := []any{
		"db.statement", qs.sql,
		"db.args", qs.args,
		"db.duration", dur.Seconds(),
		"db.operation.name", op,
		"alertbot.source", sourceFromContext(ctx),
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}
	if rows := data.CommandTag.RowsAffected(); data.Err == nil && rows >= 0 {
		fields = append(fields, "db.rows", rows)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Warn(ctx, "slow db query", fields...)
}

// operationName prefers the command tag verb and falls back to the first
// word of the statement when the query failed before producing a tag.
func operationName(tag pgconn.CommandTag, sql string) string {
	if parts := strings.Fields(tag.String()); len(parts) > 0 {
		return strings.ToUpper(parts[0])
	}
	if parts := strings.Fields(sql); len(parts) > 0 {
		return strings.ToUpper(parts[0])
	}
	return "UNKNOWN"
}

// findStoreCaller walks the stack to the first application frame issuing the
// query, typically a pgstore method.
func findStoreCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		if fn != "" &&
			!strings.HasPrefix(fn, "runtime.") &&
			!strings.Contains(fn, "github.com/jackc/pgx/v5") &&
			!strings.Contains(fn, "github.com/exaring/otelpgx") &&
			!strings.Contains(fn, "loggingTracer.TraceQuery") {
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

func shortenFuncName(fn string) string {
	// trim package path
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	// trim package name, keep receiver + method
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
