// Package pgstore provides a PostgreSQL implementation of lifecycle.Store.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
)

var tracer = otel.Tracer("github.com/linnemanlabs/alertbot/internal/lifecycle/pgstore")

// migrationLockID is the advisory lock key held while a migration runs, so
// replicas starting together apply each step once.
const migrationLockID int64 = 0x616c657274626f74 // "alertbot"

// Store persists open alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New migrates the database behind pool to the latest schema and returns a
// ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Version returns the applied schema version.
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	for _, m := range lifecycle.Migrations {
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction. The
// version check happens under the advisory lock so a step another replica
// just applied is skipped.
func (s *Store) apply(ctx context.Context, m lifecycle.Migration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("lock for migration %d: %w", m.Version, err)
	}

	var applied bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_version WHERE version = $1)`, m.Version).Scan(&applied); err != nil {
		return fmt.Errorf("check migration %d: %w", m.Version, err)
	}
	if applied {
		return nil
	}

	if _, err := tx.Exec(ctx, m.Up); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

const alertColumns = `fingerprint, message_id, status, payload, last_actor`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves an open alert by fingerprint.
//
//nolint:dupl // similar structure to GetByMessage is intentional
func (s *Store) Get(ctx context.Context, fp string) (*lifecycle.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	r, err := scanRow(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE fingerprint = $1`, fp))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return r, r != nil, nil
}

// GetByMessage retrieves an open alert by the id of its chat message.
//
//nolint:dupl // similar structure to Get is intentional
func (s *Store) GetByMessage(ctx context.Context, msgID string) (*lifecycle.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetByMessage", "SELECT")
	defer span.End()

	r, err := scanRow(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE message_id = $1`, msgID))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return r, r != nil, nil
}

// Upsert inserts or updates the row for r.Fingerprint in one statement.
func (s *Store) Upsert(ctx context.Context, r *lifecycle.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Upsert", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fingerprint) DO UPDATE SET
			message_id = EXCLUDED.message_id,
			status     = EXCLUDED.status,
			payload    = EXCLUDED.payload,
			last_actor = EXCLUDED.last_actor`,
		r.Fingerprint, r.MessageID, string(r.Status), string(r.Payload), r.LastActor,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert alert %s: %w", r.Fingerprint, err))
	}
	return nil
}

// Delete removes the row for fp.
func (s *Store) Delete(ctx context.Context, fp string) error {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE fingerprint = $1`, fp); err != nil {
		return fail(span, fmt.Errorf("delete alert %s: %w", fp, err))
	}
	return nil
}

// scanRow returns (nil, nil) when no row is found.
func scanRow(row pgx.Row) (*lifecycle.Record, error) {
	var (
		r       lifecycle.Record
		status  string
		payload string
	)
	if err := row.Scan(&r.Fingerprint, &r.MessageID, &status, &payload, &r.LastActor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	r.Status = alert.Status(status)
	r.Payload = []byte(payload)
	return &r, nil
}
