// Package sqlitestore provides a SQLite implementation of lifecycle.Store for
// single-instance deployments that need open alerts to survive restarts.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// pure-Go SQLite driver, registers as "sqlite"
	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
)

// Store persists open alerts in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, migrates it to the latest
// schema and returns a ready Store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Version returns the applied schema version.
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	for _, m := range lifecycle.Migrations {
		if m.Version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m lifecycle.Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

const alertColumns = `fingerprint, message_id, status, payload, last_actor`

// Get retrieves an open alert by fingerprint.
func (s *Store) Get(ctx context.Context, fp string) (*lifecycle.Record, bool, error) {
	return s.scanRow(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE fingerprint = ?`, fp))
}

// GetByMessage retrieves an open alert by the id of its chat message.
func (s *Store) GetByMessage(ctx context.Context, msgID string) (*lifecycle.Record, bool, error) {
	return s.scanRow(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE message_id = ?`, msgID))
}

// Upsert inserts or replaces the row for r.Fingerprint.
func (s *Store) Upsert(ctx context.Context, r *lifecycle.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			message_id = excluded.message_id,
			status     = excluded.status,
			payload    = excluded.payload,
			last_actor = excluded.last_actor`,
		r.Fingerprint, r.MessageID, string(r.Status), string(r.Payload), r.LastActor,
	)
	if err != nil {
		return fmt.Errorf("upsert alert %s: %w", r.Fingerprint, err)
	}
	return nil
}

// Delete removes the row for fp.
func (s *Store) Delete(ctx context.Context, fp string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE fingerprint = ?`, fp); err != nil {
		return fmt.Errorf("delete alert %s: %w", fp, err)
	}
	return nil
}

func (s *Store) scanRow(row *sql.Row) (*lifecycle.Record, bool, error) {
	var (
		r       lifecycle.Record
		status  string
		payload string
	)
	if err := row.Scan(&r.Fingerprint, &r.MessageID, &status, &payload, &r.LastActor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scan alert: %w", err)
	}
	r.Status = alert.Status(status)
	r.Payload = []byte(payload)
	return &r, true, nil
}
