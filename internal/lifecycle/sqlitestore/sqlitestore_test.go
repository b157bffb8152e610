package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
	"github.com/linnemanlabs/alertbot/internal/lifecycle/storetest"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) lifecycle.Store {
		return openStore(t, filepath.Join(t.TempDir(), "alerts.db"))
	})
}

func TestOpen_MigratesToLatest(t *testing.T) {
	t.Parallel()

	s := openStore(t, filepath.Join(t.TempDir(), "alerts.db"))
	v, err := s.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != lifecycle.SchemaVersion() {
		t.Errorf("Version = %d, want %d", v, lifecycle.SchemaVersion())
	}
}

func TestOpen_ReopenKeepsRowsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerts.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := storetest.Record("fp-1", "$ev-1", alert.StatusAcknowledged)
	rec.LastActor = "@alice:example.com"
	if err := first.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openStore(t, path)
	got, ok, err := second.Get(ctx, "fp-1")
	if err != nil || !ok {
		t.Fatalf("Get after reopen = ok %v, err %v", ok, err)
	}
	if got.LastActor != "@alice:example.com" || got.Status != alert.StatusAcknowledged {
		t.Errorf("record after reopen = %+v", got)
	}

	var applied int
	if err := second.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&applied); err != nil {
		t.Fatalf("count schema_version: %v", err)
	}
	if applied != len(lifecycle.Migrations) {
		t.Errorf("schema_version rows = %d, want %d", applied, len(lifecycle.Migrations))
	}
}

func TestOpen_UpgradesFromV1(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerts.db")
	ctx := context.Background()

	// lay down a v1-only database with a row from before payloads were stored
	s := openStore(t, path)
	for _, stmt := range []string{
		"DROP TABLE alerts",
		"DELETE FROM schema_version",
		lifecycle.Migrations[0].Up,
		"INSERT INTO schema_version (version, name) VALUES (1, 'create_alerts')",
		"INSERT INTO alerts (fingerprint, message_id, status) VALUES ('old', '$old', 'firing')",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	if err := s.migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	got, ok, err := s.GetByMessage(ctx, "$old")
	if err != nil || !ok {
		t.Fatalf("GetByMessage = ok %v, err %v", ok, err)
	}
	if string(got.Payload) != "{}" || got.LastActor != "" {
		t.Errorf("upgraded row = %+v, want default payload and empty actor", got)
	}
	if v, _ := s.Version(ctx); v != lifecycle.SchemaVersion() {
		t.Errorf("Version = %d, want %d", v, lifecycle.SchemaVersion())
	}
}
