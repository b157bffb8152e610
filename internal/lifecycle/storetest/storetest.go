// Package storetest holds the behavioral tests every lifecycle.Store
// implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) lifecycle.Store

// Run exercises the Store contract against stores created by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("UpsertAndGet", func(t *testing.T) { testUpsertAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpsertOverwrites", func(t *testing.T) { testUpsertOverwrites(t, newStore(t)) })
	t.Run("UpsertMovesMessage", func(t *testing.T) { testUpsertMovesMessage(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ReturnsCopies", func(t *testing.T) { testReturnsCopies(t, newStore(t)) })
	t.Run("PayloadVerbatim", func(t *testing.T) { testPayloadVerbatim(t, newStore(t)) })
	t.Run("ConcurrentUpserts", func(t *testing.T) { testConcurrentUpserts(t, newStore(t)) })
}

// Record builds a valid record whose payload parses as an alert.
func Record(fp, msgID string, status alert.Status) *lifecycle.Record {
	payload, _ := json.Marshal(map[string]any{
		"fingerprint": fp,
		"status":      "firing",
		"labels":      map[string]string{"alertname": "Test"},
		"annotations": map[string]string{"description": "desc " + fp},
	})
	return &lifecycle.Record{
		Fingerprint: fp,
		MessageID:   msgID,
		Status:      status,
		Payload:     payload,
	}
}

func mustGet(t *testing.T, s lifecycle.Store, fp string) *lifecycle.Record {
	t.Helper()
	got, ok, err := s.Get(context.Background(), fp)
	if err != nil {
		t.Fatalf("Get(%q): %v", fp, err)
	}
	if !ok {
		t.Fatalf("Get(%q): not found", fp)
	}
	return got
}

// rows compare with payloads as strings, whitespace is preserved by every backend
var recordCmp = cmp.Transformer("payload", func(p json.RawMessage) string { return string(p) })

func testUpsertAndGet(t *testing.T, s lifecycle.Store) {
	ctx := context.Background()
	r := Record("fp-1", "$ev-1", alert.StatusFiring)
	if err := s.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if diff := cmp.Diff(r, mustGet(t, s, "fp-1"), recordCmp); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	got, ok, err := s.GetByMessage(ctx, "$ev-1")
	if err != nil {
		t.Fatalf("GetByMessage: %v", err)
	}
	if !ok {
		t.Fatal("GetByMessage: not found")
	}
	if diff := cmp.Diff(r, got, recordCmp); diff != "" {
		t.Errorf("GetByMessage mismatch (-want +got):\n%s", diff)
	}
}

func testGetMissing(t *testing.T, s lifecycle.Store) {
	ctx := context.Background()
	if _, ok, err := s.Get(ctx, "nonexistent"); err != nil || ok {
		t.Errorf("Get(missing) = ok %v, err %v; want false, nil", ok, err)
	}
	if _, ok, err := s.GetByMessage(ctx, "$nonexistent"); err != nil || ok {
		t.Errorf("GetByMessage(missing) = ok %v, err %v; want false, nil", ok, err)
	}
}

func testUpsertOverwrites(t *testing.T, s lifecycle.Store) {
	ctx := context.Background()
	if err := s.Upsert(ctx, Record("fp-2", "$ev-2", alert.StatusFiring)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ack := Record("fp-2", "$ev-2", alert.StatusAcknowledged)
	ack.LastActor = "@alice:example.com"
	if err := s.Upsert(ctx, ack); err != nil {
		t.Fatalf("Upsert ack: %v", err)
	}

	got := mustGet(t, s, "fp-2")
	if got.Status != alert.StatusAcknowledged {
		t.Errorf("Status = %q, want acknowledged", got.Status)
	}
	if got.LastActor != "@alice:example.com" {
		t.Errorf("LastActor = %q, want @alice:example.com", got.LastActor)
	}
}

func testUpsertMovesMessage(t *testing.T, s lifecycle.Store) {
	ctx := context.Background()
	if err := s.Upsert(ctx, Record("fp-3", "$old", alert.StatusFiring)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, Record("fp-3", "$new", alert.StatusFiring)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, ok, err := s.GetByMessage(ctx, "$old"); err != nil || ok {
		t.Errorf("GetByMessage($old) = ok %v, err %v; want false, nil", ok, err)
	}
	if got, ok, err := s.GetByMessage(ctx, "$new"); err != nil || !ok || got.Fingerprint != "fp-3" {
		t.Errorf("GetByMessage($new) = %+v, ok %v, err %v", got, ok, err)
	}
}

func testDelete(t *testing.T, s lifecycle.Store) {
	ctx := context.Background()
	if err := s.Upsert(ctx, Record("fp-4", "$ev-4", alert.StatusFiring)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, "fp-4"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "fp-4"); ok {
		t.Error("Get after Delete: still present")
	}
	if _, ok, _ := s.GetByMessage(ctx, "$ev-4"); ok {
		t.Error("GetByMessage after Delete: still present")
	}
	if err := s.Delete(ctx, "fp-4"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func testReturnsCopies(t *testing.T, s lifecycle.Store) {
	ctx := context.Background()
	if err := s.Upsert(ctx, Record("fp-5", "$ev-5", alert.StatusFiring)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got := mustGet(t, s, "fp-5")
	got.Status = alert.StatusResolved
	got.Payload[0] = 'X'

	again := mustGet(t, s, "fp-5")
	if again.Status != alert.StatusFiring {
		t.Errorf("Status = %q, mutation leaked into store", again.Status)
	}
	if again.Payload[0] != '{' {
		t.Errorf("Payload = %s, mutation leaked into store", again.Payload)
	}
}

func testPayloadVerbatim(t *testing.T, s lifecycle.Store) {
	ctx := context.Background()
	r := Record("fp-6", "$ev-6", alert.StatusFiring)
	r.Payload = json.RawMessage(`{"fingerprint":"fp-6", "status":"firing","annotations":{"description":"x"},"zzz":[1,2]}`)
	if err := s.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got := mustGet(t, s, "fp-6")
	if string(got.Payload) != string(r.Payload) {
		t.Errorf("Payload = %s, want verbatim %s", got.Payload, r.Payload)
	}
	if _, ok := got.Alert(); !ok {
		t.Errorf("stored payload does not decode: %s", got.Payload)
	}
}

func testConcurrentUpserts(t *testing.T, s lifecycle.Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fp := fmt.Sprintf("fp-c-%d", i)
			if err := s.Upsert(ctx, Record(fp, "$"+fp, alert.StatusFiring)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Upsert: %v", err)
	}

	for i := range n {
		fp := fmt.Sprintf("fp-c-%d", i)
		if got := mustGet(t, s, fp); got.MessageID != "$"+fp {
			t.Errorf("MessageID = %q, want %q", got.MessageID, "$"+fp)
		}
	}
}
