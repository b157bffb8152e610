package alert

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDecodeWebhook_Valid(t *testing.T) {
	t.Parallel()

	body := `{
		"version": "4",
		"receiver": "matrix",
		"alerts": [
			{"fingerprint":"abc","status":"firing","labels":{"alertname":"Disk"},"annotations":{"description":"disk full"},"extra":{"k":1}},
			{"fingerprint":"def","status":"resolved","annotations":{"description":"cpu"}}
		]
	}`

	wh, err := DecodeWebhook(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if wh.Receiver != "matrix" {
		t.Errorf("Receiver = %q, want matrix", wh.Receiver)
	}

	want := []*Alert{
		{
			Fingerprint: "abc",
			Status:      StatusFiring,
			Labels:      map[string]string{"alertname": "Disk"},
			Annotations: map[string]string{"description": "disk full"},
		},
		{
			Fingerprint: "def",
			Status:      StatusResolved,
			Annotations: map[string]string{"description": "cpu"},
		},
	}
	if diff := cmp.Diff(want, wh.Alerts, cmpopts.IgnoreFields(Alert{}, "Raw")); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}

	// unknown fields survive in the raw payload
	var raw map[string]any
	if err := json.Unmarshal(wh.Alerts[0].Raw, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if _, ok := raw["extra"]; !ok {
		t.Errorf("raw payload lost unknown field: %s", wh.Alerts[0].Raw)
	}
}

func TestDecodeWebhook_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{bad`},
		{"empty body", ``},
		{"missing alerts", `{}`},
		{"alerts not array", `{"alerts":{}}`},
		{"missing fingerprint", `{"alerts":[{"status":"firing","annotations":{"description":"x"}}]}`},
		{"missing status", `{"alerts":[{"fingerprint":"a","annotations":{"description":"x"}}]}`},
		{"unknown status", `{"alerts":[{"fingerprint":"a","status":"pending","annotations":{"description":"x"}}]}`},
		{"missing description", `{"alerts":[{"fingerprint":"a","status":"firing","annotations":{}}]}`},
		{"missing annotations", `{"alerts":[{"fingerprint":"a","status":"firing"}]}`},
		{"second item bad", `{"alerts":[{"fingerprint":"a","status":"firing","annotations":{"description":"x"}},{"status":"firing"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeWebhook(strings.NewReader(tt.body))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeWebhook(%q) error = %v, want ErrMalformed", tt.body, err)
			}
		})
	}
}

func TestDecodeWebhook_EmptyAlerts(t *testing.T) {
	t.Parallel()

	wh, err := DecodeWebhook(strings.NewReader(`{"alerts":[]}`))
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if len(wh.Alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(wh.Alerts))
	}
}

func TestParse_RoundTripRaw(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"fingerprint":"abc","status":"firing","annotations":{"description":"disk full"},"generatorURL":"http://prom"}`)
	al, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(al.Raw) != string(raw) {
		t.Errorf("Raw = %s, want verbatim %s", al.Raw, raw)
	}

	// raw is a private copy
	raw[2] = 'X'
	if al.Raw[2] == 'X' {
		t.Error("Raw shares memory with the input")
	}

	again, err := Parse(al.Raw)
	if err != nil {
		t.Fatalf("Parse stored payload: %v", err)
	}
	if again.Description() != "disk full" || again.GeneratorURL != "http://prom" {
		t.Errorf("reparsed alert = %+v", again)
	}
}

func TestStatus_Open(t *testing.T) {
	t.Parallel()

	open := map[Status]bool{
		StatusFiring:           true,
		StatusAcknowledged:     true,
		StatusResolved:         false,
		StatusManuallyResolved: false,
	}
	for s, want := range open {
		if got := s.Open(); got != want {
			t.Errorf("%s.Open() = %v, want %v", s, got, want)
		}
	}
}
