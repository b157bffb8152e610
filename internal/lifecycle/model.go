package lifecycle

import (
	"bytes"
	"encoding/json"

	"github.com/linnemanlabs/alertbot/internal/alert"
)

// Record is the stored state of one open alert.
type Record struct {
	Fingerprint string          `json:"fingerprint"`
	MessageID   string          `json:"message_id"`
	Status      alert.Status    `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	LastActor   string          `json:"last_actor,omitempty"`
}

// Clone returns a deep copy, stores hand these out so callers never share rows.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Payload = bytes.Clone(r.Payload)
	return &cp
}

// Alert decodes the stored payload. Rows migrated from before payloads were
// stored hold "{}"; for those, and for any payload that no longer parses, ok
// is false and a stand-in carrying only the fingerprint is returned.
func (r *Record) Alert() (al *alert.Alert, ok bool) {
	al, err := alert.Parse(r.Payload)
	if err != nil {
		return &alert.Alert{
			Fingerprint: r.Fingerprint,
			Status:      alert.StatusFiring,
			Annotations: map[string]string{"description": ""},
		}, false
	}
	return al, true
}

// Reaction is a normalized chat reaction event.
type Reaction struct {
	RoomID    string
	MessageID string // message the reaction annotates
	Key       string
	Sender    string
}

// Outcome describes what the engine did with one event.
type Outcome string

const (
	// OutcomeCreated means a new message and row were created
	OutcomeCreated Outcome = "created"

	// OutcomeRefired means a firing alert arrived for an already open row
	OutcomeRefired Outcome = "refired"

	// OutcomeAcknowledged means a reaction acknowledged an open alert
	OutcomeAcknowledged Outcome = "acknowledged"

	// OutcomeClosed means the alert was resolved and its row deleted
	OutcomeClosed Outcome = "closed"

	// OutcomeKept means closing failed to edit the message so the row stays open
	OutcomeKept Outcome = "kept"

	// OutcomeIgnored means the event did not apply to any open alert
	OutcomeIgnored Outcome = "ignored"
)

// BatchResult lists the outcome of each processed webhook item, in order.
type BatchResult struct {
	Outcomes []Outcome
}

// Count returns how many items ended with the given outcome.
func (b *BatchResult) Count(o Outcome) int {
	n := 0
	for _, got := range b.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}
