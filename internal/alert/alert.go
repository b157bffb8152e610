// Package alert holds the Alertmanager webhook payload types and the pure
// message renderer used for every lifecycle transition.
package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrMalformed is returned for webhook bodies that cannot be relayed.
var ErrMalformed = errors.New("malformed alert payload")

// Status is the lifecycle state of an alert.
type Status string

const (
	// StatusFiring means the alert source reports the condition as active
	StatusFiring Status = "firing"

	// StatusAcknowledged means a room member claimed the alert
	StatusAcknowledged Status = "acknowledged"

	// StatusResolved means the alert source reports the condition as cleared
	StatusResolved Status = "resolved"

	// StatusManuallyResolved means a room member closed the alert
	StatusManuallyResolved Status = "manually_resolved"
)

// Open reports whether alerts in this status keep a store row.
func (s Status) Open() bool {
	return s == StatusFiring || s == StatusAcknowledged
}

// Webhook is the body Alertmanager posts to webhook receivers.
type Webhook struct {
	Version           string            `json:"version,omitempty"`
	GroupKey          string            `json:"groupKey,omitempty"`
	Status            string            `json:"status,omitempty"`
	Receiver          string            `json:"receiver,omitempty"`
	GroupLabels       map[string]string `json:"groupLabels,omitempty"`
	CommonLabels      map[string]string `json:"commonLabels,omitempty"`
	CommonAnnotations map[string]string `json:"commonAnnotations,omitempty"`
	ExternalURL       string            `json:"externalURL,omitempty"`
	Alerts            []*Alert          `json:"-"`
}

// Alert is a single alert from a webhook batch. Raw keeps the object exactly
// as received so it can be stored and rendered again later.
type Alert struct {
	Fingerprint  string            `json:"fingerprint"`
	Status       Status            `json:"status"`
	Labels       map[string]string `json:"labels,omitempty"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt,omitempty"`
	EndsAt       time.Time         `json:"endsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Description returns the description annotation rendered into chat messages.
func (a *Alert) Description() string {
	return a.Annotations["description"]
}

// DecodeWebhook reads and validates a webhook body. Every alert is validated
// before anything is returned, so a bad item rejects the whole batch.
func DecodeWebhook(r io.Reader) (*Webhook, error) {
	var body struct {
		Webhook
		Alerts *[]json.RawMessage `json:"alerts"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if body.Alerts == nil {
		return nil, fmt.Errorf("%w: missing alerts", ErrMalformed)
	}

	wh := body.Webhook
	wh.Alerts = make([]*Alert, 0, len(*body.Alerts))
	for i, raw := range *body.Alerts {
		al, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("alerts[%d]: %w", i, err)
		}
		if al.Status != StatusFiring && al.Status != StatusResolved {
			return nil, fmt.Errorf("alerts[%d]: %w: unknown status %q", i, ErrMalformed, al.Status)
		}
		wh.Alerts = append(wh.Alerts, al)
	}
	return &wh, nil
}

// Parse decodes a single alert object, keeping a private copy of the raw JSON.
// It is used both for webhook items and for payloads loaded from a store.
func Parse(raw json.RawMessage) (*Alert, error) {
	var al Alert
	if err := json.Unmarshal(raw, &al); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if al.Fingerprint == "" {
		return nil, fmt.Errorf("%w: missing fingerprint", ErrMalformed)
	}
	if al.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformed)
	}
	if _, ok := al.Annotations["description"]; !ok {
		return nil, fmt.Errorf("%w: missing annotations.description", ErrMalformed)
	}
	al.Raw = bytes.Clone(raw)
	return &al, nil
}
