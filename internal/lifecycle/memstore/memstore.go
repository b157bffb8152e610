// Package memstore provides an in-memory implementation of lifecycle.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/alertbot/internal/lifecycle"
)

// Store holds open alerts in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	alerts   map[string]*lifecycle.Record // fingerprint -> record
	messages map[string]string            // message id -> fingerprint
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts:   make(map[string]*lifecycle.Record),
		messages: make(map[string]string),
	}
}

// Get retrieves an open alert by fingerprint. Returns a copy.
func (s *Store) Get(_ context.Context, fp string) (*lifecycle.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.alerts[fp]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

// GetByMessage retrieves an open alert by the id of its chat message. Returns a copy.
func (s *Store) GetByMessage(_ context.Context, msgID string) (*lifecycle.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.messages[msgID]
	if !ok {
		return nil, false, nil
	}
	return s.alerts[fp].Clone(), true, nil
}

// Upsert stores a copy of the record, replacing any row with the same fingerprint.
func (s *Store) Upsert(_ context.Context, r *lifecycle.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.alerts[r.Fingerprint]; ok && old.MessageID != r.MessageID {
		delete(s.messages, old.MessageID)
	}
	s.alerts[r.Fingerprint] = r.Clone()
	s.messages[r.MessageID] = r.Fingerprint
	return nil
}

// Delete removes the row for fp. Deleting a missing row is not an error.
func (s *Store) Delete(_ context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.alerts[fp]; ok {
		delete(s.messages, r.MessageID)
		delete(s.alerts, fp)
	}
	return nil
}

// Len returns the number of open alerts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
