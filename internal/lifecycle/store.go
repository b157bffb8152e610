package lifecycle

import "context"

// Store is the persistence interface for open alerts. A row exists only while
// its alert is firing or acknowledged. Upsert and Delete must each be a single
// atomic operation keyed by fingerprint.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Record, bool, error)
	GetByMessage(ctx context.Context, messageID string) (*Record, bool, error)
	Upsert(ctx context.Context, r *Record) error
	Delete(ctx context.Context, fingerprint string) error
}
