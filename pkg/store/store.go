// Package store defines the ledger persistence contract and its backends:
// an authoritative SQLite store for the daemon, a bbolt local cache used as
// offline fallback and reconciliation queue, and an HTTP client for talking
// to a remote daemon.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stashhunt/stashd/pkg"
)

// ErrNotFound is returned by ReadLedger when no ledger exists for the user.
var ErrNotFound = errors.New("ledger not found")

// CollectionEvent is one committed collection, the unit of every ledger
// mutation. Writes keyed on (UserID, EntityID) are idempotent in every
// backend: replaying an event never double-credits.
type CollectionEvent struct {
	UserID    string         `json:"user_id"`
	EntityID  string         `json:"entity_id"`
	BatchID   string         `json:"batch_id,omitempty"`
	Kind      pkg.EntityKind `json:"kind"`
	Value     int            `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
}

// LedgerStore reads and mutates persisted ledgers.
type LedgerStore interface {
	// ReadLedger returns the stored ledger for a user, or ErrNotFound.
	ReadLedger(ctx context.Context, userID string) (*pkg.LedgerSnapshot, error)

	// WriteCollectionEvent applies one collection to the stored ledger.
	// Applying the same (user, entity) twice is a no-op, not an error.
	WriteCollectionEvent(ctx context.Context, ev *CollectionEvent) error
}

// FallbackStore is the local store used when the authoritative backend is
// unreachable. Besides acting as a LedgerStore it queues events flagged for
// later reconciliation.
type FallbackStore interface {
	LedgerStore

	// QueuePending records an event that could not reach the remote store.
	QueuePending(ev *CollectionEvent) error

	// PendingEvents returns all queued events awaiting reconciliation.
	PendingEvents() ([]*CollectionEvent, error)

	// RemovePending drops a reconciled event from the queue.
	RemovePending(userID, entityID string) error

	// Close releases the underlying database.
	Close() error
}
