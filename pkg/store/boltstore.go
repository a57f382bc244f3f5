package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/logx"
)

// Bucket names for the bbolt database.
const (
	ledgerBucket  = "ledgers"
	pendingBucket = "pending"
)

// BoltStore persists ledgers in a local bbolt file. It is the offline
// fallback: good enough to keep the player's economy moving while the
// authoritative backend is unreachable, and the holding pen for writes
// awaiting reconciliation.
type BoltStore struct {
	db     *bolt.DB
	logger *logx.Logger
}

// NewBoltStore opens (creating if needed) the local ledger database.
func NewBoltStore(path string, logger *logx.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger cache database: %w", err)
	}

	s := &BoltStore{db: db, logger: logger}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{ledgerBucket, pendingBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Local ledger cache opened", "path", path)
	return s, nil
}

// ReadLedger returns the cached ledger for a user.
func (s *BoltStore) ReadLedger(ctx context.Context, userID string) (*pkg.LedgerSnapshot, error) {
	var snap *pkg.LedgerSnapshot

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(ledgerBucket)).Get([]byte(userID))
		if data == nil {
			return ErrNotFound
		}
		snap = &pkg.LedgerSnapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return fmt.Errorf("failed to unmarshal cached ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// WriteCollectionEvent applies an event to the cached ledger, creating the
// ledger on first write. The local idempotence guard runs against the cached
// copy: replaying an entity id leaves the ledger untouched.
func (s *BoltStore) WriteCollectionEvent(ctx context.Context, ev *CollectionEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ledgerBucket))

		snap := &pkg.LedgerSnapshot{UserID: ev.UserID}
		if data := bucket.Get([]byte(ev.UserID)); data != nil {
			if err := json.Unmarshal(data, snap); err != nil {
				return fmt.Errorf("failed to unmarshal cached ledger: %w", err)
			}
		}

		for _, id := range snap.CollectedEntityIDs {
			if id == ev.EntityID {
				// Duplicate local credit guard.
				return nil
			}
		}

		snap.TotalPoints += ev.Value
		snap.CollectedEntityIDs = append(snap.CollectedEntityIDs, ev.EntityID)
		snap.CollectionHistory = append(snap.CollectionHistory, pkg.CollectionRecord{
			EntityKind: ev.Kind,
			Timestamp:  ev.Timestamp,
		})
		switch ev.Kind {
		case pkg.KindRareCoin:
			snap.RareCoinCount++
		case pkg.KindSemiRareCoin:
			snap.SemiRareCoinCount++
		}
		snap.UpdatedAt = time.Now()

		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger: %w", err)
		}
		return bucket.Put([]byte(ev.UserID), data)
	})
}

// WriteLedger replaces the whole cached snapshot, used when hydrating the
// cache from a fresher remote read.
func (s *BoltStore) WriteLedger(snap *pkg.LedgerSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger: %w", err)
		}
		return tx.Bucket([]byte(ledgerBucket)).Put([]byte(snap.UserID), data)
	})
}

// QueuePending records an event for later reconciliation with the remote
// store.
func (s *BoltStore) QueuePending(ev *CollectionEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal pending event: %w", err)
		}
		return tx.Bucket([]byte(pendingBucket)).Put(pendingKey(ev.UserID, ev.EntityID), data)
	})
}

// PendingEvents returns every event awaiting reconciliation.
func (s *BoltStore) PendingEvents() ([]*CollectionEvent, error) {
	var events []*CollectionEvent

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).ForEach(func(k, v []byte) error {
			ev := &CollectionEvent{}
			if err := json.Unmarshal(v, ev); err != nil {
				s.logger.Warn("Dropping unreadable pending event", "key", string(k), "error", err)
				return nil
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// RemovePending drops a reconciled event.
func (s *BoltStore) RemovePending(userID, entityID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Delete(pendingKey(userID, entityID))
	})
}

// PendingCount returns the depth of the reconciliation queue.
func (s *BoltStore) PendingCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket([]byte(pendingBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func pendingKey(userID, entityID string) []byte {
	return []byte(userID + "/" + entityID)
}
