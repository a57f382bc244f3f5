package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/logx"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()

	logger := logx.NewLogger("error", "store-test")
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"), logger)
	if err != nil {
		t.Fatalf("NewBoltStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStoreReadMissingLedger(t *testing.T) {
	s := newTestBoltStore(t)

	_, err := s.ReadLedger(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBoltStoreWriteAndReadLedger(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	snap := &pkg.LedgerSnapshot{
		UserID:             "hunter-1",
		TotalPoints:        125,
		CollectedEntityIDs: []string{"coin-a", "coin-b"},
		SemiRareCoinCount:  1,
		CollectionHistory: []pkg.CollectionRecord{
			{EntityKind: pkg.KindSemiRareCoin, Timestamp: now},
		},
		CurrentStreakDays: 1,
		UpdatedAt:         now,
	}
	if err := s.WriteLedger(snap); err != nil {
		t.Fatalf("WriteLedger failed: %v", err)
	}

	got, err := s.ReadLedger(ctx, "hunter-1")
	if err != nil {
		t.Fatalf("ReadLedger failed: %v", err)
	}
	if got.TotalPoints != 125 {
		t.Errorf("expected 125 points, got %d", got.TotalPoints)
	}
	if len(got.CollectedEntityIDs) != 2 {
		t.Errorf("expected 2 collected ids, got %d", len(got.CollectedEntityIDs))
	}
	if got.SemiRareCoinCount != 1 {
		t.Errorf("expected semi-rare count 1, got %d", got.SemiRareCoinCount)
	}
}

func TestBoltStoreWriteCollectionEvent(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	ev := &CollectionEvent{
		UserID:    "hunter-1",
		EntityID:  "coin-a",
		BatchID:   "batch-1",
		Kind:      pkg.KindStandardCoin,
		Value:     25,
		Timestamp: time.Now().UTC(),
	}

	if err := s.WriteCollectionEvent(ctx, ev); err != nil {
		t.Fatalf("WriteCollectionEvent failed: %v", err)
	}

	snap, err := s.ReadLedger(ctx, "hunter-1")
	if err != nil {
		t.Fatalf("ReadLedger failed: %v", err)
	}
	if snap.TotalPoints != 25 {
		t.Errorf("expected 25 points, got %d", snap.TotalPoints)
	}

	// Replay of the same event must not double-credit.
	if err := s.WriteCollectionEvent(ctx, ev); err != nil {
		t.Fatalf("replayed WriteCollectionEvent failed: %v", err)
	}
	snap, err = s.ReadLedger(ctx, "hunter-1")
	if err != nil {
		t.Fatalf("ReadLedger after replay failed: %v", err)
	}
	if snap.TotalPoints != 25 {
		t.Errorf("replay double-credited: expected 25 points, got %d", snap.TotalPoints)
	}
	if len(snap.CollectedEntityIDs) != 1 {
		t.Errorf("expected 1 collected id after replay, got %d", len(snap.CollectedEntityIDs))
	}
}

func TestBoltStorePendingQueue(t *testing.T) {
	s := newTestBoltStore(t)
	events := []*CollectionEvent{
		{UserID: "hunter-1", EntityID: "coin-a", Kind: pkg.KindStandardCoin, Value: 10, Timestamp: time.Now().UTC()},
		{UserID: "hunter-1", EntityID: "coin-b", Kind: pkg.KindRareCoin, Value: 250, Timestamp: time.Now().UTC()},
	}
	for _, ev := range events {
		if err := s.QueuePending(ev); err != nil {
			t.Fatalf("QueuePending failed: %v", err)
		}
	}

	pending, err := s.PendingEvents()
	if err != nil {
		t.Fatalf("PendingEvents failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}

	if err := s.RemovePending("hunter-1", "coin-a"); err != nil {
		t.Fatalf("RemovePending failed: %v", err)
	}
	pending, err = s.PendingEvents()
	if err != nil {
		t.Fatalf("PendingEvents after remove failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event after remove, got %d", len(pending))
	}
	if pending[0].EntityID != "coin-b" {
		t.Errorf("expected remaining pending coin-b, got %s", pending[0].EntityID)
	}

	n, err := s.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected pending count 1, got %d", n)
	}
}

func TestBoltStoreQueuePendingIdempotent(t *testing.T) {
	s := newTestBoltStore(t)
	ev := &CollectionEvent{UserID: "hunter-1", EntityID: "coin-a", Kind: pkg.KindStandardCoin, Value: 5, Timestamp: time.Now().UTC()}
	if err := s.QueuePending(ev); err != nil {
		t.Fatalf("QueuePending failed: %v", err)
	}
	if err := s.QueuePending(ev); err != nil {
		t.Fatalf("second QueuePending failed: %v", err)
	}

	pending, err := s.PendingEvents()
	if err != nil {
		t.Fatalf("PendingEvents failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending event after duplicate queue, got %d", len(pending))
	}
}
