// Package ledger implements the per-user collection economy: point balance,
// collected-id history, rarity counters and the derived daily streak. The
// ledger is the only shared mutable state in the engine; it is owned by one
// session and guarded so racing collection attempts serialize on the
// idempotence check.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/streak"
)

// Ledger is the authoritative in-memory economy for one user. It is mutated
// only through CreditOnce and Hydrate; persistence is the caller's concern.
type Ledger struct {
	mu sync.Mutex

	userID            string
	totalPoints       int
	collected         map[string]struct{}
	rareCoinCount     int
	semiRareCoinCount int
	history           []pkg.CollectionRecord
	currentStreakDays int
}

// New creates an empty ledger for a user.
func New(userID string) *Ledger {
	return &Ledger{
		userID:    userID,
		collected: make(map[string]struct{}),
	}
}

// Hydrate replaces the ledger's state from a persisted snapshot. The streak
// is recomputed from history rather than trusted from the snapshot, so a
// counter that drifted in storage heals on load.
func (l *Ledger) Hydrate(snap *pkg.LedgerSnapshot, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalPoints = snap.TotalPoints
	l.rareCoinCount = snap.RareCoinCount
	l.semiRareCoinCount = snap.SemiRareCoinCount

	l.collected = make(map[string]struct{}, len(snap.CollectedEntityIDs))
	for _, id := range snap.CollectedEntityIDs {
		l.collected[id] = struct{}{}
	}

	l.history = make([]pkg.CollectionRecord, len(snap.CollectionHistory))
	copy(l.history, snap.CollectionHistory)

	l.currentStreakDays = streak.Current(l.history, now)
}

// UserID returns the owning user id.
func (l *Ledger) UserID() string {
	return l.userID
}

// Has reports whether the entity id has already been credited.
func (l *Ledger) Has(entityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.collected[entityID]
	return ok
}

// CreditOnce atomically runs the idempotence guard and, if the entity is new,
// credits its value, records history and recomputes the streak. It returns
// false without mutating anything when the entity id was already credited.
// The guard and the credit happen under one lock acquisition, so of two
// racing attempts for the same entity exactly one credits.
func (l *Ledger) CreditOnce(entity *pkg.Entity, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.collected[entity.ID]; ok {
		return false
	}

	l.collected[entity.ID] = struct{}{}
	l.totalPoints += entity.Value
	l.history = append(l.history, pkg.CollectionRecord{
		EntityKind: entity.Kind,
		Timestamp:  now,
	})

	switch entity.Kind {
	case pkg.KindRareCoin:
		l.rareCoinCount++
	case pkg.KindSemiRareCoin:
		l.semiRareCoinCount++
		// Streak state only moves on streak-eligible collections.
		l.currentStreakDays = streak.Current(l.history, now)
	}

	return true
}

// TotalPoints returns the current point balance.
func (l *Ledger) TotalPoints() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalPoints
}

// StreakDays returns the derived consecutive-day streak.
func (l *Ledger) StreakDays() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentStreakDays
}

// History returns a copy of the collection history.
func (l *Ledger) History() []pkg.CollectionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]pkg.CollectionRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Snapshot returns the persistable form of the ledger.
func (l *Ledger) Snapshot(now time.Time) *pkg.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.collected))
	for id := range l.collected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	history := make([]pkg.CollectionRecord, len(l.history))
	copy(history, l.history)

	return &pkg.LedgerSnapshot{
		UserID:             l.userID,
		TotalPoints:        l.totalPoints,
		CollectedEntityIDs: ids,
		RareCoinCount:      l.rareCoinCount,
		SemiRareCoinCount:  l.semiRareCoinCount,
		CollectionHistory:  history,
		CurrentStreakDays:  l.currentStreakDays,
		UpdatedAt:          now,
	}
}
