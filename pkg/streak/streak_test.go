package streak

import (
	"testing"
	"time"

	"github.com/stashhunt/stashd/pkg"
)

func record(kind pkg.EntityKind, t time.Time) pkg.CollectionRecord {
	return pkg.CollectionRecord{EntityKind: kind, Timestamp: t}
}

func TestCurrent_ConsecutiveDays(t *testing.T) {
	now := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)

	history := []pkg.CollectionRecord{
		record(pkg.KindSemiRareCoin, now),
		record(pkg.KindSemiRareCoin, now.AddDate(0, 0, -1)),
		record(pkg.KindSemiRareCoin, now.AddDate(0, 0, -2)),
		// Gap at T-3; this one must not count.
		record(pkg.KindSemiRareCoin, now.AddDate(0, 0, -4)),
	}

	if got := Current(history, now); got != 3 {
		t.Errorf("Current() = %d, want 3", got)
	}
}

func TestCurrent_EmptyAndNoneToday(t *testing.T) {
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	if got := Current(nil, now); got != 0 {
		t.Errorf("Current(nil) = %d, want 0", got)
	}

	// Collections exist but not today: streak is 0 until today is satisfied.
	history := []pkg.CollectionRecord{
		record(pkg.KindSemiRareCoin, now.AddDate(0, 0, -1)),
		record(pkg.KindSemiRareCoin, now.AddDate(0, 0, -2)),
	}
	if got := Current(history, now); got != 0 {
		t.Errorf("Current() without today's collection = %d, want 0", got)
	}
}

func TestCurrent_SameDayDedup(t *testing.T) {
	now := time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC)

	history := []pkg.CollectionRecord{
		record(pkg.KindSemiRareCoin, now.Add(-10*time.Hour)),
		record(pkg.KindSemiRareCoin, now.Add(-2*time.Hour)),
		record(pkg.KindSemiRareCoin, now),
		record(pkg.KindSemiRareCoin, now.AddDate(0, 0, -1)),
	}

	if got := Current(history, now); got != 2 {
		t.Errorf("Current() with three same-day collections = %d, want 2", got)
	}
}

func TestCurrent_IgnoresNonEligibleKinds(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	history := []pkg.CollectionRecord{
		record(pkg.KindStandardCoin, now),
		record(pkg.KindRareCoin, now),
		record(pkg.KindChained, now),
	}

	if got := Current(history, now); got != 0 {
		t.Errorf("Current() over non-eligible kinds = %d, want 0", got)
	}
}

func TestCurrent_OutOfOrderHistory(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// Backfilled entries arrive out of order; the result must not depend on
	// ordering.
	history := []pkg.CollectionRecord{
		record(pkg.KindSemiRareCoin, now.AddDate(0, 0, -2)),
		record(pkg.KindSemiRareCoin, now),
		record(pkg.KindSemiRareCoin, now.AddDate(0, 0, -1)),
	}

	if got := Current(history, now); got != 3 {
		t.Errorf("Current() over unordered history = %d, want 3", got)
	}
}

func TestHasCollectedToday(t *testing.T) {
	now := time.Date(2026, 9, 1, 23, 50, 0, 0, time.UTC)

	t.Run("just_before_midnight_boundary", func(t *testing.T) {
		history := []pkg.CollectionRecord{
			record(pkg.KindSemiRareCoin, time.Date(2026, 9, 1, 0, 0, 1, 0, time.UTC)),
		}
		if !HasCollectedToday(history, now) {
			t.Error("Expected collection at 00:00:01 to count as today")
		}
	})

	t.Run("yesterday_does_not_count", func(t *testing.T) {
		history := []pkg.CollectionRecord{
			record(pkg.KindSemiRareCoin, time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC)),
		}
		if HasCollectedToday(history, now) {
			t.Error("Expected collection at 23:59:59 yesterday to not count as today")
		}
	})

	t.Run("eligibility_flips_after_first_collection", func(t *testing.T) {
		var history []pkg.CollectionRecord
		if !IsStreakEligible(history, now) {
			t.Error("Expected empty history to be streak eligible")
		}
		history = append(history, record(pkg.KindSemiRareCoin, now.Add(-time.Hour)))
		if IsStreakEligible(history, now) {
			t.Error("Expected second same-day collection to not be streak eligible")
		}
	})
}
