// Package streak derives the consecutive-day collection streak from raw
// collection history. The streak is always recomputed from history rather
// than incrementally mutated, so a missed update or a backfilled record can
// never leave a stale counter behind.
package streak

import (
	"time"

	"github.com/stashhunt/stashd/pkg"
)

// midnight truncates t to the start of its calendar day in loc.
func midnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// qualifyingDays returns the set of calendar days (midnight-normalized) on
// which a streak-eligible collection happened.
func qualifyingDays(history []pkg.CollectionRecord, loc *time.Location) map[time.Time]bool {
	days := make(map[time.Time]bool, len(history))
	for _, rec := range history {
		if !rec.EntityKind.StreakEligible() {
			continue
		}
		days[midnight(rec.Timestamp, loc)] = true
	}
	return days
}

// Current returns the number of consecutive calendar days ending today (in
// now's location) with at least one streak-eligible collection. Multiple
// collections on the same day count once. The walk stops at the first gap,
// so a collection before a gap never extends the streak.
func Current(history []pkg.CollectionRecord, now time.Time) int {
	loc := now.Location()
	days := qualifyingDays(history, loc)

	count := 0
	for day := midnight(now, loc); days[day]; day = day.AddDate(0, 0, -1) {
		count++
	}
	return count
}

// HasCollectedToday reports whether a streak-eligible collection already
// happened on now's calendar day.
func HasCollectedToday(history []pkg.CollectionRecord, now time.Time) bool {
	loc := now.Location()
	today := midnight(now, loc)
	for _, rec := range history {
		if rec.EntityKind.StreakEligible() && midnight(rec.Timestamp, loc).Equal(today) {
			return true
		}
	}
	return false
}

// IsStreakEligible reports whether a new streak-eligible collection would
// advance today's streak tally. Once today is satisfied, further collections
// still credit points but do not double-count the day.
func IsStreakEligible(history []pkg.CollectionRecord, now time.Time) bool {
	return !HasCollectedToday(history, now)
}
