// Package metrics derives recency metrics from stored daily entry history.
// Everything here is recomputable from entry dates alone, so backfilled
// history and live ingestion produce identical results.
package metrics

import (
	"time"

	"github.com/rkoval/trendigest/internal/timeutil"
)

// Stats are the per-item history metrics surfaced to the renderer.
type Stats struct {
	EarliestSeen time.Time // zero when the item has no history
	StreakDays   int
	SeenBefore   bool
}

// Compute derives Stats from the item's daily entry dates up to asOf.
// Dates may arrive in any order and may contain duplicates from same-day
// re-ingestion; neither affects the result.
func Compute(dates []time.Time, asOf time.Time) Stats {
	if len(dates) == 0 {
		return Stats{}
	}

	asOf = timeutil.Truncate(asOf)
	daySet := make(map[time.Time]bool, len(dates))
	earliest := time.Time{}
	seenBefore := false
	for _, d := range dates {
		d = timeutil.Truncate(d)
		if d.After(asOf) {
			continue
		}
		daySet[d] = true
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
		if d.Before(asOf) {
			seenBefore = true
		}
	}
	if len(daySet) == 0 {
		return Stats{}
	}

	// Walk backwards from asOf; the streak ends at the first missing day.
	streak := 0
	for cursor := asOf; daySet[cursor]; cursor = cursor.AddDate(0, 0, -1) {
		streak++
	}

	return Stats{
		EarliestSeen: earliest,
		StreakDays:   streak,
		SeenBefore:   seenBefore,
	}
}

// EarliestSeen is the first daily date the item ever appeared on, across all
// time. Gaps never reset it.
func EarliestSeen(dates []time.Time, asOf time.Time) (time.Time, bool) {
	s := Compute(dates, asOf)
	return s.EarliestSeen, !s.EarliestSeen.IsZero()
}

// Streak is the length of the consecutive-day run ending at asOf. A missed
// day resets the count to 1 on the next appearance. Callers only query
// streaks for dates where the item has an entry.
func Streak(dates []time.Time, asOf time.Time) int {
	return Compute(dates, asOf).StreakDays
}
