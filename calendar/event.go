// Package calendar writes AI-detected events to a CalDAV calendar with
// normalization and duplicate prevention.
package calendar

import (
	"strings"
	"time"
)

// Event is a candidate calendar event awaiting normalization and the
// duplicate check. AllDay marks a date-only start ("use the default time
// window").
type Event struct {
	Title    string
	Start    time.Time
	End      time.Time // zero = derive from Start + default duration
	Location string
	AllDay   bool
}

// Existing is an event already present on the provider calendar, reduced to
// what the duplicate check needs.
type Existing struct {
	Title string
	Start time.Time
	End   time.Time
}

// normTitle is the case-insensitive comparison key used for duplicate
// detection.
func normTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// A zero end is treated as an instant at its start.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.IsZero() || !aEnd.After(aStart) {
		aEnd = aStart.Add(time.Second)
	}
	if bEnd.IsZero() || !bEnd.After(bStart) {
		bEnd = bStart.Add(time.Second)
	}
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
