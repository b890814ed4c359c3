package calendar

import (
	"bytes"
	"time"

	"github.com/apognu/gocal"
)

// ParseInvites extracts event descriptors from raw text/calendar MIME parts
// (meeting invites attached to emails). Malformed parts are skipped; the
// AI-extracted events for the same email still stand.
func ParseInvites(invites [][]byte, loc *time.Location) []Event {
	// Expansion window for recurring events: past day through next year.
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now().AddDate(1, 0, 0)

	var events []Event
	for _, raw := range invites {
		p := gocal.NewParser(bytes.NewReader(raw))
		p.Start, p.End = &start, &end
		if err := p.Parse(); err != nil {
			continue
		}
		for _, e := range p.Events {
			if e.Summary == "" || e.Start == nil {
				continue
			}
			ev := Event{Title: e.Summary, Location: e.Location}
			// Date-only DTSTART parses to midnight with a whole-day span.
			// Check that before any zone conversion, then flag the event so
			// normalization applies the default time window.
			if midnight(*e.Start) && (e.End == nil || wholeDays(*e.Start, *e.End)) {
				y, m, d := e.Start.Date()
				ev.Start = time.Date(y, m, d, 0, 0, 0, 0, loc)
				ev.AllDay = true
			} else {
				ev.Start = e.Start.In(loc)
				if e.End != nil {
					ev.End = e.End.In(loc)
				}
			}
			events = append(events, ev)
		}
	}
	return events
}

func midnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}

func wholeDays(start, end time.Time) bool {
	d := end.Sub(start)
	return d > 0 && d%(24*time.Hour) == 0
}
