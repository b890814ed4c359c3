package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store abstracts the calendar provider consumed by the Writer.
type Store interface {
	// ListEvents returns events intersecting [start, end].
	ListEvents(ctx context.Context, start, end time.Time) ([]Existing, error)
	// CreateEvent creates a new event with the given description text.
	CreateEvent(ctx context.Context, ev Event, description string) error
}

// AuthError marks a provider authentication failure. The orchestrator
// reports it once and skips all remaining writes in the run.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "calendar auth: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// Options holds the normalization and duplicate-check configuration.
type Options struct {
	Location           *time.Location
	DefaultStartHour   int
	DefaultStartMinute int
	DefaultDuration    time.Duration
	Tolerance          time.Duration // ε added outside the same-day query window
}

// WriteResult is the outcome of one Write call.
type WriteResult int

const (
	Created WriteResult = iota
	SkippedDuplicate
)

// Writer normalizes event descriptors and creates them on the provider
// calendar unless a duplicate already exists. At most one event is created
// per distinct (normalized title, start date) pair per run.
type Writer struct {
	store Store
	opts  Options
	log   *logrus.Entry

	mu   sync.Mutex
	seen map[string]bool // normalized title + start date created or matched this run
}

func NewWriter(store Store, opts Options, log *logrus.Logger) *Writer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = time.Hour
	}
	return &Writer{
		store: store,
		opts:  opts,
		log:   log.WithField("component", "calendar"),
		seen:  make(map[string]bool),
	}
}

// Normalize fills in missing times: a date-only start becomes the configured
// default start time in the configured timezone, and a missing (or inverted)
// end becomes start + default duration.
func (w *Writer) Normalize(ev Event) Event {
	if ev.AllDay {
		y, m, d := ev.Start.Date()
		ev.Start = time.Date(y, m, d, w.opts.DefaultStartHour, w.opts.DefaultStartMinute, 0, 0, w.opts.Location)
		ev.End = ev.Start.Add(w.opts.DefaultDuration)
		ev.AllDay = false
		return ev
	}
	ev.Start = ev.Start.In(w.opts.Location)
	if ev.End.IsZero() || !ev.End.After(ev.Start) {
		ev.End = ev.Start.Add(w.opts.DefaultDuration)
	} else {
		ev.End = ev.End.In(w.opts.Location)
	}
	return ev
}

// Write normalizes ev, checks the provider for duplicates and creates the
// event if none match. The check-then-create sequence is serialized so
// concurrent descriptors for the same (title, start date) key cannot both
// pass the duplicate check.
func (w *Writer) Write(ctx context.Context, ev Event, description string) (WriteResult, error) {
	if ev.Title == "" {
		return 0, fmt.Errorf("event has no title")
	}
	if ev.Start.IsZero() {
		return 0, fmt.Errorf("event %q has no start", ev.Title)
	}
	ev = w.Normalize(ev)
	key := normTitle(ev.Title) + "|" + ev.Start.Format("2006-01-02")

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seen[key] {
		w.log.WithField("title", ev.Title).Debug("duplicate within run, skipping")
		return SkippedDuplicate, nil
	}

	from, to := w.queryWindow(ev)
	existing, err := w.store.ListEvents(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}
	for _, ex := range existing {
		if w.isDuplicate(ev, ex) {
			w.log.WithFields(logrus.Fields{"title": ev.Title, "existing": ex.Title}).
				Info("existing event matches, skipping creation")
			w.seen[key] = true
			return SkippedDuplicate, nil
		}
	}

	if err := w.store.CreateEvent(ctx, ev, description); err != nil {
		return 0, fmt.Errorf("create %q: %w", ev.Title, err)
	}
	w.seen[key] = true
	w.log.WithFields(logrus.Fields{
		"title": ev.Title,
		"start": ev.Start.Format(time.RFC3339),
	}).Info("calendar event created")
	return Created, nil
}

// queryWindow covers the whole days touched by the event plus the
// configured tolerance on both sides.
func (w *Writer) queryWindow(ev Event) (time.Time, time.Time) {
	y, m, d := ev.Start.In(w.opts.Location).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, w.opts.Location).Add(-w.opts.Tolerance)
	y, m, d = ev.End.In(w.opts.Location).Date()
	to := time.Date(y, m, d, 23, 59, 59, 0, w.opts.Location).Add(w.opts.Tolerance)
	return from, to
}

// isDuplicate applies the matching rule: equal normalized titles AND
// (same start date OR overlapping time windows).
func (w *Writer) isDuplicate(ev Event, ex Existing) bool {
	if normTitle(ev.Title) != normTitle(ex.Title) {
		return false
	}
	if sameDate(ev.Start.In(w.opts.Location), ex.Start.In(w.opts.Location)) {
		return true
	}
	return overlaps(ev.Start, ev.End, ex.Start, ex.End)
}
