package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mailagent/calendar"
	"mailagent/mailbox"
)

// Collaborator interfaces, one per pipeline stage. The concrete
// implementations live in mailbox/, analyze.go, whatsapp.go and calendar/.
type emailFetcher interface {
	FetchRecent(opts mailbox.FetchOptions) ([]mailbox.EmailRecord, []mailbox.ParseFailure, error)
}

type emailAnalyzer interface {
	Analyze(ctx context.Context, rec mailbox.EmailRecord) (*AnalysisResult, error)
}

type notifier interface {
	Notify(ctx context.Context, sender, subject, summary string, hasEvent bool) error
}

type eventWriter interface {
	Write(ctx context.Context, ev calendar.Event, description string) (calendar.WriteResult, error)
}

// Pipeline sequences Fetch → Analyze → (Notify, CalendarWrite) over one
// batch of emails and aggregates the RunReport. One logical run at a time.
type Pipeline struct {
	fetch     emailFetcher
	analyze   emailAnalyzer
	notify    notifier
	events    eventWriter // nil when calendar setup failed
	eventsErr error       // why events is nil

	fetchOpts mailbox.FetchOptions
	loc       *time.Location
	log       *logrus.Logger
}

func NewPipeline(fetch emailFetcher, analyze emailAnalyzer, notify notifier, events eventWriter,
	fetchOpts mailbox.FetchOptions, loc *time.Location, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		fetch:     fetch,
		analyze:   analyze,
		notify:    notify,
		events:    events,
		fetchOpts: fetchOpts,
		loc:       loc,
		log:       log,
	}
}

// Run executes one complete run. It always returns a finalized RunReport;
// only a mailbox connection failure aborts before per-email processing.
func (p *Pipeline) Run(ctx context.Context) *RunReport {
	report := &RunReport{}

	p.log.Info("fetching recent emails")
	records, skipped, err := p.fetch.FetchRecent(p.fetchOpts)
	if err != nil {
		p.log.WithError(err).Error("fetch failed, aborting run")
		report.recordFailure("fetch", "", KindFetchConnection, err)
		return report
	}
	for _, s := range skipped {
		report.recordFailure("fetch", s.ID, KindFetchParse, s.Err)
	}
	p.log.WithField("count", len(records)).Info("emails fetched")

	calendarDown := false
	for _, rec := range records {
		report.EmailsProcessed++
		p.log.WithFields(logrus.Fields{"email": rec.ID, "subject": rec.Subject}).Info("processing email")

		result, err := p.analyze.Analyze(ctx, rec)
		if err != nil {
			kind := KindAnalysis
			var malformed *MalformedResponseError
			if errors.As(err, &malformed) {
				kind = KindAnalysisMalformed
			}
			p.log.WithField("email", rec.ID).WithError(err).Error("analysis failed")
			report.recordFailure("analyze", rec.ID, kind, err)
			continue
		}

		// The event marker covers both sources: an attached invite counts
		// even when the analysis itself found no event.
		descriptors := p.descriptorsFor(rec, result)

		// Notify and calendar stages are independent: neither outcome
		// blocks the other.
		if err := p.notify.Notify(ctx, rec.Sender, rec.Subject, result.Summary, len(descriptors) > 0); err != nil {
			report.recordFailure("notify", rec.ID, KindNotifyFailed, err)
		} else {
			report.NotificationsSent++
		}
		if len(descriptors) == 0 {
			continue
		}
		if p.events == nil && !calendarDown {
			calendarDown = true
			err := p.eventsErr
			if err == nil {
				err = fmt.Errorf("calendar not configured")
			}
			report.recordFailure("calendar", "", KindCalendarAuth, err)
		}
		if calendarDown {
			continue
		}

		desc := fmt.Sprintf("Source email: %s\nFrom: %s", rec.Subject, rec.Sender)
		for _, ev := range descriptors {
			res, err := p.events.Write(ctx, ev, desc)
			if err != nil {
				var authErr *calendar.AuthError
				if errors.As(err, &authErr) {
					p.log.WithError(err).Error("calendar auth failed, skipping remaining events this run")
					report.recordFailure("calendar", "", KindCalendarAuth, err)
					calendarDown = true
					break
				}
				p.log.WithField("email", rec.ID).WithError(err).Error("event creation failed")
				report.recordFailure("calendar", rec.ID, KindCalendarCreate, err)
				continue
			}
			switch res {
			case calendar.Created:
				report.EventsCreated++
			case calendar.SkippedDuplicate:
				report.EventsSkippedDuplicate++
			}
		}
	}

	p.log.WithFields(logrus.Fields{
		"emails":     report.EmailsProcessed,
		"notified":   report.NotificationsSent,
		"created":    report.EventsCreated,
		"duplicates": report.EventsSkippedDuplicate,
		"failures":   len(report.Failures),
	}).Info("run finished")
	return report
}

// descriptorsFor merges event descriptors for one email: ICS invites parsed
// from attachments first (they carry exact provider data), then the
// AI-extracted events. Duplicate prevention collapses overlap between the
// two sources.
func (p *Pipeline) descriptorsFor(rec mailbox.EmailRecord, result *AnalysisResult) []calendar.Event {
	descriptors := calendar.ParseInvites(rec.Invites, p.loc)
	if result.HasEvent {
		descriptors = append(descriptors, result.Events...)
	}
	return descriptors
}
