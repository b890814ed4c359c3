package main

import (
	"fmt"
	"strings"
)

// FailureKind classifies a recorded failure in a run.
type FailureKind string

const (
	KindFetchConnection   FailureKind = "fetch_connection_error"
	KindFetchParse        FailureKind = "fetch_parse_error"
	KindAnalysis          FailureKind = "analysis_error"
	KindAnalysisMalformed FailureKind = "analysis_malformed_response"
	KindNotifyFailed      FailureKind = "notify_failed"
	KindCalendarAuth      FailureKind = "calendar_auth_error"
	KindCalendarCreate    FailureKind = "calendar_create_error"
)

// Failure is one recorded failure entry. EmailID is empty for run-level
// failures (fetch connection, calendar auth).
type Failure struct {
	Stage   string
	EmailID string
	Kind    FailureKind
	Err     error
}

// RunReport is the externally visible result of one run. It is built
// incrementally by the orchestrator and finalized when the run ends.
type RunReport struct {
	EmailsProcessed        int
	NotificationsSent      int
	EventsCreated          int
	EventsSkippedDuplicate int
	Failures               []Failure
}

func (r *RunReport) recordFailure(stage, emailID string, kind FailureKind, err error) {
	r.Failures = append(r.Failures, Failure{Stage: stage, EmailID: emailID, Kind: kind, Err: err})
}

// Summary renders a short human-readable run summary.
func (r *RunReport) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "emails=%d notified=%d events_created=%d duplicates_skipped=%d failures=%d",
		r.EmailsProcessed, r.NotificationsSent, r.EventsCreated, r.EventsSkippedDuplicate, len(r.Failures))
	for _, f := range r.Failures {
		sb.WriteString("\n  ")
		sb.WriteString(string(f.Kind))
		if f.EmailID != "" {
			fmt.Fprintf(&sb, " email=%s", f.EmailID)
		}
		if f.Err != nil {
			fmt.Fprintf(&sb, ": %v", f.Err)
		}
	}
	return sb.String()
}
