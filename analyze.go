package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"mailagent/calendar"
	"mailagent/mailbox"
)

// AnalysisResult is the analyzer's verdict on one email. 1:1 with the
// EmailRecord it was produced from.
type AnalysisResult struct {
	EmailID  string
	Summary  string
	HasEvent bool
	Events   []calendar.Event
}

// MalformedResponseError means the model returned output that does not
// conform to the required JSON shape. Not retried.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed analysis response: " + e.Reason
}

// chat-completions wire types, OpenAI format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// analysisResponse is the fixed JSON shape the prompt demands from the
// model. HasEvent is a pointer so a missing field is distinguishable from
// false.
type analysisResponse struct {
	Summary  string          `json:"summary"`
	HasEvent *bool           `json:"has_event"`
	Events   []analysisEvent `json:"events"`
}

type analysisEvent struct {
	Title    string `json:"title"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location"`
}

// Analyzer sends one email at a time to a chat-completions endpoint and
// validates the structured response.
type Analyzer struct {
	cfg     llmConfig
	prompt  string
	retries int
	loc     *time.Location
	client  *http.Client
	log     *logrus.Entry
}

func NewAnalyzer(cfg llmConfig, prompt string, retries int, loc *time.Location, log *logrus.Logger) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		prompt:  prompt,
		retries: retries,
		loc:     loc,
		client:  &http.Client{Timeout: 2 * time.Minute},
		log:     log.WithField("component", "analyzer"),
	}
}

// statusError carries an HTTP status for transient-or-not classification.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string { return fmt.Sprintf("API error %d: %s", e.code, e.body) }

// transient reports whether err is worth the single retry: timeouts,
// connection errors, and 408/429/5xx responses.
func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusRequestTimeout ||
			se.code == http.StatusTooManyRequests ||
			se.code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// Analyze returns exactly one AnalysisResult for rec, or an error. Transient
// provider errors get one retry with no structural changes; malformed
// responses fail immediately.
func (a *Analyzer) Analyze(ctx context.Context, rec mailbox.EmailRecord) (*AnalysisResult, error) {
	content := fmt.Sprintf("Email Subject: %s\nFrom: %s\nDate: %s\n\n%s",
		rec.Subject, rec.Sender, rec.ReceivedAt.Format(time.RFC3339), rec.Body)
	content = truncateContent(content, 60000)

	raw, err := a.complete(ctx, content)
	if err != nil && transient(err) && a.retries > 0 {
		a.log.WithField("email", rec.ID).WithError(err).Warn("transient provider error, retrying once")
		raw, err = a.complete(ctx, content)
	}
	if err != nil {
		return nil, err
	}

	parsed, err := parseAnalysis(raw)
	if err != nil {
		return nil, err
	}

	result := &AnalysisResult{
		EmailID:  rec.ID,
		Summary:  parsed.Summary,
		HasEvent: *parsed.HasEvent,
	}
	for _, e := range parsed.Events {
		ev, err := a.toEvent(e)
		if err != nil {
			return nil, &MalformedResponseError{Reason: err.Error()}
		}
		result.Events = append(result.Events, ev)
	}
	return result, nil
}

// complete makes one chat-completions call and returns the raw content.
func (a *Analyzer) complete(ctx context.Context, content string) (string, error) {
	reqBody := chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: a.prompt},
			{Role: "user", Content: content},
		},
		Temperature:    0.3,
		MaxTokens:      a.cfg.MaxTokens,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimSuffix(a.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", &statusError{code: resp.StatusCode, body: string(b)}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode error: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", &statusError{code: http.StatusBadGateway, body: "empty response from model"}
	}
	return result.Choices[0].Message.Content, nil
}

// parseAnalysis validates the model output against the required shape.
// No partial or best-effort parsing.
func parseAnalysis(raw string) (*analysisResponse, error) {
	// Models wrap JSON in prose or fences now and then; take the outermost
	// object, nothing looser.
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, &MalformedResponseError{Reason: "no JSON object in response"}
	}

	var parsed analysisResponse
	dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
	if err := dec.Decode(&parsed); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error()}
	}
	if parsed.HasEvent == nil {
		return nil, &MalformedResponseError{Reason: "missing has_event"}
	}
	if parsed.Summary == "" {
		return nil, &MalformedResponseError{Reason: "missing summary"}
	}
	if *parsed.HasEvent && len(parsed.Events) == 0 {
		return nil, &MalformedResponseError{Reason: "has_event true but events empty"}
	}
	return &parsed, nil
}

// toEvent converts a wire event to a descriptor, parsing its timestamps in
// the configured timezone.
func (a *Analyzer) toEvent(e analysisEvent) (calendar.Event, error) {
	if e.Title == "" {
		return calendar.Event{}, fmt.Errorf("event missing title")
	}
	start, allDay, err := parseEventTime(e.Start, a.loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("event %q: bad start: %w", e.Title, err)
	}
	ev := calendar.Event{Title: e.Title, Start: start, AllDay: allDay, Location: e.Location}
	if e.End != "" {
		end, endAllDay, err := parseEventTime(e.End, a.loc)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("event %q: bad end: %w", e.Title, err)
		}
		if !endAllDay {
			ev.End = end
		}
	}
	return ev, nil
}

// truncateContent cuts s at a rune boundary at or below max bytes, so the
// provider never receives a split multi-byte character.
func truncateContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[...truncated]"
}

var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseEventTime parses a model-provided timestamp. A bare date means
// "date-only"; the caller applies the default time window.
func parseEventTime(s string, loc *time.Location) (t time.Time, allDay bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("empty")
	}
	if t, err = time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, true, nil
	}
	for _, layout := range eventTimeLayouts {
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized time %q", s)
}
