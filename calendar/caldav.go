package calendar

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CalDAVConfig holds CalDAV provider settings.
type CalDAVConfig struct {
	URL      string
	Username string
	Password string
	Calendar string // display name; empty = first calendar found
}

// CalDAVStore implements Store against a CalDAV server.
type CalDAVStore struct {
	client  *caldav.Client
	calPath string
	loc     *time.Location
	log     *logrus.Entry
}

// authCheckClient turns 401/403 responses into *AuthError so callers can
// distinguish auth failures from ordinary request errors.
type authCheckClient struct {
	inner webdav.HTTPClient
}

func (c authCheckClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.inner.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &AuthError{Err: fmt.Errorf("%s %s: HTTP %d", req.Method, req.URL.Path, resp.StatusCode)}
	}
	return resp, nil
}

// NewCalDAVStore connects to the server, discovers the calendar home set and
// resolves the target calendar path.
func NewCalDAVStore(ctx context.Context, cfg CalDAVConfig, loc *time.Location, log *logrus.Logger) (*CalDAVStore, error) {
	httpClient := authCheckClient{
		inner: webdav.HTTPClientWithBasicAuth(nil, cfg.Username, cfg.Password),
	}
	client, err := caldav.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home set: %w", err)
	}
	calendars, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}
	if len(calendars) == 0 {
		return nil, fmt.Errorf("no calendars at %s", cfg.URL)
	}

	calPath := calendars[0].Path
	if cfg.Calendar != "" {
		calPath = ""
		for _, c := range calendars {
			if strings.EqualFold(c.Name, cfg.Calendar) {
				calPath = c.Path
				break
			}
		}
		if calPath == "" {
			return nil, fmt.Errorf("calendar %q not found at %s", cfg.Calendar, cfg.URL)
		}
	}

	return &CalDAVStore{
		client:  client,
		calPath: calPath,
		loc:     loc,
		log:     log.WithField("component", "caldav"),
	}, nil
}

// ListEvents queries VEVENTs intersecting [start, end].
func (s *CalDAVStore) ListEvents(ctx context.Context, start, end time.Time) ([]Existing, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:  ical.CompEvent,
				Props: []string{ical.PropSummary, ical.PropDateTimeStart, ical.PropDateTimeEnd, ical.PropUID},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objs, err := s.client.QueryCalendar(ctx, s.calPath, query)
	if err != nil {
		return nil, err
	}

	var out []Existing
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			title, err := ev.Props.Text(ical.PropSummary)
			if err != nil || title == "" {
				continue
			}
			st, err := ev.DateTimeStart(s.loc)
			if err != nil {
				continue
			}
			en, err := ev.DateTimeEnd(s.loc)
			if err != nil {
				en = time.Time{}
			}
			out = append(out, Existing{Title: title, Start: st, End: en})
		}
	}
	s.log.WithField("count", len(out)).Debug("existing events in window")
	return out, nil
}

// CreateEvent uploads a new VEVENT with a fixed reminder block: a display
// alarm 10 minutes before and an email alarm a day before.
func (s *CalDAVStore) CreateEvent(ctx context.Context, ev Event, description string) error {
	uid := uuid.NewString()

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetText(ical.PropSummary, ev.Title)
	event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End)
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}
	if description != "" {
		event.Props.SetText(ical.PropDescription, description)
	}
	event.Children = append(event.Children,
		newAlarm("DISPLAY", "-PT10M", ev.Title),
		newAlarm("EMAIL", "-P1D", ev.Title),
	)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//mailagent//EN")
	cal.Children = append(cal.Children, event.Component)

	objPath := strings.TrimSuffix(s.calPath, "/") + "/" + uid + ".ics"
	if _, err := s.client.PutCalendarObject(ctx, objPath, cal); err != nil {
		return err
	}
	return nil
}

func newAlarm(action, trigger, summary string) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, action)
	triggerProp := ical.NewProp(ical.PropTrigger)
	triggerProp.Value = trigger
	alarm.Props.Set(triggerProp)
	alarm.Props.SetText(ical.PropDescription, summary)
	return alarm
}
