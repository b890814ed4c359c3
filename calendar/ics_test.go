package calendar

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timedInvite(start time.Time) []byte {
	s := fmt.Sprintf(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:abc-123
DTSTAMP:20260301T000000Z
DTSTART:%s
DTEND:%s
SUMMARY:Parent-teacher conference
LOCATION:Room 4B
END:VEVENT
END:VCALENDAR`,
		start.UTC().Format("20060102T150405Z"),
		start.Add(time.Hour).UTC().Format("20060102T150405Z"))
	return []byte(s)
}

func dateOnlyInvite(day time.Time) []byte {
	s := fmt.Sprintf(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:def-456
DTSTAMP:20260301T000000Z
DTSTART;VALUE=DATE:%s
DTEND;VALUE=DATE:%s
SUMMARY:School holiday
END:VEVENT
END:VCALENDAR`,
		day.Format("20060102"),
		day.AddDate(0, 0, 1).Format("20060102"))
	return []byte(s)
}

func TestParseInvitesTimed(t *testing.T) {
	loc := sgt(t)
	start := time.Now().AddDate(0, 0, 30).Truncate(time.Hour)
	events := ParseInvites([][]byte{timedInvite(start)}, loc)

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "Parent-teacher conference", ev.Title)
	assert.Equal(t, "Room 4B", ev.Location)
	assert.False(t, ev.AllDay)
	assert.True(t, ev.Start.Equal(start))
	assert.True(t, ev.End.Equal(start.Add(time.Hour)))
	assert.Equal(t, loc, ev.Start.Location())
}

func TestParseInvitesDateOnly(t *testing.T) {
	loc := sgt(t)
	day := time.Now().AddDate(0, 0, 60)
	events := ParseInvites([][]byte{dateOnlyInvite(day)}, loc)

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "School holiday", ev.Title)
	assert.True(t, ev.AllDay)
	y, m, d := day.Date()
	assert.True(t, ev.Start.Equal(time.Date(y, m, d, 0, 0, 0, 0, loc)))
	assert.True(t, ev.End.IsZero())
}

func TestParseInvitesMalformedSkipped(t *testing.T) {
	loc := sgt(t)
	start := time.Now().AddDate(0, 0, 30).Truncate(time.Hour)
	events := ParseInvites([][]byte{
		[]byte("not an ics payload"),
		timedInvite(start),
	}, loc)

	require.Len(t, events, 1)
	assert.Equal(t, "Parent-teacher conference", events[0].Title)
}

func TestParseInvitesEmpty(t *testing.T) {
	assert.Empty(t, ParseInvites(nil, time.UTC))
}
