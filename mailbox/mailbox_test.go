package mailbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainMessage = "From: Teacher <teacher@school.example>\r\n" +
	"To: parent@home.example\r\n" +
	"Subject: Sports Day\r\n" +
	"Date: Mon, 14 Sep 2026 09:00:00 +0800\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Sports day is on Monday.\r\n"

const multipartMessage = "From: admin@school.example\r\n" +
	"Subject: Excursion\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Plain body wins.\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>HTML body loses.</p>\r\n" +
	"--BOUNDARY--\r\n"

const htmlOnlyMessage = "From: admin@school.example\r\n" +
	"Subject: Newsletter\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Welcome <b>back</b> to school.</p>\r\n" +
	"--BOUNDARY--\r\n"

const inviteMessage = "From: admin@school.example\r\n" +
	"Subject: Parent evening\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please see the attached invite.\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/calendar; method=REQUEST; charset=utf-8\r\n" +
	"Content-Disposition: attachment; filename=invite.ics\r\n" +
	"\r\n" +
	"BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:Parent evening\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n" +
	"--BOUNDARY--\r\n"

func TestExtractContentPlain(t *testing.T) {
	body, invites, err := extractContent([]byte(plainMessage))
	require.NoError(t, err)
	assert.Equal(t, "Sports day is on Monday.", body)
	assert.Empty(t, invites)
}

func TestExtractContentPrefersPlainOverHTML(t *testing.T) {
	body, _, err := extractContent([]byte(multipartMessage))
	require.NoError(t, err)
	assert.Equal(t, "Plain body wins.", body)
}

func TestExtractContentConvertsHTML(t *testing.T) {
	body, _, err := extractContent([]byte(htmlOnlyMessage))
	require.NoError(t, err)
	assert.Contains(t, body, "Welcome")
	assert.NotContains(t, body, "<p>")
}

func TestExtractContentCollectsInvites(t *testing.T) {
	body, invites, err := extractContent([]byte(inviteMessage))
	require.NoError(t, err)
	assert.Equal(t, "Please see the attached invite.", body)
	require.Len(t, invites, 1)
	assert.Contains(t, string(invites[0]), "BEGIN:VCALENDAR")
}

func TestExtractContentRawFallback(t *testing.T) {
	msg := "X-Broken: yes\r\n\r\njust some text after headers"
	body, _, err := extractContent([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "just some text after headers", body)
}

func TestExtractContentNoContent(t *testing.T) {
	_, _, err := extractContent([]byte("X-Broken: yes\r\n\r\n"))
	assert.Error(t, err)
}

func TestMatchesDomain(t *testing.T) {
	assert.True(t, MatchesDomain("teacher@school.example", "@school.example"))
	assert.True(t, MatchesDomain("teacher@School.Example", "school.example"))
	assert.False(t, MatchesDomain("teacher@evil-school.example", "@school.example"))
	assert.False(t, MatchesDomain("teacher@sub.school.example", "@school.example"))
	assert.False(t, MatchesDomain("no-at-sign", "@school.example"))
	assert.False(t, MatchesDomain("teacher@school.example", ""))
}

func TestDecodeHeader(t *testing.T) {
	assert.Equal(t, "Grundschule Süd", decodeHeader("=?utf-8?q?Grundschule_S=C3=BCd?="))
	assert.Equal(t, "plain subject", decodeHeader("plain subject"))
}

func TestRawBody(t *testing.T) {
	assert.Equal(t, "body", rawBody([]byte("H: v\r\n\r\nbody")))
	assert.Equal(t, "body", rawBody([]byte("H: v\n\nbody")))
	assert.Equal(t, "", rawBody([]byte("no separator at all")))
	assert.Equal(t, "", strings.TrimSpace(rawBody([]byte("H: v\r\n\r\n  \r\n"))))
}
