package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botRequest struct {
	phone  string
	apiKey string
	text   string
}

// botServer fakes the CallMeBot GET API; failFirst requests fail with 503
// before it starts accepting.
func botServer(t *testing.T, failFirst int) (*httptest.Server, *[]botRequest) {
	t.Helper()
	reqs := new([]botRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(*reqs) < failFirst {
			*reqs = append(*reqs, botRequest{})
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		*reqs = append(*reqs, botRequest{
			phone:  q.Get("phone"),
			apiKey: q.Get("apikey"),
			text:   q.Get("text"),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func newTestNotifier(endpoint string, retries int, phones ...string) *WhatsAppNotifier {
	keys := make([]string, len(phones))
	for i := range keys {
		keys[i] = "key" + phones[i]
	}
	n := NewWhatsAppNotifier(whatsappConfig{Phones: phones, APIKeys: keys}, retries, testLogger())
	n.endpoint = endpoint
	return n
}

func TestNotifyDeliversToAllRecipients(t *testing.T) {
	srv, reqs := botServer(t, 0)
	n := newTestNotifier(srv.URL, 1, "+6511111111", "+6522222222")

	err := n.Notify(context.Background(), "School <admin@school.example>", "Sports Day", "sports day on monday", true)
	require.NoError(t, err)
	require.Len(t, *reqs, 2)
	assert.Equal(t, "+6511111111", (*reqs)[0].phone)
	assert.Equal(t, "key+6511111111", (*reqs)[0].apiKey)
	assert.Equal(t, "+6522222222", (*reqs)[1].phone)
	assert.Contains(t, (*reqs)[0].text, "Subject: Sports Day")
	assert.Contains(t, (*reqs)[0].text, "Gist: sports day on monday")
	assert.Contains(t, (*reqs)[0].text, "Calendar event detected")
}

func TestNotifyNoEventMarkerWithoutEvent(t *testing.T) {
	srv, reqs := botServer(t, 0)
	n := newTestNotifier(srv.URL, 1, "+6511111111")

	err := n.Notify(context.Background(), "s", "lunch menu", "menu for next week", false)
	require.NoError(t, err)
	require.Len(t, *reqs, 1)
	assert.NotContains(t, (*reqs)[0].text, "Calendar event detected")
}

func TestNotifyRetriesOnce(t *testing.T) {
	srv, reqs := botServer(t, 1)
	n := newTestNotifier(srv.URL, 1, "+6511111111")

	err := n.Notify(context.Background(), "s", "subj", "gist", false)
	require.NoError(t, err)
	assert.Len(t, *reqs, 2)
}

func TestNotifyFailsAfterRetry(t *testing.T) {
	srv, reqs := botServer(t, 2)
	n := newTestNotifier(srv.URL, 1, "+6511111111")

	err := n.Notify(context.Background(), "s", "subj", "gist", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+6511111111")
	assert.Len(t, *reqs, 2)
}

func TestNotifyOneRecipientFailingStillReachesOthers(t *testing.T) {
	// First recipient exhausts its retry, second succeeds.
	srv, reqs := botServer(t, 2)
	n := newTestNotifier(srv.URL, 1, "+6511111111", "+6522222222")

	err := n.Notify(context.Background(), "s", "subj", "gist", false)
	require.Error(t, err)
	require.Len(t, *reqs, 3)
	assert.Equal(t, "+6522222222", (*reqs)[2].phone)
}

func TestSplitMessageShortPassthrough(t *testing.T) {
	chunks := splitMessage("hello")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0])
}

func TestSplitMessageBreaksOnLines(t *testing.T) {
	line := strings.Repeat("x", 100) + "\n"
	text := strings.Repeat(line, 90) // ~9090 bytes

	chunks := splitMessage(text)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), whatsappMaxLen)
		if i < len(chunks)-1 {
			assert.True(t, strings.HasSuffix(c, "\n"), "chunk should end at a line boundary")
		}
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMessageNoNewlines(t *testing.T) {
	text := strings.Repeat("a", whatsappMaxLen+500)
	chunks := splitMessage(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestComposeMessageOrder(t *testing.T) {
	msg := composeMessage("Alice <a@x.example>", "Trip", "trip next friday", true)
	from := strings.Index(msg, "From:")
	subj := strings.Index(msg, "Subject:")
	gist := strings.Index(msg, "Gist:")
	marker := strings.Index(msg, "Calendar event detected")
	assert.True(t, from < subj && subj < gist && gist < marker)
}
