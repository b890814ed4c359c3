package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CallMeBot rejects messages past roughly this size; longer texts are split
// on line boundaries and sent as consecutive chunks.
const whatsappMaxLen = 4096

// WhatsAppNotifier sends notifications through the CallMeBot WhatsApp relay.
// Each configured phone/key pair receives every message.
type WhatsAppNotifier struct {
	endpoint string // overridable in tests
	phones   []string
	apiKeys  []string
	retries  int
	client   *http.Client
	log      *logrus.Entry
}

const callMeBotEndpoint = "https://api.callmebot.com/whatsapp.php"

func NewWhatsAppNotifier(cfg whatsappConfig, retries int, log *logrus.Logger) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		endpoint: callMeBotEndpoint,
		phones:   cfg.Phones,
		apiKeys:  cfg.APIKeys,
		retries:  retries,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log.WithField("component", "whatsapp"),
	}
}

// Notify composes and delivers the notification for one analyzed email.
// Delivery is retried once per recipient; an error means at least one
// recipient did not get the message after the retry.
func (n *WhatsAppNotifier) Notify(ctx context.Context, sender, subject, summary string, hasEvent bool) error {
	text := composeMessage(sender, subject, summary, hasEvent)

	var firstErr error
	for i, phone := range n.phones {
		if err := n.sendTo(ctx, phone, n.apiKeys[i], text); err != nil {
			n.log.WithField("phone", phone).WithError(err).Error("delivery failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("phone %s: %w", phone, err)
			}
		}
	}
	return firstErr
}

func (n *WhatsAppNotifier) sendTo(ctx context.Context, phone, apiKey, text string) error {
	for _, chunk := range splitMessage(text) {
		err := n.sendChunk(ctx, phone, apiKey, chunk)
		if err != nil && n.retries > 0 {
			n.log.WithField("phone", phone).WithError(err).Warn("send failed, retrying once")
			err = n.sendChunk(ctx, phone, apiKey, chunk)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sendChunk delivers a single message chunk via the CallMeBot GET API.
func (n *WhatsAppNotifier) sendChunk(ctx context.Context, phone, apiKey, text string) error {
	vals := url.Values{
		"phone":  {phone},
		"text":   {text},
		"apikey": {apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", n.endpoint+"?"+vals.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

// composeMessage renders the notification text: sender, subject, summary,
// and the event marker only when an event was detected.
func composeMessage(sender, subject, summary string, hasEvent bool) string {
	var sb strings.Builder
	sb.WriteString("Email Summary\n\n")
	fmt.Fprintf(&sb, "From: %s\n", sender)
	fmt.Fprintf(&sb, "Subject: %s\n\n", subject)
	fmt.Fprintf(&sb, "Gist: %s\n", summary)
	if hasEvent {
		sb.WriteString("\nCalendar event detected\n")
	}
	fmt.Fprintf(&sb, "\nTime: %s", time.Now().Format("2006-01-02 15:04:05"))
	return sb.String()
}

func splitMessage(text string) []string {
	if len(text) <= whatsappMaxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= whatsappMaxLen {
			chunks = append(chunks, text)
			break
		}

		// Find last newline before the limit
		cut := whatsappMaxLen
		for i := cut - 1; i > 0; i-- {
			if text[i] == '\n' {
				cut = i + 1 // include the newline in current chunk
				break
			}
		}

		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
