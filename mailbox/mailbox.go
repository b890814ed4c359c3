// Package mailbox fetches recent messages from an IMAP mailbox and
// normalizes them into EmailRecord values for the rest of the pipeline.
package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"sort"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"
)

// Config holds IMAP connection settings.
type Config struct {
	Server   string // host:port, TLS
	Username string
	Password string
	Mailbox  string // default INBOX
}

// EmailRecord is one normalized fetched email. Immutable once fetched.
type EmailRecord struct {
	ID         string // IMAP UID, unique within a run
	Sender     string // display form, "Name <addr>"
	SenderAddr string // bare lowercased address
	Subject    string
	ReceivedAt time.Time
	Body       string   // plain text (HTML converted to markdown)
	Invites    [][]byte // raw text/calendar MIME parts, if any
}

// ParseFailure records a message that was skipped because its content
// could not be parsed. Non-fatal to the run.
type ParseFailure struct {
	ID  string
	Err error
}

// FetchOptions controls one FetchRecent call.
type FetchOptions struct {
	MaxAge       time.Duration
	SenderDomain string    // "@example.com"; empty = all senders
	Allowlist    *Contacts // nil = disabled
	Limit        int
}

// ConnectionError marks connection-level failures (dial, auth, select).
// These are fatal for the whole run.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "mailbox connection: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Fetcher lists and parses recent mailbox messages.
type Fetcher struct {
	cfg Config
	log *logrus.Entry
}

func NewFetcher(cfg Config, log *logrus.Logger) *Fetcher {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &Fetcher{cfg: cfg, log: log.WithField("component", "mailbox")}
}

func (f *Fetcher) dial() (*imapclient.Client, error) {
	c, err := imapclient.DialTLS(f.cfg.Server, nil)
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("connect to %s: %w", f.cfg.Server, err)}
	}
	if err := c.Login(f.cfg.Username, f.cfg.Password).Wait(); err != nil {
		c.Close()
		return nil, &ConnectionError{Err: fmt.Errorf("login as %s: %w", f.cfg.Username, err)}
	}
	return c, nil
}

// FetchRecent returns recent messages newest first, capped at opts.Limit.
// Messages whose content cannot be parsed are skipped and reported in the
// second return value. Connection-level failures return a *ConnectionError.
func (f *Fetcher) FetchRecent(opts FetchOptions) ([]EmailRecord, []ParseFailure, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	c, err := f.dial()
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	if _, err := c.Select(f.cfg.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, nil, &ConnectionError{Err: fmt.Errorf("select %s: %w", f.cfg.Mailbox, err)}
	}

	criteria := &imap.SearchCriteria{}
	var cutoff time.Time
	if opts.MaxAge > 0 {
		cutoff = time.Now().Add(-opts.MaxAge)
		// IMAP SINCE is day-granular; exact cutoff is applied client-side below.
		criteria.Since = time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, cutoff.Location())
	}
	if opts.SenderDomain != "" {
		criteria.Header = append(criteria.Header,
			imap.SearchCriteriaHeaderField{Key: "From", Value: opts.SenderDomain})
	}

	searchData, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, nil, &ConnectionError{Err: fmt.Errorf("search: %w", err)}
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil, nil
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)
	msgs, err := c.Fetch(uidSet, &imap.FetchOptions{Envelope: true, UID: true}).Collect()
	if err != nil {
		return nil, nil, &ConnectionError{Err: fmt.Errorf("fetch envelopes: %w", err)}
	}

	// Client-side filters on decoded envelope values.
	filtered := msgs[:0]
	for _, m := range msgs {
		if m.Envelope == nil || len(m.Envelope.From) == 0 {
			continue
		}
		if opts.MaxAge > 0 && m.Envelope.Date.Before(cutoff) {
			continue
		}
		addr := envelopeAddr(m.Envelope.From[0])
		if opts.SenderDomain != "" && !MatchesDomain(addr, opts.SenderDomain) {
			continue
		}
		if opts.Allowlist != nil && !opts.Allowlist.Has(addr) {
			continue
		}
		filtered = append(filtered, m)
	}
	msgs = filtered

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Envelope.Date.After(msgs[j].Envelope.Date)
	})
	if len(msgs) > opts.Limit {
		msgs = msgs[:opts.Limit]
	}

	f.log.WithField("count", len(msgs)).Debug("messages matched")

	var records []EmailRecord
	var skipped []ParseFailure
	for _, m := range msgs {
		id := strconv.FormatUint(uint64(m.UID), 10)
		rec, err := f.fetchOne(c, m, id)
		if err != nil {
			f.log.WithField("uid", id).WithError(err).Warn("skipping unparseable message")
			skipped = append(skipped, ParseFailure{ID: id, Err: err})
			continue
		}
		records = append(records, *rec)
	}
	return records, skipped, nil
}

// fetchOne fetches and parses the body of a single message. Envelope data
// is already known; only the body section is fetched (with Peek so the
// message stays unread).
func (f *Fetcher) fetchOne(c *imapclient.Client, env *imapclient.FetchMessageBuffer, id string) (*EmailRecord, error) {
	rec := &EmailRecord{
		ID:         id,
		Sender:     fmtImapAddrs(env.Envelope.From),
		SenderAddr: envelopeAddr(env.Envelope.From[0]),
		Subject:    decodeHeader(env.Envelope.Subject),
		ReceivedAt: env.Envelope.Date,
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	var uidSet imap.UIDSet
	uidSet.AddNum(env.UID)

	fetchCmd := c.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msgData := fetchCmd.Next()
	if msgData == nil {
		return nil, fmt.Errorf("message UID %s not found", id)
	}

	var raw []byte
	for {
		item := msgData.Next()
		if item == nil {
			break
		}
		body, ok := item.(imapclient.FetchItemDataBodySection)
		if !ok {
			continue
		}
		b, err := io.ReadAll(body.Literal)
		if err == nil && len(b) > 0 {
			raw = b
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty message body")
	}

	body, invites, err := extractContent(raw)
	if err != nil {
		return nil, err
	}
	rec.Body = body
	rec.Invites = invites
	return rec, nil
}

// extractContent parses a raw RFC 822 message and returns the plain-text
// body plus any raw text/calendar parts. An error means the message has no
// usable text content.
func extractContent(raw []byte) (string, [][]byte, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unstructured message: fall back to everything after the headers.
		if body := rawBody(raw); body != "" {
			return body, nil, nil
		}
		return "", nil, fmt.Errorf("parse message: %w", err)
	}

	var plainText, htmlText string
	var invites [][]byte
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		ct := partContentType(p.Header)
		b, readErr := io.ReadAll(p.Body)
		if readErr != nil {
			continue
		}
		switch ct {
		case "text/calendar", "application/ics":
			invites = append(invites, b)
		case "text/html":
			if _, inline := p.Header.(*mail.InlineHeader); inline {
				htmlText = string(b)
			}
		case "text/plain":
			if _, inline := p.Header.(*mail.InlineHeader); inline && plainText == "" {
				plainText = string(b)
			}
		}
	}

	body := plainText
	if body == "" && htmlText != "" {
		if md, err := htmltomarkdown.ConvertString(htmlText); err == nil {
			body = strings.TrimSpace(md)
		} else {
			body = strings.TrimSpace(htmlText)
		}
	}
	if body == "" {
		body = rawBody(raw)
	}
	if body == "" && len(invites) == 0 {
		return "", nil, fmt.Errorf("no text content")
	}
	return strings.TrimSpace(body), invites, nil
}

func partContentType(h mail.PartHeader) string {
	ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
	return ct
}

func rawBody(raw []byte) string {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return strings.TrimSpace(string(raw[idx+4:]))
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return strings.TrimSpace(string(raw[idx+2:]))
	}
	return ""
}

// MatchesDomain reports whether addr belongs to the filter domain
// (case-insensitive host equality; the filter may carry a leading "@").
func MatchesDomain(addr, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "@"))
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || domain == "" {
		return false
	}
	return strings.ToLower(addr[at+1:]) == domain
}

func envelopeAddr(a imap.Address) string {
	return strings.ToLower(fmt.Sprintf("%s@%s", a.Mailbox, a.Host))
}

func fmtImapAddrs(addrs []imap.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		name := decodeHeader(a.Name)
		email := fmt.Sprintf("%s@%s", a.Mailbox, a.Host)
		if name != "" {
			parts[i] = fmt.Sprintf("%s <%s>", name, email)
		} else {
			parts[i] = email
		}
	}
	return strings.Join(parts, ", ")
}

// decodeHeader decodes RFC 2047 encoded-words (=?charset?encoding?text?=).
var mimeWordDecoder = &mime.WordDecoder{}

func decodeHeader(s string) string {
	decoded, err := mimeWordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
