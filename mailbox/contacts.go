package mailbox

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-vcard"
)

// Contacts is a sender allowlist loaded from a vCard file. When configured,
// only messages from an address listed in some card's EMAIL fields pass the
// fetch filter.
type Contacts struct {
	addrs map[string]bool
}

// LoadContacts reads all cards from a .vcf file and collects their email
// addresses (lowercased).
func LoadContacts(path string) (*Contacts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := &Contacts{addrs: make(map[string]bool)}
	dec := vcard.NewDecoder(f)
	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		for _, addr := range card.Values(vcard.FieldEmail) {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr != "" {
				c.addrs[addr] = true
			}
		}
	}
	if len(c.addrs) == 0 {
		return nil, fmt.Errorf("%s: no email addresses found", path)
	}
	return c, nil
}

// Has reports whether addr is in the allowlist.
func (c *Contacts) Has(addr string) bool {
	return c.addrs[strings.ToLower(addr)]
}

// Len returns the number of distinct allowed addresses.
func (c *Contacts) Len() int { return len(c.addrs) }
