package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type imapConfig struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	Mailbox  string `json:"mailbox"` // default INBOX
}

type llmConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
}

type whatsappConfig struct {
	Phones  []string `json:"phones"`
	APIKeys []string `json:"api_keys"`
}

type caldavConfig struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Calendar string `json:"calendar"` // calendar display name; empty = first found
}

type filterConfig struct {
	SenderDomain string  `json:"sender_domain"` // e.g. "@example.com", empty = all senders
	ContactsFile string  `json:"contacts_file"` // vCard allowlist, empty = disabled
	MaxEmails    int     `json:"max_emails"`
	SinceHours   float64 `json:"since_hours"`
}

type eventConfig struct {
	Timezone         string `json:"timezone"`
	DefaultStart     string `json:"default_start"` // "HH:MM"
	DefaultDuration  int    `json:"default_duration_minutes"`
	ToleranceMinutes int    `json:"tolerance_minutes"`
}

type appConfig struct {
	IMAP     imapConfig     `json:"imap"`
	LLM      llmConfig      `json:"llm"`
	WhatsApp whatsappConfig `json:"whatsapp"`
	CalDAV   caldavConfig   `json:"caldav"`
	Filter   filterConfig   `json:"filter"`
	Events   eventConfig    `json:"events"`
	Retries  int            `json:"retries"`
}

// loadConfig reads the JSON config file, expands ${VAR} references in it,
// applies defaults and validates required fields.
func loadConfig(path string) (*appConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg appConfig
	if err := json.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if cfg.IMAP.Server == "" || cfg.IMAP.Username == "" || cfg.IMAP.Password == "" {
		return nil, fmt.Errorf("config: imap server/username/password are required")
	}
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}
	if cfg.LLM.BaseURL == "" || cfg.LLM.Model == "" {
		return nil, fmt.Errorf("config: llm base_url and model are required")
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 500
	}
	if len(cfg.WhatsApp.Phones) == 0 {
		return nil, fmt.Errorf("config: at least one whatsapp phone is required")
	}
	if len(cfg.WhatsApp.APIKeys) != len(cfg.WhatsApp.Phones) {
		return nil, fmt.Errorf("config: whatsapp api_keys must pair with phones (%d vs %d)",
			len(cfg.WhatsApp.APIKeys), len(cfg.WhatsApp.Phones))
	}

	if cfg.Filter.MaxEmails <= 0 {
		cfg.Filter.MaxEmails = 10
	}
	if cfg.Filter.SinceHours <= 0 {
		cfg.Filter.SinceHours = 24
	}

	if cfg.Events.Timezone == "" {
		cfg.Events.Timezone = "Local"
	}
	if cfg.Events.DefaultStart == "" {
		cfg.Events.DefaultStart = "07:00"
	}
	if _, _, err := parseClock(cfg.Events.DefaultStart); err != nil {
		return nil, fmt.Errorf("config: events.default_start: %w", err)
	}
	if cfg.Events.DefaultDuration <= 0 {
		cfg.Events.DefaultDuration = 60
	}
	if cfg.Events.ToleranceMinutes < 0 {
		cfg.Events.ToleranceMinutes = 0
	}

	// Transient failures get one retry. Omitted means enabled; a negative
	// value disables retries; more than one is never done.
	switch {
	case cfg.Retries < 0:
		cfg.Retries = 0
	case cfg.Retries == 0 || cfg.Retries > 1:
		cfg.Retries = 1
	}

	return &cfg, nil
}

// parseClock parses a "HH:MM" time-of-day string.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour, minute, nil
}

func (c *eventConfig) location() (*time.Location, error) {
	if c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
