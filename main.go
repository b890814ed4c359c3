package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"mailagent/calendar"
	"mailagent/mailbox"
)

func main() {
	quiet := flag.Bool("quiet", false, "suppress all non-error output (for cron)")
	configPath := flag.String("config", "config.json", "path to config file")
	promptsDir := flag.String("prompts-dir", "", "load prompts from directory (missing files use defaults)")
	exportDefaultPrompts := flag.String("export-default-prompts", "", "export default prompts to directory and exit")
	flag.Parse()

	if *exportDefaultPrompts != "" {
		if err := exportPrompts(*exportDefaultPrompts); err != nil {
			fmt.Fprintf(os.Stderr, "export prompts error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Prompts exported to %s\n", *exportDefaultPrompts)
		return
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *quiet {
		log.SetLevel(logrus.ErrorLevel)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("config error")
	}

	var prompts Prompts
	if *promptsDir != "" {
		prompts, err = loadPrompts(*promptsDir)
		if err != nil {
			log.WithError(err).Fatal("load prompts error")
		}
	} else {
		prompts = defaultPrompts()
	}

	loc, err := cfg.Events.location()
	if err != nil {
		log.WithError(err).Fatalf("unknown timezone %q", cfg.Events.Timezone)
	}

	var allowlist *mailbox.Contacts
	if cfg.Filter.ContactsFile != "" {
		allowlist, err = mailbox.LoadContacts(cfg.Filter.ContactsFile)
		if err != nil {
			log.WithError(err).Fatal("load contacts error")
		}
		log.WithField("contacts", allowlist.Len()).Info("sender allowlist loaded")
	}

	fetcher := mailbox.NewFetcher(mailbox.Config{
		Server:   cfg.IMAP.Server,
		Username: cfg.IMAP.Username,
		Password: cfg.IMAP.Password,
		Mailbox:  cfg.IMAP.Mailbox,
	}, log)

	analyzer := NewAnalyzer(cfg.LLM, prompts.Analysis, cfg.Retries, loc, log)
	notifier := NewWhatsAppNotifier(cfg.WhatsApp, cfg.Retries, log)

	ctx := context.Background()

	// Calendar setup failure does not stop the run: notifications still go
	// out, and the report carries a single calendar failure entry.
	hour, minute, _ := parseClock(cfg.Events.DefaultStart)
	var events eventWriter
	var eventsErr error
	if cfg.CalDAV.URL != "" {
		store, err := calendar.NewCalDAVStore(ctx, calendar.CalDAVConfig{
			URL:      cfg.CalDAV.URL,
			Username: cfg.CalDAV.Username,
			Password: cfg.CalDAV.Password,
			Calendar: cfg.CalDAV.Calendar,
		}, loc, log)
		if err != nil {
			log.WithError(err).Warn("calendar unavailable, continuing without event creation")
			eventsErr = err
		} else {
			events = calendar.NewWriter(store, calendar.Options{
				Location:           loc,
				DefaultStartHour:   hour,
				DefaultStartMinute: minute,
				DefaultDuration:    time.Duration(cfg.Events.DefaultDuration) * time.Minute,
				Tolerance:          time.Duration(cfg.Events.ToleranceMinutes) * time.Minute,
			}, log)
		}
	} else {
		eventsErr = fmt.Errorf("caldav url not configured")
	}

	pipeline := NewPipeline(fetcher, analyzer, notifier, events, mailbox.FetchOptions{
		MaxAge:       time.Duration(cfg.Filter.SinceHours * float64(time.Hour)),
		SenderDomain: cfg.Filter.SenderDomain,
		Allowlist:    allowlist,
		Limit:        cfg.Filter.MaxEmails,
	}, loc, log)
	pipeline.eventsErr = eventsErr

	report := pipeline.Run(ctx)
	if !*quiet {
		fmt.Println(report.Summary())
	}

	for _, f := range report.Failures {
		if f.Kind == KindFetchConnection {
			os.Exit(1)
		}
	}
}
