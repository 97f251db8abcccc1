// Package app is the composition root: it turns configuration into a
// wired email channel and exposes it as a command-line tool.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nhle/secondbrain/internal/capture"
	"github.com/nhle/secondbrain/internal/classify"
	"github.com/nhle/secondbrain/internal/correlation"
	"github.com/nhle/secondbrain/internal/digest"
	"github.com/nhle/secondbrain/internal/mailbox"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/normalize"
	"github.com/nhle/secondbrain/internal/outbound"
	"github.com/nhle/secondbrain/internal/reply"
	"github.com/nhle/secondbrain/internal/store"
	appsync "github.com/nhle/secondbrain/internal/sync"
)

// Options overrides parts of the wiring. Zero values mean "build from
// configuration".
type Options struct {
	// Store replaces the database named in the config. The channel
	// does not close a store it did not open.
	Store *store.SQLStore

	Mailbox mailbox.Mailbox

	// Transport and From replace the configured SMTP or SES transport.
	Transport outbound.Transport
	From      string

	Scheduler appsync.Scheduler
	Logger    *slog.Logger
}

// Channel holds every component of the running email channel.
type Channel struct {
	Config     *model.AppConfig
	Store      *store.SQLStore
	Sender     *outbound.Sender
	Composer   *reply.Composer
	Dispatcher *digest.Dispatcher
	Tracker    *correlation.Tracker
	Capture    *capture.Processor
	Poller     *appsync.Poller
	Logger     *slog.Logger

	ownsStore bool
}

// Build wires the channel described by cfg. Missing credentials never
// fail the build; they leave the affected side unconfigured.
func Build(ctx context.Context, cfg *model.AppConfig, opts Options) (*Channel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &Channel{Config: cfg, Logger: logger}

	ch.Store = opts.Store
	if ch.Store == nil {
		if err := ensureDatabaseDir(cfg.Database); err != nil {
			return nil, err
		}
		s, err := store.Open(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		ch.Store = s
		ch.ownsStore = true
	}

	transport, from := opts.Transport, opts.From
	if transport == nil {
		var err error
		transport, from, err = newTransport(ctx, cfg, logger)
		if err != nil {
			ch.Close()
			return nil, err
		}
	}
	if transport == nil {
		logger.Warn("no outbound transport configured; replies and digests are disabled")
	}

	ch.Sender = outbound.NewSender(transport, from, logger.With("component", "outbound"))
	ch.Composer = reply.NewComposer(ch.Sender, channelDomain(cfg))
	ch.Dispatcher = digest.NewDispatcher(ch.Sender)
	ch.Tracker = correlation.NewTracker(ch.Store)
	ch.Capture = capture.New(ch.Store, ch.Tracker, ch.Composer, newClassifier(cfg), logger.With("component", "capture"))

	box := opts.Mailbox
	if box == nil {
		box = newIMAPClient(cfg, logger)
	}

	ch.Poller = appsync.New(appsync.Config{
		Mailbox:     box,
		Normalizer:  normalize.New(),
		Tenants:     ch.Store,
		Duplicates:  ch.Tracker,
		Replier:     ch.Composer,
		Process:     ch.Capture.Process,
		Scheduler:   opts.Scheduler,
		Logger:      logger,
		Interval:    cfg.Email.PollInterval(),
		SelfAddress: from,
	})

	return ch, nil
}

// Close stops the poller and releases the store.
func (c *Channel) Close() error {
	if c.Poller != nil {
		c.Poller.Stop()
	}
	if c.ownsStore && c.Store != nil {
		return c.Store.Close()
	}
	return nil
}

func ensureDatabaseDir(db model.DatabaseConfig) error {
	if db.Driver != "" && db.Driver != store.DriverSQLite {
		return nil
	}
	if db.URL == "" || db.URL == ":memory:" || strings.HasPrefix(db.URL, "file:") {
		return nil
	}
	dir := filepath.Dir(db.URL)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}

func newTransport(ctx context.Context, cfg *model.AppConfig, logger *slog.Logger) (outbound.Transport, string, error) {
	if strings.EqualFold(cfg.Outbound.Provider, "ses") {
		if !cfg.SESConfigured() {
			return nil, "", nil
		}
		t, err := outbound.NewSESTransport(ctx, outbound.SESConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		}, logger.With("component", "ses"))
		if err != nil {
			return nil, "", err
		}
		return t, cfg.SES.Sender, nil
	}

	if !cfg.SMTPConfigured() {
		return nil, "", nil
	}
	return newSMTPTransport(cfg), cfg.SMTP.FromAddress(), nil
}

func newSMTPTransport(cfg *model.AppConfig) *outbound.SMTPTransport {
	return outbound.NewSMTPTransport(outbound.SMTPConfig{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		Username:           cfg.SMTP.User,
		Password:           cfg.SMTP.Password,
		ImplicitTLS:        cfg.SMTP.ImplicitTLS(),
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
	})
}

func newIMAPClient(cfg *model.AppConfig, logger *slog.Logger) *mailbox.IMAPClient {
	return mailbox.NewIMAPClient(mailbox.IMAPConfig{
		Host:               cfg.IMAP.Host,
		Port:               cfg.IMAP.Port,
		Username:           cfg.IMAP.User,
		Password:           cfg.IMAP.Password,
		StartTLS:           cfg.IMAP.Port == 143,
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
	}, logger.With("component", "imap"))
}

func newClassifier(cfg *model.AppConfig) classify.Classifier {
	if cfg.AI.APIKey == "" {
		return classify.HintClassifier{}
	}
	return classify.NewClaudeClassifier(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.MaxTokens)
}

// channelDomain is the domain tenant addresses live under: the explicit
// override, else the inbox account's own domain.
func channelDomain(cfg *model.AppConfig) string {
	if cfg.Email.Domain != "" {
		return cfg.Email.Domain
	}
	if _, domain, ok := strings.Cut(cfg.IMAP.User, "@"); ok {
		return domain
	}
	return ""
}

// PersonalAddress is the address a tenant sends captures to, e.g.
// brain+a3f2e1@example.com.
func PersonalAddress(cfg *model.AppConfig, code string) string {
	local, _, _ := strings.Cut(cfg.IMAP.User, "@")
	if local == "" {
		local = "brain"
	}
	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}
	domain := channelDomain(cfg)
	if domain == "" {
		domain = "localhost"
	}
	return local + "+" + code + "@" + domain
}
