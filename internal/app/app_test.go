package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/nhle/secondbrain/internal/mailbox"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/outbound"
	"github.com/nhle/secondbrain/tests/testutil"
)

const archive = `From alice@example.com Mon Jan  1 09:00:00 2024
From: Alice <alice@example.com>
To: brain+a3f2e1@example.com
Subject: [project] launch plan
Message-ID: <m1@example.com>
Date: Mon, 1 Jan 2024 09:00:00 +0000

ship the beta on friday

From bob@example.com Mon Jan  1 10:00:00 2024
From: bob@example.com
To: brain@example.com
Subject: hello
Message-ID: <m2@example.com>
Date: Mon, 1 Jan 2024 10:00:00 +0000

where does this go?
`

type recordingTransport struct {
	mu   gosync.Mutex
	sent []outbound.Envelope
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(_ context.Context, env outbound.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return nil
}

func (r *recordingTransport) to(addr string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, env := range r.sent {
		for _, rcpt := range env.To {
			if rcpt == addr {
				out = append(out, string(env.Data))
			}
		}
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChannelEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	tenant := testutil.SeedTenant(t, s, "a3f2e1")
	transport := &recordingTransport{}
	cfg := &model.AppConfig{Email: model.EmailConfig{Domain: "example.com"}}

	build := func() *Channel {
		t.Helper()
		ch, err := Build(ctx, cfg, Options{
			Store:     s,
			Mailbox:   mailbox.NewMboxReader(strings.NewReader(archive)),
			Transport: transport,
			From:      "brain@example.com",
			Logger:    quietLogger(),
		})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		t.Cleanup(func() { ch.Close() })
		return ch
	}

	res := build().Poller.PollNow(ctx)
	if res.Found != 2 || res.Processed != 1 || res.Unroutable != 1 || len(res.Errors) != 0 {
		t.Fatalf("first poll = %+v, want found 2 processed 1 unroutable 1", res)
	}

	entries, err := s.GetEntries(ctx, tenant.ID, 0)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stored %d entries, want 1", len(entries))
	}
	if entries[0].Category != model.CategoryProjects || entries[0].Name != "launch plan" {
		t.Errorf("entry = %+v, want projects/launch plan", entries[0])
	}

	confirmations := transport.to("alice@example.com")
	if len(confirmations) != 1 {
		t.Fatalf("alice got %d messages, want 1", len(confirmations))
	}
	if !strings.Contains(confirmations[0], "Subject: Re: launch plan [SB-") {
		t.Errorf("confirmation subject missing token:\n%s", confirmations[0])
	}
	if !strings.Contains(confirmations[0], "In-Reply-To: <m1@example.com>") {
		t.Errorf("confirmation not threaded to the original:\n%s", confirmations[0])
	}

	bounces := transport.to("bob@example.com")
	if len(bounces) != 1 || !strings.Contains(bounces[0], "Subject: Re: hello") {
		t.Fatalf("bob got %q, want one routing-failure reply", bounces)
	}

	// Replaying the archive after a restart must not capture m1 twice.
	again := build().Poller.PollNow(ctx)
	if again.Duplicates != 1 || again.Processed != 0 || again.Unroutable != 1 {
		t.Errorf("replay = %+v, want duplicates 1 processed 0 unroutable 1", again)
	}
	if entries, _ := s.GetEntries(ctx, tenant.ID, 0); len(entries) != 1 {
		t.Errorf("replay stored %d entries, want 1", len(entries))
	}
}

func TestBuildWithoutTransport(t *testing.T) {
	s := testutil.NewTestStore(t)

	ch, err := Build(context.Background(), &model.AppConfig{}, Options{Store: s, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer ch.Close()

	if ch.Sender.IsAvailable() {
		t.Error("Sender available without SMTP or SES settings")
	}
	if ch.Poller.Status().Configured {
		t.Error("Poller configured without IMAP settings")
	}
}

func TestPersonalAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.AppConfig
		want string
	}{
		{
			name: "inbox user",
			cfg:  model.AppConfig{IMAP: model.IMAPConfig{User: "brain@mail.example.com"}},
			want: "brain+a3f2e1@mail.example.com",
		},
		{
			name: "domain override",
			cfg: model.AppConfig{
				IMAP:  model.IMAPConfig{User: "brain@mail.example.com"},
				Email: model.EmailConfig{Domain: "example.org"},
			},
			want: "brain+a3f2e1@example.org",
		},
		{
			name: "existing plus suffix",
			cfg:  model.AppConfig{IMAP: model.IMAPConfig{User: "brain+inbox@example.com"}},
			want: "brain+a3f2e1@example.com",
		},
		{
			name: "nothing configured",
			cfg:  model.AppConfig{},
			want: "brain+a3f2e1@localhost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PersonalAddress(&tt.cfg, "a3f2e1"); got != tt.want {
				t.Errorf("PersonalAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecentEntries(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	entries := []model.Entry{
		{ID: "new", CreatedAt: now.Add(-time.Hour)},
		{ID: "edge", CreatedAt: now.Add(-24 * time.Hour)},
		{ID: "old", CreatedAt: now.Add(-25 * time.Hour)},
	}

	got := recentEntries(entries, now.Add(-24*time.Hour))
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "edge" {
		t.Errorf("recentEntries() = %+v, want new and edge", got)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := setupLogger(tt.level, &buf)
			logger.Debug("d-line")
			logger.Info("i-line")

			if got := strings.Contains(buf.String(), "d-line"); got != tt.debugShown {
				t.Errorf("debug shown = %v, want %v", got, tt.debugShown)
			}
			if got := strings.Contains(buf.String(), "i-line"); got != tt.infoShown {
				t.Errorf("info shown = %v, want %v", got, tt.infoShown)
			}
		})
	}
}

// runCLI executes the command tree against a throwaway config and
// database, returning stdout.
func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd(&cli{})
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", configPath, "--log-level", "error"}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "database:\n  url: " + filepath.Join(dir, "data", "sb.db") + "\n" +
		"imap:\n  user: brain@example.com\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestTenantCommands(t *testing.T) {
	path := writeConfig(t)

	out, err := runCLI(t, path, "tenant", "add", "--name", "Ann", "--email", "ann@example.com", "--code", "A3F2E1")
	if err != nil {
		t.Fatalf("tenant add: %v", err)
	}
	if !strings.Contains(out, "brain+a3f2e1@example.com") {
		t.Errorf("tenant add output = %q, want capture address", out)
	}

	out, err = runCLI(t, path, "tenant", "add", "--name", "Generated", "--email", "gen@example.com")
	if err != nil {
		t.Fatalf("tenant add without code: %v", err)
	}
	if !strings.Contains(out, "Capture address: brain+") {
		t.Errorf("tenant add output = %q, want generated capture address", out)
	}

	out, err = runCLI(t, path, "tenant", "list")
	if err != nil {
		t.Fatalf("tenant list: %v", err)
	}
	for _, want := range []string{"ann@example.com", "gen@example.com", "brain+a3f2e1@example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("tenant list missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, path, "digest", "--dry-run")
	if err != nil {
		t.Fatalf("digest --dry-run: %v", err)
	}
	if strings.Count(out, "Subject: Your daily digest for") != 2 {
		t.Errorf("digest --dry-run output = %q, want two digests", out)
	}
	if !strings.Contains(out, "Nothing new was captured.") {
		t.Errorf("digest --dry-run output = %q, want empty digest text", out)
	}

	out, err = runCLI(t, path, "digest")
	if err != nil {
		t.Fatalf("digest without transport: %v", err)
	}
	if !strings.Contains(out, "skipped") {
		t.Errorf("digest output = %q, want skipped", out)
	}
}

func TestTenantAddRejectsBadCode(t *testing.T) {
	path := writeConfig(t)

	_, err := runCLI(t, path, "tenant", "add", "--name", "Ann", "--email", "ann@example.com", "--code", "xyz")
	if err == nil || !strings.Contains(err.Error(), "6 hex characters") {
		t.Errorf("tenant add --code xyz error = %v, want format error", err)
	}
}

func TestPollRequiresMailbox(t *testing.T) {
	path := writeConfig(t)

	_, err := runCLI(t, path, "poll")
	if !errors.Is(err, errMailboxNotConfigured) {
		t.Errorf("poll error = %v, want errMailboxNotConfigured", err)
	}
}

func TestImportMbox(t *testing.T) {
	path := writeConfig(t)
	if _, err := runCLI(t, path, "tenant", "add", "--name", "Ann", "--email", "ann@example.com", "--code", "a3f2e1"); err != nil {
		t.Fatalf("tenant add: %v", err)
	}

	mboxPath := filepath.Join(t.TempDir(), "inbox.mbox")
	if err := os.WriteFile(mboxPath, []byte(archive), 0o600); err != nil {
		t.Fatalf("writing mbox: %v", err)
	}

	out, err := runCLI(t, path, "import-mbox", mboxPath)
	if err != nil {
		t.Fatalf("import-mbox: %v", err)
	}
	if !strings.Contains(out, "found 2  processed 1  duplicates 0  unroutable 1") {
		t.Errorf("import-mbox output = %q", out)
	}
}
