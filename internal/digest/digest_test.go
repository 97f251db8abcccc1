package digest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/outbound"
)

type fakeMailer struct {
	available bool
	calls     []outbound.SendOptions
	result    outbound.Result
}

func (f *fakeMailer) IsAvailable() bool { return f.available }

func (f *fakeMailer) Send(_ context.Context, opts outbound.SendOptions) outbound.Result {
	f.calls = append(f.calls, opts)
	return f.result
}

func TestSendDailyDigestSkipsWhenUnavailable(t *testing.T) {
	t.Parallel()

	m := &fakeMailer{available: false}
	res := NewDispatcher(m).SendDailyDigest(context.Background(), "a@example.com", "Digest", "text", "")

	if !res.Success || !res.Skipped {
		t.Errorf("SendDailyDigest() = %+v, want success and skipped", res)
	}
	if len(m.calls) != 0 {
		t.Errorf("Send called %d times, want 0", len(m.calls))
	}

	if res := NewDispatcher(nil).SendDailyDigest(context.Background(), "a@example.com", "Digest", "text", ""); !res.Skipped {
		t.Errorf("nil mailer: %+v, want skipped", res)
	}
}

func TestSendDailyDigestStartsNewThread(t *testing.T) {
	t.Parallel()

	m := &fakeMailer{available: true, result: outbound.Result{Success: true, MessageID: "d@brain"}}
	res := NewDispatcher(m).SendDailyDigest(context.Background(), "a@example.com", "Your day", "three items", "<p>three items</p>")

	if !res.Success || res.Skipped || res.MessageID != "d@brain" {
		t.Errorf("SendDailyDigest() = %+v", res)
	}
	if len(m.calls) != 1 {
		t.Fatalf("Send called %d times, want 1", len(m.calls))
	}
	got := m.calls[0]
	if got.InReplyTo != "" || len(got.References) != 0 {
		t.Errorf("digest carries threading headers: %+v", got)
	}
	if got.To != "a@example.com" || got.Subject != "Your day" || got.HTML == "" {
		t.Errorf("SendOptions = %+v", got)
	}
}

func TestSendDailyDigestFailure(t *testing.T) {
	t.Parallel()

	m := &fakeMailer{available: true, result: outbound.Result{Error: "smtp down"}}
	res := NewDispatcher(m).SendDailyDigest(context.Background(), "a@example.com", "s", "t", "")
	if res.Success || res.Error != "smtp down" {
		t.Errorf("SendDailyDigest() = %+v", res)
	}
}

func TestCompose(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	c := Compose(day, []model.Entry{
		{Name: "Call <Sam>", Category: model.CategoryPeople},
		{Name: "Ship v2", Category: model.CategoryProjects},
		{Name: "Misc", Category: "inbox"},
	})

	if c.Subject != "Your daily digest for Mon, Mar 4" {
		t.Errorf("Subject = %q", c.Subject)
	}
	want := "3 new entries captured.\n\nProjects\n  - Ship v2\n\nPeople\n  - Call <Sam>\n\nInbox\n  - Misc\n"
	if c.Text != want {
		t.Errorf("Text = %q, want %q", c.Text, want)
	}
	if !strings.Contains(c.HTML, "<li>Call &lt;Sam&gt;</li>") {
		t.Errorf("HTML not escaped: %q", c.HTML)
	}

	empty := Compose(day, nil)
	if !strings.HasPrefix(empty.Text, "Nothing new") {
		t.Errorf("empty Text = %q", empty.Text)
	}
}
