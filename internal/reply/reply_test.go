package reply

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/outbound"
)

type sentReply struct {
	to, subject, text, original string
	refs                        []string
}

type fakeMailer struct {
	available bool
	sent      []sentReply
}

func (f *fakeMailer) IsAvailable() bool { return f.available }

func (f *fakeMailer) SendReply(
	_ context.Context,
	to, subject, text, original string,
	refs []string,
	_ string,
) outbound.Result {
	f.sent = append(f.sent, sentReply{to: to, subject: subject, text: text, original: original, refs: refs})
	return outbound.Result{Success: true, MessageID: "reply@brain"}
}

func TestConfidencePercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{0.5, 50},
		{0.7, 70},
		{0.695, 70},
		{0.694, 69},
		{0.285, 29},
		{0.005, 1},
		{0.999, 100},
		{1, 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			t.Parallel()
			if got := ConfidencePercent(tt.in); got != tt.want {
				t.Errorf("ConfidencePercent(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatConfirmation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		confidence float64
		wantClar   bool
	}{
		{name: "low", confidence: 0.42, wantClar: true},
		{name: "just below", confidence: 0.6999, wantClar: true},
		{name: "exactly threshold", confidence: 0.7, wantClar: false},
		{name: "high", confidence: 0.95, wantClar: false},
		{name: "certain", confidence: 1, wantClar: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := model.EntrySummary{Name: "Solar kettle", Category: model.CategoryIdeas, Confidence: tt.confidence}
			msg := FormatConfirmation("Kettle idea", "deadbeef", e)

			if !strings.HasPrefix(msg.Subject, "Re:") || !strings.Contains(msg.Subject, "Kettle idea") {
				t.Errorf("Subject = %q", msg.Subject)
			}
			if msg.Subject != "Re: Kettle idea [SB-deadbeef]" {
				t.Errorf("Subject = %q, want %q", msg.Subject, "Re: Kettle idea [SB-deadbeef]")
			}

			pct := fmt.Sprintf("%d%%", ConfidencePercent(tt.confidence))
			for _, want := range []string{"Entry: Solar kettle", "Category: ideas", "Confidence: " + pct, "Thread ID: [SB-deadbeef]", replyInstruction} {
				if !strings.Contains(msg.Body, want) {
					t.Errorf("body missing %q:\n%s", want, msg.Body)
				}
			}

			hasClar := strings.Contains(msg.Body, "reclassify")
			if hasClar != tt.wantClar {
				t.Errorf("clarification present = %v, want %v:\n%s", hasClar, tt.wantClar, msg.Body)
			}
			if tt.wantClar {
				for _, kw := range []string{"[person]", "[project]", "[idea]", "[task]"} {
					if !strings.Contains(msg.Body, kw) {
						t.Errorf("clarification missing %s", kw)
					}
				}
			}
		})
	}
}

func TestFormatConfirmationOrder(t *testing.T) {
	t.Parallel()

	msg := FormatConfirmation("s", "0a1b2c3d", model.EntrySummary{Name: "n", Category: model.CategoryAdmin, Confidence: 0.3})

	order := []string{confirmationOpening, "Entry:", "Category:", "Confidence:", "reclassify", "\n---\n", "Thread ID:", replyInstruction}
	last := -1
	for _, part := range order {
		i := strings.Index(msg.Body, part)
		if i < 0 {
			t.Fatalf("body missing %q", part)
		}
		if i < last {
			t.Errorf("%q appears out of order", part)
		}
		last = i
	}
}

func TestSendConfirmation(t *testing.T) {
	t.Parallel()

	m := &fakeMailer{available: true}
	c := NewComposer(m, "brain.example.com")

	res := c.SendConfirmation(context.Background(), ConfirmationParams{
		To:         "alice@example.com",
		Subject:    "Kettle",
		Token:      "deadbeef",
		Entry:      model.EntrySummary{Name: "Kettle", Category: model.CategoryIdeas, Confidence: 0.9},
		MessageID:  "orig@mail",
		References: []string{"root@mail"},
	})
	if !res.Success {
		t.Fatalf("SendConfirmation() = %+v", res)
	}
	if len(m.sent) != 1 {
		t.Fatalf("sent %d, want 1", len(m.sent))
	}
	got := m.sent[0]
	if got.original != "orig@mail" || len(got.refs) != 1 || got.refs[0] != "root@mail" {
		t.Errorf("sent reply = %+v", got)
	}
	if got.subject != "Re: Kettle [SB-deadbeef]" {
		t.Errorf("subject = %q", got.subject)
	}
}

func TestSendUnavailable(t *testing.T) {
	t.Parallel()

	m := &fakeMailer{available: false}
	c := NewComposer(m, "")

	res := c.SendConfirmation(context.Background(), ConfirmationParams{To: "a@b.c", Subject: "s", Token: "deadbeef"})
	if res.Success || res.Error == "" {
		t.Errorf("SendConfirmation() = %+v, want failure", res)
	}
	res = c.SendRoutingFailure(context.Background(), "a@b.c", "s", "m@x")
	if res.Success || res.Error == "" {
		t.Errorf("SendRoutingFailure() = %+v, want failure", res)
	}
	if len(m.sent) != 0 {
		t.Errorf("sent %d messages with no transport", len(m.sent))
	}
}

func TestRoutingFailure(t *testing.T) {
	t.Parallel()

	m := &fakeMailer{available: true}
	c := NewComposer(m, "brain.example.com")

	msg := c.FormatRoutingFailure("Hello")
	if msg.Subject != "Re: Hello" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "routing code") || !strings.Contains(msg.Body, "@brain.example.com") {
		t.Errorf("Body = %q", msg.Body)
	}

	c.SendRoutingFailure(context.Background(), "stranger@example.com", "Hello", "orig@mail")
	if len(m.sent) != 1 {
		t.Fatalf("sent %d, want 1", len(m.sent))
	}
	if m.sent[0].original != "orig@mail" || len(m.sent[0].refs) != 0 {
		t.Errorf("sent = %+v, want reply to orig with no extra references", m.sent[0])
	}
}
