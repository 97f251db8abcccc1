package outbound

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
)

type fakeTransport struct {
	sent []Envelope
	err  error
}

func (f *fakeTransport) Send(_ context.Context, env Envelope) error {
	f.sent = append(f.sent, env)
	return f.err
}

func (f *fakeTransport) Name() string { return "fake" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSender(tr Transport) *Sender {
	s := NewSender(tr, "brain@example.com", discardLogger())
	s.newID = func() string { return "fixed-id" }
	s.now = func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC) }
	return s
}

func readHeader(t *testing.T, data []byte) (mail.Header, string) {
	t.Helper()

	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reading sent message: %v", err)
	}
	defer mr.Close()

	var text string
	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			if ct == "text/plain" {
				b, _ := io.ReadAll(p.Body)
				text = string(b)
			}
		}
	}
	return mr.Header, text
}

func TestSendNotConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sender *Sender
	}{
		{name: "nil transport", sender: NewSender(nil, "brain@example.com", discardLogger())},
		{name: "no from", sender: NewSender(&fakeTransport{}, "", discardLogger())},
		{name: "nil sender", sender: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.sender.IsAvailable() {
				t.Fatal("IsAvailable() = true")
			}
			res := tt.sender.Send(context.Background(), SendOptions{To: "a@b.c", Subject: "s", Text: "t"})
			if res.Success || res.Error != ErrNotConfigured {
				t.Errorf("Send() = %+v, want not configured", res)
			}
		})
	}
}

func TestSendOmitsEmptyThreadingHeaders(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	s := newTestSender(tr)

	res := s.Send(context.Background(), SendOptions{
		To:         "alice@example.com",
		Subject:    "Daily digest",
		Text:       "Three things today.",
		References: []string{},
	})
	if !res.Success {
		t.Fatalf("Send() = %+v", res)
	}
	if res.MessageID != "fixed-id@example.com" {
		t.Errorf("MessageID = %q", res.MessageID)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(tr.sent))
	}

	raw := string(tr.sent[0].Data)
	for _, key := range []string{"References:", "In-Reply-To:"} {
		if strings.Contains(raw, key) {
			t.Errorf("message contains %s header:\n%s", key, raw)
		}
	}

	h, text := readHeader(t, tr.sent[0].Data)
	if subj, _ := h.Subject(); subj != "Daily digest" {
		t.Errorf("Subject = %q", subj)
	}
	if id, _ := h.MessageID(); id != "fixed-id@example.com" {
		t.Errorf("Message-ID = %q", id)
	}
	if strings.TrimSpace(text) != "Three things today." {
		t.Errorf("text body = %q", text)
	}
	if tr.sent[0].From != "brain@example.com" || tr.sent[0].To[0] != "alice@example.com" {
		t.Errorf("envelope = %+v", tr.sent[0])
	}
}

func TestSendReplyReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existing []string
		original string
		want     []string
	}{
		{name: "no history", original: "orig@mail", want: []string{"orig@mail"}},
		{name: "appends", existing: []string{"root@mail"}, original: "orig@mail", want: []string{"root@mail", "orig@mail"}},
		{name: "no duplicate", existing: []string{"root@mail", "orig@mail"}, original: "<orig@mail>", want: []string{"root@mail", "orig@mail"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := &fakeTransport{}
			s := newTestSender(tr)
			res := s.SendReply(context.Background(), "alice@example.com", "Re: x", "body", tt.original, tt.existing, "")
			if !res.Success {
				t.Fatalf("SendReply() = %+v", res)
			}

			h, _ := readHeader(t, tr.sent[0].Data)
			inReplyTo, _ := h.MsgIDList("In-Reply-To")
			if len(inReplyTo) != 1 || inReplyTo[0] != "orig@mail" {
				t.Errorf("In-Reply-To = %v, want [orig@mail]", inReplyTo)
			}
			refs, _ := h.MsgIDList("References")
			if strings.Join(refs, " ") != strings.Join(tt.want, " ") {
				t.Errorf("References = %v, want %v", refs, tt.want)
			}
		})
	}
}

func TestSendWithHTMLIsMultipart(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	s := newTestSender(tr)

	res := s.Send(context.Background(), SendOptions{
		To:      "alice@example.com",
		Subject: "both",
		Text:    "plain",
		HTML:    "<p>rich</p>",
	})
	if !res.Success {
		t.Fatalf("Send() = %+v", res)
	}

	h, text := readHeader(t, tr.sent[0].Data)
	ct, _, _ := h.ContentType()
	if ct != "multipart/alternative" {
		t.Errorf("Content-Type = %q, want multipart/alternative", ct)
	}
	if strings.TrimSpace(text) != "plain" {
		t.Errorf("text part = %q", text)
	}
	if !strings.Contains(string(tr.sent[0].Data), "<p>rich</p>") {
		t.Error("html part missing")
	}
}

func TestSendTransportFailure(t *testing.T) {
	t.Parallel()

	s := newTestSender(&fakeTransport{err: errors.New("connection refused")})
	res := s.Send(context.Background(), SendOptions{To: "a@example.com", Subject: "s", Text: "t"})
	if res.Success {
		t.Fatal("Send() succeeded on transport failure")
	}
	if !strings.Contains(res.Error, "connection refused") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestSendNoRecipient(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	res := newTestSender(tr).Send(context.Background(), SendOptions{Subject: "s"})
	if res.Success || len(tr.sent) != 0 {
		t.Errorf("Send() = %+v with %d sent, want failure and no send", res, len(tr.sent))
	}
}
