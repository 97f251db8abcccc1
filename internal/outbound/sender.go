// Package outbound delivers mail through a pluggable transport and keeps
// the threading headers that let replies land in the right conversation.
package outbound

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotConfigured is the error text reported when no transport is set.
const ErrNotConfigured = "not configured"

// SendOptions describes one outgoing message.
type SendOptions struct {
	To      string
	Subject string
	Text    string
	HTML    string

	// InReplyTo and References are bare Message-IDs without angle brackets.
	InReplyTo  string
	References []string
}

// Result is the outcome of a send. Failures are reported here, never as
// a returned error.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Envelope is a fully rendered message handed to a Transport.
type Envelope struct {
	From string
	To   []string
	Data []byte
}

// Transport moves a rendered message to the next hop.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Name() string
}

// Sender renders and delivers messages.
type Sender struct {
	transport Transport
	from      string
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewSender creates a Sender. A nil transport yields a sender that
// reports itself unavailable.
func NewSender(transport Transport, from string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		transport: transport,
		from:      from,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// IsAvailable reports whether a transport is configured.
func (s *Sender) IsAvailable() bool {
	return s != nil && s.transport != nil && s.from != ""
}

// From returns the sender address.
func (s *Sender) From() string {
	if s == nil {
		return ""
	}
	return s.from
}

// Send renders opts and delivers it.
func (s *Sender) Send(ctx context.Context, opts SendOptions) Result {
	if !s.IsAvailable() {
		return Result{Error: ErrNotConfigured}
	}
	if strings.TrimSpace(opts.To) == "" {
		return Result{Error: "no recipient"}
	}

	id := s.newID() + "@" + domainOf(s.from)
	data, err := buildMessage(s.from, opts, id, s.now())
	if err != nil {
		s.logger.Error("composing message", "to", opts.To, "error", err)
		return Result{Error: err.Error()}
	}

	env := Envelope{From: s.from, To: []string{opts.To}, Data: data}
	if err := s.transport.Send(ctx, env); err != nil {
		s.logger.Warn("sending message",
			"transport", s.transport.Name(),
			"to", opts.To,
			"error", err,
		)
		return Result{Error: err.Error()}
	}

	s.logger.Debug("message sent",
		"transport", s.transport.Name(),
		"to", opts.To,
		"message_id", id,
	)
	return Result{Success: true, MessageID: id}
}

// SendReply sends text as a reply to originalMessageID. The id is
// appended to existingReferences unless it is already there.
func (s *Sender) SendReply(
	ctx context.Context,
	to, subject, text, originalMessageID string,
	existingReferences []string,
	html string,
) Result {
	original := bareID(originalMessageID)
	return s.Send(ctx, SendOptions{
		To:         to,
		Subject:    subject,
		Text:       text,
		HTML:       html,
		InReplyTo:  original,
		References: appendReference(existingReferences, original),
	})
}

func appendReference(existing []string, id string) []string {
	refs := make([]string, 0, len(existing)+1)
	seen := false
	for _, r := range existing {
		r = bareID(r)
		if r == "" {
			continue
		}
		if r == id {
			seen = true
		}
		refs = append(refs, r)
	}
	if id != "" && !seen {
		refs = append(refs, id)
	}
	return refs
}

func bareID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "secondbrain.local"
}
