// Package reply composes the confirmation and routing-failure messages
// sent back to whoever emailed the brain.
package reply

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/nhle/secondbrain/internal/correlation"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/normalize"
	"github.com/nhle/secondbrain/internal/outbound"
)

// LowConfidence is the threshold below which a confirmation asks the
// user to reclassify. Exactly this value counts as confident.
const LowConfidence = 0.7

const (
	confirmationOpening = "Got it! Your thought has been captured."
	replyInstruction    = "Reply to this email to add more to this entry."
	defaultDomain       = "example.com"
)

// Message is a composed subject and plain-text body.
type Message struct {
	Subject string
	Body    string
}

// Mailer is the outbound capability the composer needs.
type Mailer interface {
	IsAvailable() bool
	SendReply(
		ctx context.Context,
		to, subject, text, originalMessageID string,
		existingReferences []string,
		html string,
	) outbound.Result
}

// ConfirmationParams carries everything needed to confirm a capture.
type ConfirmationParams struct {
	To         string
	Subject    string
	Token      string
	Entry      model.EntrySummary
	MessageID  string
	References []string
}

// Composer builds and sends replies.
type Composer struct {
	mailer Mailer
	domain string
}

// NewComposer creates a Composer. domain is used in the example address
// of routing-failure replies.
func NewComposer(mailer Mailer, domain string) *Composer {
	if domain == "" {
		domain = defaultDomain
	}
	return &Composer{mailer: mailer, domain: domain}
}

// ConfidencePercent rounds confidence to a whole percentage, half up.
func ConfidencePercent(confidence float64) int {
	// Rounding to 1e-4 first absorbs binary error such as 0.285*100.
	scaled := math.Round(confidence*1e6) / 1e4
	return int(math.Floor(scaled + 0.5))
}

// FormatConfirmation renders the confirmation for a captured entry.
func FormatConfirmation(subject, token string, e model.EntrySummary) Message {
	marker := correlation.FormatToken(token)

	var b strings.Builder
	b.WriteString(confirmationOpening + "\n\n")
	fmt.Fprintf(&b, "Entry: %s\n", e.Name)
	fmt.Fprintf(&b, "Category: %s\n", e.Category)
	fmt.Fprintf(&b, "Confidence: %d%%\n", ConfidencePercent(e.Confidence))

	if e.Confidence < LowConfidence {
		b.WriteString("\nI wasn't sure about the category. To reclassify, reply with one of\n")
		b.WriteString(strings.Join(normalize.HintKeywords, " "))
		b.WriteString(" at the start of the subject line.\n")
		fmt.Fprintf(&b, "Example: [project] Re: %s %s\n", subject, marker)
	}

	b.WriteString("\n---\n")
	fmt.Fprintf(&b, "Thread ID: %s\n", marker)
	b.WriteString(replyInstruction + "\n")

	return Message{
		Subject: fmt.Sprintf("Re: %s %s", subject, marker),
		Body:    b.String(),
	}
}

// FormatRoutingFailure renders the reply for mail that carried no valid
// personal routing code.
func (c *Composer) FormatRoutingFailure(subject string) Message {
	var b strings.Builder
	b.WriteString("We couldn't match your email to an account.\n\n")
	b.WriteString("Each account has a personal address with a routing code, for example\n")
	fmt.Fprintf(&b, "yourname+a1b2c3@%s. The address you wrote to was missing that code,\n", c.domain)
	b.WriteString("or the code did not belong to any account.\n\n")
	b.WriteString("Please resend your message to your personal address.\n")

	return Message{
		Subject: "Re: " + subject,
		Body:    b.String(),
	}
}

// SendConfirmation composes a confirmation and sends it as a reply to
// p.MessageID, passing p.References through unchanged.
func (c *Composer) SendConfirmation(ctx context.Context, p ConfirmationParams) outbound.Result {
	if c.mailer == nil || !c.mailer.IsAvailable() {
		return outbound.Result{Error: outbound.ErrNotConfigured}
	}
	msg := FormatConfirmation(p.Subject, p.Token, p.Entry)
	return c.mailer.SendReply(ctx, p.To, msg.Subject, msg.Body, p.MessageID, p.References, "")
}

// SendRoutingFailure replies to messageID explaining the routing
// failure. No references beyond messageID are carried.
func (c *Composer) SendRoutingFailure(ctx context.Context, to, subject, messageID string) outbound.Result {
	if c.mailer == nil || !c.mailer.IsAvailable() {
		return outbound.Result{Error: outbound.ErrNotConfigured}
	}
	msg := c.FormatRoutingFailure(subject)
	return c.mailer.SendReply(ctx, to, msg.Subject, msg.Body, messageID, nil, "")
}
