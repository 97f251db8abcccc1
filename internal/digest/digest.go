// Package digest hands pre-formatted digest text to the outbound sender
// as a new thread.
package digest

import (
	"context"

	"github.com/nhle/secondbrain/internal/outbound"
)

// Mailer is the outbound capability the dispatcher needs.
type Mailer interface {
	IsAvailable() bool
	Send(ctx context.Context, opts outbound.SendOptions) outbound.Result
}

// Result is the outcome of a digest send. Skipped is set when no
// transport is configured.
type Result struct {
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher sends digests.
type Dispatcher struct {
	mailer Mailer
}

// NewDispatcher creates a Dispatcher over mailer.
func NewDispatcher(mailer Mailer) *Dispatcher {
	return &Dispatcher{mailer: mailer}
}

// SendDailyDigest delivers content to the given address. With no
// transport configured it reports success and skipped without
// attempting delivery.
func (d *Dispatcher) SendDailyDigest(ctx context.Context, to, subject, text, html string) Result {
	if d.mailer == nil || !d.mailer.IsAvailable() {
		return Result{Success: true, Skipped: true}
	}

	res := d.mailer.Send(ctx, outbound.SendOptions{
		To:      to,
		Subject: subject,
		Text:    text,
		HTML:    html,
	})
	return Result{
		Success:   res.Success,
		MessageID: res.MessageID,
		Error:     res.Error,
	}
}
