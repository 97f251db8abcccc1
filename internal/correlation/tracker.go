// Package correlation mints the [SB-xxxxxxxx] tokens that bind a reply
// chain together and answers whether a Message-ID was seen before.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/store"
)

const tokenBytes = 4

// History is the persistence the tracker reads and writes.
type History interface {
	ThreadByMessageID(ctx context.Context, messageID string) (*model.Thread, error)
	AddThreadMessage(ctx context.Context, msg model.ThreadMessage) error
}

// Tracker generates tokens and records message history.
type Tracker struct {
	history History
	random  func([]byte) (int, error)
	now     func() time.Time

	mu     sync.Mutex
	issued map[string]struct{}
}

// NewTracker creates a Tracker backed by history.
func NewTracker(history History) *Tracker {
	return &Tracker{
		history: history,
		random:  rand.Read,
		now:     time.Now,
		issued:  make(map[string]struct{}),
	}
}

// GenerateToken returns 8 random lowercase hex characters never before
// returned by this tracker.
func (t *Tracker) GenerateToken() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]byte, tokenBytes)
	for {
		if _, err := t.random(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		token := hex.EncodeToString(buf)
		if _, dup := t.issued[token]; dup {
			continue
		}
		t.issued[token] = struct{}{}
		return token, nil
	}
}

// FormatToken wraps token as it appears on the wire.
func FormatToken(token string) string {
	return "[SB-" + token + "]"
}

// LookupByMessageID returns the thread that already recorded messageID,
// or nil when the id is new.
func (t *Tracker) LookupByMessageID(ctx context.Context, messageID string) (*model.Thread, error) {
	th, err := t.history.ThreadByMessageID(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up message %s: %w", messageID, err)
	}
	return th, nil
}

// Seen reports whether messageID was already recorded.
func (t *Tracker) Seen(ctx context.Context, messageID string) (bool, error) {
	th, err := t.LookupByMessageID(ctx, messageID)
	if err != nil {
		return false, err
	}
	return th != nil, nil
}

// RecordMessage stores messageID against threadID.
func (t *Tracker) RecordMessage(
	ctx context.Context,
	threadID, messageID string,
	dir model.Direction,
) error {
	if messageID == "" {
		return nil
	}
	err := t.history.AddThreadMessage(ctx, model.ThreadMessage{
		MessageID: messageID,
		ThreadID:  threadID,
		Direction: dir,
		CreatedAt: t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("recording message %s: %w", messageID, err)
	}
	return nil
}
