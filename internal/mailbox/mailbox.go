// Package mailbox gives the poller a uniform view of an inbox: dial,
// select, find unseen mail, fetch it and flag it seen.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured is returned by Dial when the mailbox has no
// credentials.
var ErrNotConfigured = errors.New("not configured")

// AuthError indicates that the server rejected the credentials.
type AuthError struct {
	Server  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Server, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Fetched is one message body retrieved from the inbox.
type Fetched struct {
	UID          uint32
	Raw          []byte
	InternalDate time.Time
}

// Mailbox opens sessions against an inbox.
type Mailbox interface {
	// Configured reports whether Dial can be attempted at all.
	Configured() bool
	Dial(ctx context.Context) (Session, error)
}

// Session is one connected, authenticated conversation with the
// server. It is bound to the context passed to Dial.
type Session interface {
	SelectInbox() error
	SearchUnseen() ([]uint32, error)
	Fetch(uids []uint32) ([]Fetched, error)
	MarkSeen(uids []uint32) error
	Close() error
}
