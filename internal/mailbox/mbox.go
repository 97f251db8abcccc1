package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/emersion/go-mbox"
)

// MboxMailbox replays an mbox archive as if it were an inbox. Seen
// state is kept in memory for the life of the value.
type MboxMailbox struct {
	open func() (io.ReadCloser, error)

	mu     sync.Mutex
	loaded []Fetched
	seen   map[uint32]bool
}

// NewMboxFile creates a mailbox over the archive at path.
func NewMboxFile(path string) *MboxMailbox {
	var open func() (io.ReadCloser, error)
	if path != "" {
		open = func() (io.ReadCloser, error) { return os.Open(path) }
	}
	return &MboxMailbox{open: open, seen: make(map[uint32]bool)}
}

// NewMboxReader creates a mailbox over an already opened archive.
func NewMboxReader(r io.Reader) *MboxMailbox {
	return &MboxMailbox{
		open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		seen: make(map[uint32]bool),
	}
}

// Configured reports whether an archive was given.
func (m *MboxMailbox) Configured() bool {
	return m.open != nil
}

// Dial loads the archive on first use and returns a session over it.
func (m *MboxMailbox) Dial(ctx context.Context) (Session, error) {
	if !m.Configured() {
		return nil, ErrNotConfigured
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded == nil {
		msgs, err := m.load(ctx)
		if err != nil {
			return nil, err
		}
		m.loaded = msgs
	}

	return &mboxSession{box: m}, nil
}

func (m *MboxMailbox) load(ctx context.Context) ([]Fetched, error) {
	rc, err := m.open()
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer rc.Close()

	reader := mbox.NewReader(rc)
	msgs := []Fetched{}
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return msgs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("message %d read: %w", idx, err)
		}

		msgs = append(msgs, Fetched{UID: uint32(idx + 1), Raw: raw})
	}
}

// Remaining returns the number of messages not yet marked seen.
func (m *MboxMailbox) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, f := range m.loaded {
		if !m.seen[f.UID] {
			n++
		}
	}
	return n
}

type mboxSession struct {
	box *MboxMailbox
}

func (s *mboxSession) SelectInbox() error { return nil }

func (s *mboxSession) SearchUnseen() ([]uint32, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()

	var uids []uint32
	for _, f := range s.box.loaded {
		if !s.box.seen[f.UID] {
			uids = append(uids, f.UID)
		}
	}
	return uids, nil
}

func (s *mboxSession) Fetch(uids []uint32) ([]Fetched, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()

	want := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		want[uid] = true
	}

	var out []Fetched
	for _, f := range s.box.loaded {
		if want[f.UID] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *mboxSession) MarkSeen(uids []uint32) error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()

	for _, uid := range uids {
		s.box.seen[uid] = true
	}
	return nil
}

func (s *mboxSession) Close() error { return nil }
