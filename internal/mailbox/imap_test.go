package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/nhle/secondbrain/tests/testutil"
)

const (
	testUser     = "brain@example.com"
	testPassword = "hunter2"
)

func imapMessage(id, subject string) []byte {
	return []byte(strings.Join([]string{
		"From: alice@example.com",
		"To: brain+a3f2e1@example.com",
		"Subject: " + subject,
		"Message-ID: <" + id + ">",
		"",
		"body of " + id,
		"",
	}, "\r\n"))
}

// memIMAPServer serves an in-memory INBOX. With implicitTLS the listener
// speaks TLS from the first byte; otherwise the server offers STARTTLS.
func memIMAPServer(t *testing.T, implicitTLS bool) (*imapmemserver.User, IMAPConfig) {
	t.Helper()

	user := imapmemserver.NewUser(testUser, testPassword)
	if err := user.Create(inbox, nil); err != nil {
		t.Fatalf("creating INBOX: %v", err)
	}
	mem := imapmemserver.New()
	mem.AddUser(user)

	tlsConfig := testutil.ServerTLSConfig(t)
	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		TLSConfig: tlsConfig,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if implicitTLS {
		ln = tls.NewListener(ln, tlsConfig)
	}

	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	return user, IMAPConfig{
		Host:               "127.0.0.1",
		Port:               port,
		Username:           testUser,
		Password:           testPassword,
		StartTLS:           !implicitTLS,
		InsecureSkipVerify: true,
	}
}

func appendMessage(t *testing.T, user *imapmemserver.User, raw []byte, flags ...imap.Flag) {
	t.Helper()

	opts := &imap.AppendOptions{
		Flags: flags,
		Time:  time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	if _, err := user.Append(inbox, bytes.NewReader(raw), opts); err != nil {
		t.Fatalf("appending message: %v", err)
	}
}

func TestIMAPSessionFetchesUnseenAndMarksThem(t *testing.T) {
	t.Parallel()

	user, cfg := memIMAPServer(t, true)
	appendMessage(t, user, imapMessage("one@example.com", "first"))
	appendMessage(t, user, imapMessage("read@example.com", "already read"), imap.FlagSeen)
	appendMessage(t, user, imapMessage("two@example.com", "second"))

	c := NewIMAPClient(cfg, nil)
	s, err := c.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := s.SelectInbox(); err != nil {
		t.Fatalf("SelectInbox: %v", err)
	}
	uids, err := s.SearchUnseen()
	if err != nil {
		t.Fatalf("SearchUnseen: %v", err)
	}
	if len(uids) != 2 || uids[0] != 1 || uids[1] != 3 {
		t.Fatalf("SearchUnseen() = %v, want [1 3]", uids)
	}

	fetched, err := s.Fetch(uids)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fetched) != 2 {
		t.Fatalf("fetched %d messages, want 2", len(fetched))
	}
	byUID := make(map[uint32]Fetched)
	for _, f := range fetched {
		byUID[f.UID] = f
	}
	if !bytes.Contains(byUID[1].Raw, []byte("Message-ID: <one@example.com>")) {
		t.Errorf("uid 1 body = %q", byUID[1].Raw)
	}
	if !bytes.Contains(byUID[3].Raw, []byte("body of two@example.com")) {
		t.Errorf("uid 3 body = %q", byUID[3].Raw)
	}
	if byUID[1].InternalDate.IsZero() {
		t.Error("InternalDate not fetched")
	}

	// Fetching uses BODY.PEEK, so nothing is read yet.
	if st, err := user.Status(inbox, &imap.StatusOptions{NumUnseen: true}); err != nil || *st.NumUnseen != 2 {
		t.Fatalf("unseen after fetch = %v (err %v), want 2", st, err)
	}

	if err := s.MarkSeen(uids); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	_ = s.Close()

	st, err := user.Status(inbox, &imap.StatusOptions{NumUnseen: true})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if *st.NumUnseen != 0 {
		t.Errorf("unseen after MarkSeen = %d, want 0", *st.NumUnseen)
	}

	// A fresh session finds nothing left to do.
	s, err = c.Dial(context.Background())
	if err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	defer s.Close()
	if err := s.SelectInbox(); err != nil {
		t.Fatalf("SelectInbox: %v", err)
	}
	if uids, err := s.SearchUnseen(); err != nil || len(uids) != 0 {
		t.Errorf("SearchUnseen() after marking = %v, %v, want none", uids, err)
	}
}

func TestIMAPClientValidateOverSTARTTLS(t *testing.T) {
	t.Parallel()

	_, cfg := memIMAPServer(t, false)

	if err := NewIMAPClient(cfg, nil).Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg.Password = "wrong"
	err := NewIMAPClient(cfg, nil).Validate(context.Background())
	if !IsAuthError(err) {
		t.Errorf("Validate() with bad password = %v, want AuthError", err)
	}
}
