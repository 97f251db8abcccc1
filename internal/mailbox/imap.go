package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
)

const (
	dialTimeout    = 10 * time.Second
	sessionTimeout = 2 * time.Minute
	inbox          = "INBOX"
)

// IMAPConfig holds the inbound server settings.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// StartTLS upgrades a plain connection instead of dialing TLS
	// directly.
	StartTLS bool

	// InsecureSkipVerify accepts self-signed certificates.
	InsecureSkipVerify bool
}

// IMAPClient dials IMAP sessions with go-imap v2.
type IMAPClient struct {
	cfg    IMAPConfig
	logger *slog.Logger
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(cfg IMAPConfig, logger *slog.Logger) *IMAPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &IMAPClient{cfg: cfg, logger: logger}
}

// Configured reports whether host and credentials are present.
func (c *IMAPClient) Configured() bool {
	return c.cfg.Host != "" && c.cfg.Username != "" && c.cfg.Password != ""
}

func (c *IMAPClient) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Dial connects, negotiates TLS and logs in. The session is closed when
// ctx is cancelled.
func (c *IMAPClient) Dial(ctx context.Context) (Session, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	return c.dial(ctx)
}

func (c *IMAPClient) dial(ctx context.Context) (*imapSession, error) {
	addr := c.addr()

	d := &net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(sessionTimeout))

	tlsConfig := &tls.Config{
		ServerName:         c.cfg.Host,
		InsecureSkipVerify: c.cfg.InsecureSkipVerify,
	}
	opts := &imapclient.Options{
		TLSConfig:   tlsConfig,
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}

	var client *imapclient.Client
	if c.cfg.StartTLS {
		client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("IMAP STARTTLS with %s: %w", addr, err)
		}
	} else {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake with %s: %w", addr, err)
		}
		client = imapclient.New(tlsConn, opts)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		stopClose()
		_ = client.Close()
		return nil, &AuthError{
			Server: addr,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.cfg.Username, err,
			),
		}
	}

	c.logger.Debug("imap connection established", "address", addr, "user", c.cfg.Username)

	return &imapSession{client: client, stopClose: stopClose, logger: c.logger}, nil
}

// Validate verifies credentials by logging in and selecting INBOX,
// bounded by the dial timeout.
func (c *IMAPClient) Validate(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	s, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("validating IMAP connection: %w", err)
	}
	defer s.Close()

	return s.SelectInbox()
}

type imapSession struct {
	client    *imapclient.Client
	stopClose func() bool
	logger    *slog.Logger
}

func (s *imapSession) SelectInbox() error {
	if _, err := s.client.Select(inbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}
	return nil
}

func (s *imapSession) SearchUnseen() ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := data.AllUIDs()
	out := make([]uint32, len(uids))
	for i, uid := range uids {
		out[i] = uint32(uid)
	}
	return out, nil
}

func (s *imapSession) Fetch(uids []uint32) ([]Fetched, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(uidSet(uids), fetchOpts)
	defer fetchCmd.Close()

	var out []Fetched
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			s.logger.Warn("collecting fetched message", "error", err)
			continue
		}

		out = append(out, Fetched{
			UID:          uint32(buf.UID),
			Raw:          buf.FindBodySection(bodySection),
			InternalDate: buf.InternalDate,
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return out, fmt.Errorf("fetching messages: %w", err)
	}

	return out, nil
}

func (s *imapSession) MarkSeen(uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	storeCmd := s.client.Store(uidSet(uids), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking messages seen: %w", err)
	}
	return nil
}

func (s *imapSession) Close() error {
	s.stopClose()
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Debug("imap logout failed", "error", err)
	}
	return s.client.Close()
}

func uidSet(uids []uint32) imap.UIDSet {
	set := make([]imap.UID, len(uids))
	for i, uid := range uids {
		set[i] = imap.UID(uid)
	}
	return imap.UIDSetNum(set...)
}
