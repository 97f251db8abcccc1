package outbound

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

const (
	dialTimeout = 10 * time.Second
	sendTimeout = 60 * time.Second
)

// SMTPConfig holds the submission server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// ImplicitTLS dials straight into TLS instead of upgrading with
	// STARTTLS when the server offers it.
	ImplicitTLS bool

	InsecureSkipVerify bool
}

// SMTPTransport submits mail to an SMTP server.
type SMTPTransport struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	d := &net.Dialer{Timeout: dialTimeout}
	return &SMTPTransport{cfg: cfg, dial: d.DialContext}
}

// Name identifies the transport in logs.
func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

// Send delivers env over a fresh authenticated session.
func (t *SMTPTransport) Send(ctx context.Context, env Envelope) error {
	client, cleanup, err := t.connect(ctx, sendTimeout)
	if err != nil {
		return err
	}
	defer cleanup()

	return sendMailViaSMTPClient(client, env)
}

// Verify connects and authenticates without sending anything. The whole
// exchange is bounded by the dial timeout.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, cleanup, err := t.connect(ctx, dialTimeout)
	if err != nil {
		return err
	}
	defer cleanup()

	return client.Quit()
}

func (t *SMTPTransport) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         t.cfg.Host,
		InsecureSkipVerify: t.cfg.InsecureSkipVerify,
	}
}

// connect dials, negotiates TLS and authenticates. The returned cleanup
// closes the client and releases the context watcher.
func (t *SMTPTransport) connect(ctx context.Context, budget time.Duration) (*smtp.Client, func(), error) {
	addr := t.addr()

	conn, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(budget))

	if t.cfg.ImplicitTLS {
		tlsConn := tls.Client(conn, t.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("TLS handshake with %s: %w", addr, err)
		}
		conn = tlsConn
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		stop()
		conn.Close()
		return nil, nil, fmt.Errorf("creating SMTP client: %w", err)
	}
	cleanup := func() {
		stop()
		client.Close()
	}

	// STARTTLS is opportunistic. Without it net/smtp still refuses to
	// send PLAIN credentials to anything but localhost.
	if !t.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(t.tlsConfig()); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("SMTP STARTTLS: %w", err)
			}
		}
	}

	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("SMTP auth: %w", err)
		}
	}

	return client, cleanup, nil
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(client *smtp.Client, env Envelope) error {
	if err := client.Mail(env.From); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	for _, rcpt := range env.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(env.Data); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
