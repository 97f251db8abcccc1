package outbound

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

var utf8Params = map[string]string{"charset": "utf-8"}

// buildMessage renders opts as an RFC 5322 message. Empty In-Reply-To
// and References are left out of the header entirely.
func buildMessage(from string, opts SendOptions, id string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{parseAddress(from)})
	h.SetAddressList("To", []*mail.Address{parseAddress(opts.To)})
	h.SetSubject(opts.Subject)
	h.SetMessageID(id)
	if opts.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{opts.InReplyTo})
	}
	if len(opts.References) > 0 {
		h.SetMsgIDList("References", opts.References)
	}

	var buf bytes.Buffer
	var err error
	if opts.HTML == "" {
		err = writeSingle(&buf, h, opts.Text)
	} else {
		err = writeAlternative(&buf, h, opts.Text, opts.HTML)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSingle(w io.Writer, h mail.Header, text string) error {
	h.SetContentType("text/plain", utf8Params)
	body, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(body, text); err != nil {
		_ = body.Close()
		return fmt.Errorf("writing message body: %w", err)
	}
	if err := body.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}
	return nil
}

func writeAlternative(w io.Writer, h mail.Header, text, html string) error {
	iw, err := mail.CreateInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("creating multipart writer: %w", err)
	}

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain", text},
		{"text/html", html},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, utf8Params)
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return fmt.Errorf("creating %s part: %w", p.contentType, err)
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			_ = pw.Close()
			return fmt.Errorf("writing %s part: %w", p.contentType, err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("closing %s part: %w", p.contentType, err)
		}
	}

	if err := iw.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}
	return nil
}

func parseAddress(s string) *mail.Address {
	if a, err := mail.ParseAddress(s); err == nil {
		return a
	}
	return &mail.Address{Address: s}
}
