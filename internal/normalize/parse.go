// Package normalize turns raw mail payloads into clean, routable
// messages: MIME parsing, signature and quote removal, category hints
// and correlation tokens.
package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/nhle/secondbrain/internal/model"
)

func init() {
	// go-message only knows the charsets registered with it.
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
}

// ErrMalformedInput is returned when a payload cannot be read as mail.
var ErrMalformedInput = errors.New("malformed mail payload")

const (
	// UnknownSender is substituted when no From address can be parsed.
	UnknownSender = "unknown@unknown"

	generatedIDDomain = "generated.secondbrain"

	defaultBodyPartMaxBytes = 1 << 20
)

// Normalizer parses raw payloads and derives normalized messages.
type Normalizer struct {
	now          func() time.Time
	maxPartBytes int64
}

// New creates a Normalizer using the wall clock.
func New() *Normalizer {
	return &Normalizer{
		now:          time.Now,
		maxPartBytes: defaultBodyPartMaxBytes,
	}
}

// Parse reads an RFC 5322 payload into a RawMessage. It fails only when
// no header field can be read at all; stray non-field lines in the
// header block are skipped and missing fields are replaced by fallbacks. received is used as the timestamp when the payload has
// no usable Date header.
func (n *Normalizer) Parse(raw []byte, received time.Time) (model.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return model.RawMessage{}, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		cleaned, ok := salvageHeader(raw)
		if !ok {
			return model.RawMessage{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		mr, err = mail.CreateReader(bytes.NewReader(cleaned))
		if err != nil && !message.IsUnknownCharset(err) {
			return model.RawMessage{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
	}
	defer mr.Close()

	h := mr.Header
	msg := model.RawMessage{
		From:       firstAddress(h, "From"),
		To:         recipients(h),
		Subject:    subject(h),
		MessageID:  messageID(h, raw),
		InReplyTo:  firstMsgID(h, "In-Reply-To"),
		References: msgIDs(h, "References"),
		Date:       n.date(h, received),
	}

	msg.TextBody, msg.HTMLBody = n.readBodies(mr)

	return msg, nil
}

// Normalize derives the cleaned view of msg.
func (n *Normalizer) Normalize(msg model.RawMessage) model.NormalizedMessage {
	return model.NormalizedMessage{
		Raw:         msg,
		CleanedText: ExtractText(msg),
		Category:    ExtractHint(msg.Subject),
		Token:       ExtractCorrelationToken(msg.Subject, bodyText(msg)),
	}
}

func (n *Normalizer) readBodies(mr *mail.Reader) (text, html string) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}
		if part == nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}

		body, readErr := io.ReadAll(io.LimitReader(part.Body, n.maxPartBytes))
		if readErr != nil && len(body) == 0 {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && text == "":
			text = string(body)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(body)
		}
	}

	return text, html
}

func (n *Normalizer) date(h mail.Header, received time.Time) time.Time {
	if d, err := h.Date(); err == nil && !d.IsZero() {
		return d
	}
	if !received.IsZero() {
		return received
	}
	return n.now()
}

func firstAddress(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err == nil {
		for _, a := range addrs {
			if a.Address != "" {
				return strings.ToLower(a.Address)
			}
		}
	}
	return UnknownSender
}

func recipients(h mail.Header) []model.Address {
	var out []model.Address
	for _, key := range []string{"To", "Cc", "Delivered-To"} {
		addrs, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.Address == "" {
				continue
			}
			out = append(out, model.Address{Name: a.Name, Addr: a.Address})
		}
	}
	return out
}

func subject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		s = h.Get("Subject")
	}
	return strings.TrimSpace(s)
}

// messageID returns the Message-ID, or a stable identifier derived from
// the payload so that a re-delivered copy maps to the same id.
func messageID(h mail.Header, raw []byte) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:12]) + "@" + generatedIDDomain
}

func firstMsgID(h mail.Header, key string) string {
	ids := msgIDs(h, key)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func msgIDs(h mail.Header, key string) []string {
	ids, err := h.MsgIDList(key)
	if err != nil {
		return nil
	}
	return ids
}

// salvageHeader rebuilds a payload whose header block holds lines that
// are not header fields. Those lines, and any continuation lines that
// follow them, are dropped. ok is false when no field survives.
func salvageHeader(raw []byte) (cleaned []byte, ok bool) {
	var kept bytes.Buffer
	fields := 0
	inField := false

	rest := raw
	for len(rest) > 0 {
		line := rest
		rest = nil
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line, rest = line[:i], line[i+1:]
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			break
		}

		switch {
		case line[0] == ' ' || line[0] == '\t':
			if !inField {
				continue
			}
		case isFieldLine(line):
			fields++
			inField = true
		default:
			inField = false
			continue
		}
		kept.Write(line)
		kept.WriteString("\r\n")
	}

	if fields == 0 {
		return nil, false
	}
	kept.WriteString("\r\n")
	kept.Write(rest)
	return kept.Bytes(), true
}

// isFieldLine reports whether line starts with a field name and a colon.
func isFieldLine(line []byte) bool {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return false
	}
	for _, c := range line[:i] {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
