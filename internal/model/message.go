package model

import "time"

// Address is a single mailbox address with an optional display name.
type Address struct {
	Name string `json:"name,omitempty"`
	Addr string `json:"addr"`
}

// RawMessage holds the envelope and body data retrieved from the
// mailbox. It is immutable once fetched.
type RawMessage struct {
	// UID is the mailbox-assigned identifier used to set flags.
	UID uint32 `json:"uid"`

	From      string    `json:"from"`
	To        []Address `json:"to"`
	Subject   string    `json:"subject"`
	TextBody  string    `json:"text_body,omitempty"`
	HTMLBody  string    `json:"html_body,omitempty"`
	MessageID string    `json:"message_id"`
	InReplyTo string    `json:"in_reply_to,omitempty"`

	// References is the prior Message-ID chain, oldest first.
	References []string  `json:"references,omitempty"`
	Date       time.Time `json:"date"`
}

// NormalizedMessage is the cleaned, read-only view of a RawMessage that
// is handed to the processor.
type NormalizedMessage struct {
	Raw RawMessage

	// CleanedText has signatures, quoted blocks and the correlation
	// footer removed.
	CleanedText string

	// Category is the subject hint, or empty when the subject carries none.
	Category Category

	// Token is the 8-hex correlation token, or empty.
	Token string
}

// HasHint reports whether the subject carried a category hint.
func (m NormalizedMessage) HasHint() bool {
	return m.Category != ""
}

// PollResult is the outcome of a single mailbox poll cycle.
type PollResult struct {
	Found      int      `json:"found"`
	Processed  int      `json:"processed"`
	Duplicates int      `json:"duplicates"`
	Unroutable int      `json:"unroutable"`
	Errors     []string `json:"errors"`
}
