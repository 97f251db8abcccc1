package normalize

import (
	"regexp"
	"strings"

	"github.com/nhle/secondbrain/internal/model"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	htmlBlockPattern  = regexp.MustCompile(`(?is)<(script|style|head)\b[^>]*>.*?</(script|style|head)>`)
	htmlBreakPattern  = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|tr|h[1-6])>`)
	signatureRun      = regexp.MustCompile(`^[-_]{3,}$`)
	footerPattern     = regexp.MustCompile(`(?i)(?:^|\n)[ \t]*Thread ID:[ \t]*\[SB-[0-9a-f]{8}\][ \t]*(?:\n[^\n]*)?\s*$`)
	htmlEntityReplace = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
)

// ExtractText returns the cleaned body of msg. The plain-text part is
// preferred; HTML is only used when no plain text is present.
func ExtractText(msg model.RawMessage) string {
	return CleanText(bodyText(msg))
}

func bodyText(msg model.RawMessage) string {
	if strings.TrimSpace(msg.TextBody) != "" {
		return msg.TextBody
	}
	if msg.HTMLBody != "" {
		return StripHTML(msg.HTMLBody)
	}
	return ""
}

// CleanText removes the signature, quoted lines and the correlation
// footer from text, then trims it. Cleaning already-cleaned text
// returns it unchanged.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = cutSignature(text)
	text = dropQuoted(text)
	text = stripFooter(text)
	return strings.TrimSpace(text)
}

func cutSignature(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if isSignatureDelimiter(line) {
			return strings.Join(lines[:i], "\n")
		}
	}
	return text
}

func isSignatureDelimiter(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "--" || signatureRun.MatchString(trimmed) {
		return true
	}
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "-- ")
}

func dropQuoted(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func stripFooter(text string) string {
	for {
		loc := footerPattern.FindStringIndex(text)
		if loc == nil {
			return text
		}
		text = strings.TrimRight(text[:loc[0]], " \t\n")
	}
}

// StripHTML converts an HTML body to plain text: block-level breaks
// become newlines, tags are removed and common entities decoded.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := htmlBlockPattern.ReplaceAllString(html, "")
	result = htmlBreakPattern.ReplaceAllString(result, "\n")
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = htmlEntityReplace.Replace(result)
	result = strings.ReplaceAll(result, "\r\n", "\n")

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
