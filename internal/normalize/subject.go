package normalize

import (
	"regexp"
	"strings"

	"github.com/nhle/secondbrain/internal/model"
)

var (
	hintPattern   = regexp.MustCompile(`(?i)^\[(person|project|idea|task)\]\s*`)
	tokenPattern  = regexp.MustCompile(`(?i)\[SB-([0-9a-f]{8})\]`)
	prefixPattern = regexp.MustCompile(`(?i)^(re|fwd?|aw|sv)\s*:\s*`)
	spacePattern  = regexp.MustCompile(`\s{2,}`)
)

var hintCategories = map[string]model.Category{
	"person":  model.CategoryPeople,
	"project": model.CategoryProjects,
	"idea":    model.CategoryIdeas,
	"task":    model.CategoryAdmin,
}

// HintKeywords lists the bracket keywords in display order.
var HintKeywords = []string{"[person]", "[project]", "[idea]", "[task]"}

// ExtractHint returns the category named by a bracket hint that opens
// subject, or "" when there is none. Leading whitespace disqualifies the
// hint.
func ExtractHint(subject string) model.Category {
	m := hintPattern.FindStringSubmatch(subject)
	if m == nil {
		return ""
	}
	return hintCategories[strings.ToLower(m[1])]
}

// StripHint removes a leading bracket hint and the whitespace after it.
func StripHint(subject string) string {
	return hintPattern.ReplaceAllString(subject, "")
}

// ExtractCorrelationToken returns the lowercase token from the first
// [SB-xxxxxxxx] marker in subject, falling back to body.
func ExtractCorrelationToken(subject, body string) string {
	for _, s := range []string{subject, body} {
		if m := tokenPattern.FindStringSubmatch(s); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

// BaseSubject strips reply prefixes, bracket hints and correlation
// markers so a subject can be reused in a confirmation.
func BaseSubject(subject string) string {
	s := tokenPattern.ReplaceAllString(subject, "")
	for {
		s = strings.TrimSpace(s)
		next := prefixPattern.ReplaceAllString(s, "")
		next = StripHint(next)
		if next == s {
			break
		}
		s = next
	}
	return spacePattern.ReplaceAllString(s, " ")
}
