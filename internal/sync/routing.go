package sync

import (
	"regexp"
	"strings"

	"github.com/nhle/secondbrain/internal/model"
)

var routingCodePattern = regexp.MustCompile(`(?i)\+([0-9a-f]{6})@`)

// RoutingCode returns the lowercase 6-hex code from the first recipient
// of the form local+code@domain, or "" when no recipient carries one.
func RoutingCode(recipients []model.Address) string {
	for _, r := range recipients {
		if m := routingCodePattern.FindStringSubmatch(r.Addr); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}
