package digest

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/nhle/secondbrain/internal/model"
)

// Content is a rendered digest ready for SendDailyDigest.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

var categoryOrder = []model.Category{
	model.CategoryProjects,
	model.CategoryPeople,
	model.CategoryIdeas,
	model.CategoryAdmin,
}

// Compose renders entries as the digest for day, grouped by category.
// Entries outside the known categories are listed last.
func Compose(day time.Time, entries []model.Entry) Content {
	groups := make(map[model.Category][]model.Entry)
	var extra []model.Category
	for _, e := range entries {
		if _, ok := groups[e.Category]; !ok && !known(e.Category) {
			extra = append(extra, e.Category)
		}
		groups[e.Category] = append(groups[e.Category], e)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	order := append(append([]model.Category{}, categoryOrder...), extra...)

	subject := fmt.Sprintf("Your daily digest for %s", day.Format("Mon, Jan 2"))

	var text, body strings.Builder
	if len(entries) == 0 {
		text.WriteString("Nothing new was captured.\n")
		body.WriteString("<p>Nothing new was captured.</p>\n")
	} else {
		fmt.Fprintf(&text, "%d new %s captured.\n", len(entries), plural(len(entries), "entry", "entries"))
		fmt.Fprintf(&body, "<p>%d new %s captured.</p>\n", len(entries), plural(len(entries), "entry", "entries"))
	}

	for _, c := range order {
		list := groups[c]
		if len(list) == 0 {
			continue
		}
		title := strings.ToUpper(string(c[:1])) + string(c[1:])

		fmt.Fprintf(&text, "\n%s\n", title)
		fmt.Fprintf(&body, "<h3>%s</h3>\n<ul>\n", html.EscapeString(title))
		for _, e := range list {
			fmt.Fprintf(&text, "  - %s\n", e.Name)
			fmt.Fprintf(&body, "<li>%s</li>\n", html.EscapeString(e.Name))
		}
		body.WriteString("</ul>\n")
	}

	return Content{Subject: subject, Text: text.String(), HTML: body.String()}
}

func known(c model.Category) bool {
	for _, k := range categoryOrder {
		if k == c {
			return true
		}
	}
	return false
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
