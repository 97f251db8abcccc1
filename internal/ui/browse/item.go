package browse

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/reply"
	"github.com/nhle/secondbrain/internal/theme"
)

// entryItem wraps a model.Entry so it can be used in a bubbles/list.
type entryItem struct {
	entry model.Entry
}

// FilterValue matches on the category as well as the name, so "/ideas"
// narrows the list to one bucket.
func (i entryItem) FilterValue() string {
	return string(i.entry.Category) + " " + i.entry.Name
}

// itemDelegate renders one entry per line.
type itemDelegate struct {
	now func() time.Time
}

func (d itemDelegate) Height() int                             { return 1 }
func (d itemDelegate) Spacing() int                            { return 0 }
func (d itemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

// Render draws a single list item line.
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(entryItem)
	if !ok {
		return
	}
	e := it.entry

	badge := theme.CategoryStyle(e.Category).Width(9).Render(string(e.Category))
	conf := lipgloss.NewStyle().Foreground(theme.ColorGray).
		Render(fmt.Sprintf("%3d%%", reply.ConfidencePercent(e.Confidence)))
	age := lipgloss.NewStyle().Foreground(theme.ColorGray).
		Render(relativeTime(e.UpdatedAt, d.now()))

	line := fmt.Sprintf("%s %s %s  %s", badge, conf, e.Name, age)

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// relativeTime returns a human-friendly age of t as seen at now.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
