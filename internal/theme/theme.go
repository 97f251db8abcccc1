package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/secondbrain/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// PanelStyle wraps a bordered content area.
var PanelStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// LabelStyle is used for field labels.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Width(12)

// ListItemStyle is the default style for list items.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently selected list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue).
	Foreground(ColorWhite).
	Bold(true)

// ErrorStyle renders error lines.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(ColorRed)

// StateStyle returns the style for the poller state badge.
func StateStyle(running, configured bool) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch {
	case !configured:
		return base.Foreground(ColorRed)
	case running:
		return base.Foreground(ColorGreen)
	default:
		return base.Foreground(ColorYellow)
	}
}

// ResultStyle colors a poll result line by its outcome.
func ResultStyle(r model.PollResult) lipgloss.Style {
	switch {
	case len(r.Errors) > 0:
		return lipgloss.NewStyle().Foreground(ColorRed)
	case r.Unroutable > 0:
		return lipgloss.NewStyle().Foreground(ColorYellow)
	case r.Processed > 0:
		return lipgloss.NewStyle().Foreground(ColorGreen)
	default:
		return lipgloss.NewStyle().Foreground(ColorGray)
	}
}

// CategoryStyle returns a color-coded style for an entry category.
func CategoryStyle(c model.Category) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch c {
	case model.CategoryPeople:
		return base.Foreground(ColorMagenta)
	case model.CategoryProjects:
		return base.Foreground(ColorBlue)
	case model.CategoryIdeas:
		return base.Foreground(ColorYellow)
	case model.CategoryAdmin:
		return base.Foreground(ColorGreen)
	default:
		return base.Foreground(ColorGray)
	}
}
