// Package watch is a live terminal dashboard over the mailbox poller.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/secondbrain/internal/keys"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/sync"
	"github.com/nhle/secondbrain/internal/theme"
)

const maxHistory = 50

// Poller is the poll control the dashboard drives.
type Poller interface {
	Start(ctx context.Context)
	Stop()
	Status() sync.Status
	Trigger(ctx context.Context) tea.Cmd
	WaitForNextResult() tea.Cmd
}

// record is one poll outcome kept in the history list.
type record struct {
	at     time.Time
	result model.PollResult
	manual bool
}

// manualResultMsg wraps the result of a poll the user asked for so it is
// not confused with a scheduled cycle.
type manualResultMsg struct {
	sync.PollResultMsg
}

// Model is the dashboard Bubble Tea model.
type Model struct {
	ctx     context.Context
	poller  Poller
	keys    *keys.KeyMap
	help    help.Model
	spinner spinner.Model

	history []record
	polling bool
	width   int
	height  int
}

// New creates a dashboard over p. Scheduled polling starts with Init.
func New(ctx context.Context, p Poller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	return Model{
		ctx:     ctx,
		poller:  p,
		keys:    keys.DefaultKeyMap(),
		help:    help.New(),
		spinner: s,
		width:   80,
		height:  24,
	}
}

// Init starts the poller and subscribes to its results.
func (m Model) Init() tea.Cmd {
	m.poller.Start(m.ctx)
	return tea.Batch(m.spinner.Tick, m.poller.WaitForNextResult())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sync.PollResultMsg:
		m.push(record{at: msg.At, result: msg.Result})
		return m, m.poller.WaitForNextResult()

	case manualResultMsg:
		m.polling = false
		m.push(record{at: msg.At, result: msg.Result, manual: true})
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.poller.Stop()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Poll):
		if m.polling {
			return m, nil
		}
		m.polling = true
		trigger := m.poller.Trigger(m.ctx)
		return m, func() tea.Msg {
			res, _ := trigger().(sync.PollResultMsg)
			return manualResultMsg{res}
		}

	case key.Matches(msg, m.keys.Pause):
		if m.poller.Status().Running {
			m.poller.Stop()
		} else {
			m.poller.Start(m.ctx)
		}
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.history = nil
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	return m, nil
}

// push prepends r and trims the history.
func (m *Model) push(r record) {
	m.history = append([]record{r}, m.history...)
	if len(m.history) > maxHistory {
		m.history = m.history[:maxHistory]
	}
}

// View renders the dashboard.
func (m Model) View() string {
	st := m.poller.Status()

	header := m.renderHeader(st)
	footer := m.renderStatusBar()

	bodyHeight := max(m.height-lipgloss.Height(header)-lipgloss.Height(footer)-2, 3)
	body := theme.PanelStyle.
		Width(max(m.width-2, 20)).
		Height(bodyHeight).
		Render(m.renderBody(st, bodyHeight))

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) renderHeader(st sync.Status) string {
	state := "paused"
	switch {
	case !st.Configured:
		state = "not configured"
	case st.Running:
		state = "polling every " + st.Interval.String()
	}
	if m.polling {
		state = m.spinner.View() + " polling now"
	}

	title := theme.HeaderStyle.Render("secondbrain: mailbox")
	badge := theme.StateStyle(st.Running, st.Configured).Render(state)

	gap := max(m.width-lipgloss.Width(title)-lipgloss.Width(badge), 0)
	return lipgloss.JoinHorizontal(lipgloss.Top, title, strings.Repeat(" ", gap), badge)
}

func (m Model) renderStatusBar() string {
	hints := m.help.View(m.keys)
	return theme.StatusBarStyle.Width(m.width).Render(hints)
}

func (m Model) renderBody(st sync.Status, height int) string {
	var lines []string

	last := "never"
	if !st.LastPoll.IsZero() {
		last = st.LastPoll.Format("15:04:05")
	}
	lines = append(lines,
		theme.LabelStyle.Render("Last poll")+last,
		theme.LabelStyle.Render("Cycles")+fmt.Sprint(st.Cycles),
		"",
	)

	if len(m.history) == 0 {
		lines = append(lines, theme.HelpStyle.Render("Waiting for the first poll..."))
	}

	for _, r := range m.history {
		if len(lines) >= height {
			break
		}
		lines = append(lines, theme.ResultStyle(r.result).Render(FormatResult(r.at, r.result, r.manual)))
		for _, e := range r.result.Errors {
			if len(lines) >= height {
				break
			}
			lines = append(lines, theme.ErrorStyle.Render("    "+e))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatResult renders one poll outcome as a single history line.
func FormatResult(at time.Time, r model.PollResult, manual bool) string {
	src := "tick"
	if manual {
		src = "manual"
	}
	return fmt.Sprintf("%s  %-6s found %d  processed %d  duplicates %d  unroutable %d  errors %d",
		at.Format("15:04:05"), src, r.Found, r.Processed, r.Duplicates, r.Unroutable, len(r.Errors))
}
