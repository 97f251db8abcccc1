// Package browse is a scrollable, filterable view of one tenant's
// captured entries.
package browse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/secondbrain/internal/keys"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/reply"
	"github.com/nhle/secondbrain/internal/theme"
)

const loadLimit = 500

// Store lists a tenant's entries, newest first.
type Store interface {
	GetEntries(ctx context.Context, tenantID string, limit int) ([]model.Entry, error)
}

// EntriesLoadedMsg is sent when entries have been loaded from the store.
type EntriesLoadedMsg struct {
	Entries []model.Entry
	Err     error
}

// Model is the entry browser.
type Model struct {
	ctx      context.Context
	store    Store
	tenantID string
	keys     *keys.BrowseKeyMap

	list       list.Model
	showDetail bool
	err        error

	width  int
	height int
}

// New creates a browser over tenantID's entries.
func New(ctx context.Context, s Store, tenantID string) Model {
	l := list.New([]list.Item{}, itemDelegate{now: time.Now}, 80, 20)
	l.Title = "Entries"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		ctx:      ctx,
		store:    s,
		tenantID: tenantID,
		keys:     keys.DefaultBrowseKeyMap(),
		list:     l,
		width:    80,
		height:   20,
	}
}

// Init loads the entries.
func (m Model) Init() tea.Cmd {
	return m.Load()
}

// Load returns a tea.Cmd that queries the store.
func (m Model) Load() tea.Cmd {
	ctx, s, id := m.ctx, m.store, m.tenantID
	return func() tea.Msg {
		entries, err := s.GetEntries(ctx, id, loadLimit)
		return EntriesLoadedMsg{Entries: entries, Err: err}
	}
}

// Update handles messages for the browser.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case EntriesLoadedMsg:
		m.err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		items := make([]list.Item, len(msg.Entries))
		for i, e := range msg.Entries {
			items[i] = entryItem{entry: e}
		}
		return m, m.list.SetItems(items)

	case tea.KeyMsg:
		// While the filter prompt is open every key belongs to it.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			m.showDetail = !m.showDetail
			m.resize()
			return m, nil
		case key.Matches(msg, m.keys.Reload):
			return m, m.Load()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) resize() {
	h := m.height
	if m.showDetail {
		h = m.height / 2
	}
	m.list.SetSize(m.width, max(h, 3))
}

// Selected returns the entry under the cursor.
func (m Model) Selected() (model.Entry, bool) {
	it, ok := m.list.SelectedItem().(entryItem)
	if !ok {
		return model.Entry{}, false
	}
	return it.entry, true
}

// View renders the browser.
func (m Model) View() string {
	if m.err != nil {
		return theme.ErrorStyle.Render("Could not load entries: " + m.err.Error())
	}

	if len(m.list.Items()) == 0 {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No entries yet.\n\nMail a thought to your capture address to get started.")
	}

	help := theme.HelpStyle.Render("enter details  / filter  r reload  q quit")
	if !m.showDetail {
		return lipgloss.JoinVertical(lipgloss.Left, m.list.View(), help)
	}

	e, ok := m.Selected()
	if !ok {
		return lipgloss.JoinVertical(lipgloss.Left, m.list.View(), help)
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.list.View(), renderDetail(e, m.width), help)
}

func renderDetail(e model.Entry, width int) string {
	lines := []string{
		theme.LabelStyle.Render("Name") + e.Name,
		theme.LabelStyle.Render("Category") + theme.CategoryStyle(e.Category).Render(string(e.Category)),
		theme.LabelStyle.Render("Confidence") + fmt.Sprintf("%d%%", reply.ConfidencePercent(e.Confidence)),
		theme.LabelStyle.Render("Captured") + e.CreatedAt.Local().Format("Mon Jan 2 15:04"),
		"",
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = theme.HelpStyle.Render("(empty)")
	}
	lines = append(lines, body)

	return theme.PanelStyle.Width(max(width-2, 20)).Render(strings.Join(lines, "\n"))
}
