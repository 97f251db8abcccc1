package browse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/secondbrain/internal/model"
)

type fakeStore struct {
	entries  []model.Entry
	err      error
	tenantID string
	limit    int
}

func (f *fakeStore) GetEntries(_ context.Context, tenantID string, limit int) ([]model.Entry, error) {
	f.tenantID, f.limit = tenantID, limit
	return f.entries, f.err
}

func sampleEntries() []model.Entry {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return []model.Entry{
		{ID: "e1", Name: "launch plan", Category: model.CategoryProjects, Confidence: 1, Body: "ship friday", CreatedAt: at, UpdatedAt: at},
		{ID: "e2", Name: "call mom", Category: model.CategoryPeople, Confidence: 0.5, CreatedAt: at, UpdatedAt: at},
	}
}

func runeKey(r string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(r)}
}

func loaded(t *testing.T, s *fakeStore) Model {
	t.Helper()

	m := New(context.Background(), s, "tenant-1")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m = next.(Model)

	next, _ = m.Update(m.Init()())
	return next.(Model)
}

func TestLoad(t *testing.T) {
	s := &fakeStore{entries: sampleEntries()}
	m := loaded(t, s)

	if s.tenantID != "tenant-1" || s.limit != loadLimit {
		t.Errorf("GetEntries(%q, %d), want tenant-1, %d", s.tenantID, s.limit, loadLimit)
	}
	if got := len(m.list.Items()); got != 2 {
		t.Fatalf("items = %d, want 2", got)
	}
	e, ok := m.Selected()
	if !ok || e.ID != "e1" {
		t.Errorf("Selected() = %+v, %v, want e1", e, ok)
	}
	if !strings.Contains(m.View(), "launch plan") {
		t.Errorf("View() missing entry name:\n%s", m.View())
	}
}

func TestToggleDetail(t *testing.T) {
	m := loaded(t, &fakeStore{entries: sampleEntries()})

	if strings.Contains(m.View(), "ship friday") {
		t.Fatal("body shown before toggling detail")
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if !m.showDetail {
		t.Fatal("enter did not open the detail pane")
	}
	if view := m.View(); !strings.Contains(view, "ship friday") || !strings.Contains(view, "100%") {
		t.Errorf("detail view missing body or confidence:\n%s", view)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if next.(Model).showDetail {
		t.Error("second enter did not close the detail pane")
	}
}

func TestLoadError(t *testing.T) {
	m := loaded(t, &fakeStore{err: errors.New("db gone")})

	if !strings.Contains(m.View(), "db gone") {
		t.Errorf("View() = %q, want load error", m.View())
	}
}

func TestEmptyState(t *testing.T) {
	m := loaded(t, &fakeStore{})

	if !strings.Contains(m.View(), "No entries yet.") {
		t.Errorf("View() = %q, want empty state", m.View())
	}
}

func TestReloadAndQuit(t *testing.T) {
	s := &fakeStore{entries: sampleEntries()}
	m := loaded(t, s)

	s.entries = s.entries[:1]
	_, cmd := m.Update(runeKey("r"))
	if cmd == nil {
		t.Fatal("reload returned no command")
	}
	next, _ := m.Update(cmd())
	if got := len(next.(Model).list.Items()); got != 1 {
		t.Errorf("items after reload = %d, want 1", got)
	}

	_, cmd = m.Update(runeKey("q"))
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit command did not produce tea.QuitMsg")
	}
}

func TestFilterValue(t *testing.T) {
	it := entryItem{entry: model.Entry{Name: "launch plan", Category: model.CategoryProjects}}
	if got := it.FilterValue(); got != "projects launch plan" {
		t.Errorf("FilterValue() = %q", got)
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{2 * 24 * time.Hour, "2d ago"},
		{14 * 24 * time.Hour, "2w ago"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := relativeTime(now.Add(-tt.ago), now); got != tt.want {
				t.Errorf("relativeTime(-%v) = %q, want %q", tt.ago, got, tt.want)
			}
		})
	}
	if got := relativeTime(time.Time{}, now); got != "" {
		t.Errorf("relativeTime(zero) = %q, want empty", got)
	}
}
