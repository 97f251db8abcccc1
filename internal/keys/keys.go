package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the watch dashboard.
type KeyMap struct {
	// Polling
	Poll  key.Binding
	Pause key.Binding

	// History
	Clear key.Binding

	// Help toggle
	Help key.Binding

	Quit key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Poll: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "poll now"),
		),
		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p", "pause/resume"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear history"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Poll, k.Pause, k.Help, k.Quit}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Poll, k.Pause},
		{k.Clear, k.Help, k.Quit},
	}
}

// BrowseKeyMap defines the keybindings of the entry browser. Filtering
// and navigation keys belong to the list itself.
type BrowseKeyMap struct {
	Toggle key.Binding
	Reload key.Binding
	Quit   key.Binding
}

// DefaultBrowseKeyMap returns the default entry browser keybindings.
func DefaultBrowseKeyMap() *BrowseKeyMap {
	return &BrowseKeyMap{
		Toggle: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "show/hide entry"),
		),
		Reload: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reload"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
