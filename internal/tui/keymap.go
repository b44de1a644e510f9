package tui

import "charm.land/bubbles/v2/key"

// keyMap holds the board key bindings.
type keyMap struct {
	quit          key.Binding
	reload        key.Binding
	toggleHelp    key.Binding
	moveUp        key.Binding
	moveDown      key.Binding
	setProgress   key.Binding
	setWeight     key.Binding
	complete      key.Binding
	cycleOverride key.Binding
	copyID        key.Binding
	activity      key.Binding
}

// newKeyMap constructs the default bindings.
func newKeyMap() keyMap {
	return keyMap{
		quit:          key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		reload:        key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		toggleHelp:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		moveUp:        key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "item up")),
		moveDown:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "item down")),
		setProgress:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "set progress")),
		setWeight:     key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "set weight")),
		complete:      key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "mark 100%")),
		cycleOverride: key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "cycle override")),
		copyID:        key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy id")),
		activity:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "activity")),
	}
}

// ShortHelp returns the one-line help bindings.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.setProgress, k.setWeight, k.complete, k.cycleOverride, k.toggleHelp, k.quit}
}

// FullHelp returns grouped bindings for the expanded help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.moveUp, k.moveDown, k.reload, k.toggleHelp, k.quit},
		{k.setProgress, k.setWeight, k.complete, k.cycleOverride},
		{k.copyID, k.activity},
	}
}
