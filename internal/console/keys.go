package console

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	PowerOn    key.Binding
	PowerOff   key.Binding
	Scram      key.Binding
	ClearScram key.Binding
	LevelUp    key.Binding
	LevelDown  key.Binding
	Safety     key.Binding
	Refresh    key.Binding
	Quit       key.Binding
}

var DefaultKeyMap = KeyMap{
	PowerOn: key.NewBinding(
		key.WithKeys("o"),
		key.WithHelp("o", "power on"),
	),
	PowerOff: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "power off"),
	),
	Scram: key.NewBinding(
		key.WithKeys("s", " "),
		key.WithHelp("s/space", "scram"),
	),
	ClearScram: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear scram"),
	),
	LevelUp: key.NewBinding(
		key.WithKeys("+", "=", "up"),
		key.WithHelp("+/↑", "level up"),
	),
	LevelDown: key.NewBinding(
		key.WithKeys("-", "down"),
		key.WithHelp("-/↓", "level down"),
	),
	Safety: key.NewBinding(
		key.WithKeys("t"),
		key.WithHelp("t", "toggle safety"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k KeyMap) bindings() []key.Binding {
	return []key.Binding{k.PowerOn, k.PowerOff, k.Scram, k.ClearScram, k.LevelUp, k.LevelDown, k.Safety, k.Refresh, k.Quit}
}
