package watch

import "github.com/charmbracelet/bubbles/key"

// KeyMap binds the console's actions.
type KeyMap struct {
	Stop          key.Binding
	EmergencyStop key.Binding
	Refresh       key.Binding
	Quit          key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Stop: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "stop script"),
	),
	EmergencyStop: key.NewBinding(
		key.WithKeys("e", "E"),
		key.WithHelp("e", "emergency stop"),
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

func (k KeyMap) helpLine() string {
	out := ""
	for i, b := range []key.Binding{k.Stop, k.EmergencyStop, k.Refresh, k.Quit} {
		if i > 0 {
			out += " • "
		}
		h := b.Help()
		out += "[" + h.Key + "] " + h.Desc
	}
	return " " + out
}
