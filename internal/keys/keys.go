package keys

import "github.com/tasksmint/tasksmint/internal/shortcut"

// Action pairs a dispatcher binding with a stable id and help text.
type Action struct {
	ID      string
	Binding shortcut.Binding
	Help    string
}

// KeyMap defines the default global keybindings for the application.
type KeyMap struct {
	// Creation
	NewBoard Action
	NewTask  Action

	// Search
	Search Action

	// Editing surface (Editor context)
	Submit Action
	Cancel Action

	// Sync
	Refresh Action
}

// DefaultKeyMap returns the default set of keybindings. Accelerators use
// the logical primary modifier so they land on command on platforms
// where that is canonical and ctrl elsewhere.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		NewBoard: Action{
			ID: "new-board",
			Binding: shortcut.Binding{
				Key:          "n",
				Modifiers:    shortcut.ModPrimary,
				Context:      shortcut.ContextGlobal,
				AllowInInput: true,
			},
			Help: "new board",
		},
		NewTask: Action{
			ID: "new-task",
			Binding: shortcut.Binding{
				Key:       "n",
				Modifiers: shortcut.ModPrimary | shortcut.ModShift,
				Context:   shortcut.ContextGlobal,
			},
			Help: "new task",
		},
		Search: Action{
			ID: "search",
			Binding: shortcut.Binding{
				Key:          "f",
				Modifiers:    shortcut.ModPrimary,
				Context:      shortcut.ContextGlobal,
				AllowInInput: true,
			},
			Help: "search",
		},
		Submit: Action{
			ID: "submit",
			Binding: shortcut.Binding{
				Key:          "enter",
				Context:      shortcut.ContextEditor,
				AllowInInput: true,
			},
			Help: "save edit",
		},
		Cancel: Action{
			ID: "cancel",
			Binding: shortcut.Binding{
				Key:          "escape",
				Context:      shortcut.ContextEditor,
				AllowInInput: true,
			},
			Help: "discard edit",
		},
		Refresh: Action{
			ID: "refresh",
			Binding: shortcut.Binding{
				Key:       "r",
				Modifiers: shortcut.ModPrimary | shortcut.ModShift,
				Context:   shortcut.ContextGlobal,
			},
			Help: "sync now",
		},
	}
}

// All returns every action in a stable order, for registration and for
// help views.
func (k *KeyMap) All() []Action {
	return []Action{
		k.NewBoard, k.NewTask, k.Search,
		k.Submit, k.Cancel, k.Refresh,
	}
}
