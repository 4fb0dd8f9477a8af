// Package hotkey watches the global Ctrl+Shift+Space combination.
package hotkey

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Label is shown in the viewer help line.
const Label = "ctrl+shift+space"
