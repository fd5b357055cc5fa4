// Package hotkey turns the global Ctrl+Shift+Space chord into toggle actions.
package hotkey

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Label names the chord for help text.
const Label = "Ctrl+Shift+Space"
