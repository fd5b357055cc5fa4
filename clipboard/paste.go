package clipboard

import (
	"sync"

	"github.com/micmonay/keybd_event"
)

var (
	kb     keybd_event.KeyBonding
	kbOnce sync.Once
	kbErr  error
)

// Init creates the virtual keyboard. On linux this needs write access to
// /dev/uinput.
func Init() error {
	kbOnce.Do(func() {
		kb, kbErr = keybd_event.NewKeyBonding()
	})
	return kbErr
}

// Paste sends the platform paste chord to the focused window.
func Paste() error {
	if err := Init(); err != nil {
		return err
	}
	kb.Clear()
	kb.SetKeys(keybd_event.VK_V)
	setPasteModifier(&kb)
	return kb.Launching()
}
