//go:build !linux

package hotkey

import (
	"errors"
	"sync"

	"golang.design/x/hotkey"
)

// osChord wraps golang.design/x/hotkey. Its forwarders live from Register to
// Unregister so the doctor can register and release the chord repeatedly.
type osChord struct {
	keydown chan struct{}
	keyup   chan struct{}

	mu   sync.Mutex
	hk   *hotkey.Hotkey
	stop chan struct{}
	wg   sync.WaitGroup
}

func New() Hotkey {
	return &osChord{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (c *osChord) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hk != nil {
		return errors.New("hotkey: already registered")
	}
	hk := hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeySpace)
	if err := hk.Register(); err != nil {
		return err
	}
	c.hk = hk
	c.stop = make(chan struct{})
	c.wg.Add(2)
	go c.forward(hk.Keydown(), c.keydown, c.stop)
	go c.forward(hk.Keyup(), c.keyup, c.stop)
	return nil
}

// forward drops a press when the previous one has not been consumed yet.
func (c *osChord) forward(src <-chan hotkey.Event, dst chan<- struct{}, stop <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-src:
			select {
			case dst <- struct{}{}:
			default:
			}
		}
	}
}

func (c *osChord) Unregister() {
	c.mu.Lock()
	hk, stop := c.hk, c.stop
	c.hk, c.stop = nil, nil
	c.mu.Unlock()
	if hk == nil {
		return
	}
	close(stop)
	c.wg.Wait()
	hk.Unregister()
}

func (c *osChord) Keydown() <-chan struct{} { return c.keydown }

func (c *osChord) Keyup() <-chan struct{} { return c.keyup }

func Diagnose() (string, error) {
	return "global hotkey via the OS event tap (" + Label + ")", nil
}
