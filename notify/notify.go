// Package notify raises desktop notifications.
package notify

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"

	"vokey/log"
)

const appName = "vokey"

// Notifier is safe for concurrent use. The zero value is disabled.
type Notifier struct {
	enabled atomic.Bool
	send    func(title, message, icon string) error
}

func New(enabled bool) *Notifier {
	n := &Notifier{send: beeep.Notify}
	n.enabled.Store(enabled)
	return n
}

func (n *Notifier) SetEnabled(on bool) { n.enabled.Store(on) }

// Error shows message with the app name as title. Failures are logged.
func (n *Notifier) Error(message string) {
	n.show(appName+" error", message)
}

func (n *Notifier) Info(message string) {
	n.show(appName, message)
}

func (n *Notifier) show(title, message string) {
	if n == nil || !n.enabled.Load() || n.send == nil {
		return
	}
	go func() {
		if err := n.send(title, message, ""); err != nil {
			log.Warnf("notification failed: %v", err)
		}
	}()
}
