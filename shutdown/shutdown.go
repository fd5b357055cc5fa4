// Package shutdown turns termination signals into a graceful exit.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// ForceExitCode is used when a second signal arrives before the graceful
// exit finished.
const ForceExitCode = 130

func Notify(ch chan os.Signal) {
	signal.Notify(ch, signals...)
}

// Watch calls onSignal once for the first signal. A second signal exits the
// process immediately. Watching stops when ctx is done.
func Watch(ctx context.Context, onSignal func(os.Signal)) {
	ch := make(chan os.Signal, 2)
	Notify(ch)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			onSignal(sig)
		case <-ctx.Done():
			return
		}
		select {
		case <-ch:
			os.Exit(ForceExitCode)
		case <-ctx.Done():
		}
	}()
}
