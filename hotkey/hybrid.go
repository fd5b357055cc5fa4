package hotkey

import (
	"context"
	"time"
)

type Mode string

const (
	ModePTT    Mode = "ptt"
	ModeToggle Mode = "toggle"
)

// DefaultLongPress separates a tap from a hold.
const DefaultLongPress = 400 * time.Millisecond

type Kind int

const (
	Start Kind = iota
	Stop
)

// Action is one toggle of the recording. A hold ends on release; a tap
// ends on the next press-release. Mode is set on Stop only.
type Action struct {
	Kind Kind
	Mode Mode
}

// Hybrid maps raw key edges to actions with tap-to-toggle and
// hold-to-talk on the same chord.
type Hybrid struct {
	actions chan Action
	done    chan struct{}
}

func NewHybrid(ctx context.Context, hk Hotkey, longPress time.Duration) *Hybrid {
	if longPress <= 0 {
		longPress = DefaultLongPress
	}
	h := &Hybrid{
		actions: make(chan Action, 4),
		done:    make(chan struct{}),
	}
	go h.run(ctx, hk, longPress)
	return h
}

func (h *Hybrid) Actions() <-chan Action { return h.actions }

// Done is closed when the run loop exits.
func (h *Hybrid) Done() <-chan struct{} { return h.done }

func (h *Hybrid) emit(ctx context.Context, a Action) bool {
	select {
	case h.actions <- a:
		return true
	case <-ctx.Done():
		return false
	}
}

func wait(ctx context.Context, ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Hybrid) run(ctx context.Context, hk Hotkey, longPress time.Duration) {
	defer close(h.done)
	for {
		if !wait(ctx, hk.Keydown()) {
			return
		}
		// Recording starts on press; the hold length only decides how it stops.
		if !h.emit(ctx, Action{Kind: Start}) {
			return
		}
		timer := time.NewTimer(longPress)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !wait(ctx, hk.Keyup()) || !h.emit(ctx, Action{Kind: Stop, Mode: ModePTT}) {
				return
			}
		case <-hk.Keyup():
			timer.Stop()
			if !wait(ctx, hk.Keydown()) || !wait(ctx, hk.Keyup()) {
				return
			}
			if !h.emit(ctx, Action{Kind: Stop, Mode: ModeToggle}) {
				return
			}
		}
	}
}
