//go:build !windows

package shutdown

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestWatchCallsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan os.Signal, 1)
	Watch(ctx, func(sig os.Signal) { got <- sig })

	// give Watch a moment to register before signalling ourselves
	time.Sleep(20 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatal(err)
	}
	select {
	case sig := <-got:
		if sig != syscall.SIGHUP {
			t.Errorf("got %v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onSignal not called")
	}
}

func TestWatchStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 1)
	Watch(ctx, func(os.Signal) { called <- struct{}{} })
	cancel()

	select {
	case <-called:
		t.Error("onSignal called without a signal")
	case <-time.After(50 * time.Millisecond):
	}
}
