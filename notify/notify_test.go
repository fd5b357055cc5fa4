package notify

import (
	"testing"
	"time"
)

func TestNotifierSend(t *testing.T) {
	got := make(chan [2]string, 2)
	n := New(true)
	n.send = func(title, message, _ string) error {
		got <- [2]string{title, message}
		return nil
	}

	n.Error("mic unplugged")
	select {
	case m := <-got:
		if m[0] != "vokey error" || m[1] != "mic unplugged" {
			t.Errorf("got %v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	n.SetEnabled(false)
	n.Info("ignored")
	select {
	case m := <-got:
		t.Errorf("disabled notifier sent %v", m)
	case <-time.After(30 * time.Millisecond):
	}

	var zero Notifier
	zero.Error("nothing")
	var nilN *Notifier
	nilN.Error("nothing")
}
