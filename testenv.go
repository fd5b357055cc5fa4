package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"vokey/audio"
	"vokey/hotkey"
	"vokey/log"
	"vokey/workflow"
)

// driveStdin runs the -test script. One command per line:
//
//	KEYDOWN, KEYUP, TAP   simulate the hotkey chord
//	TOGGLE, CANCEL        send the event directly
//	WAIT                  block until the cycle settles, print the state
//	WAIT_AUDIO_DONE       block until the fake capture has replayed the file
//	SLEEP <ms>
//	QUIT
//
// EOF behaves like QUIT.
func driveStdin(ctx context.Context, r io.Reader, m *machine, hk *hotkey.FakeHotkey, fake *audio.FakeContext) {
	defer m.Send(ctx, workflow.Exit{})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "":
		case "KEYDOWN":
			hk.SimKeydown()
		case "KEYUP":
			hk.SimKeyup()
		case "TAP":
			hk.Tap()
		case "TOGGLE":
			m.Send(ctx, workflow.Toggle{})
		case "CANCEL":
			m.Send(ctx, workflow.Cancel{})
		case "WAIT":
			select {
			case st := <-m.Settled():
				fmt.Fprintln(os.Stdout, describe(st))
			case <-ctx.Done():
				return
			}
		case "WAIT_AUDIO_DONE":
			waitAudioDone(ctx, fake)
		case "QUIT":
			return
		default:
			if ms, ok := strings.CutPrefix(cmd, "SLEEP "); ok {
				if n, err := strconv.Atoi(ms); err == nil {
					time.Sleep(time.Duration(n) * time.Millisecond)
				}
				continue
			}
			log.Warnf("test mode: unknown command %q", cmd)
		}
	}
}

func waitAudioDone(ctx context.Context, fake *audio.FakeContext) {
	// the capture is created by the recorder thread after Start
	deadline := time.Now().Add(5 * time.Second)
	var caps []*audio.FakeCapture
	for len(caps) == 0 && time.Now().Before(deadline) {
		caps = fake.Captures()
		time.Sleep(10 * time.Millisecond)
	}
	if len(caps) == 0 {
		return
	}
	select {
	case <-caps[len(caps)-1].AudioDone():
	case <-ctx.Done():
	}
}

func describe(s workflow.State) string {
	ui := workflow.ToUI(s, time.Now())
	switch ui.Kind {
	case "done":
		return "done: " + ui.Text
	case "no_speech":
		return "no_speech: " + ui.Source
	case "error":
		return "error: " + ui.Message
	}
	return ui.Kind
}
