// Package doctor walks through the pieces a recording cycle depends on and
// reports which one is broken.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"vokey/audio"
	"vokey/clipboard"
	"vokey/config"
	"vokey/hotkey"
	"vokey/shutdown"
	"vokey/transcriber"
	"vokey/vad"
)

const recordFor = 3 * time.Second

type check struct {
	name string
	run  func(*env) bool
}

type env struct {
	settings config.Settings
	stdin    *bufio.Reader
	tr       transcriber.Transcriber
	wavPath  string
}

var checks = []check{
	{"Transcription provider", checkProvider},
	{"Hotkey", checkHotkey},
	{"Microphone", checkMicrophone},
	{"Speech detection", checkVAD},
	{"Transcription", checkTranscription},
	{"Clipboard", checkClipboard},
}

// Run executes the checks in order and returns an exit code (0 = all pass).
// Later checks are skipped once one fails, since they build on each other.
func Run(s config.Settings) int {
	resetTerminal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown.Watch(ctx, func(os.Signal) {
		fmt.Println("\nInterrupted")
		resetTerminal()
		os.Exit(1)
	})

	fmt.Println("vokey doctor - system diagnostics")
	fmt.Println("=================================")
	fmt.Printf("provider=%q lang=%q format=%s streaming=%v vad=%v\n",
		s.Provider, s.Language, s.UploadFormat, s.StreamingEnabled, s.ShortClipVADEnabled)

	e := &env{settings: s, stdin: bufio.NewReader(os.Stdin)}
	defer func() {
		if e.wavPath != "" {
			os.Remove(e.wavPath)
		}
	}()

	for i, c := range checks {
		fmt.Println()
		fmt.Printf("[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.run(e) {
			fmt.Println()
			fmt.Println("Some checks failed. See details above.")
			return 1
		}
	}
	fmt.Println()
	fmt.Println("All checks passed!")
	return 0
}

func checkProvider(e *env) bool {
	tr, err := transcriber.New(transcriber.Config{
		Provider: e.settings.Provider,
		Language: e.settings.Language,
		Format:   e.settings.UploadFormat,
	})
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	e.tr = tr
	fmt.Printf("  PASS: using %s\n", tr.Name())
	if os.Getenv("OPENAI_API_KEY") == "" && e.settings.StreamingEnabled {
		fmt.Println("  note: streaming enabled but OPENAI_API_KEY not set; live text is off")
	}
	return true
}

func checkHotkey(e *env) bool {
	if msg, err := hotkey.Diagnose(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	} else if msg != "" {
		fmt.Printf("  %s\n", msg)
	}

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	fmt.Printf("Press %s...\n", hotkey.Label)
	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// the chord can leave the terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

// checkMicrophone records through the same Recorder the app uses.
func checkMicrophone(e *env) bool {
	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil || len(devices) == 0 {
		fmt.Printf("  FAIL: no capture devices (%v)\n", err)
		return false
	}
	for _, d := range devices {
		bt := ""
		if audio.IsBluetooth(d.Name) {
			bt = " (bluetooth, expect lower quality)"
		}
		fmt.Printf("  device: %s%s\n", d.Name, bt)
	}

	dir, err := os.MkdirTemp("", "vokey-doctor-")
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	rec := audio.NewRecorder(ctx, audio.RecorderConfig{Dir: dir})
	defer rec.Shutdown()

	fmt.Printf("Press Enter and speak for %d seconds...", int(recordFor.Seconds()))
	e.stdin.ReadString('\n')

	start, err := rec.Start(uuid.New(), audio.Sinks{})
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	fmt.Printf("  Recording from %s at %d Hz", start.Device, start.SampleRate)
	for range int(recordFor / (500 * time.Millisecond)) {
		time.Sleep(500 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" done")

	info, err := rec.Stop()
	if err != nil {
		fmt.Printf("  FAIL: stop error: %v\n", err)
		return false
	}
	if info.Samples == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}
	e.wavPath = info.Path
	fmt.Printf("  PASS: %.1fs, %.1f KB\n", info.Duration.Seconds(), float64(info.Bytes)/1024)
	return true
}

func checkVAD(e *env) bool {
	s := e.settings
	stats, err := vad.Analyze(e.wavPath, vad.Options{IgnoreStartMs: s.VADIgnoreStartMs})
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	th := vad.Thresholds{MinSpeechFrames: s.VADMinSpeechFrames, MaxCrestFactor: s.VADMaxCrestFactor}
	fmt.Printf("  speech frames %d/%d (%.0f%%), crest %.1f\n",
		stats.SpeechFrames, stats.TotalFrames, stats.SpeechRatio()*100, stats.CrestFactor())
	if !vad.Decide(stats, th) {
		fmt.Println("  FAIL: no speech detected; check the input level or device")
		return false
	}
	fmt.Println("  PASS: speech detected")
	return true
}

func checkTranscription(e *env) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := e.tr.Transcribe(ctx, e.wavPath)
	if err != nil {
		fmt.Printf("  FAIL: transcription error: %v\n", err)
		return false
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Printf("\n  Transcribed text: %s\n", text)
	for _, line := range transcriber.FormatMetrics(res) {
		fmt.Printf("  %s\n", line)
	}

	resetTerminal()
	fmt.Print("\nIs this correct? [y/n]: ")
	confirm, _ := e.stdin.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))
	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: transcription verified by user")
		return true
	}
	fmt.Println("  FAIL: transcription not confirmed")
	return false
}

func checkClipboard(e *env) bool {
	prev, _ := clipboard.Read()
	defer clipboard.Copy(prev)

	testStr := fmt.Sprintf("vokey-doctor-%d", time.Now().UnixNano())
	sink := clipboard.NewSink(clipboard.SinkConfig{Grace: 3 * time.Second})
	defer sink.Close()

	if err := sink.Deliver(context.Background(), testStr, false); err != nil {
		fmt.Printf("  FAIL: clipboard write failed: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if err != nil {
		fmt.Printf("  FAIL: clipboard read failed: %v\n", err)
		return false
	}
	if got != testStr {
		fmt.Printf("  FAIL: clipboard mismatch: wrote %q, got %q\n", testStr, got)
		return false
	}
	fmt.Println("  PASS: clipboard write/read verified")

	if !e.settings.AutoPaste {
		return true
	}
	if err := clipboard.Init(); err != nil {
		fmt.Printf("  FAIL: paste init: %v\n", err)
		return false
	}
	fmt.Println("  PASS: paste keystroke ready")
	return true
}
