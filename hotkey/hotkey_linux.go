//go:build linux

package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0
	keyLCtrl   = 29
	keyRCtrl   = 97
	keyLShift  = 42
	keyRShift  = 54
	keySpace   = 57
)

// struct input_event on 64-bit: 16 bytes timeval, u16 type, u16 code, s32 value
const inputEventSize = 24

var (
	inputDir  = "/dev/input"
	sysfsDir  = "/sys/class/input"
	rescanGap = 2 * time.Second
)

var errNoKeyboards = errors.New("no keyboard devices found (is user in 'input' group?)")

// evdevHotkey reads every keyboard under /dev/input. Devices are rescanned
// periodically so keyboards plugged in (or reconnected over bluetooth)
// after Register are picked up.
type evdevHotkey struct {
	keydown chan struct{}
	keyup   chan struct{}

	mu    sync.Mutex
	open  map[string]*os.File
	stop  chan struct{}
	wg    sync.WaitGroup
	scans sync.WaitGroup
}

func New() Hotkey {
	return &evdevHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *evdevHotkey) Register() error {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return errors.New("hotkey: already registered")
	}
	stop := make(chan struct{})
	h.stop = stop
	h.open = make(map[string]*os.File)
	h.mu.Unlock()

	found, opened, err := h.scan()
	if err == nil && found == 0 {
		err = errNoKeyboards
	}
	if err == nil && opened == 0 {
		err = errors.New("could not open any keyboard device (run: sudo usermod -aG input $USER, then re-login)")
	}
	if err != nil {
		h.Unregister()
		return err
	}

	h.scans.Add(1)
	go h.rescan(stop)
	return nil
}

// scan opens keyboards not yet being read and reports how many keyboards
// exist and how many are open.
func (h *evdevHotkey) scan() (found, opened int, err error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return 0, 0, fmt.Errorf("finding keyboards: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop == nil {
		return len(keyboards), 0, nil
	}
	for _, path := range keyboards {
		if _, ok := h.open[path]; ok {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.open[path] = f
		h.wg.Add(1)
		go h.read(path, f)
	}
	return len(keyboards), len(h.open), nil
}

// rescan watches the stop channel it was started with; h.stop is cleared
// by Unregister before the channel is closed.
func (h *evdevHotkey) rescan(stop <-chan struct{}) {
	defer h.scans.Done()
	t := time.NewTicker(rescanGap)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			h.scan()
		}
	}
}

// read forwards chord edges from one device until it fails, which happens
// on unplug or when Unregister closes the file.
func (h *evdevHotkey) read(path string, f *os.File) {
	defer h.wg.Done()
	defer h.forget(path, f)

	buf := make([]byte, inputEventSize*16)
	var c chord
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for _, k := range decodeKeys(buf[:n]) {
			var ch chan struct{}
			switch c.feed(k.code, k.value) {
			case edgeDown:
				ch = h.keydown
			case edgeUp:
				ch = h.keyup
			default:
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (h *evdevHotkey) forget(path string, f *os.File) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open[path] == f {
		delete(h.open, path)
		f.Close()
	}
}

func (h *evdevHotkey) Unregister() {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	files := h.open
	h.open = nil
	h.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	for _, f := range files {
		f.Close()
	}
	h.scans.Wait()
	h.wg.Wait()
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }

func (h *evdevHotkey) Keyup() <-chan struct{} { return h.keyup }

type keyEvent struct {
	code  uint16
	value int32
}

// decodeKeys extracts EV_KEY events from raw input_event records. A
// trailing partial record is ignored.
func decodeKeys(buf []byte) []keyEvent {
	var out []keyEvent
	for i := 0; i+inputEventSize <= len(buf); i += inputEventSize {
		if binary.LittleEndian.Uint16(buf[i+16:]) != evKey {
			continue
		}
		out = append(out, keyEvent{
			code:  binary.LittleEndian.Uint16(buf[i+18:]),
			value: int32(binary.LittleEndian.Uint32(buf[i+20:])),
		})
	}
	return out
}

// chord tracks modifier state across key events from one device.
type chord struct {
	ctrl, shift, space bool
}

type edge int

const (
	edgeNone edge = iota
	edgeDown
	edgeUp
)

// feed applies one EV_KEY event. Space only counts as the chord while both
// modifiers are held at press time; the release fires regardless.
func (c *chord) feed(code uint16, value int32) edge {
	pressed := value == keyPress
	released := value == keyRelease

	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = pressed || (!released && c.ctrl)
	case keyLShift, keyRShift:
		c.shift = pressed || (!released && c.shift)
	case keySpace:
		if pressed && !c.space && c.ctrl && c.shift {
			c.space = true
			return edgeDown
		}
		if released && c.space {
			c.space = false
			return edgeUp
		}
	}
	return edgeNone
}

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, err
	}
	var keyboards []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "event") && isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join(inputDir, e.Name()))
		}
	}
	return keyboards, nil
}

// isKeyboard checks the key capability bitmap. Mice and power buttons
// report only a few words; keyboards report the full letter range.
func isKeyboard(eventName string) bool {
	data, err := os.ReadFile(filepath.Join(sysfsDir, eventName, "device", "capabilities", "key"))
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 10
}

func Diagnose() (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", errNoKeyboards
	}
	for _, path := range keyboards {
		if f, err := os.Open(path); err == nil {
			f.Close()
			return fmt.Sprintf("%d keyboard(s) found, opened %s", len(keyboards), path), nil
		}
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
}
