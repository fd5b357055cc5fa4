package audio

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

type pickAction int

const (
	pickNone pickAction = iota
	pickConfirm
	pickAbort
)

// pickKey applies one key read from a raw terminal to the cursor.
func pickKey(cursor, n int, key []byte) (int, pickAction) {
	switch {
	case len(key) == 1:
		switch key[0] {
		case '\r', '\n':
			return cursor, pickConfirm
		case 3, 'q': // Ctrl+C
			return cursor, pickAbort
		case 'j':
			return min(cursor+1, n-1), pickNone
		case 'k':
			return max(cursor-1, 0), pickNone
		}
	case len(key) == 3 && key[0] == 0x1b && key[1] == '[':
		switch key[2] {
		case 'A':
			return max(cursor-1, 0), pickNone
		case 'B':
			return min(cursor+1, n-1), pickNone
		}
	}
	return cursor, pickNone
}

func renderDevices(w io.Writer, devices []DeviceInfo, cursor int) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		btTag := ""
		if d.Default {
			btTag = " \x1b[2m(default)\x1b[0m"
		}
		if IsBluetooth(d.Name) {
			btTag += " \x1b[33m[lower audio quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, btTag)
		}
	}
}

// SelectDevice shows an interactive picker on the terminal. With a single
// device it returns that device without prompting. A nil result with a nil
// error means the user aborted.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("device selection needs a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	out := os.Stdout
	cursor := 0
	renderDevices(out, devices, cursor)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		var action pickAction
		cursor, action = pickKey(cursor, len(devices), buf[:n])
		switch action {
		case pickConfirm:
			fmt.Fprint(out, "\r\n")
			return &devices[cursor], nil
		case pickAbort:
			fmt.Fprint(out, "\r\n")
			return nil, nil
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		renderDevices(out, devices, cursor)
	}
}
