//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var (
	testBinary string
	dataDir    string
)

func TestMain(m *testing.M) {
	testBinary = os.Getenv("VOKEY_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "VOKEY_TEST_BIN not set; build the binary and point VOKEY_TEST_BIN at it")
		os.Exit(1)
	}

	var err error
	dataDir, err = os.MkdirTemp("", "vokey-integration-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := writeWAV(filepath.Join(dataDir, "silence.wav"), 16000, make([]int16, 16000*3)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate silence.wav: %v\n", err)
		os.Exit(1)
	}
	tone := make([]int16, 16000*3)
	for i := range tone {
		tone[i] = int16(8000 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	if err := writeWAV(filepath.Join(dataDir, "tone.wav"), 16000, tone); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate tone.wav: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(dataDir)
	os.Exit(code)
}

func writeWAV(path string, sampleRate int, samples []int16) error {
	const headerSize = 44
	dataSize := len(samples) * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(s))
	}
	return os.WriteFile(path, buf, 0644)
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

type result struct {
	stdout string
	logDir string
	recDir string
}

func runVokey(t *testing.T, stdin, wav string, args ...string) result {
	t.Helper()
	r := result{logDir: t.TempDir(), recDir: t.TempDir()}
	cmdArgs := append([]string{"-logpath", r.logDir, "-config", t.TempDir(), "-nostream"}, args...)
	cmdArgs = append(cmdArgs, "-test", filepath.Join(dataDir, wav))

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(), "VOKEY_RECORDINGS_DIR="+r.recDir)

	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("vokey exited with error: %v\noutput: %s", err, out)
	}
	r.stdout = string(out)
	return r
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func requireGroqKey(t *testing.T) {
	t.Helper()
	if os.Getenv("GROQ_API_KEY") == "" {
		t.Skip("GROQ_API_KEY not set")
	}
}

func TestToggleCycle(t *testing.T) {
	r := runVokey(t, cmds("TOGGLE", "SLEEP 2000", "TOGGLE", "WAIT", "QUIT"),
		"tone.wav", "-fake-text", "hello from vokey")
	if !strings.Contains(r.stdout, "done: hello from vokey") {
		t.Errorf("stdout = %q", r.stdout)
	}
	if !strings.Contains(readLog(t, r.logDir, "transcribe_log.txt"), "hello from vokey") {
		t.Error("transcript not logged")
	}
	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	for _, want := range []string{"recording", "transcribing", "done"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
}

func TestHoldToTalk(t *testing.T) {
	r := runVokey(t, cmds("KEYDOWN", "SLEEP 2000", "KEYUP", "WAIT", "QUIT"),
		"tone.wav", "-fake-text", "held")
	if !strings.Contains(r.stdout, "done: held") {
		t.Errorf("stdout = %q", r.stdout)
	}
}

func TestShortClipIsNoSpeech(t *testing.T) {
	r := runVokey(t, cmds("TOGGLE", "SLEEP 100", "TOGGLE", "WAIT", "QUIT"), "tone.wav", "-fake-text", "x")
	if !strings.Contains(r.stdout, "no_speech: duration") {
		t.Errorf("stdout = %q", r.stdout)
	}
	if strings.TrimSpace(readLog(t, r.logDir, "transcribe_log.txt")) != "" {
		t.Error("short clip was transcribed")
	}
}

func TestSilenceRejectedByVAD(t *testing.T) {
	r := runVokey(t, cmds("TOGGLE", "SLEEP 1000", "TOGGLE", "WAIT", "QUIT"), "silence.wav", "-fake-text", "x")
	if !strings.Contains(r.stdout, "no_speech: vad") {
		t.Errorf("stdout = %q", r.stdout)
	}
}

func TestCancelDiscardsRecording(t *testing.T) {
	r := runVokey(t, cmds("TOGGLE", "SLEEP 500", "CANCEL", "WAIT", "QUIT"), "tone.wav", "-fake-text", "x")
	if !strings.Contains(r.stdout, "idle") {
		t.Errorf("stdout = %q", r.stdout)
	}
	entries, _ := os.ReadDir(r.recDir)
	if len(entries) != 0 {
		t.Errorf("cancelled recording left %d files", len(entries))
	}
}

func TestRetention(t *testing.T) {
	script := []string{}
	for range 4 {
		script = append(script, "TOGGLE", "SLEEP 1600", "TOGGLE", "WAIT")
	}
	script = append(script, "QUIT")
	r := runVokey(t, cmds(script...), "tone.wav", "-fake-text", "again")
	if got := strings.Count(r.stdout, "done: again"); got != 4 {
		t.Fatalf("completed %d cycles, want 4\n%s", got, r.stdout)
	}
	// the last cycle's file is swept only when it is dismissed
	entries, _ := os.ReadDir(r.recDir)
	if len(entries) > 5 {
		t.Errorf("kept %d recordings", len(entries))
	}
}

func TestGroqTranscribes(t *testing.T) {
	requireGroqKey(t)
	r := runVokey(t, cmds("TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT", "QUIT"), "tone.wav", "-provider", "groq")
	if !strings.Contains(r.stdout, "done:") && !strings.Contains(r.stdout, "no_speech:") {
		t.Errorf("stdout = %q", r.stdout)
	}
	if !strings.Contains(readLog(t, r.logDir, "diagnostics_log.txt"), "transcription") {
		t.Error("expected transcription metrics in diagnostics")
	}
}
