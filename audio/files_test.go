package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	w, err := CreateWriter(path, 24000)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write([]int16{1, -1, 32767}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write([]int16{-32768}); err != nil {
		t.Fatal(err)
	}
	info, err := w.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if info.Samples != 4 || info.Bytes != WAVHeaderSize+8 {
		t.Errorf("info = %+v", info)
	}
	again, err := w.Finalize()
	if err != nil || again.Samples != 4 {
		t.Errorf("second finalize: %+v %v", again, err)
	}
	if err := w.Write([]int16{5}); err != nil {
		t.Errorf("write after finalize: %v", err)
	}

	samples, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{1, -1, 32767, -32768}
	if rate != 24000 || fmt.Sprint(samples) != fmt.Sprint(want) {
		t.Errorf("read %v at %d", samples, rate)
	}
}

func TestWriterDuration(t *testing.T) {
	w, err := CreateWriter(filepath.Join(t.TempDir(), "d.wav"), 16000)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(make([]int16, 8000))
	info, _ := w.Finalize()
	if info.Duration != 500*time.Millisecond {
		t.Errorf("duration = %v", info.Duration)
	}
}

func TestRecordingPath(t *testing.T) {
	id := uuid.MustParse("7f9c24e5-0000-4000-8000-000000000001")
	got := RecordingPath("/rec", id, time.Unix(1700000000, 0))
	want := filepath.Join("/rec", "1700000000_7f9c24e5-0000-4000-8000-000000000001.wav")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	name := filepath.Base(RecordingPath(t.TempDir(), uuid.New(), time.Now()))
	if !regexp.MustCompile(`^\d+_[0-9a-f-]{36}\.wav$`).MatchString(name) {
		t.Errorf("bad name %s", name)
	}
}

func TestMaxRecordings(t *testing.T) {
	tests := []struct {
		env  string
		want int
	}{
		{"", 5},
		{"10", 10},
		{"0", 0},
		{" 3 ", 3},
		{"-1", 5},
		{"lots", 5},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("VOKEY_MAX_RECORDINGS", tt.env)
			if got := MaxRecordings(DefaultMaxRecordings); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCleanupOldRecordings(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		p := filepath.Join(dir, fmt.Sprintf("%d.wav", i))
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		os.Chtimes(p, mt, mt)
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644)

	removed, err := CleanupOldRecordings(dir, 5)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("removed %d, want 3", removed)
	}

	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	want := []string{"3.wav", "4.wav", "5.wav", "6.wav", "7.wav", "notes.txt"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("left %v, want %v", names, want)
	}

	if n, err := CleanupOldRecordings(dir, 5); n != 0 || err != nil {
		t.Errorf("second pass removed %d (%v)", n, err)
	}
	if n, err := CleanupOldRecordings(filepath.Join(dir, "missing"), 5); n != 0 || err != nil {
		t.Errorf("missing dir: %d %v", n, err)
	}
}

func TestRecordingsDirOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "rec")
	t.Setenv("VOKEY_RECORDINGS_DIR", dir)
	got, err := RecordingsDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Errorf("got %s", got)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Error("dir not created")
	}
}

func TestConfigCache(t *testing.T) {
	ctx := &listContext{devices: []DeviceInfo{{ID: "1", Name: "Built-in Mic"}, {ID: "2", Name: "USB Headset"}}}

	c := NewConfigCache(ctx, "usb", 0)
	cfg, err := c.Get()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device == nil || cfg.Device.ID != "2" || cfg.SampleRate != DefaultSampleRate || cfg.Channels != 1 {
		t.Errorf("cfg = %+v", cfg)
	}
	c.Get()
	if ctx.calls != 1 {
		t.Errorf("devices enumerated %d times, want cached", ctx.calls)
	}
	c.Invalidate()
	c.Get()
	if ctx.calls != 2 {
		t.Errorf("Invalidate did not force re-enumeration")
	}

	cfg, _ = NewConfigCache(ctx, "nope", 0).Get()
	if cfg.Device != nil || cfg.DeviceName() != "system default" {
		t.Errorf("unmatched name should use default, got %+v", cfg.Device)
	}

	if _, err := NewConfigCache(&listContext{}, "", 0).Get(); err != ErrNoDevice {
		t.Errorf("empty list: %v", err)
	}
}

type listContext struct {
	devices []DeviceInfo
	calls   int
}

func (l *listContext) Devices() ([]DeviceInfo, error) {
	l.calls++
	return l.devices, nil
}

func (l *listContext) NewCapture(*DeviceInfo, CaptureConfig) (CaptureDevice, error) {
	return nil, ErrNoDevice
}

func (l *listContext) Close() {}

func TestBytesToSamples(t *testing.T) {
	got := BytesToSamples([]byte{0x01, 0x00, 0xfe, 0xff, 0xff, 0x7f, 0x09})
	if fmt.Sprint(got) != "[1 -2 32767]" {
		t.Errorf("got %v", got)
	}
	if m := MixToMono([]int16{100, 200, -50, 50}, 2); fmt.Sprint(m) != "[150 0]" {
		t.Errorf("mix = %v", m)
	}
}

func TestWaveform(t *testing.T) {
	w := NewWaveform()
	if w.Bars() != [WaveformBars]float64{} {
		t.Error("new meter not silent")
	}

	loud := make([]int16, 2400)
	for i := range loud {
		loud[i] = 32767
	}
	w.Push(loud)
	first := w.Bars()
	if first[0] < 0.29 || first[0] > 0.31 {
		t.Errorf("first push should be 30%% of full scale, got %f", first[0])
	}
	for i := 0; i < 30; i++ {
		w.Push(loud)
	}
	for i, b := range w.Bars() {
		if b < 0.99 || b > 1 {
			t.Fatalf("bar %d = %f, want ~1", i, b)
		}
	}

	w.Push(make([]int16, waveformCapacity))
	if w.Bars()[0] > 0.71 {
		t.Errorf("silence should decay the bars, got %f", w.Bars()[0])
	}

	w.Reset()
	if w.Bars() != [WaveformBars]float64{} {
		t.Error("reset left levels")
	}
}
