package audio

import (
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Writer is a mono 16-bit WAV file shared between the capture callback and
// the recorder goroutine. A panic inside Write disables the writer instead
// of propagating; Finalize still closes the file with what was captured.
type Writer struct {
	mu       sync.Mutex
	path     string
	rate     int
	f        *os.File
	enc      *wav.Encoder
	buf      *goaudio.IntBuffer
	samples  int64
	closed   bool
	poisoned bool
}

type FileInfo struct {
	Path     string
	Samples  int64
	Bytes    int64
	Duration time.Duration
}

func CreateWriter(path string, sampleRate int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating wav: %w", err)
	}
	return &Writer{
		path: path,
		rate: sampleRate,
		f:    f,
		enc:  wav.NewEncoder(f, sampleRate, BitsPerSample, Channels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: Channels, SampleRate: sampleRate},
			SourceBitDepth: BitsPerSample,
		},
	}, nil
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Write(samples []int16) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.poisoned {
		return ErrWriterPoisoned
	}
	if w.closed {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			w.poisoned = true
			err = fmt.Errorf("%w: %v", ErrWriterPoisoned, p)
		}
	}()
	return w.writeLocked(samples)
}

func (w *Writer) writeLocked(samples []int16) error {
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		w.buf.Data[i] = int(s)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("writing wav: %w", err)
	}
	w.samples += int64(len(samples))
	return nil
}

func (w *Writer) Poisoned() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.poisoned
}

func (w *Writer) Samples() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// Finalize writes the header and closes the file. Safe to call twice.
func (w *Writer) Finalize() (FileInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info := FileInfo{
		Path:     w.path,
		Samples:  w.samples,
		Duration: time.Duration(w.samples) * time.Second / time.Duration(w.rate),
	}
	if w.closed {
		if st, err := os.Stat(w.path); err == nil {
			info.Bytes = st.Size()
		}
		return info, nil
	}
	w.closed = true

	encErr := w.enc.Close()
	closeErr := w.f.Close()
	if encErr != nil {
		return info, fmt.Errorf("finalizing wav: %w", encErr)
	}
	if closeErr != nil {
		return info, fmt.Errorf("closing wav: %w", closeErr)
	}
	st, err := os.Stat(w.path)
	if err != nil {
		return info, err
	}
	info.Bytes = st.Size()
	return info, nil
}

// ReadWAV decodes a mono 16-bit WAV file into samples.
func ReadWAV(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding %s: %w", path, err)
	}
	if dec.NumChans != Channels || dec.BitDepth != BitsPerSample {
		return nil, 0, fmt.Errorf("%s: want mono 16-bit, got %d ch %d bit", path, dec.NumChans, dec.BitDepth)
	}
	out := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		out[i] = int16(s)
	}
	return out, int(dec.SampleRate), nil
}
