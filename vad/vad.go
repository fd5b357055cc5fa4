// Package vad decides whether a short recording contains speech worth
// transcribing.
package vad

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"vokey/log"
)

const (
	DefaultFrameMs = 30
	DefaultMode    = 3 // very aggressive
	readChunk      = 4096
)

var ErrUnsupportedFormat = errors.New("vad: unsupported wav format")

type Options struct {
	IgnoreStartMs int
	FrameMs       int
	// Mode is the webrtc aggressiveness, 0 to 3. Nil means DefaultMode.
	Mode *int
}

func (o Options) mode() int {
	if o.Mode == nil {
		return DefaultMode
	}
	return *o.Mode
}

func (o Options) withDefaults() Options {
	if o.FrameMs == 0 {
		o.FrameMs = DefaultFrameMs
	}
	return o
}

type Stats struct {
	TotalFrames    int
	SpeechFrames   int
	TotalSamples   int
	IgnoredSamples int
	PeakAbs        int
	RMS            float64
	AbsMean        float64
	SampleRate     int
}

// DurationMs covers the whole file, ignored lead-in included.
func (s Stats) DurationMs() int64 {
	if s.SampleRate == 0 {
		return 0
	}
	return int64(s.TotalSamples+s.IgnoredSamples) * 1000 / int64(s.SampleRate)
}

func (s Stats) SpeechRatio() float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return float64(s.SpeechFrames) / float64(s.TotalFrames)
}

func (s Stats) RMSToPeak() float64 {
	if s.PeakAbs <= 0 {
		return 0
	}
	return s.RMS / float64(s.PeakAbs)
}

func (s Stats) AbsMeanToPeak() float64 {
	if s.PeakAbs <= 0 {
		return 0
	}
	return s.AbsMean / float64(s.PeakAbs)
}

// CrestFactor is peak over RMS; +Inf for digital silence.
func (s Stats) CrestFactor() float64 {
	if s.RMS <= 0 {
		return math.Inf(1)
	}
	return float64(s.PeakAbs) / s.RMS
}

// Analyze classifies fixed-size frames of a mono 16-bit WAV file, skipping
// the first IgnoreStartMs (the trigger click tends to live there).
func Analyze(path string, opts Options) (Stats, error) {
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Stats{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if !dec.IsValidFile() {
		return Stats{}, fmt.Errorf("%w: %s is not a wav file", ErrUnsupportedFormat, path)
	}
	if dec.NumChans != 1 {
		return Stats{}, fmt.Errorf("%w: %d channels, expected 1", ErrUnsupportedFormat, dec.NumChans)
	}
	if dec.BitDepth != 16 {
		return Stats{}, fmt.Errorf("%w: %d bits per sample, expected 16", ErrUnsupportedFormat, dec.BitDepth)
	}
	rate := int(dec.SampleRate)
	frameLen := rate * opts.FrameMs / 1000

	v, err := webrtcvad.New()
	if err != nil {
		return Stats{}, fmt.Errorf("creating vad: %w", err)
	}
	if frameLen == 0 || !v.ValidRateAndFrameLength(rate, frameLen) {
		return Stats{}, fmt.Errorf("%w: %d Hz with %d ms frames", ErrUnsupportedFormat, rate, opts.FrameMs)
	}
	if err := v.SetMode(opts.mode()); err != nil {
		return Stats{}, fmt.Errorf("vad mode %d: %w", opts.mode(), err)
	}

	a := newAccumulator(frameLen, rate*opts.IgnoreStartMs/1000, func(frame []byte) bool {
		speech, err := v.Process(rate, frame)
		return err == nil && speech
	})

	buf := &goaudio.IntBuffer{Data: make([]int, readChunk)}
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return Stats{}, fmt.Errorf("decoding %s: %w", path, err)
		}
		a.push(buf.Data[:n])
		if n == 0 || err != nil {
			break
		}
	}

	stats := a.stats()
	stats.SampleRate = rate
	log.Debugf("vad %s: frames=%d speech=%d ratio=%.2f rms=%.0f peak=%d crest=%.1f ignored=%d",
		path, stats.TotalFrames, stats.SpeechFrames, stats.SpeechRatio(), stats.RMS,
		stats.PeakAbs, stats.CrestFactor(), stats.IgnoredSamples)
	return stats, nil
}

// accumulator gathers amplitude statistics and feeds whole frames to the
// classifier. Partial trailing frames count toward amplitude only.
type accumulator struct {
	frameLen   int
	ignoreLeft int
	classify   func(frame []byte) bool

	frame      []byte
	total      int
	ignored    int
	frames     int
	speech     int
	peak       int
	sumSquares float64
	sumAbs     float64
}

func newAccumulator(frameLen, ignore int, classify func([]byte) bool) *accumulator {
	return &accumulator{
		frameLen:   frameLen,
		ignoreLeft: ignore,
		classify:   classify,
		frame:      make([]byte, 0, frameLen*2),
	}
}

func (a *accumulator) push(samples []int) {
	for _, s := range samples {
		if a.ignoreLeft > 0 {
			a.ignoreLeft--
			a.ignored++
			continue
		}
		abs := s
		if abs < 0 {
			abs = -abs
		}
		a.peak = max(a.peak, abs)
		a.sumSquares += float64(s) * float64(s)
		a.sumAbs += float64(abs)
		a.total++

		a.frame = binary.LittleEndian.AppendUint16(a.frame, uint16(int16(s)))
		if len(a.frame) == a.frameLen*2 {
			a.frames++
			if a.classify(a.frame) {
				a.speech++
			}
			a.frame = a.frame[:0]
		}
	}
}

func (a *accumulator) stats() Stats {
	st := Stats{
		TotalFrames:    a.frames,
		SpeechFrames:   a.speech,
		TotalSamples:   a.total,
		IgnoredSamples: a.ignored,
		PeakAbs:        a.peak,
	}
	if a.total > 0 {
		st.RMS = math.Sqrt(a.sumSquares / float64(a.total))
		st.AbsMean = a.sumAbs / float64(a.total)
	}
	return st
}

type Thresholds struct {
	MinSpeechFrames int
	MaxCrestFactor  float64
}

var DefaultThresholds = Thresholds{MinSpeechFrames: 3, MaxCrestFactor: 12.0}

// Decide reports whether a clip should be transcribed. Too few speech frames
// and an impulsive waveform (high crest factor, e.g. a lone click) each veto
// on their own.
func Decide(s Stats, th Thresholds) bool {
	if s.SpeechFrames < th.MinSpeechFrames {
		return false
	}
	if s.CrestFactor() > th.MaxCrestFactor {
		return false
	}
	return true
}

type Verdict struct {
	Proceed bool
	Stats   Stats
	Err     error
}

// Gate runs Analyze off the caller's goroutine. Analysis errors, panics and
// ctx expiry all fail closed.
func Gate(ctx context.Context, path string, opts Options, th Thresholds) Verdict {
	ch := make(chan Verdict, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- Verdict{Err: fmt.Errorf("vad panic: %v", p)}
			}
		}()
		stats, err := Analyze(path, opts)
		if err != nil {
			ch <- Verdict{Err: err}
			return
		}
		ch <- Verdict{Proceed: Decide(stats, th), Stats: stats}
	}()

	var v Verdict
	select {
	case v = <-ch:
	case <-ctx.Done():
		v = Verdict{Err: ctx.Err()}
	}
	if v.Err != nil {
		log.Warnf("short clip vad failed, treating as no speech: %v", v.Err)
	}
	logVerdict(v)
	return v
}

func logVerdict(v Verdict) {
	s := v.Stats
	crest := s.CrestFactor()
	if math.IsInf(crest, 0) {
		crest = -1
	}
	log.VADResult(log.VADData{
		TotalFrames:    s.TotalFrames,
		SpeechFrames:   s.SpeechFrames,
		TotalSamples:   s.TotalSamples,
		IgnoredSamples: s.IgnoredSamples,
		PeakAbs:        s.PeakAbs,
		RMS:            s.RMS,
		SpeechRatio:    s.SpeechRatio(),
		RMSToPeak:      s.RMSToPeak(),
		AbsMeanToPeak:  s.AbsMeanToPeak(),
		CrestFactor:    crest,
		DurationMs:     s.DurationMs(),
		Proceed:        v.Proceed,
	})
}
