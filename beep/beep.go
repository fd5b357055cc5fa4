// Package beep plays short audible cues for recording start, stop and error.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

const sampleRate = 44100

type Sound int

const (
	Start Sound = iota
	Stop
	Error
)

func (s Sound) String() string {
	switch s {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Error:
		return "error"
	}
	return "unknown"
}

type tone struct {
	freq, volume, decay float64
	dur                 float64
	double              bool
}

var tones = map[Sound]tone{
	Start: {freq: 1200, volume: 0.5, decay: 60, dur: 0.2},
	Stop:  {freq: 900, volume: 0.5, decay: 40, dur: 0.2},
	Error: {freq: 350, volume: 0.6, decay: 30, dur: 0.08, double: true},
}

const doubleGap = 0.05

// generateTick renders a decaying sine as mono int16.
func generateTick(rate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(rate) * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(rate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(rate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	b := generateTick(rate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(rate)*gapDur))
	out := make([]int16, 0, len(b)*2+len(gap))
	out = append(out, b...)
	out = append(out, gap...)
	return append(out, b...)
}

func render(s Sound) []int16 {
	t, ok := tones[s]
	if !ok {
		return nil
	}
	if t.double {
		return generateDoubleBeep(sampleRate, t.freq, t.dur, doubleGap, t.volume, t.decay)
	}
	return generateTick(sampleRate, t.freq, t.dur, t.volume, t.decay)
}

// Player outputs mono 16-bit samples at sampleRate. Play may block until
// the sound finishes.
type Player interface {
	Play(samples []int16) error
}

// Cues renders each sound once and plays it in the background.
type Cues struct {
	player  Player
	enabled atomic.Bool
	once    sync.Once
	sounds  map[Sound][]int16
	mu      sync.Mutex
}

// New returns cues on the platform player.
func New(enabled bool) *Cues {
	return NewWithPlayer(newPlayer(), enabled)
}

func NewWithPlayer(p Player, enabled bool) *Cues {
	c := &Cues{player: p}
	c.enabled.Store(enabled)
	return c
}

func (c *Cues) SetEnabled(on bool) { c.enabled.Store(on) }

func (c *Cues) Enabled() bool { return c.enabled.Load() }

func (c *Cues) init() {
	c.sounds = make(map[Sound][]int16, len(tones))
	for s := range tones {
		c.sounds[s] = render(s)
	}
}

// Play starts s without blocking. Overlapping cues are serialized.
func (c *Cues) Play(s Sound) {
	if c == nil || !c.enabled.Load() {
		return
	}
	c.once.Do(c.init)
	samples := c.sounds[s]
	if len(samples) == 0 {
		return
	}
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.player.Play(samples)
	}()
}
