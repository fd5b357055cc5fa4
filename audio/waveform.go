package audio

import (
	"context"
	"math"
	"sync"
)

const (
	WaveformBars     = 24
	waveformCapacity = 10000 // ~200ms at 48kHz
	waveformAlpha    = 0.3
)

// Waveform turns the most recent samples into smoothed per-bar RMS levels in
// [0, 1] for the level meter.
type Waveform struct {
	mu      sync.Mutex
	samples []int16
	bars    [WaveformBars]float64
}

func NewWaveform() *Waveform {
	return &Waveform{samples: make([]int16, 0, waveformCapacity)}
}

func (w *Waveform) Push(samples []int16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(samples) >= waveformCapacity {
		w.samples = append(w.samples[:0], samples[len(samples)-waveformCapacity:]...)
	} else {
		if over := len(w.samples) + len(samples) - waveformCapacity; over > 0 {
			w.samples = append(w.samples[:0], w.samples[over:]...)
		}
		w.samples = append(w.samples, samples...)
	}

	raw := computeBars(w.samples)
	for i := range w.bars {
		w.bars[i] = waveformAlpha*raw[i] + (1-waveformAlpha)*w.bars[i]
	}
}

// Bars returns a copy of the smoothed levels.
func (w *Waveform) Bars() [WaveformBars]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bars
}

func (w *Waveform) Reset() {
	w.mu.Lock()
	w.samples = w.samples[:0]
	w.bars = [WaveformBars]float64{}
	w.mu.Unlock()
}

// Run feeds the meter from ch until ctx is done.
func (w *Waveform) Run(ctx context.Context, ch <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-ch:
			w.Push(s)
		}
	}
}

func computeBars(samples []int16) [WaveformBars]float64 {
	var bars [WaveformBars]float64
	if len(samples) == 0 {
		return bars
	}
	per := max(len(samples)/WaveformBars, 1)
	for b := range bars {
		start := b * per
		if start >= len(samples) {
			break
		}
		end := min(start+per, len(samples))
		var sum float64
		for _, s := range samples[start:end] {
			v := float64(s) / math.MaxInt16
			sum += v * v
		}
		bars[b] = min(math.Sqrt(sum/float64(end-start)), 1)
	}
	return bars
}
