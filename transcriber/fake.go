package transcriber

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake returns a canned transcript. Used by --test mode and tests.
type Fake struct {
	text         string
	err          error
	noSpeechProb *float64
	delay        time.Duration

	mu    sync.Mutex
	paths []string
}

func NewFake(text string, err error) *Fake {
	return &Fake{text: text, err: err}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) WithNoSpeechProb(p float64) *Fake {
	f.noSpeechProb = &p
	return f
}

func (f *Fake) WithDelay(d time.Duration) *Fake {
	f.delay = d
	return f
}

// Calls returns the paths passed to Transcribe so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *Fake) Transcribe(ctx context.Context, path string) (*Result, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, fmt.Errorf("fake transcriber error: %w", f.err)
	}
	return &Result{
		Text:         f.text,
		NoSpeechProb: f.noSpeechProb,
		Metrics:      &NetworkMetrics{TTFB: 10 * time.Millisecond},
		Batch: &BatchStats{
			AudioLengthS: 1.0,
			TotalTimeMs:  10,
			Format:       "wav",
		},
	}, nil
}
