package audio

import (
	"encoding/binary"
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext replays a WAV file (or supplied samples) through the capture
// callback. Non-realtime mode pushes the whole file on Start, then silence.
type FakeContext struct {
	pcm      []byte
	rate     int
	realtime bool

	mu         sync.Mutex
	startFails int
	dieAfter   int
	captures   []*FakeCapture
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	samples, rate, err := ReadWAV(wavPath)
	if err != nil {
		return nil, err
	}
	return NewFakeContextSamples(samples, rate, realtime), nil
}

func NewFakeContextSamples(samples []int16, rate int, realtime bool) *FakeContext {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return &FakeContext{pcm: pcm, rate: rate, realtime: realtime}
}

func (f *FakeContext) SampleRate() int { return f.rate }

// FailStarts makes the next n capture Starts fail.
func (f *FakeContext) FailStarts(n int) {
	f.mu.Lock()
	f.startFails = n
	f.mu.Unlock()
}

// DieAfter makes the next started capture report a stream error after n
// chunks have been delivered.
func (f *FakeContext) DieAfter(n int) {
	f.mu.Lock()
	f.dieAfter = n
	f.mu.Unlock()
}

// Captures returns every capture created so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, cfg CaptureConfig) (CaptureDevice, error) {
	rate := f.rate
	if rate == 0 {
		rate = int(cfg.SampleRate)
	}
	c := &FakeCapture{ctx: f, pcm: f.pcm, rate: rate, realtime: f.realtime, audioDone: make(chan struct{})}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

func (f *FakeContext) takeStartFailure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startFails > 0 {
		f.startFails--
		return true
	}
	return false
}

func (f *FakeContext) takeDieAfter() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.dieAfter
	f.dieAfter = 0
	return n
}

type FakeCapture struct {
	ctx       *FakeContext
	pcm       []byte
	rate      int
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	onError  ErrorCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	closed   bool
}

func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetErrorCallback(cb ErrorCallback) {
	f.mu.Lock()
	f.onError = cb
	f.mu.Unlock()
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) die() {
	f.mu.Lock()
	cb := f.onError
	f.onError = nil
	f.mu.Unlock()
	if cb != nil {
		cb(ErrStreamDied)
	}
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/2))
	return end
}

func (f *FakeCapture) Start() error {
	if f.ctx != nil && f.ctx.takeStartFailure() {
		return ErrNoDevice
	}
	dieAfter := 0
	if f.ctx != nil {
		dieAfter = f.ctx.takeDieAfter()
	}

	stopCh := make(chan struct{})
	feedDone := make(chan struct{})
	f.mu.Lock()
	f.stopCh = stopCh
	f.feedDone = feedDone
	audioDone := f.audioDone
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * 2
	interval := time.Millisecond
	if f.realtime && f.rate > 0 {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	}

	go func() {
		defer close(feedDone)
		pos := 0
		chunks := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-stopCh:
				return
			default:
			}

			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(audioDone)
				}
				cb(silence, fakeFrameSize)
			}
			chunks++
			if dieAfter > 0 && chunks == dieAfter {
				f.die()
				<-stopCh
				return
			}

			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone

	f.mu.Lock()
	select {
	case <-f.audioDone:
		f.audioDone = make(chan struct{}) // reset for replay
	default:
	}
	f.mu.Unlock()
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
