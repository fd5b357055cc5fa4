//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// malgoPlayer keeps one context and opens a device per cue, which also
// survives sleep/wake on macOS.
type malgoPlayer struct {
	once sync.Once
	ctx  *malgo.AllocatedContext
	err  error
}

func newPlayer() Player { return &malgoPlayer{} }

func (p *malgoPlayer) Play(samples []int16) error {
	p.once.Do(func() {
		p.ctx, p.err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	})
	if p.err != nil {
		return p.err
	}

	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	var mu sync.Mutex
	pos := 0
	done := make(chan struct{})
	var closeOnce sync.Once

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			mu.Lock()
			defer mu.Unlock()
			n := copy(out[:frameCount*2], data[pos:])
			pos += n
			clear(out[n:])
			if pos >= len(data) {
				closeOnce.Do(func() { close(done) })
			}
		},
	}
	dev, err := malgo.InitDevice(p.ctx.Context, config, callbacks)
	if err != nil {
		return err
	}
	defer dev.Uninit()
	if err := dev.Start(); err != nil {
		return err
	}
	select {
	case <-done:
		// let the last period drain
		time.Sleep(50 * time.Millisecond)
	case <-time.After(2 * time.Second):
	}
	return dev.Stop()
}
