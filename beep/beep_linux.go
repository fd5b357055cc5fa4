//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// pulsePlayer keeps one pulse connection for the life of the process and
// redials once when the server has gone away between cues.
type pulsePlayer struct {
	mu     sync.Mutex
	client *pulse.Client
}

func newPlayer() Player { return &pulsePlayer{} }

func (p *pulsePlayer) Play(samples []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.play(samples)
	if err == nil {
		return nil
	}
	p.reset()
	return p.play(samples)
}

func (p *pulsePlayer) play(samples []int16) error {
	if p.client == nil {
		c, err := pulse.NewClient(pulse.ClientApplicationName("vokey"))
		if err != nil {
			return err
		}
		p.client = c
	}
	src := &sampleSource{samples: samples}
	stream, err := p.client.NewPlayback(pulse.Int16Reader(src.read),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(s *proto.CreatePlaybackStream) {
			s.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return err
	}
	defer stream.Close()
	stream.Start()
	stream.Drain()
	stream.Stop()
	return stream.Error()
}

func (p *pulsePlayer) reset() {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

type sampleSource struct {
	samples []int16
	pos     int
}

func (s *sampleSource) read(buf []int16) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, pulse.EndOfData
	}
	n := copy(buf, s.samples[s.pos:])
	s.pos += n
	return n, nil
}
