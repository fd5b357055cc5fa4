package encoder

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// flacStream writes mono 16-bit blocks as verbatim subframes. The encoder's
// prediction analysis picks a fixed predictor per frame when one is smaller.
type flacStream struct {
	enc     *flac.Encoder
	rate    uint32
	written uint64
}

// newFlacStream writes the stream header. total is recorded in STREAMINFO
// so decoders know the duration up front; 0 means unknown.
func newFlacStream(w io.Writer, sampleRate int, total uint64) (*flacStream, error) {
	if sampleRate <= 0 || sampleRate > 655350 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      total,
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	return &flacStream{enc: enc, rate: info.SampleRate}, nil
}

func (s *flacStream) writeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	if len(block) > BlockSize {
		return fmt.Errorf("block of %d samples exceeds %d", len(block), BlockSize)
	}
	samples := make([]int32, len(block))
	for i, v := range block {
		samples[i] = int32(v)
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    s.rate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
	if err := s.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame at sample %d: %w", s.written, err)
	}
	s.written += uint64(len(block))
	return nil
}

func (s *flacStream) close() error { return s.enc.Close() }
