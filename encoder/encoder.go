// Package encoder compresses a finished recording before batch upload.
package encoder

import (
	"bytes"
	"time"

	"vokey/audio"
)

const (
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Result is an encoded recording ready for upload.
type Result struct {
	Data       []byte
	Format     string // "flac"
	SampleRate int
	Samples    uint64
	RawBytes   int
	EncodeTime time.Duration
}

// EncodeFile re-encodes a recorded WAV file as FLAC at its own sample rate.
func EncodeFile(path string) (Result, error) {
	samples, rate, err := audio.ReadWAV(path)
	if err != nil {
		return Result{}, err
	}
	return Encode(samples, rate)
}

func Encode(samples []int16, rate int) (Result, error) {
	start := time.Now()
	var buf bytes.Buffer
	buf.Grow(len(samples)) // roughly half the raw size for speech
	s, err := newFlacStream(&buf, rate, uint64(len(samples)))
	if err != nil {
		return Result{}, err
	}
	for i := 0; i < len(samples); i += BlockSize {
		if err := s.writeBlock(samples[i:min(i+BlockSize, len(samples))]); err != nil {
			return Result{}, err
		}
	}
	if err := s.close(); err != nil {
		return Result{}, err
	}
	return Result{
		Data:       buf.Bytes(),
		Format:     "flac",
		SampleRate: rate,
		Samples:    s.written,
		RawBytes:   len(samples) * 2,
		EncodeTime: time.Since(start),
	}, nil
}
