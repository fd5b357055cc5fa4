package audio

import (
	"encoding/binary"
	"errors"
	"strings"
)

const (
	DefaultSampleRate = 48000
	Channels          = 1
	BitsPerSample     = 16
	WAVHeaderSize     = 44
)

var (
	ErrNoDevice          = errors.New("audio: no capture device available")
	ErrNotRecording      = errors.New("audio: not recording")
	ErrAlreadyRecording  = errors.New("audio: already recording")
	ErrThreadClosed      = errors.New("audio: capture thread closed")
	ErrWriterPoisoned    = errors.New("audio: writer disabled after panic")
	ErrStreamDied        = errors.New("audio: capture stream stopped unexpectedly")
	ErrRecoveryExhausted = errors.New("audio: capture stream recovery exhausted")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

// ErrorCallback is fired by a backend at most once per started stream when
// the stream dies underneath the recorder.
type ErrorCallback func(err error)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID      string // opaque platform-specific identifier
	Name    string
	Default bool // the system's current default input
}

// defaultFirst moves the default input to the front, keeping the backend's
// order otherwise.
func defaultFirst(devices []DeviceInfo) {
	for i := range devices {
		if devices[i].Default {
			d := devices[i]
			copy(devices[1:i+1], devices[:i])
			devices[0] = d
			return
		}
	}
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	SetErrorCallback(cb ErrorCallback)
}

// BytesToSamples converts interleaved S16LE bytes into samples. A trailing odd
// byte is dropped.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// MixToMono averages interleaved channels. Mono input is returned as is.
func MixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
