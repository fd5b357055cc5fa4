//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// streamCheck is how often the pulse watcher looks for a dead record stream.
const streamCheck = 100 * time.Millisecond

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("vokey"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

// Devices lists capture sources with the server default first. Monitor
// sources (the loopback of each output) are left out.
func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var defaultID string
	if def, err := p.client.DefaultSource(); err == nil && def != nil {
		defaultID = def.ID()
	}
	var devices []DeviceInfo
	for _, s := range sources {
		if strings.HasSuffix(s.ID(), ".monitor") {
			continue
		}
		devices = append(devices, DeviceInfo{
			ID:      s.ID(),
			Name:    s.Name(),
			Default: s.ID() == defaultID,
		})
	}
	defaultFirst(devices)
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	return &pulseCapture{
		client: p.client,
		device: device,
		config: config,
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]
	onError  atomic.Pointer[ErrorCallback]

	stream  *pulse.RecordStream
	scratch []byte
	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := c.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		// the callback copies what it keeps, so one buffer serves every read
		if cap(c.scratch) < len(buf)*2 {
			c.scratch = make([]byte, len(buf)*2)
		}
		data := c.scratch[:len(buf)*2]
		for i, s := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		(*cb)(data, uint32(len(buf))/max(c.config.Channels, 1))
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	}
	if c.config.Channels <= 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}
	if c.device != nil {
		// an unplugged source must fail the start so the cached config is
		// dropped and the next attempt re-resolves the device
		source, err := c.client.SourceByID(c.device.ID)
		if err != nil || source == nil {
			return fmt.Errorf("%w: pulse source %q gone: %v", ErrNoDevice, c.device.Name, err)
		}
		opts = append(opts, pulse.RecordSource(source))
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		t := time.NewTicker(streamCheck)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				stream.Stop()
				stream.Close()
				return
			case <-t.C:
				if err := stream.Error(); err != nil {
					c.fireError(fmt.Errorf("%w: %v", ErrStreamDied, err))
					<-c.stop
					stream.Close()
					return
				}
				if stream.Closed() {
					c.fireError(ErrStreamDied)
					<-c.stop
					return
				}
			}
		}
	}()

	return nil
}

func (c *pulseCapture) fireError(err error) {
	if cb := c.onError.Swap(nil); cb != nil {
		(*cb)(err)
	}
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) SetErrorCallback(cb ErrorCallback) {
	c.onError.Store(&cb)
}
