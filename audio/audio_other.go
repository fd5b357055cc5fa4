//go:build !linux

package audio

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"vokey/log"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debugf("miniaudio: %s", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: %w", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

// Devices lists capture endpoints with the OS default first.
func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio devices: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(infos))
	for _, d := range infos {
		devices = append(devices, DeviceInfo{
			ID:      hex.EncodeToString(d.ID[:]),
			Name:    d.Name(),
			Default: d.IsDefault != 0,
		})
	}
	defaultFirst(devices)
	return devices, nil
}

func parseDeviceID(id string) (malgo.DeviceID, error) {
	var devID malgo.DeviceID
	raw, err := hex.DecodeString(id)
	if err != nil {
		return devID, fmt.Errorf("invalid device ID %q: %w", id, err)
	}
	if len(raw) > len(devID) {
		return devID, fmt.Errorf("invalid device ID %q: %d bytes", id, len(raw))
	}
	copy(devID[:], raw)
	return devID, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = config.Channels
	dc.SampleRate = config.SampleRate
	if device != nil {
		devID, err := parseDeviceID(device.ID)
		if err != nil {
			return nil, err
		}
		dc.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{}
	dev, err := malgo.InitDevice(m.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	})
	if err != nil {
		if device != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNoDevice, device.Name, err)
		}
		return nil, err
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

// malgoCapture reports a stream death once per Start. armed is cleared
// before every Stop the recorder asks for, since miniaudio calls onStop for
// those too.
type malgoCapture struct {
	device   *malgo.Device
	callback atomic.Pointer[DataCallback]
	onError  atomic.Pointer[ErrorCallback]
	armed    atomic.Bool
}

func (c *malgoCapture) onData(_, data []byte, frameCount uint32) {
	if cb := c.callback.Load(); cb != nil {
		(*cb)(data, frameCount)
	}
}

func (c *malgoCapture) onStop() {
	if !c.armed.CompareAndSwap(true, false) {
		return
	}
	if cb := c.onError.Load(); cb != nil {
		(*cb)(ErrStreamDied)
	}
}

func (c *malgoCapture) Start() error {
	if err := c.device.Start(); err != nil {
		return err
	}
	c.armed.Store(true)
	return nil
}

func (c *malgoCapture) Stop() {
	c.armed.Store(false)
	c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.armed.Store(false)
	c.device.Uninit()
}

func (c *malgoCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }

func (c *malgoCapture) ClearCallback() { c.callback.Store(nil) }

func (c *malgoCapture) SetErrorCallback(cb ErrorCallback) { c.onError.Store(&cb) }
