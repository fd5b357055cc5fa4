package audio

import (
	"fmt"
	"strings"
	"sync"

	"vokey/log"
)

// DeviceConfig is what a capture stream is opened with. A nil Device means
// the system default source.
type DeviceConfig struct {
	Device     *DeviceInfo
	SampleRate uint32
	Channels   uint32
}

func (c DeviceConfig) DeviceName() string {
	if c.Device == nil {
		return "system default"
	}
	return c.Device.Name
}

func (c DeviceConfig) capture() CaptureConfig {
	return CaptureConfig{SampleRate: c.SampleRate, Channels: c.Channels}
}

// ConfigCache resolves the device configuration once and hands out the cached
// copy until Invalidate is called.
type ConfigCache struct {
	mu        sync.Mutex
	ctx       Context
	preferred string
	rate      uint32
	cfg       *DeviceConfig
}

// NewConfigCache builds a cache over ctx. preferred is matched against device
// names (exact first, then case-insensitive substring); empty or unmatched
// selects the system default.
func NewConfigCache(ctx Context, preferred string, sampleRate uint32) *ConfigCache {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	return &ConfigCache{ctx: ctx, preferred: preferred, rate: sampleRate}
}

func (c *ConfigCache) Get() (DeviceConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg != nil {
		return *c.cfg, nil
	}

	devices, err := c.ctx.Devices()
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return DeviceConfig{}, ErrNoDevice
	}

	cfg := DeviceConfig{SampleRate: c.rate, Channels: Channels}
	if dev := matchDevice(devices, c.preferred); dev != nil {
		cfg.Device = dev
	} else if c.preferred != "" {
		log.Warnf("device %q not found, using system default", c.preferred)
	}
	log.Infof("capture config: device=%s rate=%d channels=%d", cfg.DeviceName(), cfg.SampleRate, cfg.Channels)
	c.cfg = &cfg
	return cfg, nil
}

// Set pins a device chosen interactively.
func (c *ConfigCache) Set(dev *DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dev == nil {
		c.preferred = ""
	} else {
		c.preferred = dev.Name
	}
	c.cfg = nil
}

// Invalidate drops the cached configuration so the next Get re-enumerates.
func (c *ConfigCache) Invalidate() {
	c.mu.Lock()
	c.cfg = nil
	c.mu.Unlock()
}

func matchDevice(devices []DeviceInfo, name string) *DeviceInfo {
	if name == "" {
		return nil
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i]
		}
	}
	lower := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), lower) {
			return &devices[i]
		}
	}
	return nil
}
