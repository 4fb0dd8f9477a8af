//go:build linux

package audio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("livecap"))
	if err != nil {
		return nil, &AcquireError{Kind: KindUnsupported, Cause: fmt.Errorf("pulse: %w", err)}
	}
	return &pulseContext{client: c}, nil
}

// sources lists pulse sources, keeping those match accepts.
func (p *pulseContext) sources(match func(id string) bool) ([]DeviceInfo, error) {
	list, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range list {
		if match == nil || match(s.ID()) {
			devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
		}
	}
	return devices, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	return p.sources(nil)
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if device != nil {
		if _, err := p.client.SourceByID(device.ID); err != nil {
			return nil, &AcquireError{Kind: KindDeviceNotFound, Cause: fmt.Errorf("pulse source %q: %w", device.Name, err)}
		}
	} else if config.Hints.EchoCancellation {
		device = p.echoCancelSource()
	}
	return &pulseCapture{
		client: p.client,
		device: device,
		config: config,
	}, nil
}

// echoCancelSource returns the module-echo-cancel source when one is loaded.
func (p *pulseContext) echoCancelSource() *DeviceInfo {
	found, err := p.sources(func(id string) bool { return strings.Contains(id, "echo-cancel") })
	if err != nil || len(found) == 0 {
		return nil
	}
	return &found[0]
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	mu     sync.Mutex
	stream *pulse.RecordStream
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}

	gain := int32(1)
	if c.config.Hints.AutoGain {
		gain = autoGainFactor
	}
	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if cb := c.callback.Load(); cb != nil && len(buf) > 0 {
			(*cb)(amplify(buf, gain), uint32(len(buf)))
		}
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm) * 3}
		}),
	}
	if c.device != nil {
		if source, err := c.client.SourceByID(c.device.ID); err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return classify(fmt.Errorf("pulse record: %w", err))
	}
	stream.Start()
	c.stream = stream
	return nil
}

// Stop ends the record stream. The device can be started again.
func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return
	}
	c.stream.Stop()
	c.stream.Close()
	c.stream = nil
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
