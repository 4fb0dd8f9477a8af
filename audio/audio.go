package audio

import "strings"

const (
	WAVHeaderSize = 44
	SampleRate    = 16000
	Channels      = 1
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

// Hints are best-effort processing requests passed to the capture backend.
type Hints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

func DefaultHints() Hints {
	return Hints{EchoCancellation: true, NoiseSuppression: true, AutoGain: true}
}

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	Hints      Hints
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
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
}
