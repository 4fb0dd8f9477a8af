package audio

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MeterInterval approximates one animation frame.
const MeterInterval = 16 * time.Millisecond

// Source owns the microphone for a session. PCM is routed to the sink and a
// loudness level is published on every meter tick while not suspended.
type Source struct {
	actx   Context
	device *DeviceInfo

	mu        sync.Mutex
	capture   CaptureDevice
	meterStop chan struct{}
	meterDone chan struct{}

	suspended atomic.Bool
	level     atomic.Uint64 // float64 bits
	sink      atomic.Pointer[func([]byte)]
	onLevel   atomic.Pointer[func(float64)]
}

func NewSource(actx Context, device *DeviceInfo) *Source {
	return &Source{actx: actx, device: device}
}

func (s *Source) DeviceName() string {
	if s.device != nil {
		return s.device.Name
	}
	return "system default"
}

// Acquire opens and starts the device. Failures are *AcquireError.
func (s *Source) Acquire(ctx context.Context, hints Hints) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.actx == nil {
		return &AcquireError{Kind: KindUnsupported}
	}

	capture, err := s.actx.NewCapture(s.device, CaptureConfig{
		SampleRate: SampleRate,
		Channels:   Channels,
		Hints:      hints,
	})
	if err != nil {
		return classify(err)
	}
	capture.SetCallback(s.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		return classify(err)
	}

	s.capture = capture
	s.suspended.Store(false)
	s.startMeterLocked()
	return nil
}

func (s *Source) Acquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture != nil
}

// Release stops capture and closes the device. Safe to call repeatedly.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopMeterLocked()
	if s.capture == nil {
		return
	}
	s.capture.ClearCallback()
	s.capture.Stop()
	s.capture.Close()
	s.capture = nil
	s.level.Store(0)
}

// Suspend stops the meter and PCM routing but keeps the device open.
func (s *Source) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended.Store(true)
	s.stopMeterLocked()
	s.level.Store(0)
}

func (s *Source) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return
	}
	s.suspended.Store(false)
	s.startMeterLocked()
}

func (s *Source) Suspended() bool { return s.suspended.Load() }

// SetSink routes PCM blocks to fn. A nil fn drops audio.
func (s *Source) SetSink(fn func([]byte)) {
	if fn == nil {
		s.sink.Store(nil)
		return
	}
	s.sink.Store(&fn)
}

func (s *Source) OnLevel(fn func(float64)) {
	if fn == nil {
		s.onLevel.Store(nil)
		return
	}
	s.onLevel.Store(&fn)
}

// Loudness returns the most recent level in [0,100].
func (s *Source) Loudness() float64 {
	return math.Float64frombits(s.level.Load())
}

func (s *Source) onData(data []byte, _ uint32) {
	if s.suspended.Load() {
		return
	}
	s.level.Store(math.Float64bits(Loudness(data)))
	if fn := s.sink.Load(); fn != nil {
		(*fn)(data)
	}
}

func (s *Source) startMeterLocked() {
	if s.meterStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.meterStop, s.meterDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(MeterInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if fn := s.onLevel.Load(); fn != nil {
					(*fn)(s.Loudness())
				}
			}
		}
	}()
}

func (s *Source) stopMeterLocked() {
	if s.meterStop == nil {
		return
	}
	close(s.meterStop)
	<-s.meterDone
	s.meterStop, s.meterDone = nil, nil
}

// Loudness computes the RMS level of 16-bit little-endian PCM scaled to [0,100].
func Loudness(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += v * v
	}
	level := math.Sqrt(sum/float64(n)) * 100
	return min(level, 100)
}

// autoGainFactor is the fixed software gain applied when Hints.AutoGain is
// set. Neither backend exposes a per-stream AGC control.
const autoGainFactor = 8

// amplify scales samples by gain with clipping and encodes them as 16-bit
// little-endian PCM.
func amplify(samples []int16, gain int32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := min(max(int32(s)*gain, math.MinInt16), math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// amplifyPCM applies gain to 16-bit little-endian PCM.
func amplifyPCM(pcm []byte, gain int32) []byte {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return amplify(samples, gain)
}
