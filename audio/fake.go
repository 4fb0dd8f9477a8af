package audio

import (
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays PCM instead of opening hardware. NewErr and StartErr
// inject acquisition failures.
type FakeContext struct {
	pcm      []byte
	realtime bool

	NewErr   error
	StartErr error

	mu       sync.Mutex
	captures []*FakeCapture
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContextPCM(data, realtime), nil
}

func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime, startErr: f.StartErr, Config: config, audioDone: make(chan struct{})}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Captures returns every capture handed out so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

// FakeCapture feeds its PCM in fixed chunks, then silence forever. The
// read position survives Stop so a restarted capture continues where it left off.
type FakeCapture struct {
	Config CaptureConfig

	pcm       []byte
	realtime  bool
	startErr  error
	audioDone chan struct{}
	doneOnce  sync.Once

	mu     sync.Mutex
	cb     DataCallback
	pos    int
	closed bool

	stop chan struct{}
	fed  chan struct{}
}

func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() { f.SetCallback(nil) }

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// next returns the callback and the chunk to hand it, advancing the read
// position. The chunk is silence once the PCM is used up.
func (f *FakeCapture) next(size int) (DataCallback, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cb == nil {
		return nil, nil
	}
	if f.pos >= len(f.pcm) {
		f.doneOnce.Do(func() { close(f.audioDone) })
		return f.cb, make([]byte, size)
	}
	end := min(f.pos+size, len(f.pcm))
	chunk := append([]byte(nil), f.pcm[f.pos:end]...)
	f.pos = end
	return f.cb, chunk
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	if f.stop != nil {
		return nil
	}
	f.stop = make(chan struct{})
	f.fed = make(chan struct{})

	interval := time.Millisecond
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / SampleRate
	}
	go f.feed(f.stop, f.fed, interval)
	return nil
}

func (f *FakeCapture) feed(stop <-chan struct{}, fed chan<- struct{}, interval time.Duration) {
	defer close(fed)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if cb, chunk := f.next(fakeFrameSize * fakeBytesPerFrame); cb != nil {
			cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
		}
	}
}

func (f *FakeCapture) Stop() {
	if f.stop == nil {
		return
	}
	close(f.stop)
	<-f.fed
	f.stop, f.fed = nil, nil
}

func (f *FakeCapture) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
