package recognizer

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory engine. Tests drive phrases and failures through the
// handles it hands out.
type Fake struct {
	kind Kind

	mu        sync.Mutex
	ProbeErr  error
	StartErr  error
	probeGate <-chan struct{}
	probes    int
	handles   []*FakeHandle
}

func NewFake(kind Kind) *Fake {
	return &Fake{kind: kind}
}

func (f *Fake) Kind() Kind { return f.kind }

func (f *Fake) Probe(ctx context.Context) error {
	f.mu.Lock()
	f.probes++
	gate, err := f.probeGate, f.ProbeErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// BlockProbes makes Probe wait until gate is closed or its context ends.
func (f *Fake) BlockProbes(gate <-chan struct{}) {
	f.mu.Lock()
	f.probeGate = gate
	f.mu.Unlock()
}

func (f *Fake) SetProbeErr(err error) {
	f.mu.Lock()
	f.ProbeErr = err
	f.mu.Unlock()
}

func (f *Fake) Probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func (f *Fake) Start(ctx context.Context, lang string, onPhrase PhraseFunc) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	h := &FakeHandle{kind: f.kind, Lang: lang, onPhrase: onPhrase, done: make(chan struct{})}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *Fake) Handles() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeHandle(nil), f.handles...)
}

// Last returns the most recent handle, or nil.
func (f *Fake) Last() *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

type FakeHandle struct {
	kind     Kind
	Lang     string
	onPhrase PhraseFunc

	mu      sync.Mutex
	fed     int
	err     error
	stopped bool
	once    sync.Once
	done    chan struct{}
}

func (h *FakeHandle) Feed(pcm []byte) {
	h.mu.Lock()
	h.fed += len(pcm)
	h.mu.Unlock()
}

func (h *FakeHandle) Fed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fed
}

func (h *FakeHandle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}

func (h *FakeHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *FakeHandle) Done() <-chan struct{} { return h.done }

func (h *FakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Emit delivers a finalized phrase as the engine would.
func (h *FakeHandle) Emit(text string, confidence float64) {
	if h.onPhrase != nil {
		h.onPhrase(Phrase{Text: text, Confidence: clampConfidence(confidence), Engine: h.kind, FinalizedAt: time.Now()})
	}
}

// Fail terminates the stream as an in-flight failure.
func (h *FakeHandle) Fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}
