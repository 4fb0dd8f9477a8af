package transcript

import (
	"context"
	"slices"
	"strings"
	"sync"

	"livecap/log"
	"livecap/recognizer"
)

// Translator is satisfied by *translator.Translator.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) string
}

type Config struct {
	// Translator is nil when translation is disabled.
	Translator Translator
	SourceLang string
	TargetLang string
}

// Assembler turns finalized phrases into an ordered segment log. A single
// worker translates and appends one phrase at a time, so translation latency
// never reorders segments.
type Assembler struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	open      bool
	cancelled bool
	queue     []recognizer.Phrase
	inFlight  bool
	idle      chan struct{}
	segments  []Segment
	next      uint64
	listeners []func(Segment)

	wake chan struct{}
	done chan struct{}
}

func NewAssembler(cfg Config) *Assembler {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Assembler{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		open:   true,
		next:   1,
		idle:   closedChan(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// Accept queues a phrase. It is dropped when the gate is shut, the
// assembler was cancelled, or the text is blank.
func (a *Assembler) Accept(p recognizer.Phrase) bool {
	if strings.TrimSpace(p.Text) == "" {
		return false
	}
	a.mu.Lock()
	if !a.open || a.cancelled {
		a.mu.Unlock()
		return false
	}
	if len(a.queue) == 0 && !a.inFlight {
		a.idle = make(chan struct{})
	}
	a.queue = append(a.queue, p)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// SetOpen opens or shuts the accept gate. Already queued phrases still complete.
func (a *Assembler) SetOpen(open bool) {
	a.mu.Lock()
	a.open = open
	a.mu.Unlock()
}

// Cancel drops queued phrases, abandons the translation in flight and stops
// the worker. The log keeps what was already appended.
func (a *Assembler) Cancel() {
	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return
	}
	a.cancelled = true
	a.queue = nil
	a.mu.Unlock()
	a.cancel()
	<-a.done
}

// Drain waits until every accepted phrase has been appended.
func (a *Assembler) Drain(ctx context.Context) error {
	a.mu.Lock()
	idle := a.idle
	a.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn to be called after each append, on the worker goroutine.
func (a *Assembler) Subscribe(fn func(Segment)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

func (a *Assembler) Segments() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Segment(nil), a.segments...)
}

// Tail returns the last n segments, oldest first.
func (a *Assembler) Tail(n int) []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > len(a.segments) {
		n = len(a.segments)
	}
	return append([]Segment(nil), a.segments[len(a.segments)-n:]...)
}

func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

func (a *Assembler) run() {
	defer close(a.done)
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.wake:
		}
		for {
			a.mu.Lock()
			if a.cancelled || len(a.queue) == 0 {
				a.inFlight = false
				a.markIdleLocked()
				a.mu.Unlock()
				break
			}
			p := a.queue[0]
			a.queue = a.queue[1:]
			a.inFlight = true
			a.mu.Unlock()

			a.process(p)
		}
	}
}

func (a *Assembler) markIdleLocked() {
	select {
	case <-a.idle:
	default:
		close(a.idle)
	}
}

func (a *Assembler) process(p recognizer.Phrase) {
	text := strings.TrimSpace(p.Text)
	translated := text
	if a.cfg.Translator != nil {
		translated = a.cfg.Translator.Translate(a.ctx, text, a.cfg.SourceLang, a.cfg.TargetLang)
	}

	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return
	}
	seg := Segment{
		SequenceIndex:  a.next,
		CapturedAt:     p.FinalizedAt,
		OriginalText:   text,
		TranslatedText: translated,
		SourceEngine:   p.Engine,
		Confidence:     p.Confidence,
	}
	a.next++
	a.segments = append(a.segments, seg)
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()

	log.SegmentText(seg.SequenceIndex, seg.OriginalText, seg.TranslatedText)
	for _, fn := range listeners {
		fn(seg)
	}
}
