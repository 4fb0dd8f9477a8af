package recognizer

import (
	"context"
	"sync"
	"time"

	"livecap/log"
)

const DefaultRestartDelay = 300 * time.Millisecond

// supervised keeps a stream alive by reconnecting whenever it ends on its
// own. It only stops when Stop is called.
type supervised struct {
	kind  Kind
	dial  func(ctx context.Context) (Handle, error)
	delay time.Duration

	mu       sync.Mutex
	cur      Handle
	restarts int

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func newSupervised(ctx context.Context, kind Kind, delay time.Duration, dial func(context.Context) (Handle, error)) (*supervised, error) {
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	first, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &supervised{
		kind:   kind,
		dial:   dial,
		delay:  delay,
		cur:    first,
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *supervised) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		cur := s.cur
		s.mu.Unlock()

		if cur != nil {
			select {
			case <-s.ctx.Done():
				cur.Stop()
				return
			case <-cur.Done():
			}
			s.mu.Lock()
			s.restarts++
			attempt := s.restarts
			s.cur = nil
			s.mu.Unlock()
			log.EngineRestart(string(s.kind), attempt, cur.Err())
		}

		timer := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := s.dial(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Warnf("%s recognizer reconnect: %v", s.kind, err)
			continue
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			next.Stop()
			return
		}
		s.cur = next
		s.mu.Unlock()
	}
}

func (s *supervised) Feed(pcm []byte) {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur != nil {
		cur.Feed(pcm)
	}
}

func (s *supervised) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}

func (s *supervised) Done() <-chan struct{} { return s.done }

func (s *supervised) Err() error { return nil }

// Restarts reports how many times the stream was reconnected.
func (s *supervised) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}
