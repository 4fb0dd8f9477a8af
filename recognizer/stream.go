package recognizer

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"livecap/audio"
	"livecap/log"
)

const (
	streamChunkMs      = 200
	streamChunkBytes   = audio.SampleRate * audio.Channels * 2 * streamChunkMs / 1000
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 1000 * time.Millisecond
	streamDrainMax     = 2 * time.Second
)

var errStreamEnded = errors.New("recognition stream ended unexpectedly")

// rawStream is one engine connection. Recv returns io.EOF once the server
// has closed cleanly.
type rawStream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Text       string
	Final      bool
	Finalize   bool // server acknowledged end of audio
	Confidence float64
}

// stream pumps PCM into a rawStream and turns final updates into phrases.
type stream struct {
	kind     Kind
	raw      rawStream
	onPhrase PhraseFunc

	audioCh   chan []byte
	sendDone  chan struct{}
	recvDone  chan struct{}
	finalized chan struct{}
	done      chan struct{}

	finalizedOnce sync.Once
	stopOnce      sync.Once

	feedMu  sync.Mutex
	feedBuf []byte
	sealed  bool

	mu       sync.Mutex
	err      error
	errOnce  sync.Once
	eofSent  bool
	stopping bool
	phrases  int
}

func newStream(kind Kind, raw rawStream, onPhrase PhraseFunc) *stream {
	s := &stream{
		kind:      kind,
		raw:       raw,
		onPhrase:  onPhrase,
		audioCh:   make(chan []byte, 128),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.runSender()
	go s.runReceiver()
	go func() {
		<-s.recvDone
		<-s.sendDone
		close(s.done)
	}()
	return s
}

func (s *stream) Feed(pcm []byte) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.sealed {
		return
	}

	s.feedBuf = append(s.feedBuf, pcm...)
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		select {
		case s.audioCh <- chunk:
		case <-s.recvDone:
			s.feedBuf = nil
			return
		}
	}
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Stop() {
	s.stopOnce.Do(s.stop)
	<-s.done
}

func (s *stream) stop() {
	s.feedMu.Lock()
	if len(s.feedBuf) > 0 {
		tail := s.feedBuf
		s.feedBuf = nil
		select {
		case s.audioCh <- tail:
		case <-s.recvDone:
		}
	}
	s.sealed = true
	close(s.audioCh)
	s.feedMu.Unlock()

	<-s.sendDone

	// Wait for the server to acknowledge end of audio, then a brief quiet period
	select {
	case <-s.finalized:
		time.Sleep(streamFinalizeIdle)
	case <-s.recvDone:
	case <-time.After(streamFinalizeMax):
	}

	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.raw.Close()

	select {
	case <-s.recvDone:
	case <-time.After(streamDrainMax):
		log.Warnf("%s recognizer receiver drain timeout", s.kind)
	}
}

func (s *stream) runSender() {
	defer close(s.sendDone)
	for {
		select {
		case chunk, ok := <-s.audioCh:
			if !ok {
				s.mu.Lock()
				s.eofSent = true
				s.mu.Unlock()
				if err := s.raw.CloseSend(); err != nil {
					s.setErr(err)
				}
				return
			}
			if err := s.raw.Send(chunk); err != nil {
				s.setErr(err)
				return
			}
		case <-s.recvDone:
			return
		}
	}
}

func (s *stream) runReceiver() {
	defer close(s.recvDone)
	for {
		update, err := s.raw.Recv()
		if err != nil {
			s.mu.Lock()
			clean := s.stopping || (s.eofSent && errors.Is(err, io.EOF))
			s.mu.Unlock()
			if clean {
				s.finalizedOnce.Do(func() { close(s.finalized) })
				return
			}
			if errors.Is(err, io.EOF) {
				err = errStreamEnded
			}
			s.setErr(err)
			return
		}

		if update.Finalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}
		if !update.Final && !update.Finalize {
			continue
		}

		text := strings.TrimSpace(update.Text)
		if text == "" {
			continue
		}

		s.mu.Lock()
		s.phrases++
		s.mu.Unlock()

		if s.onPhrase != nil {
			s.onPhrase(Phrase{
				Text:        text,
				Confidence:  clampConfidence(update.Confidence),
				Engine:      s.kind,
				FinalizedAt: time.Now(),
			})
		}
	}
}

func (s *stream) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.raw.Close()
	})
}
