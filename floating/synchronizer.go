package floating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"livecap/log"
	"livecap/transcript"
)

var ErrDisconnected = errors.New("floating surface disconnected")

// Port is the asynchronous message channel to one surface. Send and Recv
// may be called from different goroutines.
type Port interface {
	Send(ctx context.Context, msg Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Source supplies the latest segments; *transcript.Assembler satisfies it.
type Source interface {
	Tail(n int) []transcript.Segment
}

// Channel is a read-only snapshot of one open surface.
type Channel struct {
	ID            string
	Kind          Kind
	Settings      Settings
	LastDelivered uint64
}

const outboxSize = 32

type channel struct {
	id   string
	kind Kind
	port Port

	mu            sync.Mutex
	settings      Settings
	lastDelivered uint64

	outbox     chan Message
	ctx        context.Context
	cancel     context.CancelFunc
	dropped    atomic.Bool
	senderDone chan struct{}
	done       chan struct{}
}

// Synchronizer mirrors the transcript and status to every open surface and
// relays their commands back.
type Synchronizer struct {
	store Store

	mu       sync.Mutex
	channels map[string]*channel
	source   Source
	status   Status

	commands chan Command
}

func NewSynchronizer(store Store) *Synchronizer {
	return &Synchronizer{
		store:    store,
		channels: make(map[string]*channel),
		status:   StatusStopped,
		commands: make(chan Command, 16),
	}
}

// Commands delivers pause, resume, stop, close, minimize and disconnected notices.
func (s *Synchronizer) Commands() <-chan Command { return s.commands }

// SetSource points the synchronizer at the current session's log.
func (s *Synchronizer) SetSource(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
	s.renderAll()
}

// Open registers a surface, syncs its persisted settings and sends a first
// render. The returned channel closes when the surface is gone.
func (s *Synchronizer) Open(kind Kind, port Port) (string, <-chan struct{}, error) {
	if _, ok := ParseKind(string(kind)); !ok {
		return "", nil, fmt.Errorf("unknown floating kind %q", kind)
	}

	settings := DefaultSettings(kind)
	if s.store != nil {
		if saved, ok, err := s.store.LoadSettings(kind); err != nil {
			log.Warnf("floating settings load: %v", err)
		} else if ok {
			settings = saved
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		id:       xid.New().String(),
		kind:     kind,
		port:     port,
		settings: settings,
		outbox:   make(chan Message, outboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),

		senderDone: make(chan struct{}),
	}

	s.mu.Lock()
	s.channels[ch.id] = ch
	s.mu.Unlock()

	log.FloatingChannel(ch.id, string(kind), "open")
	go s.runSender(ch)
	go s.runReceiver(ch)

	// The surface restores its last window position from the first sync.
	first := Message{Type: TypeSettingsSync, Settings: &settings}
	if s.store != nil {
		if p, ok, err := s.store.LoadPosition(kind); err != nil {
			log.Warnf("floating position load: %v", err)
		} else if ok {
			first.Position = &p
		}
	}
	s.enqueue(ch, first)
	s.render(ch)
	return ch.id, ch.done, nil
}

func (s *Synchronizer) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		ch.mu.Lock()
		out = append(out, Channel{ID: ch.id, Kind: ch.kind, Settings: ch.settings, LastDelivered: ch.lastDelivered})
		ch.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SegmentAppended pushes the newest segments to every surface.
func (s *Synchronizer) SegmentAppended(transcript.Segment) {
	s.renderAll()
}

func (s *Synchronizer) SetStatus(st Status) {
	s.mu.Lock()
	if s.status == st {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()
	s.renderAll()
}

// Close sends a close envelope to one surface and removes it.
func (s *Synchronizer) Close(id string) {
	s.mu.Lock()
	ch := s.channels[id]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	s.drop(ch, "closed", dropLocal)
}

// CloseAll ends every surface, e.g. when the session is released.
func (s *Synchronizer) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Close(id)
	}
}

// EndSession detaches every surface at once and closes their transports in
// the background, so the caller never waits on a slow surface. Surfaces
// opened afterwards are unaffected.
func (s *Synchronizer) EndSession() {
	s.mu.Lock()
	chans := make([]*channel, 0, len(s.channels))
	for id, ch := range s.channels {
		chans = append(chans, ch)
		delete(s.channels, id)
	}
	s.mu.Unlock()
	for _, ch := range chans {
		go s.drop(ch, "session ended", dropLocal)
	}
}

func (s *Synchronizer) renderAll() {
	s.mu.Lock()
	chans := make([]*channel, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	s.mu.Unlock()
	for _, ch := range chans {
		s.render(ch)
	}
}

func (s *Synchronizer) render(ch *channel) {
	s.mu.Lock()
	src, status := s.source, s.status
	s.mu.Unlock()

	ch.mu.Lock()
	n := ch.settings.MaxLines
	ch.mu.Unlock()

	var segs []transcript.Segment
	if src != nil {
		segs = src.Tail(n)
	}
	s.enqueue(ch, Message{Type: TypeRender, Segments: segs, Status: status})
}

func (s *Synchronizer) enqueue(ch *channel, msg Message) {
	select {
	case ch.outbox <- msg:
	case <-ch.ctx.Done():
	default:
		log.Warnf("floating channel %s outbox full, dropping %s", ch.id, msg.Type)
	}
}

func (s *Synchronizer) runSender(ch *channel) {
	defer close(ch.senderDone)
	for {
		select {
		case <-ch.ctx.Done():
			return
		case msg := <-ch.outbox:
			if err := ch.port.Send(ch.ctx, msg); err != nil {
				if ch.ctx.Err() == nil {
					s.drop(ch, fmt.Sprintf("send: %v", err), dropLost)
				}
				return
			}
			if msg.Type == TypeRender && len(msg.Segments) > 0 {
				ch.mu.Lock()
				ch.lastDelivered = max(ch.lastDelivered, msg.Segments[len(msg.Segments)-1].SequenceIndex)
				ch.mu.Unlock()
			}
		}
	}
}

func (s *Synchronizer) runReceiver(ch *channel) {
	for {
		msg, err := ch.port.Recv(ch.ctx)
		if err != nil {
			if ch.ctx.Err() == nil {
				s.drop(ch, fmt.Sprintf("recv: %v", err), dropLost)
			}
			return
		}

		switch msg.Type {
		case TypePause, TypeResume, TypeStop, TypeMinimize:
			s.forward(ch, msg.Type)
		case TypeClose:
			s.drop(ch, "closed by surface", dropRemote)
			s.forward(ch, TypeClose)
			return
		case TypeUpdateSetting:
			s.updateSetting(ch, msg.Key, msg.Value)
		default:
			log.Warnf("floating channel %s: unknown message type %q", ch.id, msg.Type)
		}
	}
}

func (s *Synchronizer) forward(ch *channel, typ string) {
	cmd := Command{ChannelID: ch.id, Kind: ch.kind, Type: typ}
	select {
	case s.commands <- cmd:
	default:
		log.Warnf("floating command %s from %s dropped, controller busy", typ, ch.id)
	}
}

func (s *Synchronizer) updateSetting(ch *channel, key string, value json.RawMessage) {
	if key == "position" {
		var p Position
		if err := json.Unmarshal(value, &p); err != nil {
			log.Warnf("floating channel %s: position: %v", ch.id, err)
			return
		}
		if s.store != nil {
			if err := s.store.SavePosition(ch.kind, p); err != nil {
				log.Warnf("floating position save: %v", err)
			}
		}
		return
	}

	ch.mu.Lock()
	next, err := apply(ch.settings, key, value)
	if err != nil {
		ch.mu.Unlock()
		log.Warnf("floating channel %s: %v", ch.id, err)
		return
	}
	ch.settings = next
	ch.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveSettings(ch.kind, next); err != nil {
			log.Warnf("floating settings save: %v", err)
		}
	}
	s.enqueue(ch, Message{Type: TypeSettingsSync, Settings: &next})
	if key == "maxLines" {
		s.render(ch)
	}
}

type dropMode int

const (
	dropLocal  dropMode = iota // closed here, tell the surface
	dropRemote                 // surface asked to close
	dropLost                   // transport failed, tell the controller
)

func (s *Synchronizer) drop(ch *channel, reason string, mode dropMode) {
	// The first caller wins; a sender failing mid-drop must not wait on it.
	if !ch.dropped.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	delete(s.channels, ch.id)
	s.mu.Unlock()

	ch.cancel()
	if mode != dropLost {
		<-ch.senderDone
	}
	if mode == dropLocal {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ch.port.Send(ctx, Message{Type: TypeClose})
		cancel()
	}
	ch.port.Close()
	close(ch.done)

	log.FloatingChannel(ch.id, string(ch.kind), reason)
	if mode == dropLost {
		s.forward(ch, TypeDisconnected)
	}
}
