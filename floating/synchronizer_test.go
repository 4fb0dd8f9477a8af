package floating

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"livecap/recognizer"
	"livecap/transcript"
)

type memStore struct {
	mu        sync.Mutex
	settings  map[Kind]Settings
	positions map[Kind]Position
}

func newMemStore() *memStore {
	return &memStore{settings: map[Kind]Settings{}, positions: map[Kind]Position{}}
}

func (m *memStore) LoadSettings(kind Kind) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[kind]
	return s, ok, nil
}

func (m *memStore) SaveSettings(kind Kind, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[kind] = s
	return nil
}

func (m *memStore) SavePosition(kind Kind, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[kind] = p
	return nil
}

func (m *memStore) LoadPosition(kind Kind) (Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[kind]
	return p, ok, nil
}

type staticSource []transcript.Segment

func (s staticSource) Tail(n int) []transcript.Segment {
	if n <= 0 || n > len(s) {
		n = len(s)
	}
	return append([]transcript.Segment(nil), s[len(s)-n:]...)
}

func segs(n int) staticSource {
	var out staticSource
	for i := 1; i <= n; i++ {
		out = append(out, transcript.Segment{SequenceIndex: uint64(i), OriginalText: strings.Repeat("w", i), SourceEngine: recognizer.Cloud})
	}
	return out
}

func recvType(t *testing.T, p Port, typ string) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		msg, err := p.Recv(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func recvCommand(t *testing.T, s *Synchronizer) Command {
	t.Helper()
	select {
	case cmd := <-s.Commands():
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("no command")
	}
	return Command{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func channelByID(s *Synchronizer, id string) (Channel, bool) {
	for _, c := range s.Channels() {
		if c.ID == id {
			return c, true
		}
	}
	return Channel{}, false
}

func TestOpenSendsSettingsAndRender(t *testing.T) {
	s := NewSynchronizer(nil)
	s.SetSource(segs(10))
	s.SetStatus(StatusRecording)

	core, surface := NewPipe()
	if _, _, err := s.Open(SecondarySurface, core); err != nil {
		t.Fatal(err)
	}

	ss := recvType(t, surface, TypeSettingsSync)
	if ss.Settings == nil || ss.Settings.MaxLines != 6 {
		t.Fatalf("settingsSync = %+v", ss.Settings)
	}
	render := recvType(t, surface, TypeRender)
	if render.Status != StatusRecording || len(render.Segments) != 6 || render.Segments[5].SequenceIndex != 10 {
		t.Fatalf("render = %+v", render)
	}

	s.SetStatus(StatusPaused)
	if msg := recvType(t, surface, TypeRender); msg.Status != StatusPaused {
		t.Errorf("status = %s, want paused", msg.Status)
	}
}

func TestUpdateSettingOnlyThatChannel(t *testing.T) {
	store := newMemStore()
	s := NewSynchronizer(store)

	coreA, surfA := NewPipe()
	coreB, _ := NewPipe()
	idA, _, _ := s.Open(SecondarySurface, coreA)
	idB, _, _ := s.Open(SecondarySurface, coreB)

	surfA.Send(context.Background(), Message{Type: TypeUpdateSetting, Key: "fontSize", Value: json.RawMessage(`20`)})

	waitFor(t, "fontSize applied", func() bool {
		a, _ := channelByID(s, idA)
		return a.Settings.FontSize == 20
	})
	b, _ := channelByID(s, idB)
	if b.Settings.FontSize != DefaultSettings(SecondarySurface).FontSize {
		t.Errorf("other channel fontSize = %d", b.Settings.FontSize)
	}

	recvType(t, surfA, TypeSettingsSync) // initial
	if msg := recvType(t, surfA, TypeSettingsSync); msg.Settings.FontSize != 20 {
		t.Errorf("echoed settings = %+v", msg.Settings)
	}
	store.mu.Lock()
	saved := store.settings[SecondarySurface]
	store.mu.Unlock()
	if saved.FontSize != 20 {
		t.Errorf("persisted fontSize = %d", saved.FontSize)
	}
}

func TestPersistedSettingsLoaded(t *testing.T) {
	store := newMemStore()
	custom := DefaultSettings(Overlay)
	custom.MaxLines = 1
	store.SaveSettings(Overlay, custom)

	s := NewSynchronizer(store)
	s.SetSource(segs(4))
	core, surface := NewPipe()
	s.Open(Overlay, core)

	if msg := recvType(t, surface, TypeRender); len(msg.Segments) != 1 {
		t.Fatalf("render with saved maxLines=1 sent %d segments", len(msg.Segments))
	}
}

func TestInvalidSettingIgnored(t *testing.T) {
	s := NewSynchronizer(nil)
	core, surface := NewPipe()
	id, _, _ := s.Open(Overlay, core)

	surface.Send(context.Background(), Message{Type: TypeUpdateSetting, Key: "fontSize", Value: json.RawMessage(`"huge"`)})
	surface.Send(context.Background(), Message{Type: TypeUpdateSetting, Key: "bogus", Value: json.RawMessage(`1`)})
	surface.Send(context.Background(), Message{Type: TypeUpdateSetting, Key: "opacity", Value: json.RawMessage(`5`)})

	waitFor(t, "opacity clamp", func() bool {
		c, _ := channelByID(s, id)
		return c.Settings.Opacity == 1
	})
	if c, _ := channelByID(s, id); c.Settings.FontSize != DefaultSettings(Overlay).FontSize {
		t.Errorf("fontSize changed to %d", c.Settings.FontSize)
	}
}

func TestPositionPersisted(t *testing.T) {
	store := newMemStore()
	s := NewSynchronizer(store)
	core, surface := NewPipe()
	s.Open(SecondarySurface, core)

	surface.Send(context.Background(), Message{Type: TypeUpdateSetting, Key: "position", Value: json.RawMessage(`{"x":120,"y":40}`)})
	waitFor(t, "position", func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.positions[SecondarySurface] == Position{X: 120, Y: 40}
	})
}

func TestCommandsForwarded(t *testing.T) {
	s := NewSynchronizer(nil)
	core, surface := NewPipe()
	id, _, _ := s.Open(SecondarySurface, core)

	for _, typ := range []string{TypePause, TypeResume, TypeStop, TypeMinimize} {
		surface.Send(context.Background(), Message{Type: typ})
		cmd := recvCommand(t, s)
		if cmd.Type != typ || cmd.ChannelID != id || cmd.Kind != SecondarySurface {
			t.Errorf("command = %+v, want %s", cmd, typ)
		}
	}

	surface.Send(context.Background(), Message{Type: TypeClose})
	if cmd := recvCommand(t, s); cmd.Type != TypeClose {
		t.Errorf("command = %+v, want close", cmd)
	}
	if len(s.Channels()) != 0 {
		t.Error("channel kept after close")
	}
}

func TestDisconnectDegrades(t *testing.T) {
	s := NewSynchronizer(nil)
	core, surface := NewPipe()
	_, done, _ := s.Open(SecondarySurface, core)
	core2, surface2 := NewPipe()
	s.Open(Overlay, core2)
	recvType(t, surface2, TypeRender)

	surface.Close()
	if cmd := recvCommand(t, s); cmd.Type != TypeDisconnected {
		t.Fatalf("command = %+v, want disconnected", cmd)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	if len(s.Channels()) != 1 {
		t.Fatalf("channels = %d, want the overlay only", len(s.Channels()))
	}

	s.SetSource(segs(2))
	if msg := recvType(t, surface2, TypeRender); len(msg.Segments) != 2 {
		t.Errorf("remaining channel render = %+v", msg)
	}
}

func TestCloseAllSendsClose(t *testing.T) {
	s := NewSynchronizer(nil)
	core, surface := NewPipe()
	s.Open(SecondarySurface, core)
	recvType(t, surface, TypeRender)

	s.CloseAll()
	recvType(t, surface, TypeClose)
	if len(s.Channels()) != 0 {
		t.Error("channels remain after CloseAll")
	}
	select {
	case cmd := <-s.Commands():
		t.Errorf("unexpected command on local close: %+v", cmd)
	default:
	}
}

func TestEndSessionClosesSurfaces(t *testing.T) {
	s := NewSynchronizer(nil)
	core, surface := NewPipe()
	_, done, _ := s.Open(SecondarySurface, core)
	core2, surface2 := NewPipe()
	s.Open(Overlay, core2)

	s.EndSession()
	if n := len(s.Channels()); n != 0 {
		t.Fatalf("channels = %d right after EndSession, want 0", n)
	}
	recvType(t, surface, TypeClose)
	recvType(t, surface2, TypeClose)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("done not closed")
	}

	core3, surface3 := NewPipe()
	s.Open(Overlay, core3)
	recvType(t, surface3, TypeRender)
	if n := len(s.Channels()); n != 1 {
		t.Errorf("channels = %d after reopen, want 1", n)
	}
	select {
	case cmd := <-s.Commands():
		t.Errorf("unexpected command on session end: %+v", cmd)
	default:
	}
}

func TestLastDelivered(t *testing.T) {
	s := NewSynchronizer(nil)
	core, surface := NewPipe()
	id, _, _ := s.Open(Overlay, core)
	s.SetSource(segs(5))
	waitFor(t, "delivery", func() bool {
		c, _ := channelByID(s, id)
		return c.LastDelivered == 5
	})
	_ = surface
}

func TestWebsocketSurface(t *testing.T) {
	s := NewSynchronizer(nil)
	s.SetSource(segs(2))
	srv := httptest.NewServer((&Server{Sync: s}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/surface?kind=secondary-surface", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg Message
	for msg.Type != TypeRender {
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatal(err)
		}
	}
	if len(msg.Segments) != 2 {
		t.Fatalf("render = %+v", msg)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: TypeStop}); err != nil {
		t.Fatal(err)
	}
	if cmd := recvCommand(t, s); cmd.Type != TypeStop {
		t.Errorf("command = %+v", cmd)
	}

	conn.Close(websocket.StatusGoingAway, "window closed")
	if cmd := recvCommand(t, s); cmd.Type != TypeDisconnected {
		t.Errorf("command = %+v, want disconnected", cmd)
	}
}

func TestRendererOutput(t *testing.T) {
	msg := Message{Type: TypeRender, Status: StatusPaused, Segments: []transcript.Segment{
		{SequenceIndex: 1, OriginalText: "old"},
		{SequenceIndex: 2, OriginalText: "hello", TranslatedText: "hola"},
	}}
	st := DefaultSettings(Overlay)
	st.MaxLines = 1
	out := Renderer{}.Render(msg, st)
	if strings.Contains(out, "old") {
		t.Error("render ignored maxLines")
	}
	for _, want := range []string{"paused", "hello", "hola"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q: %q", want, out)
		}
	}
}

func TestOverlayPort(t *testing.T) {
	var mu sync.Mutex
	var frames []string
	port := NewOverlayPort(Renderer{}, func(s string) {
		mu.Lock()
		frames = append(frames, s)
		mu.Unlock()
	})

	s := NewSynchronizer(nil)
	s.SetSource(segs(1))
	s.Open(Overlay, port)
	waitFor(t, "frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) > 0 && strings.Contains(frames[len(frames)-1], "w")
	})

	port.Post(Message{Type: TypePause})
	if cmd := recvCommand(t, s); cmd.Type != TypePause {
		t.Errorf("command = %+v", cmd)
	}
}
