package recognizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"livecap/internal/httpx"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// voskServer answers every audio chunk with a final result and closes
// cleanly on eof. When dropFirst is set the first connection is cut.
func voskServer(t *testing.T, dropFirst bool) (*httptest.Server, *atomic.Int32) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		n := conns.Add(1)
		ctx := r.Context()
		if _, cfg, err := c.Read(ctx); err != nil || !strings.Contains(string(cfg), "sample_rate") {
			c.Close(websocket.StatusProtocolError, "config expected")
			return
		}
		if dropFirst && n == 1 {
			c.Close(websocket.StatusGoingAway, "restart")
			return
		}
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				c.Write(ctx, websocket.MessageText, []byte(`{"partial":"chu"}`))
				c.Write(ctx, websocket.MessageText, []byte(`{"text":"chunk","result":[{"conf":0.5,"word":"chunk"},{"conf":1.0,"word":"x"}]}`))
				continue
			}
			if strings.Contains(string(data), "eof") {
				c.Write(ctx, websocket.MessageText, []byte(`{"text":"bye"}`))
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func TestLocalStream(t *testing.T) {
	srv, _ := voskServer(t, false)
	var got phraseLog
	l := NewLocal(wsURL(srv))

	h, err := l.Start(context.Background(), "en-US", got.add)
	if err != nil {
		t.Fatal(err)
	}
	h.Feed(make([]byte, streamChunkBytes))
	waitFor(t, "chunk phrase", func() bool { return len(got.texts()) == 1 })
	h.Stop()

	texts := got.texts()
	if len(texts) != 2 || texts[0] != "chunk" || texts[1] != "bye" {
		t.Fatalf("phrases = %q", texts)
	}
	got.mu.Lock()
	conf := got.phrases[0].Confidence
	got.mu.Unlock()
	if conf != 0.75 {
		t.Errorf("confidence = %v, want word average 0.75", conf)
	}
}

func TestLocalRestartsAfterDrop(t *testing.T) {
	srv, conns := voskServer(t, true)
	var got phraseLog
	l := NewLocal(wsURL(srv))
	l.RestartDelay = 5 * time.Millisecond

	h, err := l.Start(context.Background(), "", got.add)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	waitFor(t, "second connection", func() bool { return conns.Load() >= 2 })
	waitFor(t, "phrase after restart", func() bool {
		h.Feed(make([]byte, streamChunkBytes))
		return len(got.texts()) > 0
	})
}

func TestLocalUnsupported(t *testing.T) {
	_, err := NewLocal("").Start(context.Background(), "", nil)
	if ReasonOf(err) != ReasonUnsupported {
		t.Fatalf("err = %v, want unsupported", err)
	}
}

func TestDeepgramProbe(t *testing.T) {
	tests := []struct {
		status int
		want   Reason
	}{
		{http.StatusOK, ReasonNone},
		{http.StatusUnauthorized, ReasonAuthError},
		{http.StatusForbidden, ReasonAuthError},
		{http.StatusPaymentRequired, ReasonQuotaExceeded},
		{http.StatusTooManyRequests, ReasonQuotaExceeded},
		{http.StatusBadGateway, ReasonNetworkError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/projects" || r.Header.Get("Authorization") != "Token k" {
					t.Errorf("unexpected request %s %q", r.URL.Path, r.Header.Get("Authorization"))
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			d := NewDeepgram("k", httpx.WithHTTPClient(srv.Client()))
			d.APIURL = srv.URL
			if got := ReasonOf(d.Probe(context.Background())); got != tt.want {
				t.Errorf("reason = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeepgramProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	d := NewDeepgram("k", nil)
	d.APIURL = srv.URL
	if got := ReasonOf(d.Probe(context.Background())); got != ReasonNetworkError {
		t.Errorf("reason = %s, want network_error", got)
	}
	if got := ReasonOf(NewDeepgram("", nil).Probe(context.Background())); got != ReasonUnsupported {
		t.Errorf("no key reason = %s, want unsupported", got)
	}
}

func TestDeepgramStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if lang := r.URL.Query().Get("language"); lang != "de" {
			t.Errorf("language = %q", lang)
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"guten tag","confidence":0.9}]}}`))
			} else if strings.Contains(string(data), "Finalize") {
				c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","from_finalize":true,"channel":{"alternatives":[{"transcript":"ende","confidence":0.8}]}}`))
			}
		}
	}))
	defer srv.Close()

	d := NewDeepgram("k", nil)
	d.StreamURL = wsURL(srv)
	var got phraseLog
	h, err := d.Start(context.Background(), "de", got.add)
	if err != nil {
		t.Fatal(err)
	}
	h.Feed(make([]byte, streamChunkBytes))
	waitFor(t, "phrase", func() bool { return len(got.texts()) == 1 })
	h.Stop()

	if texts := got.texts(); len(texts) != 2 || texts[1] != "ende" {
		t.Fatalf("phrases = %q", texts)
	}
	if h.Err() != nil {
		t.Errorf("Err = %v", h.Err())
	}

	d.APIKey = "bad"
	_, err = d.Start(context.Background(), "de", nil)
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Reason != ReasonAuthError {
		t.Fatalf("dial with bad key = %v, want auth_error", err)
	}
}

func TestDeepgramStartStalledHandshake(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := NewDeepgram("k", nil)
	d.StreamURL = wsURL(srv)
	d.DialTimeout = 50 * time.Millisecond

	begin := time.Now()
	_, err := d.Start(context.Background(), "en", nil)
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Reason != ReasonTimeout {
		t.Fatalf("stalled handshake = %v, want timeout", err)
	}
	if took := time.Since(begin); took > 2*time.Second {
		t.Errorf("Start took %v", took)
	}
}

func TestParseDeepgramIgnoresMetadata(t *testing.T) {
	u, err := parseDeepgram([]byte(`{"type":"Metadata","request_id":"x"}`))
	if err != nil || u.Final || u.Text != "" {
		t.Fatalf("update = %+v, %v", u, err)
	}
	if _, err := parseDeepgram([]byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
}
