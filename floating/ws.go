package floating

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"livecap/log"
)

// wsPort carries envelopes as JSON text frames.
type wsPort struct {
	conn *websocket.Conn
}

func NewWSPort(conn *websocket.Conn) Port {
	return &wsPort{conn: conn}
}

func (p *wsPort) Send(ctx context.Context, msg Message) error {
	return wsjson.Write(ctx, p.conn, msg)
}

func (p *wsPort) Recv(ctx context.Context) (Message, error) {
	var msg Message
	if err := wsjson.Read(ctx, p.conn, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (p *wsPort) Close() error {
	return p.conn.Close(websocket.StatusNormalClosure, "")
}

// Server accepts secondary surfaces at /surface?kind=secondary-surface.
type Server struct {
	Sync *Synchronizer
	// OriginPatterns is passed to websocket.Accept; surfaces are origin-agnostic.
	OriginPatterns []string
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/surface", s.serveSurface)
	return mux
}

func (s *Server) serveSurface(w http.ResponseWriter, r *http.Request) {
	kind := SecondarySurface
	if k, ok := ParseKind(r.URL.Query().Get("kind")); ok {
		kind = k
	}

	patterns := s.OriginPatterns
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		log.Warnf("floating accept: %v", err)
		return
	}

	_, done, err := s.Sync.Open(kind, NewWSPort(conn))
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	select {
	case <-done:
	case <-r.Context().Done():
	}
}
