package recognizer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// DefaultDialTimeout bounds the websocket handshake, matching the probe timeout.
const DefaultDialTimeout = 10 * time.Second

// wsConn carries the shared websocket plumbing for both engines.
type wsConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// dialWS opens a stream whose lifetime is independent of ctx; ctx and
// timeout only bound the handshake.
func dialWS(ctx context.Context, kind Kind, endpoint string, headers http.Header, timeout time.Duration) (*wsConn, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dctx, dcancel := context.WithTimeout(ctx, timeout)
	defer dcancel()

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, resp, err := websocket.Dial(dctx, endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		reason := classifyStatus(status, err)
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return nil, &EngineError{Engine: kind, Reason: reason, Cause: err}
	}
	conn.SetReadLimit(1 << 20)
	return &wsConn{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (c *wsConn) sendBinary(b []byte) error {
	return c.conn.Write(c.ctx, websocket.MessageBinary, b)
}

func (c *wsConn) sendText(b []byte) error {
	return c.conn.Write(c.ctx, websocket.MessageText, b)
}

// read maps a normal server-side close onto io.EOF.
func (c *wsConn) read() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// classifyStatus maps an HTTP status or transport error to an availability reason.
func classifyStatus(status int, err error) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuthError
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return ReasonQuotaExceeded
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case status >= 200 && status < 300 && err == nil:
		return ReasonNone
	}
	return ReasonNetworkError
}
