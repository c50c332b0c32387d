package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// WSDialer dials the live channel with github.com/coder/websocket.
type WSDialer struct {
	// HTTPClient is used for the upgrade handshake. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// Header is sent with the handshake (User-Agent, X-Request-ID).
	Header http.Header

	// ReadLimit caps inbound frame size. <= 0 means maxFrameBytes.
	ReadLimit int64
}

// DialError reports a failed handshake. Status is the HTTP status of the
// upgrade response, or 0 when none was received.
type DialError struct {
	Status int
	Err    error
}

func (e *DialError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("realtime dial: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("realtime dial: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Dial opens a websocket to url.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &DialError{Status: status, Err: err}
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = maxFrameBytes
	}
	conn.SetReadLimit(limit)
	return &wsConn{c: conn}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	mt, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, frame []byte) error {
	return w.c.Write(ctx, websocket.MessageText, frame)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func (k readErrKind) String() string {
	switch k {
	case readErrClose:
		return "peer closed"
	case readErrCtxDone:
		return "context done"
	case readErrConnClosed:
		return "conn closed"
	default:
		return "read failed"
	}
}

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
