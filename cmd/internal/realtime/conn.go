package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"wastewise/cmd/internal/clock"
)

// Conn is one open channel connection.
type Conn interface {
	// Read blocks for the next frame.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens connections. WSDialer is the production implementation.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// liveConn is the manager's handle on one open connection.
//
// intentional is set by Disconnect before the connection is closed; the
// reader consults it to tell a deliberate teardown from a network failure.
// Close is idempotent and does not block on the close handshake.
type liveConn struct {
	conn Conn
	gen  uint64

	ctx    context.Context
	cancel context.CancelFunc

	intentional atomic.Bool

	// heartbeat is the pending ping timer, guarded by the manager lock.
	heartbeat clock.Timer

	done      chan struct{}
	closeOnce sync.Once
}

func newLiveConn(conn Conn, gen uint64) *liveConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &liveConn{
		conn:   conn,
		gen:    gen,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the connection is shutting down.
func (c *liveConn) Done() <-chan struct{} { return c.done }

func (c *liveConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close signals shutdown and closes the underlying connection in the background.
func (c *liveConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() {
			_ = c.conn.Close()
			c.cancel()
		}()
	})
}
