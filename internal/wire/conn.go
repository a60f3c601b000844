// ABOUTME: Frame reader/writer bound to a net.Conn with context-derived deadlines.
// ABOUTME: Also classifies transport errors that mean the peer is gone.

package wire

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// Conn exchanges frames over a net.Conn. It does not serialize callers; the
// agent loop and the controller's per-session exclusion already do.
type Conn struct {
	conn    net.Conn
	maxSize int
}

// NewConn wraps c. maxSize <= 0 selects DefaultMaxFrameSize.
func NewConn(c net.Conn, maxSize int) *Conn {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Conn{conn: c, maxSize: maxSize}
}

// Send writes one frame, honoring the context deadline if any.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	stop := closeOnCancel(ctx, c.conn)
	defer stop()
	return WriteFrame(c.conn, payload)
}

// Recv reads one frame, honoring the context deadline if any.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	stop := closeOnCancel(ctx, c.conn)
	defer stop()
	return ReadFrame(c.conn, c.maxSize)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// closeOnCancel unblocks a pending read or write when ctx is canceled by
// closing the connection. Cancellation is fatal to the stream anyway: a half
// written or half read frame cannot be resumed.
func closeOnCancel(ctx context.Context, c net.Conn) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	return func() { stop() }
}

// IsClosed reports whether err means the peer or the local side tore the
// connection down: a short frame, EOF, a closed socket, a broken pipe or a
// reset.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry on the connection.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
