// ABOUTME: Session is one announced agent connection held by the controller.
// ABOUTME: Identity is hostname_username_peerIP; Generation tells reconnects apart.

package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/outpost/internal/protocol"
	"github.com/2389/outpost/internal/wire"
)

// Session is a registered agent connection.
type Session struct {
	ID          string
	Generation  string
	Descriptor  protocol.Descriptor
	RemoteAddr  string
	ConnectedAt time.Time

	conn     *wire.Conn
	mu       sync.Mutex // held for a whole command round trip
	lastUsed atomic.Int64
	done     chan struct{}
	once     sync.Once
}

// Info is the externally visible snapshot of a session.
type Info struct {
	ID          string              `json:"id"`
	Generation  string              `json:"generation"`
	Hostname    string              `json:"hostname"`
	Username    string              `json:"username"`
	Platform    string              `json:"platform,omitempty"`
	RemoteAddr  string              `json:"remote_addr"`
	ConnectedAt time.Time           `json:"connected_at"`
	LastCommand *time.Time          `json:"last_command,omitempty"`
	Descriptor  protocol.Descriptor `json:"descriptor"`
}

// Identity derives the registry key for an agent.
func Identity(d protocol.Descriptor, peerIP string) string {
	return d.Hostname + "_" + d.Username + "_" + peerIP
}

// PeerIP strips the port from a net.Addr.
func PeerIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// New wraps an accepted connection whose descriptor has been read.
func New(conn *wire.Conn, d protocol.Descriptor) *Session {
	return &Session{
		ID:          Identity(d, PeerIP(conn.RemoteAddr())),
		Generation:  uuid.New().String(),
		Descriptor:  d,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		done:        make(chan struct{}),
	}
}

// Done is closed once the session's connection has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close closes the connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Info returns a snapshot for display.
func (s *Session) Info() Info {
	info := Info{
		ID:          s.ID,
		Generation:  s.Generation,
		Hostname:    s.Descriptor.Hostname,
		Username:    s.Descriptor.Username,
		Platform:    s.Descriptor.Platform,
		RemoteAddr:  s.RemoteAddr,
		ConnectedAt: s.ConnectedAt,
		Descriptor:  s.Descriptor,
	}
	if ns := s.lastUsed.Load(); ns != 0 {
		t := time.Unix(0, ns)
		info.LastCommand = &t
	}
	return info
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}
