// ABOUTME: Registry tracks live sessions by identity and runs command round trips.
// ABOUTME: A transport failure during a call evicts the session it happened on.

package session

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/outpost/internal/protocol"
	"github.com/2389/outpost/internal/wire"
)

// ErrSessionNotFound indicates no live session has the requested identity.
var ErrSessionNotFound = errors.New("session not found")

// ErrIdentityInUse indicates a registration refused under CollisionReject.
var ErrIdentityInUse = errors.New("session identity already in use")

// ErrBadResponse indicates the agent replied with something other than a
// JSON object. The stream is still in step, so the session is kept.
var ErrBadResponse = errors.New("malformed response")

// TransportError reports a send, receive or timeout failure during a
// command. The session has been removed by the time the caller sees it.
type TransportError struct {
	SessionID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session %s: transport failure: %v", e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Exclusion selects how concurrent callers are serialized.
type Exclusion string

const (
	// ExclusionSession serializes calls per session.
	ExclusionSession Exclusion = "session"
	// ExclusionGlobal allows one call in flight across all sessions.
	ExclusionGlobal Exclusion = "global"
)

// Collision selects what happens when an identity registers twice.
type Collision string

const (
	// CollisionReplace closes the old connection and keeps the new one.
	CollisionReplace Collision = "replace"
	// CollisionReject keeps the old connection and refuses the new one.
	CollisionReject Collision = "reject"
)

// DefaultCallTimeout bounds one command round trip. It must exceed the
// longest blocking command an operator is expected to issue.
const DefaultCallTimeout = 5 * time.Minute

// Options configures a Registry.
type Options struct {
	Exclusion   Exclusion
	Collision   Collision
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Registry is the controller's set of live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	global sync.Mutex
	opts   Options
	events *Broadcaster
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Exclusion == "" {
		opts.Exclusion = ExclusionSession
	}
	if opts.Collision == "" {
		opts.Collision = CollisionReplace
	}
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
		events:   NewBroadcaster(opts.Logger),
		logger:   opts.Logger.With("component", "registry"),
	}
}

// Register adds s under its identity.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	old, exists := r.sessions[s.ID]
	if exists && r.opts.Collision == CollisionReject {
		r.mu.Unlock()
		return ErrIdentityInUse
	}
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	if exists {
		_ = old.Close()
		r.publish(EventReplaced, old, "reconnected from "+s.RemoteAddr)
		r.logger.Info("session replaced",
			"session_id", s.ID,
			"old_generation", old.Generation,
			"generation", s.Generation,
		)
	}

	r.publish(EventConnected, s, "")
	r.logger.Info("=== SESSION CONNECTED ===",
		"session_id", s.ID,
		"platform", s.Descriptor.Platform,
		"remote_addr", s.RemoteAddr,
		"total_sessions", total,
	)
	return nil
}

// Remove closes and drops the session with the given identity.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	_ = s.Close()
	r.publish(EventRemoved, s, "removed by operator")
	r.logger.Info("=== SESSION REMOVED ===", "session_id", id)
	return nil
}

// removeIfCurrent drops s only if it is still the registered session for
// its identity, so a stale handle cannot evict a newer connection.
func (r *Registry) removeIfCurrent(s *Session, reason error) {
	r.mu.Lock()
	cur, ok := r.sessions[s.ID]
	current := ok && cur.Generation == s.Generation
	if current {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()

	_ = s.Close()
	if !current {
		return
	}
	r.publish(EventDisconnected, s, reason.Error())
	r.logger.Warn("=== SESSION DISCONNECTED ===",
		"session_id", s.ID,
		"generation", s.Generation,
		"error", reason,
	)
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all sessions ordered by connect time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Subscribe streams registry events until ctx ends.
func (r *Registry) Subscribe(ctx context.Context) <-chan Event {
	ch, _ := r.events.Subscribe(ctx)
	return ch
}

// CloseAll closes every session and ends all subscriptions.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	r.events.Close()
	r.logger.Info("all sessions closed", "count", len(all))
}

// SendCommand sends one command to the session id and waits for its reply.
// Agent-reported failures come back inside the Response (see Response.Err);
// the error return is reserved for lookup, transport and decoding problems.
func (r *Registry) SendCommand(ctx context.Context, id string, t protocol.CommandType, data any) (protocol.Response, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	env, err := protocol.NewEnvelope(t, data)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	unlock := r.acquire(s)
	defer unlock()

	// The session may have been replaced or removed while we waited.
	if s.Closed() {
		return nil, ErrSessionNotFound
	}

	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.conn.Send(ctx, payload); err != nil {
		return nil, r.fail(s, fmt.Errorf("sending %s: %w", t, err))
	}
	reply, err := s.conn.Recv(ctx)
	if err != nil {
		return nil, r.fail(s, fmt.Errorf("reading %s reply: %w", t, err))
	}
	s.touch()

	resp, err := protocol.ParseResponse(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	r.logger.Debug("command completed",
		"session_id", s.ID,
		"command_type", t,
		"duration", time.Since(start),
		"reply_bytes", len(reply),
	)
	return resp, nil
}

func (r *Registry) acquire(s *Session) func() {
	if r.opts.Exclusion == ExclusionGlobal {
		r.global.Lock()
		return r.global.Unlock
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (r *Registry) fail(s *Session, err error) error {
	if wire.IsTimeout(err) {
		err = fmt.Errorf("%w (call timeout)", err)
	}
	r.removeIfCurrent(s, err)
	return &TransportError{SessionID: s.ID, Err: err}
}

func (r *Registry) publish(kind EventKind, s *Session, reason string) {
	r.events.Publish(Event{Kind: kind, Session: s.Info(), Reason: reason, At: time.Now()})
}
