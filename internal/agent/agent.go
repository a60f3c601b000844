// ABOUTME: Agent dials the controller, announces itself and serves commands forever.
// ABOUTME: Any session failure releases resources and falls back to reconnecting.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
	"github.com/2389/outpost/internal/wire"
)

// Defaults for Config.
const (
	DefaultInitialDelay = 5 * time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMultiplier   = 1.5
	DefaultDialTimeout  = 10 * time.Second
)

// State is the agent's position in its connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAnnounced
	StateCommandLoop
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAnnounced:
		return "announced"
	case StateCommandLoop:
		return "command_loop"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Host is what the agent serves: the command capabilities plus the
// description it announces on connect.
type Host interface {
	command.Capabilities
	Descriptor() protocol.Descriptor
}

// Config holds connection settings.
type Config struct {
	Address      string
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	DialTimeout  time.Duration
	MaxFrameSize int
}

func (c *Config) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

// DialFunc opens a connection to address.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// SleepFunc waits d or until ctx ends, returning ctx.Err() in that case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes an Agent.
type Option func(*Agent)

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(a *Agent) { a.dial = dial }
}

// WithSleep replaces the real-time wait between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(a *Agent) { a.sleep = sleep }
}

// WithStateHook is called on every state transition, from the Run goroutine.
func WithStateHook(fn func(State)) Option {
	return func(a *Agent) { a.onState = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// Agent is the dial-out side of the protocol.
type Agent struct {
	cfg        Config
	host       Host
	dispatcher *command.Dispatcher

	dial    DialFunc
	sleep   SleepFunc
	onState func(State)
	logger  *slog.Logger

	state State
}

// New creates an Agent serving host.
func New(cfg Config, host Host, opts ...Option) *Agent {
	cfg.applyDefaults()
	a := &Agent{
		cfg:    cfg,
		host:   host,
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	a.dial = a.dialTCP
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "agent")
	a.dispatcher = command.NewDispatcher(host, a.logger)
	return a
}

// Run connects and serves until ctx is canceled. It never gives up on the
// controller; the only way out is cancellation, which returns nil.
func (a *Agent) Run(ctx context.Context) error {
	backoff := NewBackoff(a.cfg.InitialDelay, a.cfg.MaxDelay, a.cfg.Multiplier)

	for {
		conn, err := a.connect(ctx, backoff)
		if err != nil {
			a.setState(StateDisconnected)
			return nil
		}

		err = a.serve(ctx, conn)
		a.dispatcher.Release()
		_ = conn.Close()
		a.setState(StateDisconnected)

		if ctx.Err() != nil {
			a.logger.Info("agent stopping")
			return nil
		}
		a.logger.Warn("session ended, reconnecting",
			"error", err,
			"retry_in", a.cfg.InitialDelay,
		)

		backoff.Reset()
		if err := a.sleep(ctx, a.cfg.InitialDelay); err != nil {
			return nil
		}
	}
}

// connect dials until it succeeds or ctx ends.
func (a *Agent) connect(ctx context.Context, backoff *Backoff) (net.Conn, error) {
	for {
		a.setState(StateConnecting)
		conn, err := a.dial(ctx, a.cfg.Address)
		if err == nil {
			a.logger.Info("connected to controller", "address", a.cfg.Address)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := backoff.Next()
		a.logger.Warn("connection failed",
			"address", a.cfg.Address,
			"error", err,
			"retry_in", delay,
		)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// serve announces the host and runs the command loop until the transport
// fails. Command failures are answered, never returned.
func (a *Agent) serve(ctx context.Context, conn net.Conn) error {
	wc := wire.NewConn(conn, a.cfg.MaxFrameSize)

	descriptor, err := json.Marshal(a.host.Descriptor())
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	if err := wc.Send(ctx, descriptor); err != nil {
		return fmt.Errorf("sending descriptor: %w", err)
	}
	a.setState(StateAnnounced)
	a.setState(StateCommandLoop)

	for {
		frame, err := wc.Recv(ctx)
		if err != nil {
			if wire.IsClosed(err) {
				return fmt.Errorf("controller closed connection: %w", err)
			}
			return fmt.Errorf("reading command: %w", err)
		}

		reply, err := json.Marshal(a.dispatcher.Dispatch(ctx, frame))
		if err != nil {
			reply, _ = json.Marshal(protocol.ErrorResponse(protocol.HandlerFailure(err)))
		}
		if err := wc.Send(ctx, reply); err != nil {
			return fmt.Errorf("sending response: %w", err)
		}
	}
}

func (a *Agent) setState(s State) {
	if s == a.state && s != StateConnecting {
		return
	}
	a.logger.Debug("state change", "from", a.state, "to", s)
	a.state = s
	if a.onState != nil {
		a.onState(s)
	}
}

func (a *Agent) dialTCP(ctx context.Context, address string) (net.Conn, error) {
	d := net.Dialer{Timeout: a.cfg.DialTimeout}
	return d.DialContext(ctx, "tcp", address)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrNoAddress is returned by Validate for an empty controller address.
var ErrNoAddress = errors.New("controller address is required")

// Validate checks the settings New cannot default.
func (c Config) Validate() error {
	if c.Address == "" {
		return ErrNoAddress
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("invalid controller address %q: %w", c.Address, err)
	}
	return nil
}
