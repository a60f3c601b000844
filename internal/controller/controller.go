// ABOUTME: Controller accepts agent connections and serves the operator console API.
// ABOUTME: Owns the session registry and the shutdown ordering of both listeners.

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/outpost/internal/dedupe"
	"github.com/2389/outpost/internal/protocol"
	"github.com/2389/outpost/internal/session"
	"github.com/2389/outpost/internal/wire"
)

// Defaults for Config.
const (
	DefaultListenAddr       = "0.0.0.0:4444"
	DefaultHandshakeTimeout = 30 * time.Second

	acceptRetryDelay = time.Second
	shutdownTimeout  = 5 * time.Second
)

// Config holds controller settings.
type Config struct {
	// ListenAddr is where agents connect.
	ListenAddr string
	// HTTPAddr is the console API address. Empty disables the console.
	HTTPAddr         string
	HandshakeTimeout time.Duration
	MaxFrameSize     int
	Sessions         session.Options
}

// Controller is the listening side of the protocol.
type Controller struct {
	cfg      Config
	registry *session.Registry
	replays  *dedupe.Cache
	logger   *slog.Logger

	handlers sync.WaitGroup
}

// New creates a Controller. Pass nil logger for default.
func New(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Sessions.Logger == nil {
		cfg.Sessions.Logger = logger
	}
	return &Controller{
		cfg:      cfg,
		registry: session.NewRegistry(cfg.Sessions),
		replays:  dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxKeys),
		logger:   logger.With("component", "controller"),
	}
}

// Registry exposes the live sessions.
func (c *Controller) Registry() *session.Registry {
	return c.registry
}

// SendCommand is a convenience wrapper over the registry.
func (c *Controller) SendCommand(ctx context.Context, id string, t protocol.CommandType, data any) (protocol.Response, error) {
	return c.registry.SendCommand(ctx, id, t, data)
}

// Run listens on the configured addresses and blocks until ctx is canceled
// or a listener fails. Returns nil on a clean shutdown.
func (c *Controller) Run(ctx context.Context) error {
	agentLn, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on agent address: %w", err)
	}

	var httpLn net.Listener
	if c.cfg.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", c.cfg.HTTPAddr)
		if err != nil {
			_ = agentLn.Close()
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
	}

	return c.RunOn(ctx, agentLn, httpLn)
}

// RunOn is Run over caller-provided listeners. httpLn may be nil.
func (c *Controller) RunOn(ctx context.Context, agentLn, httpLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Serve(gctx, agentLn)
	})

	if httpLn != nil {
		srv := &http.Server{
			Handler:           c.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			c.logger.Info("console API listening", "addr", httpLn.Addr().String())
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	c.shutdown()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve runs the accept loop on ln until ctx is canceled.
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	c.logger.Info("listening for agents", "addr", ln.Addr().String())
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("agent listener closed: %w", err)
			}
			c.logger.Warn("accept failed", "error", err, "retry_in", acceptRetryDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		c.handlers.Add(1)
		go func() {
			defer c.handlers.Done()
			c.handleConn(ctx, conn)
		}()
	}
}

// handleConn reads the descriptor, registers the session, then parks until
// the session is closed. No further reads happen here: the connection now
// belongs to the registry's command round trips.
func (c *Controller) handleConn(ctx context.Context, conn net.Conn) {
	logger := c.logger.With("remote_addr", conn.RemoteAddr().String())
	wc := wire.NewConn(conn, c.cfg.MaxFrameSize)

	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	first, err := wc.Recv(hctx)
	cancel()
	if err != nil {
		logger.Warn("handshake failed", "error", err)
		_ = wc.Close()
		return
	}

	desc, err := protocol.ParseDescriptor(first)
	if err != nil {
		logger.Warn("invalid descriptor", "error", err)
		_ = wc.Close()
		return
	}

	s := session.New(wc, desc)
	if err := c.registry.Register(s); err != nil {
		logger.Warn("registration refused", "session_id", s.ID, "error", err)
		_ = s.Close()
		return
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
		_ = s.Close()
	}
}

func (c *Controller) shutdown() {
	c.registry.CloseAll()
	c.handlers.Wait()
	c.replays.Close()
	c.logger.Info("controller stopped")
}
