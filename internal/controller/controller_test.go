// ABOUTME: End-to-end tests: real agents and raw clients against a live controller.

package controller

import (
	"context"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/outpost/internal/agent"
	"github.com/2389/outpost/internal/capability"
	"github.com/2389/outpost/internal/protocol"
	"github.com/2389/outpost/internal/session"
	"github.com/2389/outpost/internal/wire"
)

type harness struct {
	ctrl *Controller
	addr string
	done chan error
}

func startController(t *testing.T, cfg Config) *harness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{ctrl: New(cfg, nil), addr: ln.Addr().String(), done: make(chan error, 1)}
	go func() { h.done <- h.ctrl.RunOn(ctx, ln, nil) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("controller did not stop")
		}
	})
	return h
}

func (h *harness) waitForSession(t *testing.T, id string) *session.Session {
	t.Helper()
	var s *session.Session
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = h.ctrl.Registry().Get(id)
		return ok
	}, 5*time.Second, 10*time.Millisecond, "session %s never registered", id)
	return s
}

// rawAgent connects and sends payload as the first frame.
func rawAgent(t *testing.T, addr string, first string) *wire.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	wc := wire.NewConn(c, 0)
	t.Cleanup(func() { wc.Close() })
	require.NoError(t, wc.Send(context.Background(), []byte(first)))
	return wc
}

func TestDescriptorRegistersIdentity(t *testing.T) {
	h := startController(t, Config{})
	wc := rawAgent(t, h.addr, `{"hostname":"h","username":"u","platform":"X"}`)

	s := h.waitForSession(t, "h_u_127.0.0.1")
	assert.Equal(t, "X", s.Descriptor.Platform)

	go func() {
		ctx := context.Background()
		frame, err := wc.Recv(ctx)
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(frame)
		if err != nil || env.Type != protocol.CmdGetSysinfo {
			_ = wc.Send(ctx, []byte(`{"error":"unexpected"}`))
			return
		}
		_ = wc.Send(ctx, []byte(`{"info":{"hostname":"h","username":"u"}}`))
	}()

	resp, err := h.ctrl.SendCommand(context.Background(), "h_u_127.0.0.1", protocol.CmdGetSysinfo, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Err())
	assert.Contains(t, resp, "info")
}

func TestHandshakeRejectsBadDescriptor(t *testing.T) {
	h := startController(t, Config{})

	for _, first := range []string{`not json`, `{"hostname":"h"}`, `[1,2,3]`} {
		wc := rawAgent(t, h.addr, first)
		// The controller hangs up without registering.
		_, err := wc.Recv(context.Background())
		assert.True(t, wire.IsClosed(err), "first frame %q: %v", first, err)
	}
	assert.Zero(t, h.ctrl.Registry().Len())
}

func TestHandshakeTimeout(t *testing.T) {
	h := startController(t, Config{HandshakeTimeout: 100 * time.Millisecond})

	c, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer c.Close()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	_, err = c.Read(buf)
	assert.Error(t, err)
	assert.False(t, wire.IsTimeout(err), "controller should have closed the idle connection")
	assert.Zero(t, h.ctrl.Registry().Len())
}

func TestCollisionReject(t *testing.T) {
	h := startController(t, Config{Sessions: session.Options{Collision: session.CollisionReject}})
	rawAgent(t, h.addr, `{"hostname":"h","username":"u"}`)
	orig := h.waitForSession(t, "h_u_127.0.0.1")

	second := rawAgent(t, h.addr, `{"hostname":"h","username":"u"}`)
	_, err := second.Recv(context.Background())
	assert.True(t, wire.IsClosed(err))

	got, ok := h.ctrl.Registry().Get("h_u_127.0.0.1")
	require.True(t, ok)
	assert.Same(t, orig, got)
}

func startAgent(t *testing.T, addr string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a := agent.New(agent.Config{Address: addr, InitialDelay: 50 * time.Millisecond},
		capability.NewHost(capability.Options{ExecTimeout: 5 * time.Second}))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEndToEndWithRealAgent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	h := startController(t, Config{})
	startAgent(t, h.addr)

	host := capability.SystemFacts(protocol.CapabilityFlags{})
	id := session.Identity(host, "127.0.0.1")
	h.waitForSession(t, id)
	ctx := context.Background()

	resp, err := h.ctrl.SendCommand(ctx, id, protocol.CmdExecuteCommand, map[string]string{"command": "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, protocol.Response{"output": "hi\n"}, resp)

	resp, err = h.ctrl.SendCommand(ctx, id, protocol.CmdDownloadFile, map[string]string{"path": "/no/such/file"})
	require.NoError(t, err)
	assert.Equal(t, protocol.Response{"error": "File not found"}, resp)
	assert.Equal(t, protocol.KindNotFound, resp.Err().Kind)

	resp, err = h.ctrl.SendCommand(ctx, id, protocol.CommandType("self_destruct"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Unknown command type: self_destruct", resp.String("error"))

	// The session survives every handler-level error.
	resp, err = h.ctrl.SendCommand(ctx, id, protocol.CmdGetSysinfo, nil)
	require.NoError(t, err)
	info, ok := resp["info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, host.Hostname, info["hostname"])
}

func TestAgentReconnectsAfterKick(t *testing.T) {
	h := startController(t, Config{})
	startAgent(t, h.addr)

	id := session.Identity(capability.SystemFacts(protocol.CapabilityFlags{}), "127.0.0.1")
	first := h.waitForSession(t, id)

	require.NoError(t, h.ctrl.Registry().Remove(id))

	require.Eventually(t, func() bool {
		s, ok := h.ctrl.Registry().Get(id)
		return ok && s.Generation != first.Generation
	}, 5*time.Second, 10*time.Millisecond)
}
