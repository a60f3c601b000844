// Package client is a Go client for the outpost-controller console API.
//
// # Overview
//
// The controller exposes its session registry over HTTP. This package wraps
// those endpoints for outpost-admin and for tests:
//
//   - Health: GET /health
//   - Sessions, Session: GET /api/sessions[/{id}]
//   - Kick: DELETE /api/sessions/{id}
//   - Send: POST /api/sessions/{id}/commands
//   - Watch: GET /api/events (Server-Sent Events)
//
// Typed helpers (Exec, ListDirectory, Download, Upload, SystemInfo,
// Screenshot, CaptureWebcam) build the command payload and decode the
// agent's reply.
//
// # Errors
//
// Three layers of failure are kept apart:
//
//   - HTTP failures come back as *APIError. A 404 matches ErrNotFound and a
//     502 (the agent connection died mid-command) matches ErrAgentGone.
//   - Agent-reported failures, such as "File not found", come back as
//     *protocol.CommandError, so callers can use errors.Is with the
//     protocol sentinels.
//   - Everything else (dial errors, malformed bodies) is wrapped with
//     context.
//
// # Usage
//
//	c := client.New("http://127.0.0.1:8080")
//	out, err := c.Exec(ctx, "web01_root_10.0.0.7", "uname -a")
//	if errors.Is(err, protocol.ErrTimeout) {
//	    // the command ran past the agent's exec timeout
//	}
package client
