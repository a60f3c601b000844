// ABOUTME: HTTP console API: list, inspect and remove sessions, send commands, stream events.
// ABOUTME: Agent-reported command errors are returned inside a 200 response body.

package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/outpost/internal/protocol"
	"github.com/2389/outpost/internal/session"
)

// maxCommandBody bounds a console command request; uploads ride in it.
const maxCommandBody = 96 << 20

// IdempotencyKeyHeader lets a console client retry a command without the
// agent running it twice.
const IdempotencyKeyHeader = "Idempotency-Key"

// CommandRequest is the body of POST /api/sessions/{id}/commands.
type CommandRequest struct {
	Type protocol.CommandType `json:"type"`
	Data json.RawMessage      `json:"data,omitempty"`
}

// CommandResponse wraps the agent's reply.
type CommandResponse struct {
	RequestID string            `json:"request_id"`
	Response  protocol.Response `json:"response"`
	Error     *CommandErrorInfo `json:"command_error,omitempty"`
}

// CommandErrorInfo classifies an agent-reported error for API consumers.
type CommandErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Handler returns the console API handler.
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", c.handleHealth)
	mux.HandleFunc("GET /api/sessions", c.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", c.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", c.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/commands", c.handleSendCommand)
	mux.HandleFunc("GET /api/events", c.handleEvents)
	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (c *Controller) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (c *Controller) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := c.registry.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	c.sendJSON(w, http.StatusOK, infos)
}

func (c *Controller) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := c.registry.Get(r.PathValue("id"))
	if !ok {
		c.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	c.sendJSON(w, http.StatusOK, s.Info())
}

func (c *Controller) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := c.registry.Remove(r.PathValue("id")); err != nil {
		c.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendCommand relays one command. The round trip is detached from
// the HTTP request's cancellation: aborting mid-frame would desynchronize
// the stream and cost the session. The registry's call timeout still applies.
func (c *Controller) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := parseCommandRequest(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err != nil {
		c.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestID := uuid.New().String()
	logger := c.logger.With("request_id", requestID, "session_id", id, "command_type", req.Type)

	// A claimed key is released when the command never reached the agent.
	replayKey := ""
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		replayKey = id + "\x00" + key
		if !c.replays.Claim(replayKey) {
			logger.Warn("duplicate idempotency key", "key", key)
			c.sendJSONError(w, http.StatusConflict, "duplicate idempotency key")
			return
		}
	}
	release := func() {
		if replayKey != "" {
			c.replays.Release(replayKey)
		}
	}

	logger.Info("relaying command")

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}

	resp, err := c.registry.SendCommand(context.WithoutCancel(r.Context()), id, req.Type, data)
	var terr *session.TransportError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		release()
		c.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	case errors.As(err, &terr):
		release()
		logger.Warn("command transport failure", "error", err)
		c.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	case errors.Is(err, session.ErrBadResponse):
		logger.Warn("agent sent malformed response", "error", err)
		c.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		release()
		logger.Error("command failed", "error", err)
		c.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := CommandResponse{RequestID: requestID, Response: resp}
	if cmdErr := resp.Err(); cmdErr != nil {
		out.Error = &CommandErrorInfo{Kind: cmdErr.Kind.String(), Message: cmdErr.Message}
		logger.Info("agent reported error", "kind", cmdErr.Kind, "error", cmdErr.Message)
	}
	c.sendJSON(w, http.StatusOK, out)
}

// handleEvents streams registry events as Server-Sent Events, starting with
// a snapshot of the current sessions.
func (c *Controller) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events := c.registry.Subscribe(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sessions := c.registry.List()
	snapshot := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		snapshot = append(snapshot, s.Info())
	}
	c.writeSSEEvent(w, "snapshot", snapshot)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.writeSSEEvent(w, string(ev.Kind), ev)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (c *Controller) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		c.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func (c *Controller) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (c *Controller) sendJSONError(w http.ResponseWriter, status int, message string) {
	c.sendJSON(w, status, map[string]string{"error": message})
}

// parseCommandRequest decodes and validates a command request body.
func parseCommandRequest(r io.Reader) (*CommandRequest, error) {
	var req CommandRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Type == "" {
		return nil, errors.New("type is required")
	}
	if trimmed := bytes.TrimSpace(req.Data); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] != '{' {
			return nil, errors.New("data must be a JSON object")
		}
	} else {
		req.Data = nil
	}
	return &req, nil
}
