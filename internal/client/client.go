// ABOUTME: HTTP client for the controller console API: sessions, commands, kicks.
// ABOUTME: Agent-reported errors surface as *protocol.CommandError, HTTP ones as *APIError.

package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
	"github.com/2389/outpost/internal/session"
)

// DefaultURL is where a default controller serves its console.
const DefaultURL = "http://127.0.0.1:8080"

var (
	// ErrNotFound matches an APIError for an unknown session.
	ErrNotFound = errors.New("session not found")
	// ErrAgentGone matches an APIError for a command whose agent
	// connection failed; the controller has dropped the session.
	ErrAgentGone = errors.New("agent connection failed")
	// ErrDuplicate matches an APIError for a reused idempotency key.
	ErrDuplicate = errors.New("duplicate idempotency key")
)

type idempotencyKey struct{}

// WithIdempotencyKey marks commands sent with ctx so the controller relays
// each key at most once per session.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// APIError is a non-2xx console response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("controller returned %d: %s", e.Status, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrAgentGone:
		return e.Status == http.StatusBadGateway
	case ErrDuplicate:
		return e.Status == http.StatusConflict
	}
	return false
}

// Client talks to one controller.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the console at baseURL. A bare host:port gets an
// http:// scheme.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// No client timeout: record_video and the event stream are long.
		httpClient: &http.Client{},
	}
}

// Result is one relayed command reply.
type Result struct {
	RequestID string
	Response  protocol.Response
	raw       json.RawMessage
}

// Err returns the agent-reported error, or nil.
func (r *Result) Err() error {
	if cmdErr := r.Response.Err(); cmdErr != nil {
		return cmdErr
	}
	return nil
}

// Decode unmarshals the raw reply into v.
func (r *Result) Decode(v any) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Health checks that the controller is up.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

// Sessions lists connected agents, oldest first.
func (c *Client) Sessions(ctx context.Context) ([]session.Info, error) {
	var out []session.Info
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session fetches one session.
func (c *Client) Session(ctx context.Context, id string) (*session.Info, error) {
	var out session.Info
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Kick disconnects a session. The agent will reconnect on its own schedule.
func (c *Client) Kick(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

// Send relays one command. A nil data sends an empty object. The returned
// error covers transport and HTTP failures only; check Result.Err for the
// agent's own verdict.
func (c *Client) Send(ctx context.Context, id string, t protocol.CommandType, data any) (*Result, error) {
	req := struct {
		Type protocol.CommandType `json:"type"`
		Data any                  `json:"data,omitempty"`
	}{Type: t, Data: data}

	var out struct {
		RequestID string          `json:"request_id"`
		Response  json.RawMessage `json:"response"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/commands", req, &out); err != nil {
		return nil, err
	}

	resp, err := protocol.ParseResponse(out.Response)
	if err != nil {
		return nil, err
	}
	return &Result{RequestID: out.RequestID, Response: resp, raw: out.Response}, nil
}

// call sends a command and decodes a successful reply into v.
func (c *Client) call(ctx context.Context, id string, t protocol.CommandType, data, v any) error {
	res, err := c.Send(ctx, id, t, data)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return res.Decode(v)
}

// SystemInfo asks the agent to describe its host again.
func (c *Client) SystemInfo(ctx context.Context, id string) (protocol.Descriptor, error) {
	var out struct {
		Info protocol.Descriptor `json:"info"`
	}
	err := c.call(ctx, id, protocol.CmdGetSysinfo, nil, &out)
	return out.Info, err
}

// Exec runs a shell command on the agent and returns its combined output.
func (c *Client) Exec(ctx context.Context, id, cmdline string) (string, error) {
	var out struct {
		Output string `json:"output"`
	}
	err := c.call(ctx, id, protocol.CmdExecuteCommand, map[string]string{"command": cmdline}, &out)
	return out.Output, err
}

// ListDirectory lists path on the agent.
func (c *Client) ListDirectory(ctx context.Context, id, path string) ([]command.FileEntry, error) {
	var out struct {
		Files []command.FileEntry `json:"files"`
	}
	err := c.call(ctx, id, protocol.CmdListDirectory, map[string]string{"path": path}, &out)
	return out.Files, err
}

// Download fetches a file, returning its base name and content.
func (c *Client) Download(ctx context.Context, id, path string) (string, []byte, error) {
	var out struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if err := c.call(ctx, id, protocol.CmdDownloadFile, map[string]string{"path": path}, &out); err != nil {
		return "", nil, err
	}
	data, err := base64.StdEncoding.DecodeString(out.Content)
	if err != nil {
		return "", nil, fmt.Errorf("decoding file content: %w", err)
	}
	return out.Filename, data, nil
}

// Upload writes content to path on the agent, creating parent directories.
func (c *Client) Upload(ctx context.Context, id, path string, content []byte) error {
	return c.call(ctx, id, protocol.CmdUploadFile, map[string]string{
		"path":    path,
		"content": base64.StdEncoding.EncodeToString(content),
	}, nil)
}

// Screenshot captures the agent's screen.
func (c *Client) Screenshot(ctx context.Context, id string) (command.Blob, error) {
	var out struct {
		Screenshot string `json:"screenshot"`
		Format     string `json:"format"`
	}
	if err := c.call(ctx, id, protocol.CmdTakeScreenshot, nil, &out); err != nil {
		return command.Blob{}, err
	}
	return decodeBlob(out.Screenshot, out.Format)
}

// CaptureWebcam grabs one frame from a camera.
func (c *Client) CaptureWebcam(ctx context.Context, id string, index int) (command.Blob, error) {
	var out struct {
		Image  string `json:"image"`
		Format string `json:"format"`
	}
	if err := c.call(ctx, id, protocol.CmdCaptureWebcam, map[string]int{"camera_index": index}, &out); err != nil {
		return command.Blob{}, err
	}
	return decodeBlob(out.Image, out.Format)
}

func decodeBlob(data, format string) (command.Blob, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return command.Blob{}, fmt.Errorf("decoding %s data: %w", format, err)
	}
	return command.Blob{Data: raw, Format: format}, nil
}

// doJSON makes a request and decodes a JSON body into result when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key, ok := ctx.Value(idempotencyKey{}).(string); ok && key != "" && method == http.MethodPost {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}
	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// parseError extracts the message from a JSON error body.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
