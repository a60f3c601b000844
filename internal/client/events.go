// ABOUTME: Consumes the controller's Server-Sent Events stream of registry changes.
// ABOUTME: The first event is always a snapshot of the sessions already connected.

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/outpost/internal/session"
)

// EventSnapshot is the kind of the first event on a stream.
const EventSnapshot = "snapshot"

// maxEventSize bounds one SSE data line; a snapshot lists every session.
const maxEventSize = 4 << 20

// StreamEvent is one decoded event from Watch.
type StreamEvent struct {
	Kind string
	// Snapshot is set for EventSnapshot.
	Snapshot []session.Info
	// Change is set for every other kind.
	Change *session.Event
}

// Watch streams registry events to onEvent until ctx is canceled, the
// server closes the stream, or onEvent returns an error. A canceled ctx
// returns nil.
func (c *Client) Watch(ctx context.Context, onEvent func(StreamEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}

	err = parseSSEStream(resp.Body, func(kind, data string) error {
		ev, err := decodeStreamEvent(kind, data)
		if err != nil {
			return err
		}
		return onEvent(ev)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func decodeStreamEvent(kind, data string) (StreamEvent, error) {
	ev := StreamEvent{Kind: kind}
	if kind == EventSnapshot {
		if err := json.Unmarshal([]byte(data), &ev.Snapshot); err != nil {
			return ev, fmt.Errorf("decoding snapshot: %w", err)
		}
		return ev, nil
	}
	var change session.Event
	if err := json.Unmarshal([]byte(data), &change); err != nil {
		return ev, fmt.Errorf("decoding %s event: %w", kind, err)
	}
	ev.Change = &change
	return ev, nil
}

// parseSSEStream reads SSE events from body, calling fn for each complete
// event. Comment lines (keepalives) are skipped.
func parseSSEStream(body io.Reader, fn func(kind, data string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				if err := fn(eventType, strings.Join(dataLines, "\n")); err != nil {
					return err
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}
