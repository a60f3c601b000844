// ABOUTME: Envelope and Response payload types plus their JSON validation rules.
// ABOUTME: Validation failures here are protocol errors, never transport errors.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the controller-to-agent command payload.
type Envelope struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope builds an Envelope from arbitrary data. A nil data value is
// sent as an empty object so the agent always sees both keys.
func NewEnvelope(t CommandType, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: t, Data: json.RawMessage("{}")}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s data: %w", t, err)
	}
	if !isObject(raw) {
		return Envelope{}, fmt.Errorf("%s data must be a JSON object", t)
	}
	return Envelope{Type: t, Data: raw}, nil
}

// ParseEnvelope validates and decodes a command frame. Any shape problem
// (not JSON, not an object, type missing or not a string, data missing or
// not an object) yields ErrInvalidFormat.
//
// The type is not checked against the vocabulary here; unknown types are a
// separate, reportable condition.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Envelope{}, ErrInvalidFormat
	}

	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, ErrInvalidFormat
	}
	var name string
	if err := json.Unmarshal(rawType, &name); err != nil {
		return Envelope{}, ErrInvalidFormat
	}

	data, ok := fields["data"]
	if !ok || !isObject(data) {
		return Envelope{}, ErrInvalidFormat
	}

	return Envelope{Type: CommandType(name), Data: data}, nil
}

// Response is the free-form agent reply: result fields, or a single "error".
type Response map[string]any

// ErrorResponse renders err as the conventional {"error": message} reply.
func ErrorResponse(err error) Response {
	return Response{"error": err.Error()}
}

// ParseResponse decodes a reply frame. The only schema is "a JSON object".
func ParseResponse(payload []byte) (Response, error) {
	if !isObject(payload) {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	var resp Response
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp, nil
}

// Err returns the reply's error as a CommandError classified by message, or
// nil if the reply carries no "error" field.
func (r Response) Err() *CommandError {
	raw, ok := r["error"]
	if !ok {
		return nil
	}
	msg, ok := raw.(string)
	if !ok {
		msg = fmt.Sprint(raw)
	}
	return &CommandError{Kind: ClassifyError(msg), Message: msg}
}

// String returns a field as a string, or "" when absent or not a string.
func (r Response) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func isObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
