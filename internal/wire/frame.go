// ABOUTME: Length-prefixed framing shared by agent and controller.
// ABOUTME: Each frame is a 4-byte big-endian length followed by that many payload bytes.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderLength is the size of the big-endian length prefix.
const HeaderLength = 4

// DefaultMaxFrameSize bounds a single payload. Large enough for a base64
// encoded video clip, small enough that a hostile header cannot exhaust memory.
const DefaultMaxFrameSize = 128 * 1024 * 1024

// readChunkSize caps each individual read while accumulating a payload.
const readChunkSize = 64 * 1024

// ErrConnectionClosed reports that the peer went away before a full frame
// arrived. A partial header or a partial payload both map to this error.
var ErrConnectionClosed = errors.New("connection closed")

// ErrFrameTooLarge reports a declared payload length above the configured
// maximum. The stream is unusable afterwards since the payload was not consumed.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Encode returns payload with its length prefix prepended.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, HeaderLength+len(payload))
	binary.BigEndian.PutUint32(frame[:HeaderLength], uint32(len(payload)))
	copy(frame[HeaderLength:], payload)
	return frame, nil
}

// WriteFrame writes payload to w as a single frame. Header and payload go out
// in one Write call so a frame is never interleaved on a shared writer.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and returns its payload. maxSize <= 0
// selects DefaultMaxFrameSize.
//
// A short read anywhere in the frame returns ErrConnectionClosed. Other read
// failures are returned wrapped.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, readError("header", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if uint64(length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: declared %d, limit %d", ErrFrameTooLarge, length, maxSize)
	}

	// Grow the buffer as bytes arrive rather than trusting the header up front.
	payload := make([]byte, 0, min(int(length), readChunkSize))
	remaining := int(length)
	for remaining > 0 {
		n := min(remaining, readChunkSize)
		start := len(payload)
		payload = append(payload, make([]byte, n)...)
		if _, err := io.ReadFull(r, payload[start:start+n]); err != nil {
			return nil, readError("payload", err)
		}
		remaining -= n
	}
	return payload, nil
}

func readError(part string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read frame %s: %w", part, ErrConnectionClosed)
	}
	return fmt.Errorf("read frame %s: %w", part, err)
}
