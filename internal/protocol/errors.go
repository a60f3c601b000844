// ABOUTME: Enumerated command error kinds and the exact wire messages they map to.
// ABOUTME: ClassifyError recovers the kind from a message received off the wire.

package protocol

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a command failure so callers branch on kind, not text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidFormat
	KindUnknownCommand
	KindHandlerFailure
	KindMissingParameter
	KindTimeout
	KindNotFound
	KindIsDirectory
	KindUnavailable
	KindDeviceOpen
	KindCaptureFailed
	KindAlreadyRecording
	KindNotRecording
	KindNoAudioData
	KindOperationFailed
)

var kindNames = map[ErrorKind]string{
	KindUnknown:          "unknown",
	KindInvalidFormat:    "invalid_format",
	KindUnknownCommand:   "unknown_command",
	KindHandlerFailure:   "handler_failure",
	KindMissingParameter: "missing_parameter",
	KindTimeout:          "timeout",
	KindNotFound:         "not_found",
	KindIsDirectory:      "is_directory",
	KindUnavailable:      "unavailable",
	KindDeviceOpen:       "device_open",
	KindCaptureFailed:    "capture_failed",
	KindAlreadyRecording: "already_recording",
	KindNotRecording:     "not_recording",
	KindNoAudioData:      "no_audio_data",
	KindOperationFailed:  "operation_failed",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// CommandError is a failure reported as data in a Response.
type CommandError struct {
	Kind    ErrorKind
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// Is matches another CommandError by kind, so errors.Is(err, ErrNotFound)
// works regardless of detail text.
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	return ok && t.Kind == e.Kind
}

// Exact wire messages.
const (
	msgInvalidFormat    = "Invalid command format"
	msgTimeout          = "Command execution timed out"
	msgNotFound         = "File not found"
	msgIsDirectory      = "Path is a directory, not a file"
	msgAlreadyRecording = "Audio recording already in progress"
	msgNotRecording     = "No audio recording in progress"
	msgNoAudioData      = "No audio data recorded"
	msgCaptureFailed    = "Failed to capture frame"

	prefixUnknownCommand  = "Unknown command type: "
	prefixHandlerFailure  = "Error processing command: "
	prefixCannotOpen      = "Cannot open camera "
	suffixUnavailable     = "functionality not available"
	prefixNoSpecified     = "No "
	suffixNotSpecified    = "not specified"
	suffixNoSpecified     = " specified"
	prefixOperationFailed = "Error "
)

// Sentinel command errors with fixed messages.
var (
	ErrInvalidFormat    = &CommandError{Kind: KindInvalidFormat, Message: msgInvalidFormat}
	ErrTimeout          = &CommandError{Kind: KindTimeout, Message: msgTimeout}
	ErrNotFound         = &CommandError{Kind: KindNotFound, Message: msgNotFound}
	ErrIsDirectory      = &CommandError{Kind: KindIsDirectory, Message: msgIsDirectory}
	ErrAlreadyRecording = &CommandError{Kind: KindAlreadyRecording, Message: msgAlreadyRecording}
	ErrNotRecording     = &CommandError{Kind: KindNotRecording, Message: msgNotRecording}
	ErrNoAudioData      = &CommandError{Kind: KindNoAudioData, Message: msgNoAudioData}
	ErrCaptureFailed    = &CommandError{Kind: KindCaptureFailed, Message: msgCaptureFailed}
)

// UnknownCommand reports a type outside the vocabulary.
func UnknownCommand(t string) *CommandError {
	return &CommandError{Kind: KindUnknownCommand, Message: prefixUnknownCommand + t}
}

// HandlerFailure wraps an unexpected handler error.
func HandlerFailure(err error) *CommandError {
	return &CommandError{Kind: KindHandlerFailure, Message: prefixHandlerFailure + err.Error()}
}

// MissingParameter reports a required input that was absent, e.g.
// MissingParameter("No path specified").
func MissingParameter(message string) *CommandError {
	return &CommandError{Kind: KindMissingParameter, Message: message}
}

// Unavailable reports a capability whose backend is not present, e.g.
// Unavailable("Screenshot").
func Unavailable(capability string) *CommandError {
	return &CommandError{Kind: KindUnavailable, Message: capability + " " + suffixUnavailable}
}

// CannotOpenCamera reports a camera index that could not be opened.
func CannotOpenCamera(index int) *CommandError {
	return &CommandError{Kind: KindDeviceOpen, Message: fmt.Sprintf("%s%d", prefixCannotOpen, index)}
}

// OperationFailed reports a failed operation with its cause, e.g.
// OperationFailed("listing directory", err) => "Error listing directory: ...".
func OperationFailed(operation string, err error) *CommandError {
	return &CommandError{Kind: KindOperationFailed, Message: fmt.Sprintf("%s%s: %v", prefixOperationFailed, operation, err)}
}

// ClassifyError maps a wire error message back to its kind.
func ClassifyError(message string) ErrorKind {
	switch message {
	case msgInvalidFormat:
		return KindInvalidFormat
	case msgTimeout:
		return KindTimeout
	case msgNotFound:
		return KindNotFound
	case msgIsDirectory:
		return KindIsDirectory
	case msgAlreadyRecording:
		return KindAlreadyRecording
	case msgNotRecording:
		return KindNotRecording
	case msgNoAudioData:
		return KindNoAudioData
	case msgCaptureFailed:
		return KindCaptureFailed
	}

	switch {
	case strings.HasPrefix(message, prefixUnknownCommand):
		return KindUnknownCommand
	case strings.HasPrefix(message, prefixHandlerFailure):
		return KindHandlerFailure
	case strings.HasPrefix(message, prefixCannotOpen):
		return KindDeviceOpen
	case strings.HasSuffix(message, suffixUnavailable):
		return KindUnavailable
	case strings.HasSuffix(message, suffixNotSpecified),
		strings.HasPrefix(message, prefixNoSpecified) && strings.HasSuffix(message, suffixNoSpecified):
		return KindMissingParameter
	case strings.HasPrefix(message, prefixOperationFailed):
		return KindOperationFailed
	}
	return KindUnknown
}
