// ABOUTME: Capabilities is the contract every agent-side backend set must honor.
// ABOUTME: Result types here are shaped into wire responses by the dispatcher.

package command

import (
	"context"

	"github.com/2389/outpost/internal/protocol"
)

// Capabilities performs the work behind each command. Implementations
// report expected failures as *protocol.CommandError; anything else is
// reported to the controller as a handler failure.
type Capabilities interface {
	SystemInfo(ctx context.Context) (protocol.Descriptor, error)
	Execute(ctx context.Context, command string) (string, error)
	ListDirectory(ctx context.Context, path string) ([]FileEntry, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	Screenshot(ctx context.Context) (Blob, error)
	ListCameras(ctx context.Context) ([]CameraInfo, error)
	CaptureWebcam(ctx context.Context, index int) (Blob, error)
	RecordVideo(ctx context.Context, req RecordVideo) (VideoClip, error)
	ListAudioDevices(ctx context.Context) ([]AudioDevice, error)
	StartAudio(ctx context.Context, req RecordAudio) (AudioParams, error)
	StopAudio(ctx context.Context, req StopAudioRecording) (AudioClip, error)
}

// Releaser is implemented by capability sets that hold resources across
// commands (an audio capture in flight). The agent calls Release when a
// connection ends.
type Releaser interface {
	Release()
}

// FileEntry is one directory listing row. Size is set for regular files only.
type FileEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size,omitempty"`
}

// Entry types used in FileEntry.Type.
const (
	EntryFile      = "file"
	EntryDirectory = "directory"
)

// Blob is encoded media with its container tag.
type Blob struct {
	Data   []byte
	Format string
}

type CameraInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// VideoClip is a finished recording.
type VideoClip struct {
	Data     []byte
	Format   string
	Duration float64
	FPS      int
	Frames   int
	Width    int
	Height   int
}

type AudioDevice struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
}

// AudioParams echoes the effective parameters of a started recording.
type AudioParams struct {
	Duration   float64
	SampleRate int
	Channels   int
}

// AudioClip is a stopped recording in its container format.
type AudioClip struct {
	Data       []byte
	Format     string
	SampleRate int
	Channels   int
	Duration   float64
}
