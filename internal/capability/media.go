// ABOUTME: Driver interfaces for screen, camera and microphone backends.
// ABOUTME: The built-in drivers report the capability as unavailable.

package capability

import (
	"context"
	"image"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
)

// ScreenGrabber captures the primary display.
type ScreenGrabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// CameraDriver enumerates and opens video capture devices.
type CameraDriver interface {
	Cameras(ctx context.Context) ([]command.CameraInfo, error)
	Open(ctx context.Context, index int) (Camera, error)
}

// Camera is an open capture device.
type Camera interface {
	// Size reports the frame dimensions the device delivers.
	Size() (width, height int)
	ReadFrame() (image.Image, error)
	Close() error
}

// AudioDriver enumerates and opens input devices.
type AudioDriver interface {
	Devices(ctx context.Context) ([]command.AudioDevice, error)
	Open(ctx context.Context, cfg StreamConfig) (AudioStream, error)
}

// StreamConfig describes a 16-bit PCM input stream. A nil DeviceIndex
// selects the default input device.
type StreamConfig struct {
	DeviceIndex     *int
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// AudioStream delivers interleaved little-endian 16-bit PCM.
type AudioStream interface {
	// ReadChunk blocks until FramesPerBuffer frames are available.
	ReadChunk() ([]byte, error)
	Close() error
}

type noScreen struct{}

func (noScreen) Grab(context.Context) (image.Image, error) {
	return nil, protocol.Unavailable("Screenshot")
}

type noCamera struct{}

func (noCamera) Cameras(context.Context) ([]command.CameraInfo, error) {
	return nil, protocol.Unavailable("Webcam")
}

func (noCamera) Open(context.Context, int) (Camera, error) {
	return nil, protocol.Unavailable("Webcam")
}

type noAudio struct{}

func (noAudio) Devices(context.Context) ([]command.AudioDevice, error) {
	return nil, protocol.Unavailable("Audio")
}

func (noAudio) Open(context.Context, StreamConfig) (AudioStream, error) {
	return nil, protocol.Unavailable("Audio")
}
