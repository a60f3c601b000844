// ABOUTME: Host is the agent's command.Capabilities implementation.
// ABOUTME: It combines shell, filesystem, system facts and the media drivers.

package capability

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"time"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
	"github.com/2389/outpost/internal/wire"
)

// DefaultMaxReadSize keeps a downloaded file, once base64 encoded, inside
// the default frame limit.
const DefaultMaxReadSize = wire.DefaultMaxFrameSize/4*3 - 64*1024

// MaxReadSizeFor is DefaultMaxReadSize for a non-default frame limit.
func MaxReadSizeFor(frameSize int) int64 {
	if frameSize <= 0 {
		return DefaultMaxReadSize
	}
	return max(int64(frameSize)/4*3-64*1024, 1)
}

const jpegQuality = 90

// Options configures a Host. Nil drivers mean the capability is absent.
type Options struct {
	ExecTimeout time.Duration
	MaxReadSize int64

	Screen ScreenGrabber
	Camera CameraDriver
	Audio  AudioDriver

	Logger *slog.Logger
}

// Host serves commands from the local machine.
type Host struct {
	shell       Shell
	maxReadSize int64
	flags       protocol.CapabilityFlags

	screen ScreenGrabber
	camera CameraDriver
	audio  AudioDriver
	rec    *AudioRecorder

	logger *slog.Logger
}

var (
	_ command.Capabilities = (*Host)(nil)
	_ command.Releaser     = (*Host)(nil)
)

// NewHost creates a Host from opts.
func NewHost(opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Host{
		shell:       Shell{Timeout: opts.ExecTimeout},
		maxReadSize: opts.MaxReadSize,
		flags: protocol.CapabilityFlags{
			Screenshot: opts.Screen != nil,
			Webcam:     opts.Camera != nil,
			Audio:      opts.Audio != nil,
		},
		screen: opts.Screen,
		camera: opts.Camera,
		audio:  opts.Audio,
		logger: logger.With("component", "capability"),
	}
	if h.maxReadSize == 0 {
		h.maxReadSize = DefaultMaxReadSize
	}
	if h.screen == nil {
		h.screen = noScreen{}
	}
	if h.camera == nil {
		h.camera = noCamera{}
	}
	if h.audio == nil {
		h.audio = noAudio{}
	}
	h.rec = NewAudioRecorder(h.audio, logger)
	return h
}

// Descriptor describes this host.
func (h *Host) Descriptor() protocol.Descriptor {
	return SystemFacts(h.flags)
}

func (h *Host) SystemInfo(context.Context) (protocol.Descriptor, error) {
	return h.Descriptor(), nil
}

func (h *Host) Execute(ctx context.Context, line string) (string, error) {
	h.logger.Debug("executing command", "command", line)
	return h.shell.Run(ctx, line)
}

func (h *Host) ListDirectory(_ context.Context, path string) ([]command.FileEntry, error) {
	return listDirectory(path)
}

func (h *Host) ReadFile(_ context.Context, path string) ([]byte, error) {
	return readFile(path, h.maxReadSize)
}

func (h *Host) WriteFile(_ context.Context, path string, content []byte) error {
	return writeFile(path, content)
}

func (h *Host) Screenshot(ctx context.Context) (command.Blob, error) {
	img, err := h.screen.Grab(ctx)
	if err != nil {
		return command.Blob{}, asCommandError("taking screenshot", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return command.Blob{}, protocol.OperationFailed("taking screenshot", err)
	}
	return command.Blob{Data: buf.Bytes(), Format: protocol.FormatPNG}, nil
}

func (h *Host) ListCameras(ctx context.Context) ([]command.CameraInfo, error) {
	cams, err := h.camera.Cameras(ctx)
	if err != nil {
		return nil, asCommandError("listing cameras", err)
	}
	return cams, nil
}

func (h *Host) CaptureWebcam(ctx context.Context, index int) (command.Blob, error) {
	cam, err := h.openCamera(ctx, index)
	if err != nil {
		return command.Blob{}, err
	}
	defer h.closeCamera(cam)

	frame, err := cam.ReadFrame()
	if err != nil {
		return command.Blob{}, protocol.ErrCaptureFailed
	}
	data, err := encodeJPEG(frame)
	if err != nil {
		return command.Blob{}, protocol.OperationFailed("capturing webcam", err)
	}
	return command.Blob{Data: data, Format: protocol.FormatJPEG}, nil
}

// RecordVideo captures frames at req.FPS for req.Duration seconds. A failed
// frame read ends the clip early with what was captured.
func (h *Host) RecordVideo(ctx context.Context, req command.RecordVideo) (command.VideoClip, error) {
	cam, err := h.openCamera(ctx, req.CameraIndex)
	if err != nil {
		return command.VideoClip{}, err
	}
	defer h.closeCamera(cam)

	fps := max(req.FPS, 1)
	width, height := cam.Size()

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	deadline := time.NewTimer(time.Duration(req.Duration * float64(time.Second)))
	defer deadline.Stop()

	var frames [][]byte
capture:
	for {
		frame, err := cam.ReadFrame()
		if err != nil {
			h.logger.Debug("video frame read failed", "error", err, "frames", len(frames))
			break
		}
		data, err := encodeJPEG(frame)
		if err != nil {
			return command.VideoClip{}, protocol.OperationFailed("recording video", err)
		}
		frames = append(frames, data)

		select {
		case <-deadline.C:
			break capture
		case <-ctx.Done():
			return command.VideoClip{}, ctx.Err()
		case <-ticker.C:
		}
	}

	return command.VideoClip{
		Data:     EncodeMJPEG(frames, width, height, fps),
		Format:   protocol.FormatAVI,
		Duration: req.Duration,
		FPS:      req.FPS,
		Frames:   len(frames),
		Width:    width,
		Height:   height,
	}, nil
}

func (h *Host) ListAudioDevices(ctx context.Context) ([]command.AudioDevice, error) {
	devices, err := h.audio.Devices(ctx)
	if err != nil {
		return nil, asCommandError("listing audio devices", err)
	}
	return devices, nil
}

func (h *Host) StartAudio(ctx context.Context, req command.RecordAudio) (command.AudioParams, error) {
	return h.rec.Start(ctx, req)
}

func (h *Host) StopAudio(ctx context.Context, req command.StopAudioRecording) (command.AudioClip, error) {
	if _, ok := h.audio.(noAudio); ok {
		return command.AudioClip{}, protocol.Unavailable("Audio")
	}
	return h.rec.Stop(ctx, req)
}

// Release abandons any capture in flight. Called when a connection ends.
func (h *Host) Release() {
	h.rec.Abort()
}

func (h *Host) openCamera(ctx context.Context, index int) (Camera, error) {
	cam, err := h.camera.Open(ctx, index)
	if err != nil {
		var cmdErr *protocol.CommandError
		if errors.As(err, &cmdErr) {
			return nil, cmdErr
		}
		h.logger.Debug("camera open failed", "camera_index", index, "error", err)
		return nil, protocol.CannotOpenCamera(index)
	}
	return cam, nil
}

func (h *Host) closeCamera(cam Camera) {
	if err := cam.Close(); err != nil {
		h.logger.Debug("closing camera", "error", err)
	}
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// asCommandError passes command errors through and wraps anything else.
func asCommandError(operation string, err error) error {
	var cmdErr *protocol.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr
	}
	return protocol.OperationFailed(operation, err)
}
