// ABOUTME: AudioRecorder runs at most one background microphone capture at a time.
// ABOUTME: Start returns immediately; Stop collects the PCM and wraps it as WAV.

package capability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
)

const (
	framesPerBuffer = 1024
	stopWait        = 5 * time.Second
)

// recording is one capture. The goroutine writes only into its own
// recording, so a capture that outlives Stop cannot leak into the next.
type recording struct {
	params command.AudioParams
	stop   chan struct{}
	done   chan struct{}

	mu  sync.Mutex
	pcm bytes.Buffer
	err error
}

// AudioRecorder tracks the in-flight capture.
type AudioRecorder struct {
	driver AudioDriver
	logger *slog.Logger

	mu  sync.Mutex
	cur *recording
}

// NewAudioRecorder creates a recorder over driver.
func NewAudioRecorder(driver AudioDriver, logger *slog.Logger) *AudioRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioRecorder{driver: driver, logger: logger.With("component", "audio")}
}

// Start opens the input stream and begins capturing in the background.
// Capture ends by itself after req.Duration seconds but the recording stays
// active until Stop collects it.
func (r *AudioRecorder) Start(ctx context.Context, req command.RecordAudio) (command.AudioParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur != nil {
		return command.AudioParams{}, protocol.ErrAlreadyRecording
	}

	stream, err := r.driver.Open(ctx, StreamConfig{
		DeviceIndex:     req.DeviceIndex,
		SampleRate:      req.SampleRate,
		Channels:        req.Channels,
		FramesPerBuffer: framesPerBuffer,
	})
	if err != nil {
		var cmdErr *protocol.CommandError
		if errors.As(err, &cmdErr) {
			return command.AudioParams{}, cmdErr
		}
		return command.AudioParams{}, protocol.OperationFailed("starting audio recording", err)
	}

	rec := &recording{
		params: command.AudioParams{
			Duration:   req.Duration,
			SampleRate: req.SampleRate,
			Channels:   req.Channels,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.cur = rec

	limit := time.Duration(req.Duration * float64(time.Second))
	go r.capture(rec, stream, limit)

	r.logger.Info("audio recording started",
		"sample_rate", req.SampleRate,
		"channels", req.Channels,
		"duration", limit,
	)
	return rec.params, nil
}

func (r *AudioRecorder) capture(rec *recording, stream AudioStream, limit time.Duration) {
	defer close(rec.done)
	defer func() {
		if err := stream.Close(); err != nil {
			r.logger.Debug("closing audio stream", "error", err)
		}
	}()

	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		select {
		case <-rec.stop:
			return
		default:
		}

		chunk, err := stream.ReadChunk()
		if err != nil {
			r.logger.Warn("audio capture failed", "error", err)
			rec.mu.Lock()
			rec.err = err
			rec.mu.Unlock()
			return
		}

		rec.mu.Lock()
		rec.pcm.Write(chunk)
		rec.mu.Unlock()
	}
}

// Stop ends the capture and returns what was recorded. Non-nil fields in
// req override the parameters the recording was started with.
func (r *AudioRecorder) Stop(ctx context.Context, req command.StopAudioRecording) (command.AudioClip, error) {
	r.mu.Lock()
	rec := r.cur
	r.cur = nil
	r.mu.Unlock()

	if rec == nil {
		return command.AudioClip{}, protocol.ErrNotRecording
	}

	close(rec.stop)
	select {
	case <-rec.done:
	case <-time.After(stopWait):
		r.logger.Warn("audio capture did not stop in time, using frames captured so far")
	case <-ctx.Done():
	}

	rec.mu.Lock()
	pcm := bytes.Clone(rec.pcm.Bytes())
	captureErr := rec.err
	rec.mu.Unlock()

	if len(pcm) == 0 {
		if captureErr != nil {
			r.logger.Debug("recording ended without data", "error", captureErr)
		}
		return command.AudioClip{}, protocol.ErrNoAudioData
	}

	sampleRate, channels := rec.params.SampleRate, rec.params.Channels
	if req.SampleRate != nil {
		sampleRate = *req.SampleRate
	}
	if req.Channels != nil {
		channels = *req.Channels
	}

	clip := command.AudioClip{
		Data:       EncodeWAV(pcm, sampleRate, channels),
		Format:     protocol.FormatWAV,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   pcmDuration(len(pcm), sampleRate, channels),
	}
	r.logger.Info("audio recording stopped", "bytes", len(pcm), "duration", clip.Duration)
	return clip, nil
}

// Abort discards any in-flight recording without waiting for it.
func (r *AudioRecorder) Abort() {
	r.mu.Lock()
	rec := r.cur
	r.cur = nil
	r.mu.Unlock()

	if rec != nil {
		close(rec.stop)
		r.logger.Info("audio recording aborted")
	}
}

// Recording reports whether a capture is active.
func (r *AudioRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}
