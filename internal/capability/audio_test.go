// ABOUTME: Tests for AudioRecorder state transitions and WAV output.

package capability

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
)

type fakeStream struct {
	chunkSize int
	delay     time.Duration
	failAt    int
	reads     atomic.Int32
	closed    atomic.Bool
}

func (s *fakeStream) ReadChunk() ([]byte, error) {
	n := int(s.reads.Add(1))
	if s.failAt > 0 && n >= s.failAt {
		return nil, errors.New("overflow")
	}
	time.Sleep(s.delay)
	return make([]byte, s.chunkSize), nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeAudioDriver struct {
	stream  *fakeStream
	openErr error
	lastCfg StreamConfig
}

func (d *fakeAudioDriver) Devices(context.Context) ([]command.AudioDevice, error) {
	return []command.AudioDevice{{Index: 0, Name: "mic", Channels: 2, SampleRate: 48000}}, nil
}

func (d *fakeAudioDriver) Open(_ context.Context, cfg StreamConfig) (AudioStream, error) {
	d.lastCfg = cfg
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

func startReq(duration float64) command.RecordAudio {
	return command.RecordAudio{Duration: duration, SampleRate: 8000, Channels: 1}
}

func TestAudioRecorderLifecycle(t *testing.T) {
	stream := &fakeStream{chunkSize: 2048, delay: 5 * time.Millisecond}
	driver := &fakeAudioDriver{stream: stream}
	rec := NewAudioRecorder(driver, nil)
	ctx := context.Background()

	params, err := rec.Start(ctx, startReq(10))
	require.NoError(t, err)
	assert.Equal(t, command.AudioParams{Duration: 10, SampleRate: 8000, Channels: 1}, params)
	assert.Equal(t, framesPerBuffer, driver.lastCfg.FramesPerBuffer)
	assert.True(t, rec.Recording())

	_, err = rec.Start(ctx, startReq(10))
	assert.ErrorIs(t, err, protocol.ErrAlreadyRecording)
	assert.Equal(t, "Audio recording already in progress", err.Error())

	require.Eventually(t, func() bool { return stream.reads.Load() >= 3 }, time.Second, 5*time.Millisecond)

	clip, err := rec.Stop(ctx, command.StopAudioRecording{})
	require.NoError(t, err)
	assert.False(t, rec.Recording())
	assert.True(t, stream.closed.Load())

	assert.Equal(t, "wav", clip.Format)
	assert.Equal(t, 8000, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)

	dataLen := int(binary.LittleEndian.Uint32(clip.Data[40:44]))
	assert.Equal(t, len(clip.Data)-wavHeaderSize, dataLen)
	assert.Zero(t, dataLen%2048)
	assert.InDelta(t, float64(dataLen)/16000, clip.Duration, 1e-9)
	assert.Positive(t, clip.Duration)

	_, err = rec.Stop(ctx, command.StopAudioRecording{})
	assert.ErrorIs(t, err, protocol.ErrNotRecording)
}

func TestAudioRecorderStopOverrides(t *testing.T) {
	stream := &fakeStream{chunkSize: 1024, delay: time.Millisecond}
	rec := NewAudioRecorder(&fakeAudioDriver{stream: stream}, nil)

	_, err := rec.Start(context.Background(), startReq(10))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stream.reads.Load() >= 2 }, time.Second, time.Millisecond)

	rate, channels := 16000, 2
	clip, err := rec.Stop(context.Background(), command.StopAudioRecording{SampleRate: &rate, Channels: &channels})
	require.NoError(t, err)
	assert.Equal(t, 16000, clip.SampleRate)
	assert.Equal(t, 2, clip.Channels)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(clip.Data[22:24]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(clip.Data[24:28]))
}

func TestAudioRecorderStaysActiveAfterDuration(t *testing.T) {
	stream := &fakeStream{chunkSize: 512, delay: time.Millisecond}
	rec := NewAudioRecorder(&fakeAudioDriver{stream: stream}, nil)

	_, err := rec.Start(context.Background(), startReq(0.05))
	require.NoError(t, err)
	require.Eventually(t, stream.closed.Load, time.Second, 5*time.Millisecond)

	assert.True(t, rec.Recording())
	clip, err := rec.Stop(context.Background(), command.StopAudioRecording{})
	require.NoError(t, err)
	assert.NotEmpty(t, clip.Data)
}

func TestAudioRecorderNoData(t *testing.T) {
	stream := &fakeStream{chunkSize: 512, failAt: 1}
	rec := NewAudioRecorder(&fakeAudioDriver{stream: stream}, nil)

	_, err := rec.Start(context.Background(), startReq(10))
	require.NoError(t, err)
	require.Eventually(t, stream.closed.Load, time.Second, time.Millisecond)

	_, err = rec.Stop(context.Background(), command.StopAudioRecording{})
	assert.ErrorIs(t, err, protocol.ErrNoAudioData)
	assert.Equal(t, "No audio data recorded", err.Error())
	assert.False(t, rec.Recording())
}

func TestAudioRecorderKeepsFramesAfterCaptureError(t *testing.T) {
	stream := &fakeStream{chunkSize: 256, failAt: 4}
	rec := NewAudioRecorder(&fakeAudioDriver{stream: stream}, nil)

	_, err := rec.Start(context.Background(), startReq(10))
	require.NoError(t, err)
	require.Eventually(t, stream.closed.Load, time.Second, time.Millisecond)

	clip, err := rec.Stop(context.Background(), command.StopAudioRecording{})
	require.NoError(t, err)
	assert.Len(t, clip.Data, wavHeaderSize+3*256)
}

func TestAudioRecorderOpenFailure(t *testing.T) {
	rec := NewAudioRecorder(&fakeAudioDriver{openErr: errors.New("device busy")}, nil)

	_, err := rec.Start(context.Background(), startReq(1))
	require.Error(t, err)
	assert.Equal(t, "Error starting audio recording: device busy", err.Error())
	assert.False(t, rec.Recording())
}

func TestAudioRecorderAbort(t *testing.T) {
	stream := &fakeStream{chunkSize: 256, delay: time.Millisecond}
	rec := NewAudioRecorder(&fakeAudioDriver{stream: stream}, nil)

	_, err := rec.Start(context.Background(), startReq(10))
	require.NoError(t, err)

	rec.Abort()
	assert.False(t, rec.Recording())
	require.Eventually(t, stream.closed.Load, time.Second, time.Millisecond)

	// A fresh recording can start after an abort.
	stream2 := &fakeStream{chunkSize: 256, delay: time.Millisecond}
	rec.driver = &fakeAudioDriver{stream: stream2}
	_, err = rec.Start(context.Background(), startReq(10))
	require.NoError(t, err)
	rec.Abort()
}

func TestHostReleaseAbortsAudio(t *testing.T) {
	stream := &fakeStream{chunkSize: 256, delay: time.Millisecond}
	h := NewHost(Options{Audio: &fakeAudioDriver{stream: stream}})

	_, err := h.StartAudio(context.Background(), startReq(10))
	require.NoError(t, err)

	h.Release()
	_, err = h.StopAudio(context.Background(), command.StopAudioRecording{})
	assert.ErrorIs(t, err, protocol.ErrNotRecording)
}
