// ABOUTME: Tests for command decoding defaults and dispatcher response shaping.

package command

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/outpost/internal/protocol"
)

// fakeCaps records calls and returns canned results.
type fakeCaps struct {
	files      map[string][]byte
	written    map[string][]byte
	lastVideo  RecordVideo
	lastAudio  RecordAudio
	lastStop   StopAudioRecording
	execErr    error
	panicOn    string
	released   int
	noListings bool
}

func newFakeCaps() *fakeCaps {
	return &fakeCaps{
		files:   map[string][]byte{"/etc/motd": []byte("hello")},
		written: map[string][]byte{},
	}
}

func (f *fakeCaps) SystemInfo(context.Context) (protocol.Descriptor, error) {
	return protocol.Descriptor{Hostname: "h", Username: "u", Platform: "Linux"}, nil
}

func (f *fakeCaps) Execute(_ context.Context, command string) (string, error) {
	if command == f.panicOn {
		panic("kaboom")
	}
	if f.execErr != nil {
		return "", f.execErr
	}
	return command + "\n", nil
}

func (f *fakeCaps) ListDirectory(_ context.Context, path string) ([]FileEntry, error) {
	if f.noListings {
		return nil, nil
	}
	size := int64(5)
	return []FileEntry{
		{Name: "motd", Type: EntryFile, Size: &size},
		{Name: "sub", Type: EntryDirectory},
	}, nil
}

func (f *fakeCaps) ReadFile(_ context.Context, path string) ([]byte, error) {
	b, ok := f.files[path]
	if !ok {
		return nil, protocol.ErrNotFound
	}
	return b, nil
}

func (f *fakeCaps) WriteFile(_ context.Context, path string, content []byte) error {
	f.written[path] = content
	return nil
}

func (f *fakeCaps) Screenshot(context.Context) (Blob, error) {
	return Blob{}, protocol.Unavailable("Screenshot")
}

func (f *fakeCaps) ListCameras(context.Context) ([]CameraInfo, error) {
	return nil, nil
}

func (f *fakeCaps) CaptureWebcam(_ context.Context, index int) (Blob, error) {
	if index != 0 {
		return Blob{}, protocol.CannotOpenCamera(index)
	}
	return Blob{Data: []byte{0xff, 0xd8}, Format: protocol.FormatJPEG}, nil
}

func (f *fakeCaps) RecordVideo(_ context.Context, req RecordVideo) (VideoClip, error) {
	f.lastVideo = req
	return VideoClip{Data: []byte("avi"), Format: protocol.FormatAVI, Duration: req.Duration, FPS: req.FPS, Frames: 3, Width: 640, Height: 480}, nil
}

func (f *fakeCaps) ListAudioDevices(context.Context) ([]AudioDevice, error) {
	return []AudioDevice{{Index: 0, Name: "mic", Channels: 1, SampleRate: 44100}}, nil
}

func (f *fakeCaps) StartAudio(_ context.Context, req RecordAudio) (AudioParams, error) {
	f.lastAudio = req
	return AudioParams{Duration: req.Duration, SampleRate: req.SampleRate, Channels: req.Channels}, nil
}

func (f *fakeCaps) StopAudio(_ context.Context, req StopAudioRecording) (AudioClip, error) {
	f.lastStop = req
	return AudioClip{}, protocol.ErrNotRecording
}

func (f *fakeCaps) Release() { f.released++ }

func dispatch(t *testing.T, d *Dispatcher, frame string) map[string]any {
	t.Helper()
	resp := d.Dispatch(context.Background(), []byte(frame))

	// Round-trip through JSON so assertions see what the controller sees.
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDispatchProtocolErrors(t *testing.T) {
	d := NewDispatcher(newFakeCaps(), nil)

	assert.Equal(t, map[string]any{"error": "Invalid command format"}, dispatch(t, d, `garbage`))
	assert.Equal(t, map[string]any{"error": "Invalid command format"}, dispatch(t, d, `{"type":"get_sysinfo"}`))
	assert.Equal(t, map[string]any{"error": "Unknown command type: frobnicate"}, dispatch(t, d, `{"type":"frobnicate","data":{}}`))
}

func TestDispatchMissingParameters(t *testing.T) {
	d := NewDispatcher(newFakeCaps(), nil)

	cases := map[string]string{
		`{"type":"execute_command","data":{}}`:                "No command specified",
		`{"type":"list_directory","data":{}}`:                 "No path specified",
		`{"type":"download_file","data":{}}`:                  "No path specified",
		`{"type":"upload_file","data":{"path":"/tmp/x"}}`:     "Path or content not specified",
		`{"type":"upload_file","data":{"content":"aGk="}}`:    "Path or content not specified",
		`{"type":"execute_command","data":{"command":null}}`: "No command specified",
	}
	for frame, want := range cases {
		assert.Equal(t, map[string]any{"error": want}, dispatch(t, d, frame), frame)
	}
}

func TestDispatchExecute(t *testing.T) {
	caps := newFakeCaps()
	d := NewDispatcher(caps, nil)

	out := dispatch(t, d, `{"type":"execute_command","data":{"command":"hi"}}`)
	assert.Equal(t, map[string]any{"output": "hi\n"}, out)

	caps.execErr = protocol.ErrTimeout
	out = dispatch(t, d, `{"type":"execute_command","data":{"command":"sleep 99"}}`)
	assert.Equal(t, map[string]any{"error": "Command execution timed out"}, out)

	caps.execErr = errors.New("fork failed")
	out = dispatch(t, d, `{"type":"execute_command","data":{"command":"x"}}`)
	assert.Equal(t, map[string]any{"error": "Error processing command: fork failed"}, out)
}

func TestDispatchRecoversPanics(t *testing.T) {
	caps := newFakeCaps()
	caps.panicOn = "boom"
	d := NewDispatcher(caps, nil)

	out := dispatch(t, d, `{"type":"execute_command","data":{"command":"boom"}}`)
	assert.Equal(t, "Error processing command: panic: kaboom", out["error"])

	// The dispatcher stays usable afterwards.
	out = dispatch(t, d, `{"type":"execute_command","data":{"command":"ok"}}`)
	assert.Equal(t, "ok\n", out["output"])
}

func TestDispatchBadDataIsHandlerFailure(t *testing.T) {
	d := NewDispatcher(newFakeCaps(), nil)

	out := dispatch(t, d, `{"type":"capture_webcam","data":{"camera_index":"zero"}}`)
	msg, _ := out["error"].(string)
	assert.Contains(t, msg, "Error processing command: decoding capture_webcam data")
}

func TestDispatchFiles(t *testing.T) {
	caps := newFakeCaps()
	d := NewDispatcher(caps, nil)

	t.Run("list", func(t *testing.T) {
		out := dispatch(t, d, `{"type":"list_directory","data":{"path":"/etc"}}`)
		assert.Equal(t, "/etc", out["path"])
		files := out["files"].([]any)
		require.Len(t, files, 2)
		assert.Equal(t, map[string]any{"name": "motd", "type": "file", "size": float64(5)}, files[0])
		assert.Equal(t, map[string]any{"name": "sub", "type": "directory"}, files[1])
	})

	t.Run("empty list is an array", func(t *testing.T) {
		caps.noListings = true
		defer func() { caps.noListings = false }()
		out := dispatch(t, d, `{"type":"list_directory","data":{"path":"/empty"}}`)
		assert.Equal(t, []any{}, out["files"])
	})

	t.Run("download", func(t *testing.T) {
		out := dispatch(t, d, `{"type":"download_file","data":{"path":"/etc/motd"}}`)
		assert.Equal(t, "/etc/motd", out["filename"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello")), out["content"])
	})

	t.Run("download missing", func(t *testing.T) {
		out := dispatch(t, d, `{"type":"download_file","data":{"path":"/no/such/file"}}`)
		assert.Equal(t, map[string]any{"error": "File not found"}, out)
	})

	t.Run("upload", func(t *testing.T) {
		out := dispatch(t, d, `{"type":"upload_file","data":{"path":"/tmp/x","content":"aGk="}}`)
		assert.Equal(t, map[string]any{"path": "/tmp/x"}, out)
		assert.Equal(t, []byte("hi"), caps.written["/tmp/x"])
	})

	t.Run("upload bad base64", func(t *testing.T) {
		out := dispatch(t, d, `{"type":"upload_file","data":{"path":"/tmp/y","content":"!!"}}`)
		msg, _ := out["error"].(string)
		assert.Contains(t, msg, "Error uploading file: ")
		assert.NotContains(t, caps.written, "/tmp/y")
	})
}

func TestDispatchMedia(t *testing.T) {
	caps := newFakeCaps()
	d := NewDispatcher(caps, nil)

	out := dispatch(t, d, `{"type":"take_screenshot","data":{}}`)
	assert.Equal(t, map[string]any{"error": "Screenshot functionality not available"}, out)

	out = dispatch(t, d, `{"type":"list_cameras","data":{}}`)
	assert.Equal(t, map[string]any{"cameras": []any{}}, out)

	out = dispatch(t, d, `{"type":"capture_webcam","data":{}}`)
	assert.Equal(t, "jpeg", out["format"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}), out["image"])

	out = dispatch(t, d, `{"type":"capture_webcam","data":{"camera_index":2}}`)
	assert.Equal(t, map[string]any{"error": "Cannot open camera 2"}, out)

	out = dispatch(t, d, `{"type":"record_video","data":{}}`)
	assert.Equal(t, RecordVideo{Duration: DefaultVideoDuration, FPS: DefaultVideoFPS}, caps.lastVideo)
	assert.Equal(t, "640x480", out["resolution"])
	assert.Equal(t, "avi", out["format"])
	assert.Equal(t, float64(3), out["frames"])

	out = dispatch(t, d, `{"type":"record_video","data":{"camera_index":1,"duration":2.5,"fps":10}}`)
	assert.Equal(t, RecordVideo{CameraIndex: 1, Duration: 2.5, FPS: 10}, caps.lastVideo)
	assert.Equal(t, 2.5, out["duration"])
}

func TestDispatchAudio(t *testing.T) {
	caps := newFakeCaps()
	d := NewDispatcher(caps, nil)

	out := dispatch(t, d, `{"type":"list_audio_devices","data":{}}`)
	devices := out["devices"].([]any)
	require.Len(t, devices, 1)
	assert.Equal(t, "mic", devices[0].(map[string]any)["name"])

	out = dispatch(t, d, `{"type":"record_audio","data":{}}`)
	assert.Equal(t, map[string]any{
		"status":      "recording_started",
		"duration":    float64(DefaultAudioDuration),
		"sample_rate": float64(DefaultAudioSampleRate),
		"channels":    float64(DefaultAudioChannels),
	}, out)
	assert.Nil(t, caps.lastAudio.DeviceIndex)

	dispatch(t, d, `{"type":"record_audio","data":{"device_index":3,"sample_rate":16000,"channels":2}}`)
	require.NotNil(t, caps.lastAudio.DeviceIndex)
	assert.Equal(t, 3, *caps.lastAudio.DeviceIndex)
	assert.Equal(t, 16000, caps.lastAudio.SampleRate)

	out = dispatch(t, d, `{"type":"stop_audio_recording","data":{"channels":2}}`)
	assert.Equal(t, map[string]any{"error": "No audio recording in progress"}, out)
	assert.Nil(t, caps.lastStop.SampleRate)
	require.NotNil(t, caps.lastStop.Channels)
	assert.Equal(t, 2, *caps.lastStop.Channels)
}

func TestDispatchSysinfo(t *testing.T) {
	d := NewDispatcher(newFakeCaps(), nil)

	out := dispatch(t, d, `{"type":"get_sysinfo","data":{}}`)
	info := out["info"].(map[string]any)
	assert.Equal(t, "h", info["hostname"])
	assert.Equal(t, "Linux", info["platform"])
}

func TestEveryCommandTypeHasAHandler(t *testing.T) {
	d := NewDispatcher(newFakeCaps(), nil)

	for _, ct := range protocol.AllCommands() {
		env, err := protocol.NewEnvelope(ct, nil)
		require.NoError(t, err)
		cmd, err := FromEnvelope(env)
		require.NoError(t, err, ct)
		assert.Equal(t, ct, cmd.Type())

		resp := d.Execute(context.Background(), cmd)
		if e := resp.Err(); e != nil {
			assert.NotEqual(t, protocol.KindHandlerFailure, e.Kind, "%s: %s", ct, e.Message)
		}
	}
}

func TestReleaseReachesCapabilities(t *testing.T) {
	caps := newFakeCaps()
	d := NewDispatcher(caps, nil)
	d.Release()
	assert.Equal(t, 1, caps.released)
}
