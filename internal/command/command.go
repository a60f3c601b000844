// ABOUTME: One concrete type per command; Parse turns an envelope into one of them.
// ABOUTME: Optional inputs get their documented defaults during decoding.

package command

import (
	"encoding/json"
	"fmt"

	"github.com/2389/outpost/internal/protocol"
)

// Command is a decoded, typed command. The set of implementations mirrors
// protocol.AllCommands one to one.
type Command interface {
	Type() protocol.CommandType
}

type GetSysinfo struct{}

type ExecuteCommand struct {
	Command *string `json:"command"`
}

type ListDirectory struct {
	Path *string `json:"path"`
}

type DownloadFile struct {
	Path *string `json:"path"`
}

type UploadFile struct {
	Path    *string `json:"path"`
	Content *string `json:"content"`
}

type TakeScreenshot struct{}

type ListCameras struct{}

type CaptureWebcam struct {
	CameraIndex int `json:"camera_index"`
}

// RecordVideo blocks the session loop for Duration seconds.
type RecordVideo struct {
	CameraIndex int     `json:"camera_index"`
	Duration    float64 `json:"duration"`
	FPS         int     `json:"fps"`
}

type ListAudioDevices struct{}

// RecordAudio starts background capture. A nil DeviceIndex selects the
// backend's default input.
type RecordAudio struct {
	DeviceIndex *int    `json:"device_index"`
	Duration    float64 `json:"duration"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
}

// StopAudioRecording ends capture. Nil fields fall back to the values the
// recording was started with.
type StopAudioRecording struct {
	SampleRate *int `json:"sample_rate"`
	Channels   *int `json:"channels"`
}

func (GetSysinfo) Type() protocol.CommandType         { return protocol.CmdGetSysinfo }
func (ExecuteCommand) Type() protocol.CommandType     { return protocol.CmdExecuteCommand }
func (ListDirectory) Type() protocol.CommandType      { return protocol.CmdListDirectory }
func (DownloadFile) Type() protocol.CommandType       { return protocol.CmdDownloadFile }
func (UploadFile) Type() protocol.CommandType         { return protocol.CmdUploadFile }
func (TakeScreenshot) Type() protocol.CommandType     { return protocol.CmdTakeScreenshot }
func (ListCameras) Type() protocol.CommandType        { return protocol.CmdListCameras }
func (CaptureWebcam) Type() protocol.CommandType      { return protocol.CmdCaptureWebcam }
func (RecordVideo) Type() protocol.CommandType        { return protocol.CmdRecordVideo }
func (ListAudioDevices) Type() protocol.CommandType   { return protocol.CmdListAudioDevices }
func (RecordAudio) Type() protocol.CommandType        { return protocol.CmdRecordAudio }
func (StopAudioRecording) Type() protocol.CommandType { return protocol.CmdStopAudioRecording }

// Defaults for optional inputs.
const (
	DefaultVideoDuration   = 5
	DefaultVideoFPS        = 20
	DefaultAudioDuration   = 10
	DefaultAudioSampleRate = 44100
	DefaultAudioChannels   = 1
)

// Parse validates a command frame and decodes it into its concrete type.
// The returned error is always a *protocol.CommandError: invalid format,
// unknown command, or a handler failure when data does not fit the type.
func Parse(payload []byte) (Command, error) {
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		return nil, err
	}
	return FromEnvelope(env)
}

// FromEnvelope decodes an already validated envelope.
func FromEnvelope(env protocol.Envelope) (Command, error) {
	var cmd Command
	switch env.Type {
	case protocol.CmdGetSysinfo:
		cmd = &GetSysinfo{}
	case protocol.CmdExecuteCommand:
		cmd = &ExecuteCommand{}
	case protocol.CmdListDirectory:
		cmd = &ListDirectory{}
	case protocol.CmdDownloadFile:
		cmd = &DownloadFile{}
	case protocol.CmdUploadFile:
		cmd = &UploadFile{}
	case protocol.CmdTakeScreenshot:
		cmd = &TakeScreenshot{}
	case protocol.CmdListCameras:
		cmd = &ListCameras{}
	case protocol.CmdCaptureWebcam:
		cmd = &CaptureWebcam{}
	case protocol.CmdRecordVideo:
		cmd = &RecordVideo{Duration: DefaultVideoDuration, FPS: DefaultVideoFPS}
	case protocol.CmdListAudioDevices:
		cmd = &ListAudioDevices{}
	case protocol.CmdRecordAudio:
		cmd = &RecordAudio{
			Duration:   DefaultAudioDuration,
			SampleRate: DefaultAudioSampleRate,
			Channels:   DefaultAudioChannels,
		}
	case protocol.CmdStopAudioRecording:
		cmd = &StopAudioRecording{}
	default:
		return nil, protocol.UnknownCommand(string(env.Type))
	}

	if err := json.Unmarshal(env.Data, cmd); err != nil {
		return nil, protocol.HandlerFailure(fmt.Errorf("decoding %s data: %w", env.Type, err))
	}
	return cmd, nil
}
