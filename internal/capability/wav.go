// ABOUTME: In-memory WAV container for captured 16-bit PCM.

package capability

import (
	"bytes"
	"encoding/binary"
)

const (
	wavHeaderSize  = 44
	bytesPerSample = 2
)

// EncodeWAV wraps interleaved 16-bit PCM in a canonical RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * bytesPerSample
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	le(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	le(uint32(16))
	le(uint16(1)) // PCM
	le(uint16(channels))
	le(uint32(sampleRate))
	le(uint32(sampleRate * blockAlign))
	le(uint16(blockAlign))
	le(uint16(bytesPerSample * 8))

	buf.WriteString("data")
	le(uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// pcmDuration is the playback length in seconds of len bytes of PCM.
func pcmDuration(n, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate*channels*bytesPerSample)
}
