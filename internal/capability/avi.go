// ABOUTME: Minimal Motion-JPEG AVI writer for recorded webcam clips.
// ABOUTME: Frames are already JPEG encoded; this only lays out the RIFF tree.

package capability

import (
	"bytes"
	"encoding/binary"
)

const (
	aviHasIndex    = 0x10
	aviKeyframe    = 0x10
	aviStreamChunk = "00dc"
)

type riff struct{ bytes.Buffer }

func (r *riff) u16(v uint16) { _ = binary.Write(&r.Buffer, binary.LittleEndian, v) }
func (r *riff) u32(v uint32) { _ = binary.Write(&r.Buffer, binary.LittleEndian, v) }

func chunk(id string, body []byte) []byte {
	var r riff
	r.WriteString(id)
	r.u32(uint32(len(body)))
	r.Write(body)
	if len(body)%2 == 1 {
		r.WriteByte(0)
	}
	return r.Bytes()
}

func list(kind, form string, children ...[]byte) []byte {
	body := []byte(form)
	for _, c := range children {
		body = append(body, c...)
	}
	return chunk(kind, body)
}

// EncodeMJPEG lays out JPEG frames as an AVI file played back at fps.
func EncodeMJPEG(frames [][]byte, width, height, fps int) []byte {
	if fps <= 0 {
		fps = 1
	}
	largest := 0
	for _, f := range frames {
		largest = max(largest, len(f))
	}

	var avih riff
	avih.u32(uint32(1_000_000 / fps))
	avih.u32(uint32(largest * fps))
	avih.u32(0)
	avih.u32(aviHasIndex)
	avih.u32(uint32(len(frames)))
	avih.u32(0)
	avih.u32(1)
	avih.u32(uint32(largest))
	avih.u32(uint32(width))
	avih.u32(uint32(height))
	for range 4 {
		avih.u32(0)
	}

	var strh riff
	strh.WriteString("vids")
	strh.WriteString("MJPG")
	strh.u32(0)
	strh.u16(0)
	strh.u16(0)
	strh.u32(0)
	strh.u32(1)
	strh.u32(uint32(fps))
	strh.u32(0)
	strh.u32(uint32(len(frames)))
	strh.u32(uint32(largest))
	strh.u32(0xFFFFFFFF)
	strh.u32(0)
	strh.u16(0)
	strh.u16(0)
	strh.u16(uint16(width))
	strh.u16(uint16(height))

	var strf riff
	strf.u32(40)
	strf.u32(uint32(width))
	strf.u32(uint32(height))
	strf.u16(1)
	strf.u16(24)
	strf.WriteString("MJPG")
	strf.u32(uint32(width * height * 3))
	for range 4 {
		strf.u32(0)
	}

	var movi, idx riff
	offset := 4 // past the "movi" form type
	for _, f := range frames {
		c := chunk(aviStreamChunk, f)
		movi.Write(c)

		idx.WriteString(aviStreamChunk)
		idx.u32(aviKeyframe)
		idx.u32(uint32(offset))
		idx.u32(uint32(len(f)))
		offset += len(c)
	}

	hdrl := list("LIST", "hdrl",
		chunk("avih", avih.Bytes()),
		list("LIST", "strl", chunk("strh", strh.Bytes()), chunk("strf", strf.Bytes())),
	)
	return list("RIFF", "AVI ",
		hdrl,
		list("LIST", "movi", movi.Bytes()),
		chunk("idx1", idx.Bytes()),
	)
}
