// ABOUTME: Tests for outpost-admin formatting helpers.

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestFormatEntries(t *testing.T) {
	size := int64(2048)
	rows := formatEntries([]command.FileEntry{
		{Name: "z.txt", Type: command.EntryFile, Size: &size},
		{Name: "etc", Type: command.EntryDirectory},
		{Name: "a.txt", Type: command.EntryFile},
	})
	assert.Equal(t, []string{"-\tetc/", "-\ta.txt", "2.0 KiB\tz.txt"}, rows)
}

func TestFormatCapabilities(t *testing.T) {
	assert.Equal(t, "shell, files", formatCapabilities(protocol.CapabilityFlags{}))
	assert.Equal(t, "shell, files, webcam, audio",
		formatCapabilities(protocol.CapabilityFlags{Webcam: true, Audio: true}))
}

func TestSummarizeResponse(t *testing.T) {
	long := strings.Repeat("A", 4096)
	got := summarizeResponse(protocol.Response{"audio": long, "format": "wav", "channels": 1})
	assert.Equal(t, "<4.0 KiB of base64>", got["audio"])
	assert.Equal(t, "wav", got["format"])
	assert.Equal(t, 1, got["channels"])
}
