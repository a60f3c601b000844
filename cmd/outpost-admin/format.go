// ABOUTME: Pure formatting helpers for outpost-admin output.

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
)

// maxInlineString is the longest string value printed as-is by send.
const maxInlineString = 120

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatEntries renders a listing as tab-separated rows, directories first.
func formatEntries(files []command.FileEntry) []string {
	sorted := make([]command.FileEntry, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sorted[i].Type == command.EntryDirectory, sorted[j].Type == command.EntryDirectory
		if di != dj {
			return di
		}
		return sorted[i].Name < sorted[j].Name
	})

	rows := make([]string, 0, len(sorted))
	for _, f := range sorted {
		size := "-"
		if f.Size != nil {
			size = humanize.IBytes(uint64(*f.Size))
		}
		name := f.Name
		if f.Type == command.EntryDirectory {
			name += "/"
		}
		rows = append(rows, fmt.Sprintf("%s\t%s", size, name))
	}
	return rows
}

func formatCapabilities(c protocol.CapabilityFlags) string {
	var caps []string
	if c.Screenshot {
		caps = append(caps, "screenshot")
	}
	if c.Webcam {
		caps = append(caps, "webcam")
	}
	if c.Audio {
		caps = append(caps, "audio")
	}
	if len(caps) == 0 {
		return "shell, files"
	}
	return "shell, files, " + strings.Join(caps, ", ")
}

// summarizeResponse replaces long strings (base64 media, file content)
// with their length so a reply fits on screen.
func summarizeResponse(resp protocol.Response) protocol.Response {
	out := make(protocol.Response, len(resp))
	for k, v := range resp {
		if s, ok := v.(string); ok && len(s) > maxInlineString {
			out[k] = fmt.Sprintf("<%s of base64>", humanize.IBytes(uint64(len(s))))
			continue
		}
		out[k] = v
	}
	return out
}
