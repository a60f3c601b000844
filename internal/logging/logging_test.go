// ABOUTME: Tests for logger construction and the colorized text handler.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "registry").Info("=== SESSION CONNECTED ===", "session_id", "h_u_1.2.3.4")
	logger.WithGroup("req").Warn("slow", "ms", 1200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF === SESSION CONNECTED ===")
	assert.Contains(t, lines[0], "component=registry")
	assert.Contains(t, lines[0], "session_id=h_u_1.2.3.4")
	assert.Contains(t, lines[1], "WRN slow")
	assert.Contains(t, lines[1], "req.ms=1200")
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "debug", Format: "json"}, &buf)
	logger.Debug("dialing", "address", "127.0.0.1:4444")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "dialing", rec["msg"])
	assert.Equal(t, "127.0.0.1:4444", rec["address"])
}

func TestTextHandlerConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{}, &buf)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.With("worker", i).Info("tick")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 50)
	for _, l := range lines {
		assert.Contains(t, l, "INF tick worker=")
	}
}
