package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Test", "hidden %d", 1)
	l.Warn("Test", "shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] [Test] shown 2")
}

func TestModuleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, false)
	m := l.For("Pipeline")

	m.Debug("cycle %d", 3)
	m.Error("boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[DEBUG] [Pipeline] cycle 3")
	assert.Contains(t, lines[1], "[ERROR] [Pipeline] boom")
	assert.Equal(t, "Pipeline", m.Name())
}

func TestNilModuleIsSafe(t *testing.T) {
	var m *Module
	assert.NotPanics(t, func() {
		m.Info("nothing")
	})
}

func TestSilentSuppressesEverything(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, true)
	l.Error("Test", "x")
	assert.Empty(t, buf.String())
}
