package monitoring

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// A nil logger is a no-op and must not call the previous one
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestScopedFollowsSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := Scoped("layout")

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, format)
	})
	logf("stream %s empty", "LIMB")
	require.Len(t, got, 1)
	assert.Equal(t, "[layout] stream %s empty", got[0])
}

func TestZerologLogf(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logf := NewZerologLogf(&buf, true, zerolog.InfoLevel)

	logf("[tiles] warning: rollback failed: %v", "busy")
	logf("plain message %d", 7)
	logf("[calib] debug-ish detail")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "warn", first["level"])
	assert.Equal(t, "tiles", first["component"])
	assert.Equal(t, "rollback failed: busy", first["message"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "info", second["level"])
	assert.Equal(t, "plain message 7", second["message"])
	assert.NotContains(t, second, "component")
}

func TestZerologLogfFiltersLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logf := NewZerologLogf(&buf, true, zerolog.WarnLevel)
	logf("routine progress")
	assert.Empty(t, buf.String())
	logf("error: broken")
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}
