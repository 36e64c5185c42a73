package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseLevel("verbose")
	assert.True(t, errors.Is(err, ErrUnknownLevel))
}

func TestSetupJSON(t *testing.T) {
	t.Cleanup(Disable)
	var buf bytes.Buffer
	require.NoError(t, Setup("warn", &buf, false))

	log.Info().Msg("hidden")
	log.Warn().Str("stimulus", "video_0").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"stimulus":"video_0"`)
	assert.Contains(t, out, `"message":"shown"`)
}

func TestSetupConsole(t *testing.T) {
	t.Cleanup(Disable)
	var buf bytes.Buffer
	require.NoError(t, Setup("debug", &buf, true))
	log.Debug().Int("bins", 30).Msg("binned")

	out := buf.String()
	assert.Contains(t, out, "binned")
	assert.Contains(t, out, "bins=30")
	assert.NotContains(t, out, "\x1b[")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Setup("loud", nil, true))
}

func TestIsTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()
	assert.False(t, isTerminal(f), "regular file")
	assert.False(t, isTerminal(&bytes.Buffer{}), "not a file")
}
