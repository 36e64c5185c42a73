package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[input]
files = ["a.json", "b.json"]
mapping_file = "mapping.csv"

[quality]
allowed_mistakes = 1
injections = ["q_color"]
injection_answers = ["red"]

[binning]
resolution = 50
count_silent_exposures = false

[output]
save_db = true

[log]
level = "debug"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.json", "b.json"}, cfg.Input.Files)
	require.NotNil(t, cfg.Input.MappingFile)
	assert.Equal(t, "mapping.csv", *cfg.Input.MappingFile)
	assert.Nil(t, cfg.Input.SurveyFile)
	require.NotNil(t, cfg.Quality.AllowedMistakes)
	assert.Equal(t, 1, *cfg.Quality.AllowedMistakes)
	require.NotNil(t, cfg.Binning.Resolution)
	assert.Equal(t, 50, *cfg.Binning.Resolution)
	require.NotNil(t, cfg.Binning.CountSilentExposures)
	assert.False(t, *cfg.Binning.CountSilentExposures)
	assert.Nil(t, cfg.Binning.HoldGap)
	require.NotNil(t, cfg.Output.SaveDB)
	assert.True(t, *cfg.Output.SaveDB)
	require.NotNil(t, cfg.Log.Level)
	assert.Equal(t, "debug", *cfg.Log.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, FileConfig{}, cfg)

	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero resolution", "[binning]\nresolution = 0\n"},
		{"zero hold gap", "[binning]\nhold_gap = 0\n"},
		{"negative mistakes", "[quality]\nallowed_mistakes = -1\n"},
		{"unpaired answers", "[quality]\ninjections = [\"a\", \"b\"]\ninjection_answers = [\"x\"]\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"unknown key", "[binning]\nresolutoin = 10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	_, err := LoadConfig(writeConfig(t, "[binning\n"))
	assert.Error(t, err)
}

func TestDefaultPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/cfg", "eyecontact", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join("/data", "eyecontact", "eyecontact.db"), DefaultDBPath())
}
