// Package config provides configuration helpers and TOML parsing.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/verte-zerg/eyecontact/internal/logging"
)

// ErrInvalidConfig is returned when a config file holds unusable values.
var ErrInvalidConfig = errors.New("invalid config")

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Input   InputConfig   `toml:"input"`
	Quality QualityConfig `toml:"quality"`
	Binning BinningConfig `toml:"binning"`
	Output  OutputConfig  `toml:"output"`
	Log     LogConfig     `toml:"log"`
}

// InputConfig maps input file settings.
type InputConfig struct {
	Files            []string `toml:"files"`
	MappingFile      *string  `toml:"mapping_file"`
	SurveyFile       *string  `toml:"survey_file"`
	ParticipantsFile *string  `toml:"participants_file"`
	MetaKeys         []string `toml:"meta_keys"`
	StimulusPrefix   *string  `toml:"stimulus_prefix"`
}

// QualityConfig maps attention check settings.
type QualityConfig struct {
	AllowedMistakes  *int     `toml:"allowed_mistakes"`
	Injections       []string `toml:"injections"`
	InjectionAnswers []string `toml:"injection_answers"`
}

// BinningConfig maps keypress binning settings.
type BinningConfig struct {
	Resolution           *int     `toml:"resolution"`
	NumStimuli           *int     `toml:"num_stimuli"`
	HoldGap              *float64 `toml:"hold_gap"`
	CountSilentExposures *bool    `toml:"count_silent_exposures"`
	StrictMapping        *bool    `toml:"strict_mapping"`
}

// OutputConfig maps persistence settings.
type OutputConfig struct {
	Dir         *string `toml:"dir"`
	DBPath      *string `toml:"db_path"`
	MetricsFile *string `toml:"metrics_file"`
	SaveDB      *bool   `toml:"save_db"`
	LoadDB      *bool   `toml:"load_db"`
	SaveCSV     *bool   `toml:"save_csv"`
	SaveSummary *bool   `toml:"save_summary"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// Validate checks value ranges of the set fields.
func (c FileConfig) Validate() error {
	if v := c.Binning.Resolution; v != nil && *v <= 0 {
		return fmt.Errorf("%w: binning.resolution must be > 0, got %d", ErrInvalidConfig, *v)
	}
	if v := c.Binning.NumStimuli; v != nil && *v < 0 {
		return fmt.Errorf("%w: binning.num_stimuli must be >= 0, got %d", ErrInvalidConfig, *v)
	}
	if v := c.Binning.HoldGap; v != nil && *v <= 0 {
		return fmt.Errorf("%w: binning.hold_gap must be > 0, got %g", ErrInvalidConfig, *v)
	}
	if v := c.Quality.AllowedMistakes; v != nil && *v < 0 {
		return fmt.Errorf("%w: quality.allowed_mistakes must be >= 0, got %d", ErrInvalidConfig, *v)
	}
	if len(c.Quality.Injections) != len(c.Quality.InjectionAnswers) {
		return fmt.Errorf("%w: %d injections but %d injection_answers",
			ErrInvalidConfig, len(c.Quality.Injections), len(c.Quality.InjectionAnswers))
	}
	if v := c.Log.Level; v != nil {
		if _, err := logging.ParseLevel(*v); err != nil {
			return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
