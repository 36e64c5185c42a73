package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/eyecontact/internal/model"
)

// Summary is the machine-readable record of a run written to summary.yaml.
type Summary struct {
	RunID        string            `yaml:"run_id"`
	CreatedAt    time.Time         `yaml:"created_at"`
	Files        []string          `yaml:"files"`
	Records      int               `yaml:"records"`
	Resolution   int               `yaml:"resolution"`
	Participants ParticipantCounts `yaml:"participants"`
	Stimuli      []StimulusSummary `yaml:"stimuli"`
}

// ParticipantCounts tracks participants through the filter stages.
type ParticipantCounts struct {
	Attempted     int `yaml:"attempted"`
	Removed       int `yaml:"removed_by_checks"`
	SurveyDropped int `yaml:"dropped_by_survey"`
	Kept          int `yaml:"kept"`
}

// StimulusSummary holds the curve statistics of one stimulus.
type StimulusSummary struct {
	ID        string  `yaml:"id"`
	Duration  int     `yaml:"duration_ms"`
	Exposures int     `yaml:"exposures"`
	Presses   int     `yaml:"presses"`
	MeanPct   float64 `yaml:"mean_pct"`
	PeakPct   int     `yaml:"peak_pct"`
	PeakAt    int     `yaml:"peak_at_ms"`
	HasCurve  bool    `yaml:"has_curve"`
}

func summarize(res Result) Summary {
	s := Summary{
		RunID:      res.RunID,
		CreatedAt:  res.Snapshot.Run.CreatedAt,
		Files:      res.Snapshot.Run.Files,
		Records:    res.Records,
		Resolution: res.Snapshot.Run.Resolution,
		Participants: ParticipantCounts{
			Attempted:     res.Quality.Attempted,
			Removed:       res.Quality.Removed,
			SurveyDropped: res.Survey.Dropped,
			Kept:          res.Snapshot.Participants.Len(),
		},
	}
	for _, row := range res.Snapshot.Mapping.Rows {
		s.Stimuli = append(s.Stimuli, stimulusSummary(row))
	}
	return s
}

func stimulusSummary(row *model.MappingRow) StimulusSummary {
	return StimulusSummary{
		ID:        row.ID,
		Duration:  row.Duration,
		Exposures: row.Exposures,
		Presses:   row.Presses,
		MeanPct:   row.MeanPct,
		PeakPct:   row.PeakPct,
		PeakAt:    row.PeakAt,
		HasCurve:  row.HasCurve(),
	}
}

// WriteSummary writes a run summary as YAML.
func WriteSummary(path string, s Summary) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (Summary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return s, nil
}
