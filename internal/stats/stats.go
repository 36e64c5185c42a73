package stats

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/verte-zerg/eyecontact/internal/model"
)

const sparkChars = " .:-=+*#%@"

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	if window <= 1 || len(values) == 0 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	var sum float64
	for i := 0; i < len(values); i++ {
		sum += values[i]
		if i >= window {
			sum -= values[i-window]
		}
		den := float64(i + 1)
		if i >= window {
			den = float64(window)
		}
		out[i] = sum / den
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline on a 0-100 scale.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	var b strings.Builder
	for _, v := range values {
		pos := v / 100
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// CurveValues converts an integer curve to floats for plotting.
func CurveValues(curve []int) []float64 {
	out := make([]float64, len(curve))
	for i, v := range curve {
		out[i] = float64(v)
	}
	return out
}

// RunSummary holds the counts reported after a pipeline run.
type RunSummary struct {
	RunID        string
	Files        int
	Records      int
	Attempted    int
	Removed      int
	Participants int
	Stimuli      int
	WithCurve    int
}

// RenderRunSummary prints the counts of a run.
func RenderRunSummary(w io.Writer, s RunSummary) error {
	lines := []string{
		"Summary",
		fmt.Sprintf("Run: %s", s.RunID),
		fmt.Sprintf("Files: %d", s.Files),
		fmt.Sprintf("Records: %d", s.Records),
		fmt.Sprintf("Participants attempted: %d", s.Attempted),
		fmt.Sprintf("Removed by attention checks: %d", s.Removed),
		fmt.Sprintf("Participants kept: %d", s.Participants),
		fmt.Sprintf("Stimuli binned: %d (%d with responses)", s.Stimuli, s.WithCurve),
		"",
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderStimulusTable prints one line per stimulus with its curve statistics.
func RenderStimulusTable(w io.Writer, m *model.Mapping) error {
	if m.Len() == 0 {
		_, err := fmt.Fprintln(w, "No stimuli found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Stimuli"); err != nil {
		return err
	}
	tableRows := make([][]string, 0, m.Len())
	for _, row := range m.Rows {
		if !row.HasCurve() {
			tableRows = append(tableRows, []string{
				row.ID, fmt.Sprintf("%d", row.Duration), "0", "-", "-", "-", "-", "",
			})
			continue
		}
		tableRows = append(tableRows, []string{
			row.ID,
			fmt.Sprintf("%d", row.Duration),
			fmt.Sprintf("%d", row.Exposures),
			fmt.Sprintf("%d", row.Presses),
			fmt.Sprintf("%.2f", row.MeanPct),
			fmt.Sprintf("%d", row.PeakPct),
			fmt.Sprintf("%d", row.PeakAt),
			Sparkline(CurveValues(row.Curve)),
		})
	}
	if err := writeTable(w, stimulusColumns, tableRows); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	return nil
}

// RenderCurves plots curve sets against time on a percentage scale.
func RenderCurves(w io.Writer, title string, sets []CurveSet, res, totalWidth, height, window int, useColor bool) error {
	if len(sets) == 0 {
		return nil
	}
	series := make([]Series, 0, len(sets))
	maxLen := 0
	for _, set := range sets {
		if len(set.Values) > maxLen {
			maxLen = len(set.Values)
		}
		series = append(series, Series{
			Name:   fmt.Sprintf("%s (n=%d)", set.Name, set.Rows),
			Values: MovingAverage(set.Values, window),
		})
	}
	width := 0
	if totalWidth > 0 {
		width = PlotWidthFor(totalWidth)
	}
	span := float64(maxLen*res) / 1000
	return PlotPercent(w, title, series, span, width, height, useColor)
}

// RenderStimulusCurve plots the curve of one stimulus.
func RenderStimulusCurve(w io.Writer, row *model.MappingRow, res, totalWidth, height int, useColor bool) error {
	if !row.HasCurve() {
		_, err := fmt.Fprintf(w, "No responses recorded for %s.\n", row.ID)
		return err
	}
	return RenderCurves(w, "Keypresses for stimulus "+row.ID, []CurveSet{{
		Name:   row.ID,
		Rows:   row.Exposures,
		Values: CurveValues(row.Curve),
	}}, res, totalWidth, height, 1, useColor)
}

// RenderResponseCounts plots exposures and presses across stimuli in mapping
// order. The two series have unrelated magnitudes so each keeps its own scale.
func RenderResponseCounts(w io.Writer, m *model.Mapping, width, height int) error {
	if m == nil || m.Len() == 0 {
		return ErrNoMatchingRows
	}
	exposures := make([]float64, 0, m.Len())
	presses := make([]float64, 0, m.Len())
	for _, row := range m.Rows {
		exposures = append(exposures, float64(row.Exposures))
		presses = append(presses, float64(row.Presses))
	}
	title := fmt.Sprintf("Exposures and presses by stimulus (%s to %s)", m.Rows[0].ID, m.Rows[len(m.Rows)-1].ID)
	return PlotSeries(w, title, []Series{
		{Name: "exposures", Values: exposures},
		{Name: "presses", Values: presses},
	}, width, height)
}
