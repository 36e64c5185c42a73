package main

import (
	"fmt"
	"io"

	"github.com/verte-zerg/eyecontact/internal/pipeline"
	"github.com/verte-zerg/eyecontact/internal/stats"
	"github.com/verte-zerg/eyecontact/internal/store"
)

type plotRequest struct {
	Stimulus string
	Variable string
	Values   []string
	And      []string
	Or       []string
	Counts   bool
	Window   int
	Height   int
	Width    int
	Color    bool
}

// renderPlot draws every requested view of the snapshot in order: single
// stimulus, AND filter, OR filters, grouping by variable, response counts.
// With no request the average over all stimuli is drawn.
func renderPlot(w io.Writer, snap store.Snapshot, req plotRequest) error {
	m := snap.Mapping
	res := snap.Run.Resolution
	drawn := false

	if req.Stimulus != "" {
		row, ok := m.Get(req.Stimulus)
		if !ok {
			return fmt.Errorf("%w: %s", stats.ErrUnknownStimulus, req.Stimulus)
		}
		if err := stats.RenderStimulusCurve(w, row, res, req.Width, req.Height, req.Color); err != nil {
			return err
		}
		drawn = true
	}

	if len(req.And) > 0 {
		filters, err := parseFilters(req.And)
		if err != nil {
			return err
		}
		set, err := stats.CurveAnd(m, filters, res)
		if err != nil {
			return err
		}
		if err := stats.RenderCurves(w, "Keypresses for "+set.Name, []stats.CurveSet{set}, res, req.Width, req.Height, req.Window, req.Color); err != nil {
			return err
		}
		drawn = true
	}

	if len(req.Or) > 0 {
		filters, err := parseFilters(req.Or)
		if err != nil {
			return err
		}
		sets := stats.CurvesOr(m, filters, res)
		if err := stats.RenderCurves(w, "Keypresses by filter", sets, res, req.Width, req.Height, req.Window, req.Color); err != nil {
			return err
		}
		drawn = true
	}

	if req.Variable != "" {
		sets := stats.CurvesByVariable(m, req.Variable, req.Values, res)
		if len(sets) == 0 {
			return fmt.Errorf("%w: %s", stats.ErrNoMatchingRows, req.Variable)
		}
		if err := stats.RenderCurves(w, "Keypresses by "+req.Variable, sets, res, req.Width, req.Height, req.Window, req.Color); err != nil {
			return err
		}
		drawn = true
	} else if len(req.Values) > 0 {
		return fmt.Errorf("--value needs --variable")
	}

	if req.Counts {
		if err := stats.RenderResponseCounts(w, m, req.Width, req.Height); err != nil {
			return err
		}
		drawn = true
	}

	if drawn {
		return nil
	}
	all := stats.CurveAll(m, res)
	return stats.RenderCurves(w, "Keypresses for all stimuli", []stats.CurveSet{all}, res, req.Width, req.Height, req.Window, req.Color)
}

func parseFilters(raw []string) ([]stats.Filter, error) {
	filters := make([]stats.Filter, 0, len(raw))
	for _, s := range raw {
		f, err := stats.ParseFilter(s)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func renderRuns(w io.Writer, runs []store.Run) error {
	return stats.RenderRunList(w, runs)
}

// renderSummary prints a summary.yaml in the layout of a stored run.
func renderSummary(w io.Writer, s pipeline.Summary) error {
	withCurve := 0
	for _, st := range s.Stimuli {
		if st.HasCurve {
			withCurve++
		}
	}
	if err := stats.RenderRunSummary(w, stats.RunSummary{
		RunID:        s.RunID,
		Files:        len(s.Files),
		Records:      s.Records,
		Attempted:    s.Participants.Attempted,
		Removed:      s.Participants.Removed,
		Participants: s.Participants.Kept,
		Stimuli:      len(s.Stimuli),
		WithCurve:    withCurve,
	}); err != nil {
		return err
	}
	for _, st := range s.Stimuli {
		line := fmt.Sprintf("%s: no exposures", st.ID)
		if st.HasCurve {
			line = fmt.Sprintf("%s: %d exposures, mean %.2f%%, peak %d%% at %d ms",
				st.ID, st.Exposures, st.MeanPct, st.PeakPct, st.PeakAt)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
