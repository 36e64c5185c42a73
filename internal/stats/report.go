package stats

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/store"
)

// Report contains precomputed data for rendering a stored run.
type Report struct {
	Run          store.Run
	Mapping      *model.Mapping
	Participants int
	Overall      CurveSet
	Responsive   []*model.MappingRow
	Quiet        []*model.MappingRow
}

// ReportConfig selects what BuildReport loads.
type ReportConfig struct {
	RunID string
	Top   int
}

// BuildReport loads a run snapshot and prepares data for rendering.
func BuildReport(ctx context.Context, st *store.Store, cfg ReportConfig) (Report, error) {
	snap, err := st.LoadSnapshot(ctx, cfg.RunID)
	if err != nil {
		return Report{}, err
	}
	return NewReport(snap, cfg.Top), nil
}

// NewReport prepares rendering data from a snapshot.
func NewReport(snap store.Snapshot, top int) Report {
	return Report{
		Run:          snap.Run,
		Mapping:      snap.Mapping,
		Participants: snap.Participants.Len(),
		Overall:      CurveAll(snap.Mapping, snap.Run.Resolution),
		Responsive:   TopStimuliByPeak(snap.Mapping, top),
		Quiet:        QuietStimuli(snap.Mapping, top),
	}
}

// RenderRunList prints stored runs, newest first.
func RenderRunList(w io.Writer, runs []store.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs stored.")
		return err
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", r.Resolution),
			strings.Join(r.Files, ","),
			fmt.Sprintf("%d", r.Participants),
			fmt.Sprintf("%d", r.Stimuli),
		})
	}
	return writeTable(w, runColumns, rows)
}
