package stats

import (
	"sort"

	"github.com/verte-zerg/eyecontact/internal/model"
)

// QuietStimuli selects the stimuli with the lowest mean response.
func QuietStimuli(m *model.Mapping, top int) []*model.MappingRow {
	candidates := withCurves(m)
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].MeanPct == candidates[j].MeanPct {
			return model.LessID(candidates[i].ID, candidates[j].ID)
		}
		return candidates[i].MeanPct < candidates[j].MeanPct
	})
	if top <= 0 || top > len(candidates) {
		top = len(candidates)
	}
	return candidates[:top]
}
