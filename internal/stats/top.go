package stats

import (
	"sort"

	"github.com/verte-zerg/eyecontact/internal/model"
)

// TopStimuliByPeak returns the n stimuli with the highest peak response.
// Ties are broken by mean response, then by id.
func TopStimuliByPeak(m *model.Mapping, n int) []*model.MappingRow {
	if n <= 0 || m.Len() == 0 {
		return nil
	}
	items := withCurves(m)
	sort.Slice(items, func(i, j int) bool {
		if items[i].PeakPct != items[j].PeakPct {
			return items[i].PeakPct > items[j].PeakPct
		}
		if items[i].MeanPct != items[j].MeanPct {
			return items[i].MeanPct > items[j].MeanPct
		}
		return model.LessID(items[i].ID, items[j].ID)
	})
	if n > len(items) {
		n = len(items)
	}
	return items[:n]
}

func withCurves(m *model.Mapping) []*model.MappingRow {
	items := make([]*model.MappingRow, 0, m.Len())
	for _, row := range m.Rows {
		if row.HasCurve() {
			items = append(items, row)
		}
	}
	return items
}
