package model

import "fmt"

// Default column names of the stimulus mapping table.
const (
	MappingIDColumn       = "video_id"
	MappingDurationColumn = "video_length"
	MappingCurveColumn    = "keypresses"
	MappingExposuresCol   = "exposures"
	MappingPressesCol     = "presses"
	MappingMeanPctCol     = "mean_pct"
	MappingPeakPctCol     = "peak_pct"
	MappingPeakAtCol      = "peak_at"
)

// MappingRow is one stimulus of the mapping table together with the curve
// derived from keypresses.
type MappingRow struct {
	ID         string
	Duration   int
	Attributes map[string]string

	Curve     []int
	Exposures int
	Presses   int
	MeanPct   float64
	PeakPct   int
	PeakAt    int
}

// HasCurve reports whether a binned curve was computed for the row.
func (r *MappingRow) HasCurve() bool {
	return r.Curve != nil
}

// Attr returns an attribute value by column name.
func (r *MappingRow) Attr(name string) (string, bool) {
	if name == MappingIDColumn {
		return r.ID, true
	}
	if name == MappingDurationColumn {
		return fmt.Sprintf("%d", r.Duration), true
	}
	v, ok := r.Attributes[name]
	return v, ok
}

// Mapping is the per-stimulus reference table keyed by stimulus id.
type Mapping struct {
	// Columns lists attribute columns in file order, without id and duration.
	Columns []string
	Rows    []*MappingRow
	index   map[string]int
}

// NewMapping returns an empty mapping with the given attribute columns.
func NewMapping(columns []string) *Mapping {
	return &Mapping{
		Columns: append([]string(nil), columns...),
		index:   map[string]int{},
	}
}

// Add appends a row. Stimulus ids must be unique.
func (m *Mapping) Add(row *MappingRow) error {
	if m.index == nil {
		m.index = map[string]int{}
	}
	if _, ok := m.index[row.ID]; ok {
		return fmt.Errorf("duplicate stimulus %q in mapping", row.ID)
	}
	if row.Attributes == nil {
		row.Attributes = map[string]string{}
	}
	m.index[row.ID] = len(m.Rows)
	m.Rows = append(m.Rows, row)
	return nil
}

// Get returns the row for a stimulus id.
func (m *Mapping) Get(id string) (*MappingRow, bool) {
	idx, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return m.Rows[idx], true
}

// Len returns the number of rows.
func (m *Mapping) Len() int {
	return len(m.Rows)
}

// IDs returns stimulus ids in table order.
func (m *Mapping) IDs() []string {
	ids := make([]string, len(m.Rows))
	for i, r := range m.Rows {
		ids[i] = r.ID
	}
	return ids
}

// MaxDuration returns the longest nominal duration in the table.
func (m *Mapping) MaxDuration() int {
	maxDur := 0
	for _, r := range m.Rows {
		if r.Duration > maxDur {
			maxDur = r.Duration
		}
	}
	return maxDur
}
