package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/verte-zerg/eyecontact/internal/model"
)

// Filter selects mapping rows whose attribute equals a value.
type Filter struct {
	Variable string
	Value    string
}

// String renders the filter as variable=value.
func (f Filter) String() string {
	return f.Variable + "=" + f.Value
}

// ParseFilter parses "variable=value".
func ParseFilter(s string) (Filter, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return Filter{}, fmt.Errorf("filter %q: expected variable=value", s)
	}
	return Filter{Variable: name, Value: value}, nil
}

func (f Filter) match(row *model.MappingRow) bool {
	v, ok := row.Attr(f.Variable)
	return ok && v == f.Value
}

// TimeAxis returns the bin upper edges in seconds for the longest stimulus.
func TimeAxis(mapping *model.Mapping, res int) []float64 {
	bins := BinCount(mapping.MaxDuration(), res)
	axis := make([]float64, bins)
	for i := range axis {
		axis[i] = float64((i+1)*res) / 1000
	}
	return axis
}

// AverageCurves averages the curves of the given rows bin by bin. Shorter
// curves are padded with zeros up to length; rows without a curve count as
// all zeros.
func AverageCurves(rows []*model.MappingRow, length int) []float64 {
	out := make([]float64, length)
	if len(rows) == 0 {
		return out
	}
	for _, row := range rows {
		for i, v := range row.Curve {
			if i >= length {
				break
			}
			out[i] += float64(v)
		}
	}
	for i := range out {
		out[i] /= float64(len(rows))
	}
	return out
}

// CurveSet is a named averaged curve.
type CurveSet struct {
	Name   string
	Rows   int
	Values []float64
}

// CurveAll averages every row of the mapping.
func CurveAll(mapping *model.Mapping, res int) CurveSet {
	length := BinCount(mapping.MaxDuration(), res)
	return CurveSet{
		Name:   "all stimuli",
		Rows:   mapping.Len(),
		Values: AverageCurves(mapping.Rows, length),
	}
}

// CurvesByVariable groups rows by the value of variable and averages each
// group. When values is empty every distinct value is used, in order of
// first appearance.
func CurvesByVariable(mapping *model.Mapping, variable string, values []string, res int) []CurveSet {
	length := BinCount(mapping.MaxDuration(), res)
	if len(values) == 0 {
		seen := map[string]struct{}{}
		for _, row := range mapping.Rows {
			v, ok := row.Attr(variable)
			if !ok {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	out := make([]CurveSet, 0, len(values))
	for _, v := range values {
		rows := selectRows(mapping, Filter{Variable: variable, Value: v})
		out = append(out, CurveSet{
			Name:   v,
			Rows:   len(rows),
			Values: AverageCurves(rows, length),
		})
	}
	return out
}

// CurvesOr averages rows matching each filter separately.
func CurvesOr(mapping *model.Mapping, filters []Filter, res int) []CurveSet {
	length := BinCount(mapping.MaxDuration(), res)
	out := make([]CurveSet, 0, len(filters))
	for _, f := range filters {
		rows := selectRows(mapping, f)
		out = append(out, CurveSet{
			Name:   f.Variable + "-" + f.Value,
			Rows:   len(rows),
			Values: AverageCurves(rows, length),
		})
	}
	return out
}

// CurveAnd averages rows matching every filter.
func CurveAnd(mapping *model.Mapping, filters []Filter, res int) (CurveSet, error) {
	var rows []*model.MappingRow
	for _, row := range mapping.Rows {
		ok := true
		for _, f := range filters {
			if !f.match(row) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, row)
		}
	}
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = f.Variable + "-" + f.Value
	}
	name := strings.Join(names, "_")
	if len(rows) == 0 {
		return CurveSet{}, fmt.Errorf("%w: %s", ErrNoMatchingRows, name)
	}
	return CurveSet{
		Name:   name,
		Rows:   len(rows),
		Values: AverageCurves(rows, BinCount(mapping.MaxDuration(), res)),
	}, nil
}

// Variables lists the attribute columns of the mapping with their distinct
// values, sorted.
func Variables(mapping *model.Mapping) map[string][]string {
	out := make(map[string][]string, len(mapping.Columns))
	for _, col := range mapping.Columns {
		seen := map[string]struct{}{}
		for _, row := range mapping.Rows {
			seen[row.Attributes[col]] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		out[col] = values
	}
	return out
}

func selectRows(mapping *model.Mapping, f Filter) []*model.MappingRow {
	var rows []*model.MappingRow
	for _, row := range mapping.Rows {
		if f.match(row) {
			rows = append(rows, row)
		}
	}
	return rows
}
