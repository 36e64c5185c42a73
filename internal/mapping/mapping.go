// Package mapping reads and writes the per-stimulus reference table.
package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/verte-zerg/eyecontact/internal/model"
)

var (
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("mapping column missing")
	// ErrBadValue is returned for cells that cannot be parsed.
	ErrBadValue = errors.New("bad mapping value")
)

var derivedColumns = map[string]struct{}{
	model.MappingCurveColumn:  {},
	model.MappingExposuresCol: {},
	model.MappingPressesCol:   {},
	model.MappingMeanPctCol:   {},
	model.MappingPeakPctCol:   {},
	model.MappingPeakAtCol:    {},
}

// Load reads a mapping table from a CSV file.
func Load(path string) (*model.Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping: %w", err)
	}
	defer func() {
		// Best-effort close for a read-only file.
		_ = f.Close()
	}()
	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Read parses a mapping table. The id and duration columns are required;
// every other column is kept as a text attribute except the derived curve
// columns, which are restored into the row fields.
func Read(r io.Reader) (*model.Mapping, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	idCol, durCol := -1, -1
	var attrs []string
	for i, name := range header {
		switch name {
		case model.MappingIDColumn:
			idCol = i
		case model.MappingDurationColumn:
			durCol = i
		default:
			if _, ok := derivedColumns[name]; !ok && name != "" {
				attrs = append(attrs, name)
			}
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, model.MappingIDColumn)
	}
	if durCol < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, model.MappingDurationColumn)
	}

	m := model.NewMapping(attrs)
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseRow(header, rec, idCol, durCol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := m.Add(row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return m, nil
}

func parseRow(header, rec []string, idCol, durCol int) (*model.MappingRow, error) {
	row := &model.MappingRow{
		ID:         strings.TrimSpace(rec[idCol]),
		Attributes: map[string]string{},
	}
	if row.ID == "" {
		return nil, fmt.Errorf("%w: empty %s", ErrBadValue, model.MappingIDColumn)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(rec[durCol]), 64)
	if err != nil || dur < 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrBadValue, model.MappingDurationColumn, rec[durCol])
	}
	row.Duration = int(math.Round(dur))

	for i, name := range header {
		if i == idCol || i == durCol || name == "" {
			continue
		}
		value := rec[i]
		if err := setDerived(row, name, value); err != nil {
			return nil, err
		}
		if _, ok := derivedColumns[name]; !ok {
			row.Attributes[name] = value
		}
	}
	return row, nil
}

func setDerived(row *model.MappingRow, name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var err error
	switch name {
	case model.MappingCurveColumn:
		row.Curve, err = ParseCurve(value)
	case model.MappingExposuresCol:
		row.Exposures, err = strconv.Atoi(value)
	case model.MappingPressesCol:
		row.Presses, err = strconv.Atoi(value)
	case model.MappingMeanPctCol:
		row.MeanPct, err = strconv.ParseFloat(value, 64)
	case model.MappingPeakPctCol:
		row.PeakPct, err = strconv.Atoi(value)
	case model.MappingPeakAtCol:
		row.PeakAt, err = strconv.Atoi(value)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s %q", ErrBadValue, name, value)
	}
	return nil
}

// Write emits the mapping table as CSV: id, duration, attributes in their
// original order and the derived curve columns for stimuli that have a curve.
func Write(w io.Writer, m *model.Mapping) error {
	cw := csv.NewWriter(w)
	header := append([]string{model.MappingIDColumn, model.MappingDurationColumn}, m.Columns...)
	header = append(header,
		model.MappingCurveColumn,
		model.MappingExposuresCol,
		model.MappingPressesCol,
		model.MappingMeanPctCol,
		model.MappingPeakPctCol,
		model.MappingPeakAtCol,
	)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range m.Rows {
		rec := []string{row.ID, strconv.Itoa(row.Duration)}
		for _, col := range m.Columns {
			rec = append(rec, row.Attributes[col])
		}
		if row.HasCurve() {
			rec = append(rec,
				FormatCurve(row.Curve),
				strconv.Itoa(row.Exposures),
				strconv.Itoa(row.Presses),
				strconv.FormatFloat(row.MeanPct, 'f', -1, 64),
				strconv.Itoa(row.PeakPct),
				strconv.Itoa(row.PeakAt),
			)
		} else {
			rec = append(rec, "", "", "", "", "", "")
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the mapping table to a CSV file.
func Save(path string, m *model.Mapping) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mapping: %w", err)
	}
	if err := Write(f, m); err != nil {
		_ = f.Close()
		return fmt.Errorf("write mapping: %w", err)
	}
	return f.Close()
}

// FormatCurve renders a curve as a bracketed list, e.g. "[0, 5, 10]".
func FormatCurve(curve []int) string {
	parts := make([]string, len(curve))
	for i, v := range curve {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ParseCurve parses a bracketed list written by FormatCurve.
func ParseCurve(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("%w: curve %q", ErrBadValue, s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	curve := []int{}
	if body == "" {
		return curve, nil
	}
	for _, part := range strings.Split(body, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: curve %q", ErrBadValue, s)
		}
		curve = append(curve, v)
	}
	return curve, nil
}
