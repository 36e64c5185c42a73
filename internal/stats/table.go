package stats

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// column describes one table column. Numeric columns are right aligned.
type column struct {
	title   string
	numeric bool
}

var (
	stimulusColumns = []column{
		{title: "Stimulus"},
		{title: "Length (ms)", numeric: true},
		{title: "Exposures", numeric: true},
		{title: "Presses", numeric: true},
		{title: "Mean %", numeric: true},
		{title: "Peak %", numeric: true},
		{title: "Peak at (ms)", numeric: true},
		{title: "Curve"},
	}
	runColumns = []column{
		{title: "Run"},
		{title: "Created"},
		{title: "Resolution", numeric: true},
		{title: "Files"},
		{title: "Participants", numeric: true},
		{title: "Stimuli", numeric: true},
	}
)

// writeTable renders rows under cols, one line per row.
func writeTable(w io.Writer, cols []column, rows [][]string) error {
	for _, line := range formatTable(cols, rows) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// formatTable sizes every column to its widest cell. Cells beyond the
// declared columns are dropped; missing cells render empty.
func formatTable(cols []column, rows [][]string) []string {
	if len(cols) == 0 {
		return nil
	}
	widths := make([]int, len(cols))
	header := make([]string, len(cols))
	for i, col := range cols {
		header[i] = col.title
		widths[i] = displayWidth(col.title)
	}
	for _, row := range rows {
		for i := range cols {
			if w := displayWidth(cell(row, i)); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, formatRow(cols, header, widths))
	for _, row := range rows {
		lines = append(lines, formatRow(cols, row, widths))
	}
	return lines
}

func formatRow(cols []column, row []string, widths []int) string {
	var b strings.Builder
	for i, col := range cols {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(padCell(cell(row, i), widths[i], col.numeric))
	}
	return strings.TrimRight(b.String(), " ")
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func padCell(value string, width int, rightAlign bool) string {
	if rightAlign {
		return runewidth.FillLeft(value, width)
	}
	return runewidth.FillRight(value, width)
}

func displayWidth(value string) int {
	return runewidth.StringWidth(value)
}
