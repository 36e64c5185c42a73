package stats

import (
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
)

func TestPlotWidthFor(t *testing.T) {
	axisWidth := runewidth.StringWidth(axisLabelTop) + runewidth.StringWidth(axisSeparator)
	total := 80
	expected := total - axisWidth
	if expected < minPlotWidth {
		expected = minPlotWidth
	}
	assert.Equal(t, expected, PlotWidthFor(total))
	assert.Equal(t, minPlotWidth, PlotWidthFor(0))
}
