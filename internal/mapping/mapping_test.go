package mapping

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/eyecontact/internal/model"
)

const sample = `video_id,video_length,eye_contact,distance
video_0,3000,yes,near
video_1,4500.0,no,far
`

func TestReadKeepsColumnsAndOrder(t *testing.T) {
	m, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"eye_contact", "distance"}, m.Columns)
	assert.Equal(t, []string{"video_0", "video_1"}, m.IDs())
	row, ok := m.Get("video_1")
	require.True(t, ok)
	assert.Equal(t, 4500, row.Duration)
	assert.Equal(t, "no", row.Attributes["eye_contact"])
	assert.False(t, row.HasCurve())
	assert.Equal(t, 4500, m.MaxDuration())
}

func TestReadRequiresColumns(t *testing.T) {
	_, err := Read(strings.NewReader("video_id,label\nvideo_0,a\n"))
	assert.True(t, errors.Is(err, ErrMissingColumn))

	_, err = Read(strings.NewReader("video_length\n100\n"))
	assert.True(t, errors.Is(err, ErrMissingColumn))
}

func TestReadRejectsBadRows(t *testing.T) {
	_, err := Read(strings.NewReader("video_id,video_length\nvideo_0,abc\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadValue))
	assert.Contains(t, err.Error(), "line 2")

	_, err = Read(strings.NewReader("video_id,video_length\nvideo_0,10\nvideo_0,20\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestWriteReadRoundTrip(t *testing.T) {
	m, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	row, _ := m.Get("video_0")
	row.Curve = []int{0, 50, 100}
	row.Exposures = 2
	row.Presses = 3
	row.MeanPct = 50
	row.PeakPct = 100
	row.PeakAt = 300

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))

	back, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Columns, back.Columns)
	assert.Equal(t, m.Rows, back.Rows)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufeff"+sample), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, Save(out, m))
	back, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, m.IDs(), back.IDs())

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestCurveFormat(t *testing.T) {
	assert.Equal(t, "[0, 5, 10]", FormatCurve([]int{0, 5, 10}))
	assert.Equal(t, "[]", FormatCurve(nil))

	curve, err := ParseCurve("[0,5, 10]")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 5, 10}, curve)

	curve, err = ParseCurve("[]")
	require.NoError(t, err)
	assert.Empty(t, curve)

	_, err = ParseCurve("0,5")
	assert.True(t, errors.Is(err, ErrBadValue))
}

func TestAttrCoversIDAndDuration(t *testing.T) {
	row := &model.MappingRow{ID: "video_0", Duration: 3000, Attributes: map[string]string{"a": "b"}}
	v, ok := row.Attr(model.MappingIDColumn)
	assert.True(t, ok)
	assert.Equal(t, "video_0", v)
	v, _ = row.Attr(model.MappingDurationColumn)
	assert.Equal(t, "3000", v)
	_, ok = row.Attr("missing")
	assert.False(t, ok)
}
