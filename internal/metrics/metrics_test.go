package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.FileParsed(3)
	r.FileParsed(2)
	r.Participants("attempted", 5)
	r.Participants("removed", 1)
	r.Binned(10, 8, 42)
	r.ObserveStage("parse", 20*time.Millisecond)
	r.Finish(time.Unix(1700000000, 0), true)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.filesParsed))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.recordsParsed))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.participants.WithLabelValues("attempted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.participants.WithLabelValues("removed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.stimuliBinned))
	assert.Equal(t, 8.0, testutil.ToFloat64(r.stimuliWithCurve))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.keypresses))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastRunTimestamp))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lastRunSuccess))

	r.Finish(time.Unix(1700000001, 0), false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.lastRunSuccess))
}

func TestRecorderOptions(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := NewRecorder(WithNamespace("study"), WithRegistry(registry))
	r.FileParsed(1)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "study_files_parsed_total")
	assert.Same(t, registry, r.Gatherer())
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.FileParsed(7)
	path := filepath.Join(t.TempDir(), "eyecontact.prom")
	require.NoError(t, r.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "eyecontact_records_parsed_total 7")

	assert.True(t, errors.Is(r.WriteTextfile(""), ErrNoTextfile))
}
