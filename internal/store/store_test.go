package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/participant"
)

func sampleTable() *participant.Table {
	w1 := model.NewRecord("W1")
	w1.Meta[model.WorkerCodeColumn] = "W1"
	w1.Meta["browser_name"] = "firefox"
	v0 := w1.Stimulus("video_0")
	v0.Durations = []float64{3000}
	v0.Keys = []string{"f", "f"}
	v0.RTs = []float64{100, 250}
	v0.HasRTs = true
	v0.Questions = []string{"Q0", "injection"}
	v0.Answers = []string{"yes", "3"}
	v0.QuestionOrder = []int{1, 0}
	v0.Injections = []string{"q3"}
	v0.Events = []string{"blur"}
	v0.EventTimes = []float64{12.5}
	w1.End = model.EndQuestions{
		Questions: []string{"age"},
		Answers:   []string{"31"},
		Order:     []int{0},
		HasAnswer: true,
		HasOrder:  true,
	}

	w2 := model.NewRecord("W2")
	w2.Meta[model.WorkerCodeColumn] = "W2"
	w2.Stimulus("video_1").HasRTs = true

	return participant.Aggregate([]*model.Record{w1, w2})
}

func sampleMapping(t *testing.T) *model.Mapping {
	t.Helper()
	m := model.NewMapping([]string{"eye_contact"})
	require.NoError(t, m.Add(&model.MappingRow{
		ID:         "video_0",
		Duration:   300,
		Attributes: map[string]string{"eye_contact": "yes"},
		Curve:      []int{0, 100, 0},
		Exposures:  1,
		Presses:    2,
		MeanPct:    33.33,
		PeakPct:    100,
		PeakAt:     200,
	}))
	require.NoError(t, m.Add(&model.MappingRow{
		ID:         "video_1",
		Duration:   200,
		Attributes: map[string]string{"eye_contact": "no"},
	}))
	return m
}

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "eyecontact.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	table := sampleTable()
	w1, _ := table.Get("W1")
	w1.LastElapsed = 9000

	snap := Snapshot{
		Run: Run{
			ID:         "run-1",
			CreatedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			Resolution: 100,
			Files:      []string{"a.json", "b.json"},
			Attempted:  3,
			Removed:    1,
		},
		Participants: table,
		Mapping:      sampleMapping(t),
	}
	require.NoError(t, st.SaveRun(ctx, snap))

	got, err := st.LoadSnapshot(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, "run-1", got.Run.ID)
	assert.True(t, snap.Run.CreatedAt.Equal(got.Run.CreatedAt))
	assert.Equal(t, []string{"a.json", "b.json"}, got.Run.Files)
	assert.Equal(t, 2, got.Run.Participants)
	assert.Equal(t, 2, got.Run.Stimuli)

	assert.Equal(t, snap.Participants.Workers(), got.Participants.Workers())
	for _, want := range snap.Participants.Records() {
		have, ok := got.Participants.Get(want.WorkerCode)
		require.True(t, ok)
		assert.Equal(t, want, have)
	}
	assert.Equal(t, snap.Mapping.Columns, got.Mapping.Columns)
	assert.Equal(t, snap.Mapping.Rows, got.Mapping.Rows)
}

func TestLatestAndNamedRuns(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	_, err := st.LatestRun(ctx)
	assert.True(t, errors.Is(err, ErrNoRuns))
	_, err = st.LoadSnapshot(ctx, "")
	assert.True(t, errors.Is(err, ErrNoRuns))

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		require.NoError(t, st.SaveRun(ctx, Snapshot{
			Run:          Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour), Resolution: 100},
			Participants: participant.NewTable(),
			Mapping:      model.NewMapping(nil),
		}))
	}

	latest, err := st.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)

	runs, err := st.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "old", runs[1].ID)

	snap, err := st.LoadSnapshot(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "old", snap.Run.ID)
	assert.Equal(t, 0, snap.Participants.Len())

	_, err = st.LoadSnapshot(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestDuplicateRunIsRolledBack(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	snap := Snapshot{
		Run:          Run{ID: "dup", CreatedAt: time.Now(), Resolution: 100},
		Participants: sampleTable(),
		Mapping:      sampleMapping(t),
	}
	require.NoError(t, st.SaveRun(ctx, snap))
	require.Error(t, st.SaveRun(ctx, snap))

	runs, err := st.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestParticipantsCSVRoundTrip(t *testing.T) {
	table := sampleTable()
	var buf bytes.Buffer
	require.NoError(t, WriteParticipantsCSV(&buf, table))

	header, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	assert.Equal(t,
		"worker_code,browser_name,end-as,end-qo,end-qs,video_0-as,video_0-dur,video_0-event,video_0-key,"+
			"video_0-qi,video_0-qo,video_0-qs,video_0-rt,video_0-time,video_1-key,video_1-rt",
		string(header))

	back, err := ReadParticipantsCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, table.Workers(), back.Workers())
	for _, want := range table.Records() {
		have, ok := back.Get(want.WorkerCode)
		require.True(t, ok)
		assert.Equal(t, want, have)
	}
}

func TestReadParticipantsCSVErrors(t *testing.T) {
	_, err := ReadParticipantsCSV(bytes.NewBufferString("browser_name\nx\n"))
	assert.Error(t, err)

	_, err = ReadParticipantsCSV(bytes.NewBufferString("worker_code,video_0-rt\nW1,not-json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadParticipantsCSVMergesWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participants.csv")
	require.NoError(t, os.WriteFile(path, []byte("worker_code,video_0-rt\nW1,[100]\nW2,[]\nW1,[250]\n"), 0o644))

	table, err := LoadParticipantsCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2"}, table.Workers())
	w1, ok := table.Get("W1")
	require.True(t, ok)
	assert.Equal(t, []float64{100, 250}, w1.Stimuli["video_0"].RTs)

	_, err = LoadParticipantsCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
