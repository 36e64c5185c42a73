package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/eyecontact/internal/logging"
	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/stats"
	"github.com/verte-zerg/eyecontact/internal/store"
)

func TestMain(m *testing.M) {
	logging.Disable()
	os.Exit(m.Run())
}

const sessions = `{"data":[{"worker_code":"W1","time_elapsed":0},{"stimulus":"videos/video_0.mp4","trial_index":1,"time_elapsed":300},{"rts":[{"key":"f","rt":100},{"key":"f","rt":150}]},{"responses":"{\"Q0\":\"yes\",\"injection\":\"red\"}","question_order":"[1,0]","injection_q":"q_color"}]}
{"data":[{"worker_code":"W2","time_elapsed":0},{"stimulus":"videos/video_0.mp4","trial_index":1,"time_elapsed":300},{"rts":[{"key":"f","rt":50},{"key":"f","rt":260}]},{"responses":"{\"Q0\":\"no\",\"injection\":\"blue\"}","question_order":"[0,1]","injection_q":"q_color"}]}

{"data":[{"worker_code":"W3","time_elapsed":0},{"stimulus":"videos/video_0.mp4","trial_index":1,"time_elapsed":300},{"rts":[]},{"responses":"{\"Q0\":\"yes\",\"injection\":\"red\"}","question_order":"[0,1]","injection_q":"q_color"}]}
`

type fixture struct {
	dir     string
	cfg     model.Config
	metrics string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	metricsPath := filepath.Join(dir, "eyecontact.prom")
	return fixture{
		dir:     dir,
		metrics: metricsPath,
		cfg: model.Config{
			Files:                []string{write("sessions.json", sessions)},
			MappingFile:          write("mapping.csv", "video_id,video_length,eye_contact\nvideo_0,300,yes\n"),
			SurveyFile:           write("survey.csv", "worker_code,age\nW1,31\n"),
			OutputDir:            filepath.Join(dir, "out"),
			DBPath:               filepath.Join(dir, "eyecontact.db"),
			MetricsFile:          metricsPath,
			Resolution:           100,
			CountSilentExposures: true,
			Injections:           []string{"q_color"},
			InjectionAnswers:     []string{"red"},
			SaveDB:               true,
			SaveCSV:              true,
			SaveSummary:          true,
		},
	}
}

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestRunEndToEnd(t *testing.T) {
	fx := newFixture(t)
	p, err := New(fx.cfg, WithRunID("run-1"), WithClock(fixedClock(1000)))
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 3, res.Quality.Attempted)
	assert.Equal(t, 1, res.Quality.Removed)
	assert.Equal(t, []string{"W2"}, res.Quality.RemovedWorkers)
	assert.Equal(t, 1, res.Survey.Dropped)
	assert.Equal(t, 1, res.Snapshot.Participants.Len())

	w1, ok := res.Snapshot.Participants.Get("W1")
	require.True(t, ok)
	assert.Equal(t, "31", w1.Meta["age"])

	row, ok := res.Snapshot.Mapping.Get("video_0")
	require.True(t, ok)
	assert.Equal(t, []int{0, 100, 0}, row.Curve)
	assert.Equal(t, 1, row.Exposures)
	assert.Equal(t, 1, row.Presses)
	assert.Equal(t, 100, row.PeakPct)
	assert.Equal(t, 200, row.PeakAt)
	assert.InDelta(t, 33.33, row.MeanPct, 1e-9)

	for _, name := range []string{ParticipantsFile, MappingFile, SummaryFile} {
		_, err := os.Stat(filepath.Join(fx.cfg.OutputDir, name))
		assert.NoError(t, err, name)
	}

	summary, err := ReadSummary(filepath.Join(fx.cfg.OutputDir, SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, ParticipantCounts{Attempted: 3, Removed: 1, SurveyDropped: 1, Kept: 1}, summary.Participants)
	require.Len(t, summary.Stimuli, 1)
	assert.True(t, summary.Stimuli[0].HasCurve)
	assert.Equal(t, 200, summary.Stimuli[0].PeakAt)

	st, err := store.Open(fx.cfg.DBPath)
	require.NoError(t, err)
	defer func() {
		_ = st.Close()
	}()
	snap, err := st.LoadSnapshot(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "run-1", snap.Run.ID)
	assert.Equal(t, 1, snap.Run.Participants)

	raw, err := os.ReadFile(fx.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "eyecontact_last_run_success 1")
	assert.Contains(t, string(raw), "eyecontact_records_parsed_total 3")
}

func TestRunFromStoredSnapshot(t *testing.T) {
	fx := newFixture(t)
	first, err := New(fx.cfg, WithRunID("run-1"), WithClock(fixedClock(1000)))
	require.NoError(t, err)
	_, err = first.Run(context.Background())
	require.NoError(t, err)

	cfg := fx.cfg
	cfg.Files = nil
	cfg.MappingFile = ""
	cfg.LoadDB = true
	cfg.SaveCSV = false
	cfg.SaveSummary = false
	cfg.Resolution = 150
	second, err := New(cfg, WithRunID("run-2"), WithClock(fixedClock(2000)))
	require.NoError(t, err)

	res, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Records)
	assert.Equal(t, 1, res.Quality.Removed, "filter counts come from the stored run")
	assert.Equal(t, fx.cfg.Files, res.Snapshot.Run.Files)

	row, ok := res.Snapshot.Mapping.Get("video_0")
	require.True(t, ok)
	assert.Equal(t, []int{100, 0}, row.Curve)
	assert.Equal(t, "yes", row.Attributes["eye_contact"])

	st, err := store.Open(cfg.DBPath)
	require.NoError(t, err)
	defer func() {
		_ = st.Close()
	}()
	latest, err := st.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)
	assert.Equal(t, 150, latest.Resolution)
}

func TestRunFromParticipantsCSV(t *testing.T) {
	fx := newFixture(t)
	first, err := New(fx.cfg, WithRunID("run-1"), WithClock(fixedClock(1000)))
	require.NoError(t, err)
	_, err = first.Run(context.Background())
	require.NoError(t, err)

	cfg := fx.cfg
	cfg.Files = nil
	cfg.ParticipantsFile = filepath.Join(fx.cfg.OutputDir, ParticipantsFile)
	cfg.OutputDir = filepath.Join(fx.dir, "again")
	second, err := New(cfg, WithRunID("run-2"), WithClock(fixedClock(2000)))
	require.NoError(t, err)

	res, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Records)
	assert.Equal(t, 1, res.Quality.Attempted)
	assert.Equal(t, 0, res.Quality.Removed)
	assert.Equal(t, []string{cfg.ParticipantsFile}, res.Snapshot.Run.Files)

	row, ok := res.Snapshot.Mapping.Get("video_0")
	require.True(t, ok)
	assert.Equal(t, []int{0, 100, 0}, row.Curve)
	assert.Equal(t, 1, row.Presses)
}

func TestRunFailsOnUnknownInjection(t *testing.T) {
	fx := newFixture(t)
	cfg := fx.cfg
	cfg.Injections = []string{"q_count"}
	cfg.InjectionAnswers = []string{"3"}
	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "quality:"))

	raw, err := os.ReadFile(fx.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "eyecontact_last_run_success 0")
	_, err = os.Stat(cfg.DBPath)
	assert.True(t, os.IsNotExist(err), "nothing is persisted after a failure")
}

func TestRunCancelled(t *testing.T) {
	fx := newFixture(t)
	p, err := New(fx.cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewValidates(t *testing.T) {
	fx := newFixture(t)

	cfg := fx.cfg
	cfg.Files = nil
	_, err := New(cfg)
	assert.True(t, errors.Is(err, ErrNoInput))

	cfg = fx.cfg
	cfg.MappingFile = ""
	_, err = New(cfg)
	assert.True(t, errors.Is(err, ErrNoMapping))

	cfg = fx.cfg
	cfg.DBPath = ""
	_, err = New(cfg)
	assert.True(t, errors.Is(err, ErrNoDatabase))

	cfg = fx.cfg
	cfg.Resolution = 0
	_, err = New(cfg)
	assert.True(t, errors.Is(err, stats.ErrInvalidResolution))

	cfg = fx.cfg
	cfg.HoldGap = -1
	_, err = New(cfg)
	assert.True(t, errors.Is(err, stats.ErrInvalidHoldGap))

	p, err := New(fx.cfg)
	require.NoError(t, err)
	assert.Equal(t, float64(stats.DefaultHoldGap), p.cfg.HoldGap)
	assert.Equal(t, "video_", p.cfg.StimulusPrefix)
	assert.NotNil(t, p.Metrics())
}
