package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/eyecontact/internal/config"
	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/stats"
	"github.com/verte-zerg/eyecontact/internal/store"
)

const testSessions = `{"data":[{"worker_code":"W1"},{"stimulus":"videos/video_0.mp4","trial_index":1,"time_elapsed":300},{"rts":[{"key":"f","rt":150}]},{"responses":"{\"Q0\":\"yes\",\"injection\":\"red\"}","question_order":"[1,0]","injection_q":"q_color"}]}
{"data":[{"worker_code":"W2"},{"stimulus":"videos/video_0.mp4","trial_index":1,"time_elapsed":300},{"rts":[{"key":"f","rt":250}]},{"responses":"{\"Q0\":\"no\",\"injection\":\"blue\"}","question_order":"[0,1]","injection_q":"q_color"}]}
`

func TestDefaultConfigTemplateDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.FileConfig{}, cfg)
}

func TestApplyConfigKeepsChangedFlags(t *testing.T) {
	var res, top int
	var out string
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().IntVar(&res, "resolution", 100, "")
	cmd.Flags().IntVar(&top, "top", 5, "")
	cmd.Flags().StringVar(&out, "output", "output", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--resolution", "50"}))

	fileRes, fileTop := 200, 9
	applyIntConfig(cmd, "resolution", &res, &fileRes)
	applyIntConfig(cmd, "top", &top, &fileTop)
	applyStringConfig(cmd, "output", &out, nil)

	assert.Equal(t, 50, res, "flag wins over file")
	assert.Equal(t, 9, top, "file wins over default")
	assert.Equal(t, "output", out)
}

func TestValidateConfig(t *testing.T) {
	valid := model.Config{Files: []string{"a.json"}, MappingFile: "m.csv", Resolution: 100, HoldGap: 35}
	require.NoError(t, validateConfig(valid))

	cfg := valid
	cfg.HoldGap = 0
	assert.Error(t, validateConfig(cfg), "a zero hold gap would be replaced by the default")

	cfg = valid
	cfg.Resolution = 0
	assert.Error(t, validateConfig(cfg))

	cfg = valid
	cfg.Files = nil
	cfg.ParticipantsFile = "participants.csv"
	assert.NoError(t, validateConfig(cfg))
	cfg.LoadDB = true
	assert.Error(t, validateConfig(cfg), "participants file and stored snapshot are exclusive")

	cfg = valid
	cfg.Injections = []string{"q"}
	assert.Error(t, validateConfig(cfg))

	cfg = valid
	cfg.Files = nil
	assert.Error(t, validateConfig(cfg))
	cfg.LoadDB = true
	cfg.MappingFile = ""
	assert.NoError(t, validateConfig(cfg))
}

func plotSnapshot(t *testing.T) store.Snapshot {
	t.Helper()
	m := model.NewMapping([]string{"eye_contact"})
	require.NoError(t, m.Add(&model.MappingRow{ID: "video_0", Duration: 300, Curve: []int{0, 100, 0},
		Exposures: 1, Attributes: map[string]string{"eye_contact": "yes"}}))
	require.NoError(t, m.Add(&model.MappingRow{ID: "video_1", Duration: 300, Curve: []int{50, 0, 0},
		Exposures: 2, Attributes: map[string]string{"eye_contact": "no"}}))
	return store.Snapshot{Run: store.Run{ID: "r1", Resolution: 100}, Mapping: m}
}

func TestRenderPlot(t *testing.T) {
	snap := plotSnapshot(t)
	base := plotRequest{Window: 1, Height: 6, Width: 60}

	var buf bytes.Buffer
	require.NoError(t, renderPlot(&buf, snap, base))
	assert.Contains(t, buf.String(), "Keypresses for all stimuli")

	buf.Reset()
	req := base
	req.Stimulus = "video_1"
	req.Variable = "eye_contact"
	require.NoError(t, renderPlot(&buf, snap, req))
	assert.Contains(t, buf.String(), "Keypresses for stimulus video_1")
	assert.Contains(t, buf.String(), "Keypresses by eye_contact")
	assert.NotContains(t, buf.String(), "all stimuli")

	buf.Reset()
	req = base
	req.And = []string{"eye_contact=yes"}
	req.Or = []string{"eye_contact=yes", "eye_contact=no"}
	require.NoError(t, renderPlot(&buf, snap, req))
	assert.Contains(t, buf.String(), "Keypresses for eye_contact-yes")
	assert.Contains(t, buf.String(), "eye_contact-no (n=1)")

	buf.Reset()
	req = base
	req.Counts = true
	require.NoError(t, renderPlot(&buf, snap, req))
	assert.Contains(t, buf.String(), "Exposures and presses by stimulus (video_0 to video_1)")
	assert.Contains(t, buf.String(), "exposures: min=1.00 max=2.00")
	assert.NotContains(t, buf.String(), "all stimuli")

	req = base
	req.Stimulus = "video_9"
	assert.True(t, errors.Is(renderPlot(&buf, snap, req), stats.ErrUnknownStimulus))

	req = base
	req.And = []string{"eye_contact=maybe"}
	assert.True(t, errors.Is(renderPlot(&buf, snap, req), stats.ErrNoMatchingRows))

	req = base
	req.Or = []string{"broken"}
	assert.Error(t, renderPlot(&buf, snap, req))

	req = base
	req.Values = []string{"yes"}
	assert.Error(t, renderPlot(&buf, snap, req))
}

func TestRunAndShowCommands(t *testing.T) {
	dir := t.TempDir()
	sessions := filepath.Join(dir, "sessions.json")
	mappingPath := filepath.Join(dir, "mapping.csv")
	require.NoError(t, os.WriteFile(sessions, []byte(testSessions), 0o644))
	require.NoError(t, os.WriteFile(mappingPath, []byte("video_id,video_length,eye_contact\nvideo_0,300,yes\n"), 0o644))
	db := filepath.Join(dir, "eyecontact.db")
	common := []string{"--config", filepath.Join(dir, "absent.toml"), "--db", db, "--log-level", "off"}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(append([]string{"run",
		"--mapping", mappingPath,
		"--output", filepath.Join(dir, "out"),
		"--injections", "q_color",
		"--injection-answers", "red",
		sessions,
	}, common...))
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Removed by attention checks: 1")
	assert.Contains(t, out.String(), "Participants kept: 1")
	assert.Contains(t, out.String(), "video_0")

	_, err := os.Stat(filepath.Join(dir, "out", "summary.yaml"))
	require.NoError(t, err)

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs(append([]string{"show"}, common...))
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Participants kept: 1")
	assert.Contains(t, out.String(), "Stimuli binned: 1 (1 with responses)")

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs(append([]string{"show", "--list"}, common...))
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Created")
	assert.Contains(t, out.String(), sessions)

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs(append([]string{"show", "--summary", filepath.Join(dir, "out", "summary.yaml")}, common...))
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Removed by attention checks: 1")
	assert.Contains(t, out.String(), "video_0: 1 exposures, mean 33.33%, peak 100% at 200 ms")
}
