// Package pipeline runs the full analysis: parse session logs, aggregate
// per worker, filter on attention checks, join the survey, bin keypresses
// and persist the resulting snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/verte-zerg/eyecontact/internal/mapping"
	"github.com/verte-zerg/eyecontact/internal/metrics"
	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/parser"
	"github.com/verte-zerg/eyecontact/internal/participant"
	"github.com/verte-zerg/eyecontact/internal/quality"
	"github.com/verte-zerg/eyecontact/internal/stats"
	"github.com/verte-zerg/eyecontact/internal/store"
	"github.com/verte-zerg/eyecontact/internal/survey"
)

// Output file names written into the output directory.
const (
	ParticipantsFile = "participants.csv"
	MappingFile      = "mapping.csv"
	SummaryFile      = "summary.yaml"
)

var (
	// ErrNoInput is returned when neither input files nor a stored snapshot are configured.
	ErrNoInput = errors.New("no input files")
	// ErrNoMapping is returned when no stimulus mapping is available.
	ErrNoMapping = errors.New("no mapping file")
	// ErrNoDatabase is returned when the snapshot database is needed but not configured.
	ErrNoDatabase = errors.New("no database path")
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records run metrics into r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.metrics = r
		}
	}
}

// WithProgress reports stages to pr.
func WithProgress(pr Progress) Option {
	return func(p *Pipeline) {
		if pr != nil {
			p.progress = pr
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(p *Pipeline) {
		if id != "" {
			p.newID = func() string { return id }
		}
	}
}

// Pipeline holds the validated configuration of one analysis run.
type Pipeline struct {
	cfg      model.Config
	metrics  *metrics.Recorder
	progress Progress
	now      func() time.Time
	newID    func() string
}

// Result is what a run produced.
type Result struct {
	RunID    string
	Records  int
	Quality  quality.Result
	Survey   survey.JoinResult
	Bins     stats.BinSummary
	Snapshot store.Snapshot
}

// New validates cfg, fills defaults and returns a pipeline. An unset
// (zero) HoldGap means stats.DefaultHoldGap.
func New(cfg model.Config, opts ...Option) (*Pipeline, error) {
	if !cfg.LoadDB && len(cfg.Files) == 0 && cfg.ParticipantsFile == "" {
		return nil, ErrNoInput
	}
	if !cfg.LoadDB && cfg.MappingFile == "" {
		return nil, ErrNoMapping
	}
	if (cfg.LoadDB || cfg.SaveDB) && cfg.DBPath == "" {
		return nil, ErrNoDatabase
	}
	if cfg.Resolution <= 0 {
		return nil, fmt.Errorf("%w: %d", stats.ErrInvalidResolution, cfg.Resolution)
	}
	if cfg.HoldGap < 0 {
		return nil, fmt.Errorf("%w: %g", stats.ErrInvalidHoldGap, cfg.HoldGap)
	}
	if cfg.HoldGap == 0 {
		cfg.HoldGap = stats.DefaultHoldGap
	}
	if len(cfg.MetaKeys) == 0 {
		cfg.MetaKeys = parser.DefaultMetaKeys
	}
	if cfg.StimulusPrefix == "" {
		cfg.StimulusPrefix = parser.DefaultStimulusPrefix
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}

	p := &Pipeline{
		cfg:      cfg,
		metrics:  metrics.NewRecorder(),
		progress: nopProgress{},
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Metrics returns the recorder of the pipeline.
func (p *Pipeline) Metrics() *metrics.Recorder {
	return p.metrics
}

// Run executes the pipeline. Any stage error aborts the run.
func (p *Pipeline) Run(ctx context.Context) (res Result, err error) {
	res.RunID = p.newID()
	logger := log.With().Str("run", res.RunID).Logger()
	logger.Info().
		Int("files", len(p.cfg.Files)).
		Str("participants_file", p.cfg.ParticipantsFile).
		Bool("load_db", p.cfg.LoadDB).
		Msg("run started")

	defer func() {
		p.progress.Done()
		p.metrics.Finish(p.now(), err == nil)
		if p.cfg.MetricsFile == "" {
			return
		}
		if werr := p.metrics.WriteTextfile(p.cfg.MetricsFile); werr != nil {
			logger.Error().Err(werr).Msg("failed to write metrics")
		}
	}()

	var (
		table  *participant.Table
		stored *model.Mapping
		files  = p.cfg.Files
	)
	if p.cfg.LoadDB {
		snap, err := p.loadStored(ctx)
		if err != nil {
			return res, err
		}
		table, stored, files = snap.Participants, snap.Mapping, snap.Run.Files
		res.Quality = quality.Result{
			Attempted: snap.Run.Attempted,
			Removed:   snap.Run.Removed,
		}
		logger.Info().Str("from_run", snap.Run.ID).Int("participants", table.Len()).Msg("loaded stored participants")
	} else {
		if p.cfg.ParticipantsFile != "" {
			table, err = p.loadParticipants(ctx, logger)
			files = []string{p.cfg.ParticipantsFile}
		} else {
			table, err = p.parse(ctx, logger, &res)
		}
		if err != nil {
			return res, err
		}
		if err := p.filter(ctx, table, &res); err != nil {
			return res, err
		}
	}
	p.metrics.Participants("kept", table.Len())

	m, err := p.loadMapping(ctx, stored)
	if err != nil {
		return res, err
	}

	if err := p.stage(ctx, "bin", func() error {
		res.Bins, err = stats.ProcessKeypresses(table, m, stats.BinOptions{
			Resolution:           p.cfg.Resolution,
			HoldGap:              p.cfg.HoldGap,
			NumStimuli:           p.cfg.NumStimuli,
			StimulusPrefix:       p.cfg.StimulusPrefix,
			CountSilentExposures: p.cfg.CountSilentExposures,
			StrictMapping:        p.cfg.StrictMapping,
		})
		return err
	}); err != nil {
		return res, err
	}
	presses := 0
	for _, row := range m.Rows {
		presses += row.Presses
	}
	p.metrics.Binned(res.Bins.Stimuli, res.Bins.WithCurve, presses)

	res.Snapshot = store.Snapshot{
		Run: store.Run{
			ID:           res.RunID,
			CreatedAt:    p.now().UTC(),
			Resolution:   p.cfg.Resolution,
			Files:        files,
			Attempted:    res.Quality.Attempted,
			Removed:      res.Quality.Removed,
			Participants: table.Len(),
			Stimuli:      m.Len(),
		},
		Participants: table,
		Mapping:      m,
	}

	if err := p.stage(ctx, "persist", func() error {
		return p.persist(ctx, res)
	}); err != nil {
		return res, err
	}
	logger.Info().
		Int("participants", table.Len()).
		Int("stimuli", res.Bins.Stimuli).
		Int("with_curve", res.Bins.WithCurve).
		Msg("run finished")
	return res, nil
}

// stage runs fn as a named stage, timing it and checking ctx first.
func (p *Pipeline) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.progress.Stage(name)
	start := p.now()
	err := fn()
	p.metrics.ObserveStage(name, p.now().Sub(start))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) parse(ctx context.Context, logger zerolog.Logger, res *Result) (*participant.Table, error) {
	table := participant.NewTable()
	prs := parser.New(parser.Options{
		MetaKeys:       p.cfg.MetaKeys,
		StimulusPrefix: p.cfg.StimulusPrefix,
	})
	err := p.stage(ctx, "parse", func() error {
		for _, path := range p.cfg.Files {
			n := 0
			err := prs.ParseFile(path, func(rec *model.Record) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				n++
				table.Add(rec)
				return nil
			})
			if err != nil {
				return err
			}
			p.metrics.FileParsed(n)
			res.Records += n
			logger.Debug().Str("file", path).Int("records", n).Msg("parsed file")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Int("records", res.Records).Int("participants", table.Len()).Msg("aggregated participants")
	return table, nil
}

func (p *Pipeline) loadParticipants(ctx context.Context, logger zerolog.Logger) (*participant.Table, error) {
	var table *participant.Table
	err := p.stage(ctx, "participants", func() error {
		var err error
		table, err = store.LoadParticipantsCSV(p.cfg.ParticipantsFile)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("file", p.cfg.ParticipantsFile).Int("participants", table.Len()).Msg("loaded participants")
	return table, nil
}

func (p *Pipeline) filter(ctx context.Context, table *participant.Table, res *Result) error {
	policy, err := quality.NewPolicy(p.cfg.AllowedMistakes, p.cfg.Injections, p.cfg.InjectionAnswers)
	if err != nil {
		return err
	}
	err = p.stage(ctx, "quality", func() error {
		res.Quality, err = quality.Filter(table, policy)
		return err
	})
	if err != nil {
		return err
	}
	p.metrics.Participants("attempted", res.Quality.Attempted)
	p.metrics.Participants("removed", res.Quality.Removed)

	if p.cfg.SurveyFile == "" {
		return nil
	}
	return p.stage(ctx, "survey", func() error {
		s, err := survey.Load(p.cfg.SurveyFile)
		if err != nil {
			return err
		}
		res.Survey = s.Join(table)
		p.metrics.Participants("survey_dropped", res.Survey.Dropped)
		return nil
	})
}

func (p *Pipeline) loadMapping(ctx context.Context, stored *model.Mapping) (*model.Mapping, error) {
	if p.cfg.MappingFile == "" {
		if stored == nil {
			return nil, ErrNoMapping
		}
		return stored, nil
	}
	var m *model.Mapping
	err := p.stage(ctx, "mapping", func() error {
		var err error
		m, err = mapping.Load(p.cfg.MappingFile)
		return err
	})
	return m, err
}

func (p *Pipeline) loadStored(ctx context.Context) (store.Snapshot, error) {
	var snap store.Snapshot
	err := p.stage(ctx, "load", func() error {
		st, err := store.Open(p.cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			_ = st.Close()
		}()
		snap, err = st.LoadSnapshot(ctx, "")
		return err
	})
	return snap, err
}

func (p *Pipeline) persist(ctx context.Context, res Result) error {
	snap := res.Snapshot
	if p.cfg.SaveCSV || p.cfg.SaveSummary {
		if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if p.cfg.SaveCSV {
		if err := store.SaveParticipantsCSV(filepath.Join(p.cfg.OutputDir, ParticipantsFile), snap.Participants); err != nil {
			return err
		}
		if err := mapping.Save(filepath.Join(p.cfg.OutputDir, MappingFile), snap.Mapping); err != nil {
			return err
		}
	}
	if p.cfg.SaveDB {
		st, err := store.Open(p.cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			_ = st.Close()
		}()
		if err := st.SaveRun(ctx, snap); err != nil {
			return err
		}
	}
	if p.cfg.SaveSummary {
		if err := WriteSummary(filepath.Join(p.cfg.OutputDir, SummaryFile), summarize(res)); err != nil {
			return err
		}
	}
	return nil
}
