// Package main provides the CLI entrypoint for eyecontact.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/eyecontact/internal/config"
	"github.com/verte-zerg/eyecontact/internal/logging"
	"github.com/verte-zerg/eyecontact/internal/metrics"
	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/parser"
	"github.com/verte-zerg/eyecontact/internal/pipeline"
	"github.com/verte-zerg/eyecontact/internal/stats"
	"github.com/verte-zerg/eyecontact/internal/statsui"
	"github.com/verte-zerg/eyecontact/internal/store"
)

const (
	defaultResolution      = 100
	defaultAllowedMistakes = 0
	defaultOutputDir       = "output"
	defaultTop             = 5
	defaultCurveWindow     = 1
	defaultPlotHeight      = 12
)

var (
	configPath string
	dbPath     string
	logLevel   string

	runFiles            []string
	runMappingFile      string
	runSurveyFile       string
	runParticipantsFile string
	runOutputDir        string
	runMetricsFile      string
	runResolution       int
	runNumStimuli       int
	runHoldGap          float64
	runCountSilent      bool
	runStrictMapping    bool
	runAllowedMistakes  int
	runInjections       []string
	runInjectionAnswers []string
	runMetaKeys         []string
	runStimulusPrefix   string
	runSaveDB           bool
	runLoadDB           bool
	runSaveCSV          bool
	runSaveSummary      bool

	showRunID   string
	showList    bool
	showSummary string

	plotRunID    string
	plotStimulus string
	plotVariable string
	plotValues   []string
	plotAnd      []string
	plotOr       []string
	plotCounts   bool
	plotWindow   int
	plotHeight   int

	browseRunID string
	browseTop   int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "eyecontact",
		Short:         "Keypress analysis of eye contact experiments",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "snapshot database")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logging.DefaultLevel, "log level (debug, info, warn, error, off)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newPlotCmd())
	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Parse session logs, filter participants and bin keypresses",
		RunE:  runPipelineCmd,
	}
	f := cmd.Flags()
	f.StringSliceVar(&runFiles, "files", nil, "session log files, in order")
	f.StringVar(&runMappingFile, "mapping", "", "stimulus mapping CSV")
	f.StringVar(&runSurveyFile, "survey", "", "survey CSV joined on worker_code")
	f.StringVar(&runParticipantsFile, "participants", "", "participants CSV of an earlier run, used instead of session files")
	f.StringVar(&runOutputDir, "output", defaultOutputDir, "output directory")
	f.StringVar(&runMetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	f.IntVar(&runResolution, "resolution", defaultResolution, "bin width in ms")
	f.IntVar(&runNumStimuli, "num-stimuli", 0, "process prefix+0..N-1 only (0: every mapping row)")
	f.Float64Var(&runHoldGap, "hold-gap", stats.DefaultHoldGap, "ms between samples that start a new press")
	f.BoolVar(&runCountSilent, "count-silent", true, "count exposures without any keypress")
	f.BoolVar(&runStrictMapping, "strict-mapping", false, "fail on stimuli missing from the mapping")
	f.IntVar(&runAllowedMistakes, "allowed-mistakes", defaultAllowedMistakes, "injection mistakes tolerated per participant")
	f.StringSliceVar(&runInjections, "injections", nil, "injected question ids")
	f.StringSliceVar(&runInjectionAnswers, "injection-answers", nil, "correct answers of the injected questions")
	f.StringSliceVar(&runMetaKeys, "meta-keys", parser.DefaultMetaKeys, "meta fields copied from sessions")
	f.StringVar(&runStimulusPrefix, "stimulus-prefix", parser.DefaultStimulusPrefix, "prefix of stimulus ids")
	f.BoolVar(&runSaveDB, "save-db", true, "store the snapshot in the database")
	f.BoolVar(&runLoadDB, "load-db", false, "re-bin the latest stored snapshot instead of parsing")
	f.BoolVar(&runSaveCSV, "save-csv", true, "write participants.csv and mapping.csv")
	f.BoolVar(&runSaveSummary, "save-summary", true, "write summary.yaml")
	return cmd
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	applyStringSliceConfig(cmd, "files", &runFiles, fileCfg.Input.Files)
	applyStringConfig(cmd, "mapping", &runMappingFile, fileCfg.Input.MappingFile)
	applyStringConfig(cmd, "survey", &runSurveyFile, fileCfg.Input.SurveyFile)
	applyStringConfig(cmd, "participants", &runParticipantsFile, fileCfg.Input.ParticipantsFile)
	applyStringSliceConfig(cmd, "meta-keys", &runMetaKeys, fileCfg.Input.MetaKeys)
	applyStringConfig(cmd, "stimulus-prefix", &runStimulusPrefix, fileCfg.Input.StimulusPrefix)
	applyIntConfig(cmd, "allowed-mistakes", &runAllowedMistakes, fileCfg.Quality.AllowedMistakes)
	applyStringSliceConfig(cmd, "injections", &runInjections, fileCfg.Quality.Injections)
	applyStringSliceConfig(cmd, "injection-answers", &runInjectionAnswers, fileCfg.Quality.InjectionAnswers)
	applyIntConfig(cmd, "resolution", &runResolution, fileCfg.Binning.Resolution)
	applyIntConfig(cmd, "num-stimuli", &runNumStimuli, fileCfg.Binning.NumStimuli)
	applyFloatConfig(cmd, "hold-gap", &runHoldGap, fileCfg.Binning.HoldGap)
	applyBoolConfig(cmd, "count-silent", &runCountSilent, fileCfg.Binning.CountSilentExposures)
	applyBoolConfig(cmd, "strict-mapping", &runStrictMapping, fileCfg.Binning.StrictMapping)
	applyStringConfig(cmd, "output", &runOutputDir, fileCfg.Output.Dir)
	applyStringConfig(cmd, "metrics-file", &runMetricsFile, fileCfg.Output.MetricsFile)
	applyBoolConfig(cmd, "save-db", &runSaveDB, fileCfg.Output.SaveDB)
	applyBoolConfig(cmd, "load-db", &runLoadDB, fileCfg.Output.LoadDB)
	applyBoolConfig(cmd, "save-csv", &runSaveCSV, fileCfg.Output.SaveCSV)
	applyBoolConfig(cmd, "save-summary", &runSaveSummary, fileCfg.Output.SaveSummary)
	if len(args) > 0 {
		runFiles = args
	}

	cfg := model.Config{
		Files:                runFiles,
		MappingFile:          runMappingFile,
		SurveyFile:           runSurveyFile,
		ParticipantsFile:     runParticipantsFile,
		OutputDir:            runOutputDir,
		DBPath:               dbPath,
		MetricsFile:          runMetricsFile,
		Resolution:           runResolution,
		NumStimuli:           runNumStimuli,
		HoldGap:              runHoldGap,
		CountSilentExposures: runCountSilent,
		StrictMapping:        runStrictMapping,
		AllowedMistakes:      runAllowedMistakes,
		Injections:           runInjections,
		InjectionAnswers:     runInjectionAnswers,
		MetaKeys:             runMetaKeys,
		StimulusPrefix:       runStimulusPrefix,
		SaveDB:               runSaveDB,
		LoadDB:               runLoadDB,
		SaveCSV:              runSaveCSV,
		SaveSummary:          runSaveSummary,
		LogLevel:             logLevel,
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	opts := []pipeline.Option{pipeline.WithMetrics(metrics.NewRecorder())}
	if term.IsTerminal(int(os.Stderr.Fd())) && cfg.LogLevel != "debug" {
		opts = append(opts, pipeline.WithProgress(pipeline.NewSpinner(os.Stderr)))
	}
	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := stats.RenderRunSummary(out, stats.RunSummary{
		RunID:        res.RunID,
		Files:        len(res.Snapshot.Run.Files),
		Records:      res.Records,
		Attempted:    res.Quality.Attempted,
		Removed:      res.Quality.Removed,
		Participants: res.Snapshot.Participants.Len(),
		Stimuli:      res.Bins.Stimuli,
		WithCurve:    res.Bins.WithCurve,
	}); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := stats.RenderStimulusTable(out, res.Snapshot.Mapping); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a stored run",
		Args:  cobra.NoArgs,
		RunE:  runShowCmd,
	}
	cmd.Flags().StringVar(&showRunID, "run", "", "run id (default: latest)")
	cmd.Flags().BoolVar(&showList, "list", false, "list stored runs")
	cmd.Flags().StringVar(&showSummary, "summary", "", "show a summary.yaml instead of the database")
	return cmd
}

func runShowCmd(cmd *cobra.Command, _ []string) error {
	if err := setupLogging(cmd); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if showSummary != "" {
		s, err := pipeline.ReadSummary(showSummary)
		if err != nil {
			return err
		}
		return renderSummary(out, s)
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := context.Background()
	if showList {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return err
		}
		return renderRuns(out, runs)
	}
	snap, err := st.LoadSnapshot(ctx, showRunID)
	if err != nil {
		return err
	}
	withCurve := 0
	for _, row := range snap.Mapping.Rows {
		if row.HasCurve() {
			withCurve++
		}
	}
	if err := stats.RenderRunSummary(out, stats.RunSummary{
		RunID:        snap.Run.ID,
		Files:        len(snap.Run.Files),
		Attempted:    snap.Run.Attempted,
		Removed:      snap.Run.Removed,
		Participants: snap.Participants.Len(),
		Stimuli:      snap.Mapping.Len(),
		WithCurve:    withCurve,
	}); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return stats.RenderStimulusTable(out, snap.Mapping)
}

func newPlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot keypress curves of a stored run",
		Args:  cobra.NoArgs,
		RunE:  runPlotCmd,
	}
	f := cmd.Flags()
	f.StringVar(&plotRunID, "run", "", "run id (default: latest)")
	f.StringVar(&plotStimulus, "stimulus", "", "plot a single stimulus")
	f.StringVar(&plotVariable, "variable", "", "group stimuli by a mapping column")
	f.StringSliceVar(&plotValues, "value", nil, "values of --variable to keep")
	f.StringSliceVar(&plotAnd, "and", nil, "variable=value filters that must all match")
	f.StringSliceVar(&plotOr, "or", nil, "variable=value filters plotted as separate curves")
	f.BoolVar(&plotCounts, "counts", false, "plot exposures and presses across stimuli")
	f.IntVar(&plotWindow, "window", defaultCurveWindow, "moving average window in bins")
	f.IntVar(&plotHeight, "height", defaultPlotHeight, "plot height in rows")
	return cmd
}

func runPlotCmd(cmd *cobra.Command, _ []string) error {
	if err := setupLogging(cmd); err != nil {
		return err
	}
	if plotWindow < 1 {
		return fmt.Errorf("--window must be >= 1")
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	snap, err := st.LoadSnapshot(context.Background(), plotRunID)
	if err != nil {
		return err
	}
	return renderPlot(cmd.OutOrStdout(), snap, plotRequest{
		Stimulus: plotStimulus,
		Variable: plotVariable,
		Values:   plotValues,
		And:      plotAnd,
		Or:       plotOr,
		Counts:   plotCounts,
		Window:   plotWindow,
		Height:   plotHeight,
		Color:    term.IsTerminal(int(os.Stdout.Fd())),
	})
}

func newBrowseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse a stored run interactively",
		Args:  cobra.NoArgs,
		RunE:  runBrowseCmd,
	}
	cmd.Flags().StringVar(&browseRunID, "run", "", "run id (default: latest)")
	cmd.Flags().IntVar(&browseTop, "top", defaultTop, "stimuli listed as most and least responsive")
	return cmd
}

func runBrowseCmd(_ *cobra.Command, _ []string) error {
	logging.Disable()
	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	m := statsui.NewModel(st, statsui.Config{
		RunID:  browseRunID,
		Top:    browseTop,
		Window: defaultCurveWindow,
	})
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run browser: %w", err)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

// loadFileConfig reads the config file and sets up logging from the
// resulting level.
func loadFileConfig(cmd *cobra.Command) (config.FileConfig, error) {
	fileCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.FileConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "db", &dbPath, fileCfg.Output.DBPath)
	if err := logging.Setup(logLevel, os.Stderr, true); err != nil {
		return config.FileConfig{}, err
	}
	return fileCfg, nil
}

func setupLogging(cmd *cobra.Command) error {
	_, err := loadFileConfig(cmd)
	return err
}

func openStore() (*store.Store, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close db")
	}
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyStringSliceConfig(cmd *cobra.Command, name string, target *[]string, value []string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# eyecontact configuration
# Uncomment a value to enable it. CLI flags override config values.

[input]
# files = ["data/session_1.json", "data/session_2.json"]
# mapping_file = "data/mapping.csv"
# survey_file = "data/survey.csv"
# participants_file = "output/participants.csv"
# stimulus_prefix = %q

[quality]
# allowed_mistakes = %d
# injections = ["injection_1", "injection_2"]
# injection_answers = ["1", "2"]

[binning]
# resolution = %d             # Bin width in ms
# num_stimuli = 0             # Process prefix+0..N-1 only (0: every mapping row)
# hold_gap = %d               # ms between samples that start a new press
# count_silent_exposures = true
# strict_mapping = false

[output]
# dir = %q
# db_path = %q
# metrics_file = ""
# save_db = true
# load_db = false
# save_csv = true
# save_summary = true

[log]
# level = %q
`,
		parser.DefaultStimulusPrefix,
		defaultAllowedMistakes,
		defaultResolution,
		stats.DefaultHoldGap,
		defaultOutputDir,
		config.DefaultDBPath(),
		logging.DefaultLevel,
	)
}

func validateConfig(cfg model.Config) error {
	if cfg.Resolution <= 0 {
		return fmt.Errorf("--resolution must be > 0")
	}
	if cfg.NumStimuli < 0 {
		return fmt.Errorf("--num-stimuli must be >= 0")
	}
	if cfg.HoldGap <= 0 {
		return fmt.Errorf("--hold-gap must be > 0")
	}
	if cfg.AllowedMistakes < 0 {
		return fmt.Errorf("--allowed-mistakes must be >= 0")
	}
	if len(cfg.Injections) != len(cfg.InjectionAnswers) {
		return fmt.Errorf("--injections and --injection-answers must have the same length")
	}
	if cfg.LoadDB && cfg.ParticipantsFile != "" {
		return fmt.Errorf("--participants and --load-db cannot be combined")
	}
	if !cfg.LoadDB && len(cfg.Files) == 0 && cfg.ParticipantsFile == "" {
		return fmt.Errorf("no session files given (use --files, --participants, arguments or the config file)")
	}
	if !cfg.LoadDB && cfg.MappingFile == "" {
		return fmt.Errorf("--mapping is required")
	}
	return nil
}
