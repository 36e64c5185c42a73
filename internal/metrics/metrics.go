// Package metrics records Prometheus metrics of pipeline runs.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNoTextfile is returned when writing metrics without a target path.
var ErrNoTextfile = errors.New("metrics textfile path is empty")

// Option applies a configuration option to the Recorder.
type Option func(*Recorder)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

// WithRegistry sets the registry metrics are registered with and gathered from.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// Recorder holds the counters and gauges of one pipeline run.
type Recorder struct {
	namespace string
	registry  *prometheus.Registry

	filesParsed      prometheus.Counter
	recordsParsed    prometheus.Counter
	participants     *prometheus.GaugeVec
	stimuliBinned    prometheus.Gauge
	stimuliWithCurve prometheus.Gauge
	keypresses       prometheus.Counter
	stageDuration    *prometheus.HistogramVec
	lastRunTimestamp prometheus.Gauge
	lastRunSuccess   prometheus.Gauge
}

// NewRecorder creates a recorder on a private registry unless one is given.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		namespace: "eyecontact",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.initializeMetrics()
	return r
}

func (r *Recorder) initializeMetrics() {
	f := promauto.With(r.registry)
	r.filesParsed = f.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "files_parsed_total",
		Help:      "Input files parsed.",
	})
	r.recordsParsed = f.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "records_parsed_total",
		Help:      "Session records parsed.",
	})
	r.participants = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "participants",
		Help:      "Participants by filter stage.",
	}, []string{"stage"})
	r.stimuliBinned = f.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "stimuli_binned",
		Help:      "Stimuli processed by the keypress binner.",
	})
	r.stimuliWithCurve = f.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "stimuli_with_curve",
		Help:      "Stimuli with at least one exposure.",
	})
	r.keypresses = f.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "keypresses_total",
		Help:      "Discrete keypresses after hold deduplication.",
	})
	r.stageDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})
	r.lastRunTimestamp = f.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})
	r.lastRunSuccess = f.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "last_run_success",
		Help:      "1 if the last run completed, 0 otherwise.",
	})
}

// FileParsed counts one parsed input file with its records.
func (r *Recorder) FileParsed(records int) {
	r.filesParsed.Inc()
	r.recordsParsed.Add(float64(records))
}

// Participants records the participant count at a stage
// (attempted, removed, kept).
func (r *Recorder) Participants(stage string, n int) {
	r.participants.WithLabelValues(stage).Set(float64(n))
}

// Binned records binner output.
func (r *Recorder) Binned(stimuli, withCurve, presses int) {
	r.stimuliBinned.Set(float64(stimuli))
	r.stimuliWithCurve.Set(float64(withCurve))
	r.keypresses.Add(float64(presses))
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Finish marks the end of a run.
func (r *Recorder) Finish(at time.Time, success bool) {
	r.lastRunTimestamp.Set(float64(at.Unix()))
	if success {
		r.lastRunSuccess.Set(1)
		return
	}
	r.lastRunSuccess.Set(0)
}

// Gatherer exposes the registry for scraping or tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes all metrics in the text exposition format, for the
// node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return ErrNoTextfile
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
