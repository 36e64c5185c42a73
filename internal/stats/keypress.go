package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/participant"
)

// DefaultHoldGap is the minimum distance between two samples of the same key
// for the later one to count as a new press.
const DefaultHoldGap = 35

// BinOptions configures keypress binning.
type BinOptions struct {
	Resolution int
	HoldGap    float64
	// NumStimuli selects prefix+0 .. prefix+N-1 when positive; otherwise every
	// mapping row is processed.
	NumStimuli     int
	StimulusPrefix string
	// CountSilentExposures counts participants whose rt sequence is present
	// but empty as exposed.
	CountSilentExposures bool
	StrictMapping        bool
}

// BinSummary reports what a binning pass produced.
type BinSummary struct {
	Stimuli   int
	WithCurve int
	NoData    []string
	Unmapped  []string
}

// BinCount returns the number of bins covering a stimulus of the given
// duration. Upper edges are res, 2res, ... up to the first edge >= duration.
func BinCount(duration, res int) int {
	if res <= 0 || duration <= 0 {
		return 0
	}
	return (duration + res - 1) / res
}

// BinIndex returns the bin of a response instant, or -1 when the instant
// lies outside (0, bins*res]. Bins are half-open: b-res < t <= b.
func BinIndex(t float64, res, bins int) int {
	if res <= 0 || t <= 0 {
		return -1
	}
	idx := int(math.Ceil(t/float64(res))) - 1
	if idx < 0 || idx >= bins {
		return -1
	}
	return idx
}

// Presses reduces raw key samples to discrete press instants. A lone
// sample is a press. In a longer sequence the first sample only anchors the
// walk: a later sample is a press when it is more than gap after the
// previous sample, so a held key yields nothing.
func Presses(rts []float64, gap float64) []float64 {
	switch len(rts) {
	case 0:
		return nil
	case 1:
		return []float64{rts[0]}
	}
	var out []float64
	for i := 1; i < len(rts); i++ {
		if rts[i]-rts[i-1] > gap {
			out = append(out, rts[i])
		}
	}
	return out
}

// BinCurve turns per-participant presses into a percentage curve. Each
// participant counts at most once per bin. The curve is nil when there are
// no exposures.
func BinCurve(presses [][]float64, exposures, duration, res int) []int {
	if exposures <= 0 {
		return nil
	}
	bins := BinCount(duration, res)
	counts := BinCounts(presses, duration, res)
	curve := make([]int, bins)
	for i, c := range counts {
		curve[i] = int(math.RoundToEven(float64(c) / float64(exposures) * 100))
	}
	return curve
}

// BinCounts returns the number of participants pressing in each bin.
func BinCounts(presses [][]float64, duration, res int) []int {
	bins := BinCount(duration, res)
	counts := make([]int, bins)
	hit := make([]bool, bins)
	for _, ps := range presses {
		for i := range hit {
			hit[i] = false
		}
		for _, t := range ps {
			if idx := BinIndex(t, res, bins); idx >= 0 {
				hit[idx] = true
			}
		}
		for i, h := range hit {
			if h {
				counts[i]++
			}
		}
	}
	return counts
}

// ProcessKeypresses computes the keypress curve of every selected stimulus
// and writes it, with descriptive statistics, into the mapping rows.
func ProcessKeypresses(table *participant.Table, mapping *model.Mapping, opts BinOptions) (BinSummary, error) {
	if opts.Resolution <= 0 {
		return BinSummary{}, fmt.Errorf("%w: %d", ErrInvalidResolution, opts.Resolution)
	}
	var summary BinSummary
	for _, id := range selectStimuli(mapping, opts) {
		row, ok := mapping.Get(id)
		if !ok {
			if opts.StrictMapping {
				return summary, fmt.Errorf("%w: %s", ErrUnknownStimulus, id)
			}
			log.Warn().Str("stimulus", id).Msg("stimulus not in mapping, skipped")
			summary.Unmapped = append(summary.Unmapped, id)
			continue
		}
		summary.Stimuli++
		binStimulus(table, row, opts)
		if row.HasCurve() {
			summary.WithCurve++
		} else {
			summary.NoData = append(summary.NoData, id)
		}
	}
	for _, id := range table.StimulusIDs() {
		if _, ok := mapping.Get(id); ok || !isStimulus(id, opts.StimulusPrefix) {
			continue
		}
		if opts.StrictMapping {
			return summary, fmt.Errorf("%w: %s", ErrUnknownStimulus, id)
		}
		log.Warn().Str("stimulus", id).Msg("participants saw a stimulus missing from mapping")
	}
	log.Info().
		Int("stimuli", summary.Stimuli).
		Int("with_curve", summary.WithCurve).
		Int("resolution", opts.Resolution).
		Msg("binned keypresses")
	return summary, nil
}

func binStimulus(table *participant.Table, row *model.MappingRow, opts BinOptions) {
	var presses [][]float64
	exposures, total := 0, 0
	for _, rec := range table.Records() {
		d, ok := rec.Stimuli[row.ID]
		if !ok || !d.HasRTs {
			continue
		}
		if len(d.RTs) == 0 && !opts.CountSilentExposures {
			continue
		}
		exposures++
		ps := Presses(d.RTs, opts.HoldGap)
		total += len(ps)
		presses = append(presses, ps)
	}

	row.Exposures = exposures
	row.Presses = total
	row.Curve = BinCurve(presses, exposures, row.Duration, opts.Resolution)
	row.MeanPct, row.PeakPct, row.PeakAt = 0, 0, 0
	if !row.HasCurve() {
		log.Debug().Str("stimulus", row.ID).Msg("no exposures, curve left empty")
		return
	}
	row.MeanPct, row.PeakPct, row.PeakAt = describe(row.Curve, opts.Resolution)
}

// describe returns the mean and peak of a curve and the upper edge of the
// first peak bin.
func describe(curve []int, res int) (mean float64, peak, peakAt int) {
	if len(curve) == 0 {
		return 0, 0, 0
	}
	sum := 0
	peakIdx := 0
	for i, v := range curve {
		sum += v
		if v > curve[peakIdx] {
			peakIdx = i
		}
	}
	mean = math.Round(float64(sum)/float64(len(curve))*100) / 100
	return mean, curve[peakIdx], (peakIdx + 1) * res
}

func selectStimuli(mapping *model.Mapping, opts BinOptions) []string {
	if opts.NumStimuli <= 0 {
		return mapping.IDs()
	}
	prefix := opts.StimulusPrefix
	if prefix == "" {
		prefix = "video_"
	}
	ids := make([]string, opts.NumStimuli)
	for i := range ids {
		ids[i] = prefix + strconv.Itoa(i)
	}
	return ids
}

func isStimulus(id, prefix string) bool {
	if prefix == "" {
		return true
	}
	return strings.Contains(id, prefix)
}
