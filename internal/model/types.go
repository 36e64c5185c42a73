// Package model defines shared data structures.
package model

import (
	"sort"
	"strconv"
	"strings"
)

// Column names and suffixes of the flat participant layout.
const (
	WorkerCodeColumn = "worker_code"
	EndPrefix        = "end"

	SuffixDuration      = "dur"
	SuffixKeys          = "key"
	SuffixRTs           = "rt"
	SuffixQuestions     = "qs"
	SuffixAnswers       = "as"
	SuffixQuestionOrder = "qo"
	SuffixInjections    = "qi"
	SuffixEvents        = "event"
	SuffixEventTimes    = "time"
)

// Config defines pipeline settings. ParticipantsFile, when set, replaces
// parsing Files with a participants.csv written by an earlier run.
type Config struct {
	Files            []string
	MappingFile      string
	SurveyFile       string
	ParticipantsFile string
	OutputDir        string
	DBPath           string
	MetricsFile      string

	Resolution           int
	NumStimuli           int
	HoldGap              float64
	CountSilentExposures bool
	StrictMapping        bool

	AllowedMistakes  int
	Injections       []string
	InjectionAnswers []string

	MetaKeys       []string
	StimulusPrefix string

	SaveDB      bool
	LoadDB      bool
	SaveCSV     bool
	SaveSummary bool

	LogLevel string
}

// StimulusData holds everything recorded for one stimulus of one worker.
// Every field is a sequence because a worker may see a stimulus more than once.
type StimulusData struct {
	Durations     []float64 `json:"dur,omitempty"`
	Keys          []string  `json:"key,omitempty"`
	RTs           []float64 `json:"rt,omitempty"`
	HasRTs        bool      `json:"has_rt,omitempty"`
	Questions     []string  `json:"qs,omitempty"`
	Answers       []string  `json:"as,omitempty"`
	QuestionOrder []int     `json:"qo,omitempty"`
	Injections    []string  `json:"qi,omitempty"`
	Events        []string  `json:"event,omitempty"`
	EventTimes    []float64 `json:"time,omitempty"`
}

// Extend appends the sequences of other in order.
func (d *StimulusData) Extend(other *StimulusData) {
	if other == nil {
		return
	}
	d.Durations = append(d.Durations, other.Durations...)
	d.Keys = append(d.Keys, other.Keys...)
	d.RTs = append(d.RTs, other.RTs...)
	d.HasRTs = d.HasRTs || other.HasRTs
	d.Questions = append(d.Questions, other.Questions...)
	d.Answers = append(d.Answers, other.Answers...)
	d.QuestionOrder = append(d.QuestionOrder, other.QuestionOrder...)
	d.Injections = append(d.Injections, other.Injections...)
	d.Events = append(d.Events, other.Events...)
	d.EventTimes = append(d.EventTimes, other.EventTimes...)
}

// Clone returns a deep copy.
func (d *StimulusData) Clone() *StimulusData {
	out := &StimulusData{}
	out.Extend(d)
	return out
}

// Suffixes lists the populated column suffixes in alphabetical order.
func (d *StimulusData) Suffixes() []string {
	var out []string
	if len(d.Answers) > 0 {
		out = append(out, SuffixAnswers)
	}
	if len(d.Durations) > 0 {
		out = append(out, SuffixDuration)
	}
	if len(d.Events) > 0 {
		out = append(out, SuffixEvents)
	}
	if len(d.Keys) > 0 || d.HasRTs {
		out = append(out, SuffixKeys)
	}
	if len(d.Injections) > 0 {
		out = append(out, SuffixInjections)
	}
	if len(d.QuestionOrder) > 0 {
		out = append(out, SuffixQuestionOrder)
	}
	if len(d.Questions) > 0 {
		out = append(out, SuffixQuestions)
	}
	if len(d.RTs) > 0 || d.HasRTs {
		out = append(out, SuffixRTs)
	}
	if len(d.EventTimes) > 0 {
		out = append(out, SuffixEventTimes)
	}
	return out
}

// EndQuestions holds the questionnaire answered after the last stimulus.
type EndQuestions struct {
	Questions []string `json:"qs,omitempty"`
	Answers   []string `json:"as,omitempty"`
	Order     []int    `json:"qo,omitempty"`
	HasAnswer bool     `json:"has_as,omitempty"`
	HasOrder  bool     `json:"has_qo,omitempty"`
}

// Record is the parsed form of one session, and after aggregation the merged
// row of one worker.
type Record struct {
	WorkerCode  string
	Meta        map[string]string
	Stimuli     map[string]*StimulusData
	End         EndQuestions
	LastElapsed float64
}

// NewRecord returns an empty record for a worker.
func NewRecord(worker string) *Record {
	return &Record{
		WorkerCode: worker,
		Meta:       map[string]string{},
		Stimuli:    map[string]*StimulusData{},
	}
}

// Stimulus returns the data for id, creating it on first use.
func (r *Record) Stimulus(id string) *StimulusData {
	d, ok := r.Stimuli[id]
	if !ok {
		d = &StimulusData{}
		r.Stimuli[id] = d
	}
	return d
}

// StimulusIDs returns the stimulus ids of the record in natural order.
func (r *Record) StimulusIDs() []string {
	ids := make([]string, 0, len(r.Stimuli))
	for id := range r.Stimuli {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids
}

// Merge folds other into r. Scalars keep the first value seen, sequences are
// extended in encounter order.
func (r *Record) Merge(other *Record) {
	for k, v := range other.Meta {
		if _, ok := r.Meta[k]; !ok {
			r.Meta[k] = v
		}
	}
	for id, d := range other.Stimuli {
		if cur, ok := r.Stimuli[id]; ok {
			cur.Extend(d)
			continue
		}
		r.Stimuli[id] = d.Clone()
	}
	if !r.End.HasAnswer && other.End.HasAnswer {
		r.End.Questions = other.End.Questions
		r.End.Answers = other.End.Answers
		r.End.HasAnswer = true
	}
	if !r.End.HasOrder && other.End.HasOrder {
		r.End.Order = other.End.Order
		r.End.HasOrder = true
	}
	r.LastElapsed = other.LastElapsed
}

// Columns returns the flat column names populated in the record.
func (r *Record) Columns() []string {
	cols := []string{WorkerCodeColumn}
	for k := range r.Meta {
		if k != WorkerCodeColumn {
			cols = append(cols, k)
		}
	}
	for id, d := range r.Stimuli {
		for _, suffix := range d.Suffixes() {
			cols = append(cols, ColumnName(id, suffix))
		}
	}
	if r.End.HasAnswer {
		cols = append(cols, ColumnName(EndPrefix, SuffixQuestions), ColumnName(EndPrefix, SuffixAnswers))
	}
	if r.End.HasOrder {
		cols = append(cols, ColumnName(EndPrefix, SuffixQuestionOrder))
	}
	return cols
}

// ColumnName joins a stimulus id and suffix into a flat column name.
func ColumnName(stimulus, suffix string) string {
	return stimulus + "-" + suffix
}

// SplitColumn splits a flat column name into stimulus id and suffix.
func SplitColumn(col string) (stimulus, suffix string, ok bool) {
	idx := strings.LastIndexByte(col, '-')
	if idx <= 0 || idx == len(col)-1 {
		return "", "", false
	}
	suffix = col[idx+1:]
	switch suffix {
	case SuffixDuration, SuffixKeys, SuffixRTs, SuffixQuestions, SuffixAnswers,
		SuffixQuestionOrder, SuffixInjections, SuffixEvents, SuffixEventTimes:
		return col[:idx], suffix, true
	}
	return "", "", false
}

// SortIDs sorts ids so that numeric tails compare by value (video_2 < video_10).
func SortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return LessID(ids[i], ids[j])
	})
}

// LessID reports whether a sorts before b in natural order.
func LessID(a, b string) bool {
	pa, na, oka := splitNumericTail(a)
	pb, nb, okb := splitNumericTail(b)
	if oka && okb && pa == pb && na != nb {
		return na < nb
	}
	return a < b
}

func splitNumericTail(s string) (string, int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}
