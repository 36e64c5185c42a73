// Package parser turns raw experiment session logs into per-worker records.
package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/verte-zerg/eyecontact/internal/model"
)

// Keys of the session cells understood by the parser.
const (
	keyStimulus      = "stimulus"
	keyTrialIndex    = "trial_index"
	keyRTs           = "rts"
	keyResponses     = "responses"
	keyQuestionOrder = "question_order"
	keyInjection     = "injection_q"
	keyInteractions  = "interactions"
	keyTimeElapsed   = "time_elapsed"
)

// DefaultMetaKeys lists the meta fields copied verbatim from session cells.
var DefaultMetaKeys = []string{
	model.WorkerCodeColumn,
	"browser_user_agent",
	"browser_app_name",
	"browser_major_version",
	"browser_full_version",
	"browser_name",
	"window_height",
	"window_width",
	"video_ids",
}

// DefaultStimulusPrefix identifies stimulus blocks among instruction blocks.
const DefaultStimulusPrefix = "video_"

const maxLineSize = 16 * 1024 * 1024

// Options configures a Parser.
type Options struct {
	MetaKeys       []string
	StimulusPrefix string
}

// Parser parses session records. The last elapsed time of every worker is
// carried from one record to the next, so records must be fed in file order.
type Parser struct {
	metaKeys    []string
	prefix      string
	lastElapsed map[string]float64
}

// New returns a Parser. Zero options fall back to the defaults.
func New(opts Options) *Parser {
	metaKeys := opts.MetaKeys
	if len(metaKeys) == 0 {
		metaKeys = DefaultMetaKeys
	}
	if !containsString(metaKeys, model.WorkerCodeColumn) {
		metaKeys = append([]string{model.WorkerCodeColumn}, metaKeys...)
	}
	prefix := opts.StimulusPrefix
	if prefix == "" {
		prefix = DefaultStimulusPrefix
	}
	return &Parser{
		metaKeys:    metaKeys,
		prefix:      prefix,
		lastElapsed: map[string]float64{},
	}
}

type rawSession struct {
	Data []map[string]json.RawMessage `json:"data"`
}

type keypress struct {
	Key json.RawMessage `json:"key"`
	RT  float64         `json:"rt"`
}

type interaction struct {
	Event string  `json:"event"`
	Trial int     `json:"trial"`
	Time  float64 `json:"time"`
}

// cursor is the context carried across the cells of one session.
type cursor struct {
	stimulus string
	trial    int
	elapsed  float64
}

// ParseLine parses one session line into a record.
func (p *Parser) ParseLine(line []byte) (*model.Record, error) {
	var session rawSession
	if err := json.Unmarshal(line, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	worker, err := findWorker(session.Data)
	if err != nil {
		return nil, err
	}
	rec := model.NewRecord(worker)
	st := cursor{trial: -1}
	for i, cell := range session.Data {
		st, err = p.step(rec, st, cell)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
	}
	rec.LastElapsed = st.elapsed
	p.lastElapsed[worker] = st.elapsed
	return rec, nil
}

// step applies one cell to the record and returns the updated cursor.
func (p *Parser) step(rec *model.Record, st cursor, cell map[string]json.RawMessage) (cursor, error) {
	for _, key := range p.metaKeys {
		if raw, ok := cell[key]; ok {
			rec.Meta[key] = rawText(raw)
		}
	}

	if raw, ok := cell[keyStimulus]; ok {
		id, err := stimulusID(raw)
		if err != nil {
			return st, err
		}
		if p.isStimulus(id) {
			log.Debug().Str("worker", rec.WorkerCode).Str("stimulus", id).Msg("found stimulus")
			st.stimulus = id
			st.trial = -1
			if rawTrial, ok := cell[keyTrialIndex]; ok {
				if err := json.Unmarshal(rawTrial, &st.trial); err != nil {
					return st, fmt.Errorf("%w: trial_index: %v", ErrMalformedRecord, err)
				}
			}
			if rawElapsed, ok := cell[keyTimeElapsed]; ok {
				elapsed, err := number(rawElapsed)
				if err != nil {
					return st, err
				}
				prev := st.elapsed
				if prev <= 0 {
					prev = p.lastElapsed[rec.WorkerCode]
				}
				d := rec.Stimulus(id)
				d.Durations = append(d.Durations, elapsed-prev)
			}
		}
	}

	if raw, ok := cell[keyRTs]; ok && st.stimulus != "" {
		var presses []keypress
		if err := json.Unmarshal(raw, &presses); err != nil {
			return st, fmt.Errorf("%w: rts: %v", ErrMalformedRecord, err)
		}
		d := rec.Stimulus(st.stimulus)
		d.HasRTs = true
		for _, kp := range presses {
			d.Keys = append(d.Keys, rawText(kp.Key))
			d.RTs = append(d.RTs, kp.RT)
		}
	}

	if raw, ok := cell[keyResponses]; ok {
		questions, answers, err := parseResponses(rawText(raw))
		if err != nil {
			return st, err
		}
		if st.stimulus != "" {
			d := rec.Stimulus(st.stimulus)
			d.Questions = append(d.Questions, questions...)
			d.Answers = append(d.Answers, answers...)
		} else if !rec.End.HasAnswer {
			rec.End.Questions = questions
			rec.End.Answers = answers
			rec.End.HasAnswer = true
		}
	}

	if raw, ok := cell[keyQuestionOrder]; ok {
		order, err := parseQuestionOrder(rawText(raw))
		if err != nil {
			return st, err
		}
		if st.stimulus != "" {
			d := rec.Stimulus(st.stimulus)
			d.QuestionOrder = append(d.QuestionOrder, order...)
		} else if !rec.End.HasOrder {
			rec.End.Order = order
			rec.End.HasOrder = true
		}
	}

	if raw, ok := cell[keyInjection]; ok && st.stimulus != "" {
		d := rec.Stimulus(st.stimulus)
		d.Injections = append(d.Injections, rawText(raw))
	}

	if raw, ok := cell[keyInteractions]; ok && st.stimulus != "" {
		var events []interaction
		if err := json.Unmarshal(raw, &events); err != nil {
			return st, fmt.Errorf("%w: interactions: %v", ErrMalformedRecord, err)
		}
		d := rec.Stimulus(st.stimulus)
		for _, ev := range events {
			if ev.Trial != st.trial {
				continue
			}
			d.Events = append(d.Events, ev.Event)
			d.EventTimes = append(d.EventTimes, ev.Time)
		}
	}

	if raw, ok := cell[keyTimeElapsed]; ok {
		elapsed, err := number(raw)
		if err != nil {
			return st, err
		}
		st.elapsed = elapsed
	}
	return st, nil
}

func (p *Parser) isStimulus(id string) bool {
	return strings.Contains(id, p.prefix)
}

// ParseFile parses every non-empty line of a newline-delimited JSON file and
// hands the records to fn in line order. Errors carry the file and line.
func (p *Parser) ParseFile(filePath string, fn func(*model.Record) error) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only input.
			_ = cerr
		}
	}()
	return p.ParseReader(filePath, file, fn)
}

// ParseReader is ParseFile over an arbitrary reader; name labels errors.
func (p *Parser) ParseReader(name string, r io.Reader, fn func(*model.Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := p.ParseLine(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", name, err)
	}
	return nil
}

func findWorker(cells []map[string]json.RawMessage) (string, error) {
	for _, cell := range cells {
		if raw, ok := cell[model.WorkerCodeColumn]; ok {
			worker := rawText(raw)
			if worker == "" || worker == "null" {
				break
			}
			return worker, nil
		}
	}
	return "", fmt.Errorf("%w: no %s in session", ErrMalformedRecord, model.WorkerCodeColumn)
}

// stimulusID strips the path and extension from a stimulus field. A list
// of stimuli is identified by its first element.
func stimulusID(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		var names []string
		if lerr := json.Unmarshal(raw, &names); lerr != nil {
			return "", fmt.Errorf("%w: stimulus: %v", ErrMalformedRecord, err)
		}
		if len(names) == 0 {
			return "", nil
		}
		name = names[0]
	}
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSuffix(name, path.Ext(name)), nil
}

// rawText renders a JSON value as text: strings unquoted, anything else as written.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func number(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, serr := strconv.ParseFloat(strings.TrimSpace(s), 64); serr == nil {
			return parsed, nil
		}
	}
	return 0, fmt.Errorf("%w: expected number, got %s", ErrMalformedRecord, string(raw))
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
