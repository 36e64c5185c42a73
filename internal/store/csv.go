package store

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/participant"
)

// WriteParticipantsCSV writes the participant table in its flat layout: one
// row per worker, one column per meta field and per <stimulus>-<suffix>.
// Sequence cells hold JSON arrays; absent values are empty cells.
func WriteParticipantsCSV(w io.Writer, table *participant.Table) error {
	cw := csv.NewWriter(w)
	cols := table.Columns()
	if err := cw.Write(cols); err != nil {
		return err
	}
	for _, rec := range table.Records() {
		row := make([]string, len(cols))
		for i, col := range cols {
			cell, err := participantCell(rec, col)
			if err != nil {
				return fmt.Errorf("%s %s: %w", rec.WorkerCode, col, err)
			}
			row[i] = cell
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveParticipantsCSV writes the participant table to a file.
func SaveParticipantsCSV(path string, table *participant.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteParticipantsCSV(f, table); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadParticipantsCSV reads a participants file written by SaveParticipantsCSV.
func LoadParticipantsCSV(path string) (*participant.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	table, err := ReadParticipantsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ReadParticipantsCSV restores a table written by WriteParticipantsCSV.
// Rows sharing a worker code are merged.
func ReadParticipantsCSV(r io.Reader) (*participant.Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	workerCol := -1
	for i, col := range header {
		if col == model.WorkerCodeColumn {
			workerCol = i
		}
	}
	if workerCol < 0 {
		return nil, fmt.Errorf("missing %s column", model.WorkerCodeColumn)
	}

	var records []*model.Record
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := model.NewRecord(row[workerCol])
		for i, col := range header {
			if row[i] == "" {
				continue
			}
			if err := setParticipantCell(rec, col, row[i]); err != nil {
				return nil, fmt.Errorf("line %d, %s: %w", line, col, err)
			}
		}
		records = append(records, rec)
	}
	return participant.Aggregate(records), nil
}

func participantCell(rec *model.Record, col string) (string, error) {
	if col == model.WorkerCodeColumn {
		return rec.WorkerCode, nil
	}
	stimulus, suffix, ok := model.SplitColumn(col)
	if !ok {
		return rec.Meta[col], nil
	}
	if stimulus == model.EndPrefix {
		switch {
		case suffix == model.SuffixQuestions && rec.End.HasAnswer:
			return encodeList(rec.End.Questions)
		case suffix == model.SuffixAnswers && rec.End.HasAnswer:
			return encodeList(rec.End.Answers)
		case suffix == model.SuffixQuestionOrder && rec.End.HasOrder:
			return encodeList(rec.End.Order)
		}
		return "", nil
	}
	d, ok := rec.Stimuli[stimulus]
	if !ok {
		return "", nil
	}
	switch suffix {
	case model.SuffixDuration:
		return encodeOptional(d.Durations)
	case model.SuffixKeys:
		if !d.HasRTs && len(d.Keys) == 0 {
			return "", nil
		}
		return encodeList(d.Keys)
	case model.SuffixRTs:
		if !d.HasRTs && len(d.RTs) == 0 {
			return "", nil
		}
		return encodeList(d.RTs)
	case model.SuffixQuestions:
		return encodeOptional(d.Questions)
	case model.SuffixAnswers:
		return encodeOptional(d.Answers)
	case model.SuffixQuestionOrder:
		return encodeOptional(d.QuestionOrder)
	case model.SuffixInjections:
		return encodeOptional(d.Injections)
	case model.SuffixEvents:
		return encodeOptional(d.Events)
	case model.SuffixEventTimes:
		return encodeOptional(d.EventTimes)
	}
	return "", nil
}

func setParticipantCell(rec *model.Record, col, cell string) error {
	if col == model.WorkerCodeColumn {
		rec.Meta[col] = cell
		return nil
	}
	stimulus, suffix, ok := model.SplitColumn(col)
	if !ok {
		rec.Meta[col] = cell
		return nil
	}
	if stimulus == model.EndPrefix {
		switch suffix {
		case model.SuffixQuestions:
			rec.End.HasAnswer = true
			return decodeList(cell, &rec.End.Questions)
		case model.SuffixAnswers:
			rec.End.HasAnswer = true
			return decodeList(cell, &rec.End.Answers)
		case model.SuffixQuestionOrder:
			rec.End.HasOrder = true
			return decodeList(cell, &rec.End.Order)
		}
	}
	d := rec.Stimulus(stimulus)
	switch suffix {
	case model.SuffixDuration:
		return decodeList(cell, &d.Durations)
	case model.SuffixKeys:
		d.HasRTs = true
		return decodeList(cell, &d.Keys)
	case model.SuffixRTs:
		d.HasRTs = true
		return decodeList(cell, &d.RTs)
	case model.SuffixQuestions:
		return decodeList(cell, &d.Questions)
	case model.SuffixAnswers:
		return decodeList(cell, &d.Answers)
	case model.SuffixQuestionOrder:
		return decodeList(cell, &d.QuestionOrder)
	case model.SuffixInjections:
		return decodeList(cell, &d.Injections)
	case model.SuffixEvents:
		return decodeList(cell, &d.Events)
	case model.SuffixEventTimes:
		return decodeList(cell, &d.EventTimes)
	}
	return nil
}

func encodeOptional[T any](values []T) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	return encodeList(values)
}

func encodeList[T any](values []T) (string, error) {
	if values == nil {
		values = []T{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeList leaves dst nil for an empty list.
func decodeList[T any](cell string, dst *[]T) error {
	var values []T
	if err := json.Unmarshal([]byte(cell), &values); err != nil {
		return err
	}
	if len(values) == 0 {
		*dst = nil
		return nil
	}
	*dst = values
	return nil
}
