// Package survey joins the crowdsourcing survey export onto participants.
package survey

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/participant"
)

// ErrNoWorkerColumn is returned when the survey has no worker_code column.
var ErrNoWorkerColumn = errors.New("survey has no worker_code column")

// Survey holds one row of answers per worker code.
type Survey struct {
	Columns []string
	rows    map[string]map[string]string
}

// JoinResult reports how many participants matched the survey.
type JoinResult struct {
	Matched int
	Dropped int
}

// Load reads a survey CSV file.
func Load(path string) (*Survey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open survey: %w", err)
	}
	defer func() {
		// Best-effort close for a read-only file.
		_ = f.Close()
	}()
	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Read parses a survey CSV. Repeated worker codes keep their first row.
func Read(r io.Reader) (*Survey, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	workerCol := -1
	var cols []string
	for i, name := range header {
		if name == model.WorkerCodeColumn {
			workerCol = i
			continue
		}
		cols = append(cols, name)
	}
	if workerCol < 0 {
		return nil, ErrNoWorkerColumn
	}

	s := &Survey{Columns: cols, rows: map[string]map[string]string{}}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if workerCol >= len(rec) {
			return nil, fmt.Errorf("line %d: %w", line, ErrNoWorkerColumn)
		}
		worker := strings.TrimSpace(rec[workerCol])
		if worker == "" {
			continue
		}
		if _, ok := s.rows[worker]; ok {
			log.Debug().Str("worker", worker).Int("line", line).Msg("duplicate survey row ignored")
			continue
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i == workerCol || i >= len(rec) {
				continue
			}
			row[name] = rec[i]
		}
		s.rows[worker] = row
	}
	return s, nil
}

// Len returns the number of workers in the survey.
func (s *Survey) Len() int {
	return len(s.rows)
}

// Join keeps only participants present in the survey and copies survey
// answers into their meta fields. Existing meta values are not overwritten.
func (s *Survey) Join(table *participant.Table) JoinResult {
	var missing []string
	for _, rec := range table.Records() {
		row, ok := s.rows[rec.WorkerCode]
		if !ok {
			missing = append(missing, rec.WorkerCode)
			continue
		}
		for k, v := range row {
			if _, exists := rec.Meta[k]; !exists {
				rec.Meta[k] = v
			}
		}
	}
	dropped := table.Remove(missing...)
	res := JoinResult{Matched: table.Len(), Dropped: dropped}
	log.Info().Int("matched", res.Matched).Int("dropped", res.Dropped).Msg("joined survey")
	return res
}
