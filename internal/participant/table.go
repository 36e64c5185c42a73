// Package participant folds parsed session records into one row per worker.
package participant

import (
	"sort"

	"github.com/verte-zerg/eyecontact/internal/model"
)

// Table maps worker codes to merged records. Row order is the order in
// which workers were first seen.
type Table struct {
	order []string
	rows  map[string]*model.Record
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{rows: map[string]*model.Record{}}
}

// Aggregate folds records into a new table in the given order.
func Aggregate(records []*model.Record) *Table {
	t := NewTable()
	for _, rec := range records {
		t.Add(rec)
	}
	return t
}

// Add inserts a record, or merges it into the existing row of the same
// worker. It reports whether the worker had been seen before.
func (t *Table) Add(rec *model.Record) bool {
	if cur, ok := t.rows[rec.WorkerCode]; ok {
		cur.Merge(rec)
		return true
	}
	t.rows[rec.WorkerCode] = rec
	t.order = append(t.order, rec.WorkerCode)
	return false
}

// Get returns the row of a worker.
func (t *Table) Get(worker string) (*model.Record, bool) {
	rec, ok := t.rows[worker]
	return rec, ok
}

// Len returns the number of workers.
func (t *Table) Len() int {
	return len(t.order)
}

// Workers returns worker codes in first-seen order.
func (t *Table) Workers() []string {
	return append([]string(nil), t.order...)
}

// Records returns the rows in first-seen order.
func (t *Table) Records() []*model.Record {
	out := make([]*model.Record, 0, len(t.order))
	for _, w := range t.order {
		out = append(out, t.rows[w])
	}
	return out
}

// Remove drops the given workers and returns how many rows were removed.
func (t *Table) Remove(workers ...string) int {
	drop := make(map[string]struct{}, len(workers))
	for _, w := range workers {
		if _, ok := t.rows[w]; ok {
			drop[w] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := t.order[:0]
	for _, w := range t.order {
		if _, ok := drop[w]; ok {
			delete(t.rows, w)
			continue
		}
		kept = append(kept, w)
	}
	t.order = kept
	return len(drop)
}

// Columns returns the union of populated columns of all rows, worker_code
// first and the rest sorted alphabetically.
func (t *Table) Columns() []string {
	seen := map[string]struct{}{}
	for _, rec := range t.rows {
		for _, col := range rec.Columns() {
			seen[col] = struct{}{}
		}
	}
	delete(seen, model.WorkerCodeColumn)
	cols := make([]string, 0, len(seen)+1)
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return append([]string{model.WorkerCodeColumn}, cols...)
}

// StimulusIDs returns every stimulus id referenced by any row.
func (t *Table) StimulusIDs() []string {
	seen := map[string]struct{}{}
	for _, rec := range t.rows {
		for id := range rec.Stimuli {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	model.SortIDs(ids)
	return ids
}
