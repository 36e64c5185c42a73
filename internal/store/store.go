// Package store handles SQLite persistence of analysis runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/participant"

	_ "modernc.org/sqlite" // SQLite driver.
)

var (
	// ErrNoRuns is returned when the database holds no snapshot yet.
	ErrNoRuns = errors.New("no runs stored")
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
)

// Store wraps SQLite access for run snapshots.
type Store struct {
	db *sql.DB
}

// Run describes one stored pipeline run.
type Run struct {
	ID           string
	CreatedAt    time.Time
	Resolution   int
	Files        []string
	Attempted    int
	Removed      int
	Participants int
	Stimuli      int
}

// Snapshot is the full output of a run: the filtered participant table and
// the mapping enriched with keypress curves.
type Snapshot struct {
	Run          Run
	Participants *participant.Table
	Mapping      *model.Mapping
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			resolution INTEGER NOT NULL,
			files TEXT NOT NULL,
			attempted INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			mapping_columns TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS participants (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			worker_code TEXT NOT NULL,
			meta TEXT NOT NULL,
			end_questions TEXT NOT NULL,
			last_elapsed REAL NOT NULL,
			PRIMARY KEY (run_id, worker_code)
		);`,
		`CREATE TABLE IF NOT EXISTS participant_stimuli (
			run_id TEXT NOT NULL,
			worker_code TEXT NOT NULL,
			stimulus TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (run_id, worker_code, stimulus)
		);`,
		`CREATE TABLE IF NOT EXISTS mapping_rows (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			stimulus TEXT NOT NULL,
			duration INTEGER NOT NULL,
			attributes TEXT NOT NULL,
			curve TEXT,
			exposures INTEGER NOT NULL,
			presses INTEGER NOT NULL,
			mean_pct REAL NOT NULL,
			peak_pct INTEGER NOT NULL,
			peak_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, stimulus)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a complete snapshot in one transaction.
func (s *Store) SaveRun(ctx context.Context, snap Snapshot) (err error) {
	files, err := json.Marshal(snap.Run.Files)
	if err != nil {
		return err
	}
	columns, err := json.Marshal(snap.Mapping.Columns)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, resolution, files, attempted, removed, mapping_columns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.Run.ID,
		snap.Run.CreatedAt.UTC().Format(time.RFC3339Nano),
		snap.Run.Resolution,
		string(files),
		snap.Run.Attempted,
		snap.Run.Removed,
		string(columns),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err = insertParticipants(ctx, tx, snap.Run.ID, snap.Participants); err != nil {
		return err
	}
	if err = insertMapping(ctx, tx, snap.Run.ID, snap.Mapping); err != nil {
		return err
	}
	return tx.Commit()
}

func insertParticipants(ctx context.Context, tx *sql.Tx, runID string, table *participant.Table) error {
	rowStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO participants (run_id, position, worker_code, meta, end_questions, last_elapsed)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rowStmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	stimStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO participant_stimuli (run_id, worker_code, stimulus, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stimStmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()

	for pos, rec := range table.Records() {
		meta, err := json.Marshal(rec.Meta)
		if err != nil {
			return err
		}
		end, err := json.Marshal(rec.End)
		if err != nil {
			return err
		}
		if _, err := rowStmt.ExecContext(ctx, runID, pos, rec.WorkerCode, string(meta), string(end), rec.LastElapsed); err != nil {
			return fmt.Errorf("insert participant %s: %w", rec.WorkerCode, err)
		}
		for _, id := range rec.StimulusIDs() {
			data, err := json.Marshal(rec.Stimuli[id])
			if err != nil {
				return err
			}
			if _, err := stimStmt.ExecContext(ctx, runID, rec.WorkerCode, id, string(data)); err != nil {
				return fmt.Errorf("insert %s/%s: %w", rec.WorkerCode, id, err)
			}
		}
	}
	return nil
}

func insertMapping(ctx context.Context, tx *sql.Tx, runID string, m *model.Mapping) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO mapping_rows (run_id, position, stimulus, duration, attributes, curve, exposures, presses, mean_pct, peak_pct, peak_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for pos, row := range m.Rows {
		attrs, err := json.Marshal(row.Attributes)
		if err != nil {
			return err
		}
		var curve sql.NullString
		if row.HasCurve() {
			raw, err := json.Marshal(row.Curve)
			if err != nil {
				return err
			}
			curve = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, runID, pos, row.ID, row.Duration, string(attrs), curve,
			row.Exposures, row.Presses, row.MeanPct, row.PeakPct, row.PeakAt); err != nil {
			return fmt.Errorf("insert mapping row %s: %w", row.ID, err)
		}
	}
	return nil
}

// ListRuns returns stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.created_at, r.resolution, r.files, r.attempted, r.removed,
			(SELECT COUNT(*) FROM participants p WHERE p.run_id = r.id),
			(SELECT COUNT(*) FROM mapping_rows m WHERE m.run_id = r.id)
		FROM runs r
		ORDER BY r.created_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var runs []Run
	for rows.Next() {
		var run Run
		var createdAt, files string
		if err := rows.Scan(&run.ID, &createdAt, &run.Resolution, &files, &run.Attempted, &run.Removed,
			&run.Participants, &run.Stimuli); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		run.CreatedAt = parsed
		if err := json.Unmarshal([]byte(files), &run.Files); err != nil {
			return nil, fmt.Errorf("run %s files: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// LatestRun returns the most recent run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	return runs[0], nil
}

func (s *Store) findRun(ctx context.Context, runID string) (Run, error) {
	if runID == "" {
		return s.LatestRun(ctx)
	}
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	for _, r := range runs {
		if r.ID == runID {
			return r, nil
		}
	}
	return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// LoadSnapshot restores a stored run. An empty id selects the latest run.
func (s *Store) LoadSnapshot(ctx context.Context, runID string) (Snapshot, error) {
	run, err := s.findRun(ctx, runID)
	if err != nil {
		return Snapshot{}, err
	}

	table, err := s.loadParticipants(ctx, run.ID)
	if err != nil {
		return Snapshot{}, err
	}
	mapping, err := s.loadMapping(ctx, run.ID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Run: run, Participants: table, Mapping: mapping}, nil
}

func (s *Store) loadParticipants(ctx context.Context, runID string) (*participant.Table, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_code, meta, end_questions, last_elapsed
		FROM participants WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	table := participant.NewTable()
	for rows.Next() {
		var worker, meta, end string
		var elapsed float64
		if err := rows.Scan(&worker, &meta, &end, &elapsed); err != nil {
			return nil, err
		}
		rec := model.NewRecord(worker)
		rec.LastElapsed = elapsed
		if err := json.Unmarshal([]byte(meta), &rec.Meta); err != nil {
			return nil, fmt.Errorf("participant %s meta: %w", worker, err)
		}
		if err := json.Unmarshal([]byte(end), &rec.End); err != nil {
			return nil, fmt.Errorf("participant %s end questions: %w", worker, err)
		}
		table.Add(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stimRows, err := s.db.QueryContext(ctx,
		`SELECT worker_code, stimulus, data FROM participant_stimuli WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := stimRows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for stimRows.Next() {
		var worker, id, data string
		if err := stimRows.Scan(&worker, &id, &data); err != nil {
			return nil, err
		}
		rec, ok := table.Get(worker)
		if !ok {
			return nil, fmt.Errorf("stimulus %s references unknown worker %s", id, worker)
		}
		d := &model.StimulusData{}
		if err := json.Unmarshal([]byte(data), d); err != nil {
			return nil, fmt.Errorf("%s/%s: %w", worker, id, err)
		}
		rec.Stimuli[id] = d
	}
	if err := stimRows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

func (s *Store) loadMapping(ctx context.Context, runID string) (*model.Mapping, error) {
	var columnsRaw string
	if err := s.db.QueryRowContext(ctx, `SELECT mapping_columns FROM runs WHERE id = ?`, runID).Scan(&columnsRaw); err != nil {
		return nil, err
	}
	var columns []string
	if err := json.Unmarshal([]byte(columnsRaw), &columns); err != nil {
		return nil, fmt.Errorf("mapping columns: %w", err)
	}
	m := model.NewMapping(columns)

	rows, err := s.db.QueryContext(ctx,
		`SELECT stimulus, duration, attributes, curve, exposures, presses, mean_pct, peak_pct, peak_at
		FROM mapping_rows WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for rows.Next() {
		row := &model.MappingRow{}
		var attrs string
		var curve sql.NullString
		if err := rows.Scan(&row.ID, &row.Duration, &attrs, &curve, &row.Exposures, &row.Presses,
			&row.MeanPct, &row.PeakPct, &row.PeakAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &row.Attributes); err != nil {
			return nil, fmt.Errorf("mapping row %s: %w", row.ID, err)
		}
		if curve.Valid {
			row.Curve = []int{}
			if err := json.Unmarshal([]byte(curve.String), &row.Curve); err != nil {
				return nil, fmt.Errorf("mapping row %s curve: %w", row.ID, err)
			}
		}
		if err := m.Add(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return m, nil
}
