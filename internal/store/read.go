package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/ovniemu/internal/channel"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Run is a stored run.
type Run struct {
	ID       string   `json:"id"`
	Seq      int64    `json:"seq"`
	TraceDir string   `json:"trace_dir"`
	Linter   bool     `json:"linter"`
	Models   []string `json:"models,omitempty"`
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`

	Events     int64 `json:"events"`
	Warnings   int64 `json:"warnings"`
	Regions    int   `json:"regions"`
	Jumps      int   `json:"jumps"`
	DurationNS int64 `json:"duration_ns"`
}

const runColumns = `id, seq, trace_dir, linter, models, status, error,
	events, warnings, regions, jumps, duration_ns`

// ListRuns returns every run in creation order.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if there are no runs.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns one run.
func (s *Store) ReadRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run: %w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ReadRows returns the row names of one kind in row order.
func (s *Store) ReadRows(ctx context.Context, runID, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM row_names
		WHERE run_id = ? AND kind = ?
		ORDER BY row ASC
	`, runID, kind)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return names, nil
}

// ReadRecords returns the records of one kind in emission order. A type of
// zero selects every type.
func (s *Store) ReadRecords(ctx context.Context, runID, kind string, typ int) ([]channel.Record, error) {
	query := `
		SELECT row, time, type, value FROM records
		WHERE run_id = ? AND kind = ?`
	args := []any{runID, kind}
	if typ != 0 {
		query += ` AND type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := []channel.Record{}
	for rows.Next() {
		var r channel.Record
		if err := rows.Scan(&r.Row, &r.Time, &r.Type, &r.Value); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run    Run
		linter int
		models string
	)
	err := row.Scan(&run.ID, &run.Seq, &run.TraceDir, &linter, &models, &run.Status, &run.Error,
		&run.Events, &run.Warnings, &run.Regions, &run.Jumps, &run.DurationNS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Linter = linter != 0
	if models != "" {
		run.Models = strings.Split(models, ",")
	}
	return run, nil
}
