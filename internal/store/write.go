package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/ovniemu/internal/channel"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Row kinds.
const (
	KindThread = "thread"
	KindCPU    = "cpu"
)

// RunInfo describes a run when it starts.
type RunInfo struct {
	TraceDir string
	Linter   bool
	Models   []string
}

// RunResult is the outcome of a run.
type RunResult struct {
	Events     int64
	Warnings   int64
	Regions    int
	Jumps      int
	DurationNS int64

	// Err is the error that stopped the run, or nil.
	Err error
}

// BeginRun inserts a new run in the running state and returns its id.
// Run ids are UUIDv7, so they also sort by creation time.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, seq, trace_dir, linter, models, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		id.String(),
		s.clock.Next(),
		info.TraceDir,
		boolToInt(info.Linter),
		strings.Join(info.Models, ","),
		StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id.String(), nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, res RunResult) error {
	status, msg := StatusOK, ""
	if res.Err != nil {
		status, msg = StatusFailed, res.Err.Error()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?, events = ?, warnings = ?, regions = ?, jumps = ?, duration_ns = ?
		WHERE id = ?
	`, status, msg, res.Events, res.Warnings, res.Regions, res.Jumps, res.DurationNS, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: %w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// WriteRows stores the row names of one kind, numbered from 1.
func (s *Store) WriteRows(ctx context.Context, runID, kind string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO row_names (run_id, kind, row, name) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	defer stmt.Close()

	for i, name := range names {
		if _, err := stmt.ExecContext(ctx, runID, kind, i+1, name); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// DefaultBatch is the number of records a RecordSink buffers before writing.
const DefaultBatch = 4096

// RecordSink stores the records of one kind of a run. It implements
// channel.Sink. Records are buffered and written in batches; Flush writes
// the remainder.
//
// Thread-safety: Emit and Flush are safe for concurrent use.
type RecordSink struct {
	mu    sync.Mutex
	s     *Store
	ctx   context.Context
	runID string
	kind  string
	batch int
	seq   int64
	buf   []channel.Record
}

// Records returns a sink storing records of the given kind for runID.
func (s *Store) Records(ctx context.Context, runID, kind string) *RecordSink {
	return &RecordSink{s: s, ctx: ctx, runID: runID, kind: kind, batch: DefaultBatch}
}

// Emit buffers r and writes the buffer when it is full.
func (rs *RecordSink) Emit(r channel.Record) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.buf = append(rs.buf, r)
	if len(rs.buf) >= rs.batch {
		return rs.flush()
	}
	return nil
}

// Flush writes the buffered records.
func (rs *RecordSink) Flush() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.flush()
}

func (rs *RecordSink) flush() error {
	if len(rs.buf) == 0 {
		return nil
	}

	tx, err := rs.s.db.BeginTx(rs.ctx, nil)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(rs.ctx, `
		INSERT INTO records (run_id, kind, seq, row, time, type, value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	defer stmt.Close()

	seq := rs.seq
	for _, r := range rs.buf {
		seq++
		if _, err := stmt.ExecContext(rs.ctx, rs.runID, rs.kind, seq, r.Row, r.Time, r.Type, r.Value); err != nil {
			return fmt.Errorf("write records: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	rs.seq = seq
	rs.buf = rs.buf[:0]
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
