package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "database file was not created")

	for _, table := range []string{"runs", "row_names", "records"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}

	var index string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_records_type'").Scan(&index)
	assert.NoError(t, err, "records type index")
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	id, err := s1.BeginRun(ctx, RunInfo{TraceDir: "trace"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening applies the schema again without losing runs.
	for range 2 {
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	run, err := s2.ReadRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "trace", run.TraceDir)
}

func TestOpen_ResumesRunClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	for range 3 {
		_, err := s1.BeginRun(ctx, RunInfo{TraceDir: "trace"})
		require.NoError(t, err)
	}
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, int64(3), s2.clock.Current())

	id, err := s2.BeginRun(ctx, RunInfo{TraceDir: "trace"})
	require.NoError(t, err)
	run, err := s2.ReadRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), run.Seq)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "runs.db"))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Store{}).Close(), "nil db")

	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NotNil(t, s.DB())
	require.NoError(t, s.DB().Ping())
	require.NoError(t, s.Close())
	_ = s.Close()
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tt.pragma, tt.want))
		})
	}
}

func TestOpen_MigratesOldStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_records_type")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.verifyPragma("user_version", "1"))

	var index string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_records_type'").Scan(&index)
	assert.NoError(t, err)
}
