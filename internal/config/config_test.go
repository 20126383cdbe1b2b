package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ovniemu/internal/stream"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, stream.DefaultWindow, cfg.Emu.Lookback)
	assert.Equal(t, "prv", cfg.Output.Dir)
	assert.Empty(t, cfg.Output.Store)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
emu:
  linter: true
  lookback: 500
output:
  store: runs.db
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Emu.Linter)
	assert.Equal(t, 500, cfg.Emu.Lookback)
	assert.Equal(t, "runs.db", cfg.Output.Store)
	assert.Equal(t, "prv", cfg.Output.Dir, "absent fields keep defaults")

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("OVNIEMU_STORE", "env.db")
	t.Setenv("OVNIEMU_MODELS", "/models")
	path := writeConfig(t, "output:\n  store: file.db\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.Output.Store)
	assert.Equal(t, "/models", cfg.Emu.ModelsDir)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "emu: [", "parse config"},
		{"lookback", "emu:\n  lookback: 0\n", "emu.lookback"},
		{"load limit", "emu:\n  load_limit: -1\n", "emu.load_limit"},
		{"level", "log:\n  level: loud\n", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
