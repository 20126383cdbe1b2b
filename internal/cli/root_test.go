package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ovniemu/internal/metadata"
	"github.com/roach88/ovniemu/internal/testutil"
)

var oneCPU = metadata.ProcMeta{AppID: 1, CPUs: []metadata.CPU{{Index: 0, PhyID: 0}}}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// kernelTrace writes a one-thread trace with a context switch.
func kernelTrace(t *testing.T) string {
	t.Helper()
	b := testutil.NewTrace(t)
	b.Proc("node1", 100, oneCPU)
	b.Thread("node1", 100, 101).
		At(100, "OHx", 0).
		At(130, "KO[").
		At(150, "KO]").
		At(200, "OHe")
	return b.Write().Dir
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ovniemu", cmd.Use)
	assert.Contains(t, cmd.Long, "Paraver")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"emu", "dump", "sort", "validate", "test", "runs"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestEmuCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	emuCmd, _, err := cmd.Find([]string{"emu"})
	require.NoError(t, err)

	for _, name := range []string{"linter", "lookback", "load-limit", "models", "clock-offsets", "output", "store", "metrics", "spans", "no-progress"} {
		assert.NotNil(t, emuCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "l", emuCmd.Flags().Lookup("linter").Shorthand)
	assert.Equal(t, "o", emuCmd.Flags().Lookup("output").Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "dump", "--format", "xml", kernelTrace(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	_, err := execute(t, "--config", path, "dump", kernelTrace(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
