package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ovniemu/internal/testutil"
)

func unsortedTrace(t *testing.T) string {
	t.Helper()
	b := testutil.NewTrace(t)
	b.Proc("node1", 100, oneCPU)
	b.Thread("node1", 100, 101).
		At(100, "OHx", 0).
		At(110, "OU[").
		At(150, "KO]").
		At(130, "KO[").
		At(160, "OU]").
		At(200, "OHe")
	return b.Write().Dir
}

func TestSort_RepairsInPlace(t *testing.T) {
	dir := unsortedTrace(t)

	_, err := execute(t, "sort", "--check", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := execute(t, "sort", "--format", "json", dir)
	require.NoError(t, err)
	var resp struct {
		Data SortResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Regions)
	assert.Zero(t, resp.Data.Failed)
	require.Len(t, resp.Data.Streams, 1)
	assert.True(t, resp.Data.Streams[0].Sorted)

	out, err = execute(t, "sort", "--check", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 streams, 1 regions found, 0 failed")

	events := dumpJSON(t, "--filter", "KO", dir)
	require.Len(t, events, 2)
	assert.Equal(t, "KO[", events[0].MCV)
	assert.Equal(t, uint64(130), events[0].Clock)
}

func TestSort_SortedTrace(t *testing.T) {
	out, err := execute(t, "sort", kernelTrace(t))
	require.NoError(t, err)
	assert.Contains(t, out, "1 streams, 0 regions repaired, 0 failed")
}

func TestSort_Errors(t *testing.T) {
	_, err := execute(t, "sort", "--lookback", "0", kernelTrace(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "sort", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
