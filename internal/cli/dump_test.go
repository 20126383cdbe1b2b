package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dumpJSON(t *testing.T, args ...string) []DumpEvent {
	t.Helper()
	out, err := execute(t, append([]string{"dump", "--format", "json"}, args...)...)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []DumpEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestDump_TraceDir(t *testing.T) {
	events := dumpJSON(t, kernelTrace(t))
	require.Len(t, events, 4)

	var mcvs []string
	for _, e := range events {
		mcvs = append(mcvs, e.MCV)
	}
	assert.Equal(t, []string{"OHx", "KO[", "KO]", "OHe"}, mcvs)
	assert.Equal(t, uint64(100), events[0].Clock)
	assert.Equal(t, int64(0), events[0].Offset)
	assert.NotEmpty(t, events[0].Payload)
	assert.Empty(t, events[1].Payload)
	assert.Equal(t, uint64(200), events[3].Clock)
	assert.Less(t, events[1].Offset, events[2].Offset)
}

func TestDump_FilterAndLimit(t *testing.T) {
	dir := kernelTrace(t)

	events := dumpJSON(t, "--filter", "KO", dir)
	require.Len(t, events, 2)
	assert.Equal(t, "KO[", events[0].MCV)
	assert.Equal(t, "KO]", events[1].MCV)

	events = dumpJSON(t, "-n", "1", dir)
	require.Len(t, events, 1)
	assert.Equal(t, "OHx", events[0].MCV)

	assert.Empty(t, dumpJSON(t, "--filter", "Z", dir))
}

func TestDump_StreamFile(t *testing.T) {
	dir := kernelTrace(t)
	paths, err := streamPaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	out, err := execute(t, "dump", paths[0])
	require.NoError(t, err)
	assert.Contains(t, out, "OHx")
	assert.Contains(t, out, "KO]")
}

func TestDump_Missing(t *testing.T) {
	_, err := execute(t, "dump", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
