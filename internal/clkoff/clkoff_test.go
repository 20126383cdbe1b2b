package clkoff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Median(t *testing.T) {
	tab, err := Parse(strings.NewReader(`
# rank hostname offset_median samples
host  offset  std
node1 0
node2 -1520.5 -1498 -1503
node3 10 20 30 41
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"node1", "node2", "node3"}, tab.Hosts())

	off, err := tab.Lookup("node2")
	require.NoError(t, err)
	assert.Equal(t, int64(-1503), off)

	off, err = tab.Lookup("node3")
	require.NoError(t, err)
	assert.Equal(t, int64(25), off)

	_, err = tab.Lookup("node9")
	assert.ErrorIs(t, err, ErrMissingHost)
}

func TestParse_Rounding(t *testing.T) {
	tab, err := Parse(strings.NewReader("a 1.5\nb -2.5\nc 2.4\n"))
	require.NoError(t, err)

	for host, want := range map[string]int64{"a": 2, "b": -3, "c": 2} {
		off, err := tab.Lookup(host)
		require.NoError(t, err)
		assert.Equal(t, want, off, host)
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("node1 1\nnode1 2\n"))
	assert.ErrorContains(t, err, "duplicate host")

	_, err = Parse(strings.NewReader("lonely\n"))
	assert.ErrorContains(t, err, "expected host and samples")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clock-offsets.txt")
	require.NoError(t, os.WriteFile(path, []byte("node1 100\n"), 0o644))

	tab, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, tab.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
