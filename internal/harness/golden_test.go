package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/emu"
)

func TestRunWithGolden_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestNewSnapshot_FiltersAndOrders(t *testing.T) {
	r := NewResult()
	r.Threads = []channel.Record{
		{Row: 2, Time: 10, Type: 45, Value: 1},
		{Row: 1, Time: 10, Type: 5, Value: 1},
		{Row: 1, Time: 10, Type: 1, Value: 101},
		{Row: 1, Time: 0, Type: 45, Value: 0},
	}
	r.Stats = emu.Stats{Events: 3, Duration: 10}

	s := NewSnapshot("x", r, []int{5, 45})
	assert.Equal(t, []string{"1:0:45:0", "1:10:5:1", "2:10:45:1"}, s.Threads)
	assert.Empty(t, s.CPUs)
	require.NotNil(t, s.Stats)
	assert.Equal(t, int64(3), s.Stats.Events)

	r.Err = "LOGIC: boom"
	r.Code = "LOGIC"
	s = NewSnapshot("x", r, nil)
	assert.Nil(t, s.Stats)
	assert.Equal(t, "LOGIC", s.Code)
	assert.Len(t, s.Threads, 4)
}
