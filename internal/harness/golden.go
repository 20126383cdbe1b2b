package harness

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/emu"
)

// Snapshot captures the observable outcome of a scenario execution.
type Snapshot struct {
	Scenario string     `json:"scenario"`
	Code     string     `json:"code,omitempty"`
	Stats    *StatsView `json:"stats,omitempty"`
	Threads  []string   `json:"threads"`
	CPUs     []string   `json:"cpus"`
}

// StatsView is the deterministic part of the run statistics.
type StatsView struct {
	Events   int64 `json:"events"`
	Warnings int64 `json:"warnings"`
	Regions  int   `json:"regions"`
	Jumps    int   `json:"jumps"`
	Duration int64 `json:"duration_ns"`
}

// NewSnapshot builds the snapshot of a result. Records are filtered to the
// given types (all when empty) and ordered by time, row and type.
func NewSnapshot(name string, r *Result, types []int) Snapshot {
	s := Snapshot{
		Scenario: name,
		Code:     r.Code,
		Threads:  snapshotRecords(r.Threads, types),
		CPUs:     snapshotRecords(r.CPUs, types),
	}
	if r.Err == "" {
		s.Stats = statsView(r.Stats)
	}
	return s
}

// JSON renders the snapshot as stored in golden files.
func (s Snapshot) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func statsView(st emu.Stats) *StatsView {
	return &StatsView{
		Events:   st.Events,
		Warnings: st.Warnings,
		Regions:  st.Regions,
		Jumps:    st.Jumps,
		Duration: st.Duration,
	}
}

func snapshotRecords(records []channel.Record, types []int) []string {
	kept := make([]channel.Record, 0, len(records))
	for _, r := range records {
		if len(types) == 0 || slices.Contains(types, r.Type) {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Type < b.Type
	})
	out := make([]string, len(kept))
	for i, r := range kept {
		out[i] = r.String()
	}
	return out
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the scenario's golden
// file without re-running it.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenario.Name, result, scenario.Golden).JSON()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
