package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/metadata"
)

const (
	slotState = iota
	slotSubsystem
	slotTID
	slotNThreads
)

var testLayout = Layout{
	{Name: "state", Type: 10, Track: channel.TrackRunning, Dup: channel.DupSkip},
	{Name: "subsystem", Type: 11, Track: channel.TrackActive},
	{Name: "tid", Type: 12},
	{Name: "nthreads", Type: 13, CPU: true, Dup: channel.DupSkip},
}

func testTrace() *metadata.Trace {
	return &metadata.Trace{Looms: []metadata.Loom{
		{
			Host: "a",
			CPUs: []metadata.CPU{{Index: 0, PhyID: 0}, {Index: 1, PhyID: 1}},
			Procs: []metadata.Proc{
				{PID: 10, Meta: metadata.ProcMeta{AppID: 1, Rank: 0, NRanks: 2},
					Threads: []metadata.Thread{{TID: 11}, {TID: 12}}},
			},
		},
		{
			Host:  "b",
			CPUs:  []metadata.CPU{{Index: 0, PhyID: 0}},
			Procs: []metadata.Proc{{PID: 20, Threads: []metadata.Thread{{TID: 21}}}},
		},
	}}
}

type fixture struct {
	sys     *System
	threads *channel.Recorder
	cpus    *channel.Recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{threads: &channel.Recorder{}, cpus: &channel.Recorder{}}
	sys, err := New(testTrace(), testLayout, f.threads, f.cpus, opts...)
	require.NoError(t, err)
	f.sys = sys
	return f
}

// step propagates and flushes, then returns the CPU records of the step.
func (f *fixture) step(t *testing.T) []string {
	t.Helper()
	f.cpus.Reset()
	f.threads.Reset()
	require.NoError(t, f.sys.Propagate())
	require.NoError(t, f.sys.Bay.Flush())
	return f.cpus.Strings()
}

func TestNew_RowsAndTopology(t *testing.T) {
	f := newFixture(t)
	s := f.sys

	require.Len(t, s.Threads, 3)
	assert.Equal(t, []int{11, 12, 21}, []int{s.Threads[0].TID, s.Threads[1].TID, s.Threads[2].TID})
	assert.Equal(t, []int{1, 2, 3}, []int{s.Threads[0].Row, s.Threads[1].Row, s.Threads[2].Row})

	require.Len(t, s.CPUs, 5)
	labels := make([]string, len(s.CPUs))
	for i, c := range s.CPUs {
		labels[i] = c.Loom.Host + c.Label()
		assert.Equal(t, i+1, c.Row)
	}
	assert.Equal(t, []string{"a0", "a1", "av", "b0", "bv"}, labels)

	vcpu, ok := s.Looms[0].CPU(VirtualCPU)
	require.True(t, ok)
	assert.True(t, vcpu.Virtual)
	_, ok = s.Looms[0].CPU(7)
	assert.False(t, ok)

	th := s.Threads[0]
	assert.Nil(t, th.Chans[slotNThreads])
	assert.NotNil(t, th.Chans[slotTID])
	assert.Nil(t, s.CPUs[0].Chans[slotTID])
	assert.NotNil(t, s.CPUs[0].Chans[slotNThreads])
	assert.Equal(t, 1, th.Proc.AppID)
	assert.Equal(t, 2, th.Proc.NRanks)
}

func TestNew_DuplicateSlot(t *testing.T) {
	_, err := New(testTrace(), Layout{{Name: "x"}, {Name: "x"}}, nil, nil)
	assert.ErrorContains(t, err, "duplicate channel")
}

func TestExecute_TracksRunningThread(t *testing.T) {
	f := newFixture(t)
	s := f.sys
	th := s.Threads[0]
	cpu := s.Looms[0].CPUs[1]

	require.NoError(t, s.Execute(th, cpu))
	require.NoError(t, th.Chans[slotState].Set(int64(Running)))
	require.NoError(t, th.Chans[slotSubsystem].Set(5))

	recs := f.step(t)
	assert.Contains(t, recs, "2:0:10:1")
	assert.Contains(t, recs, "2:0:11:5")
	assert.Equal(t, Running, th.State)
	assert.Same(t, cpu, th.CPU)

	// Nothing changed: a second aggregation emits nothing.
	s.queue(cpu)
	assert.Empty(t, f.step(t))
}

func TestOversubscription_EmitsTooManyThreads(t *testing.T) {
	f := newFixture(t)
	s := f.sys
	cpu := s.Looms[0].CPUs[0]

	for i, th := range s.Threads[:2] {
		require.NoError(t, s.Execute(th, cpu))
		require.NoError(t, th.Chans[slotSubsystem].Set(int64(100+i)))
	}

	recs := f.step(t)
	assert.Contains(t, recs, "1:0:11:777")
	assert.NotContains(t, recs, "1:0:11:100")
	assert.NotContains(t, recs, "1:0:11:101")
	assert.Equal(t, channel.ValueTooManyThreads, cpu.Chans[slotState].Read())
}

func TestOversubscription_LinterError(t *testing.T) {
	f := newFixture(t, WithLinter(true))
	s := f.sys
	cpu := s.Looms[0].CPUs[0]

	require.NoError(t, s.Execute(s.Threads[0], cpu))
	require.NoError(t, s.Execute(s.Threads[1], cpu))

	var se *StateError
	assert.ErrorAs(t, s.Propagate(), &se)
}

func TestOversubscription_VirtualCPUAllowed(t *testing.T) {
	f := newFixture(t, WithLinter(true))
	s := f.sys
	vcpu := s.Looms[0].VCPU

	require.NoError(t, s.Execute(s.Threads[0], vcpu))
	require.NoError(t, s.Execute(s.Threads[1], vcpu))
	assert.NoError(t, s.Propagate())
}

func TestThread_StateMachine(t *testing.T) {
	f := newFixture(t)
	s := f.sys
	th := s.Threads[0]
	cpu := s.Looms[0].CPUs[0]

	var se *StateError
	require.ErrorAs(t, s.Pause(th), &se)
	assert.Contains(t, se.Msg, "no CPU")

	require.NoError(t, s.Execute(th, cpu))
	assert.Error(t, s.Execute(th, cpu))
	assert.Error(t, s.Warm(th), "warm needs paused")

	require.NoError(t, s.Cool(th))
	assert.Equal(t, Cooling, th.State)
	assert.True(t, th.State.Active())
	require.NoError(t, s.Pause(th))
	assert.Error(t, s.Cool(th), "cool needs running")
	require.NoError(t, s.Warm(th))
	require.NoError(t, s.Resume(th))
	assert.Equal(t, Running, th.State)

	require.NoError(t, s.End(th))
	assert.Equal(t, Dead, th.State)
	assert.Nil(t, th.CPU)
	assert.Empty(t, cpu.Threads())
	for _, ch := range th.Chans {
		if ch != nil {
			assert.False(t, ch.Enabled())
		}
	}
	assert.Error(t, s.Resume(th))
}

func TestActiveTracking_FollowsCooling(t *testing.T) {
	f := newFixture(t)
	s := f.sys
	th := s.Threads[0]
	cpu := s.Looms[0].CPUs[0]

	require.NoError(t, s.Execute(th, cpu))
	require.NoError(t, th.Chans[slotSubsystem].Set(5))
	f.step(t)

	require.NoError(t, s.Cool(th))
	recs := f.step(t)
	// Running-tracked state goes away, active-tracked subsystem stays.
	assert.Contains(t, recs, "1:0:10:0")
	assert.NotContains(t, recs, "1:0:11:0")
	assert.True(t, cpu.Chans[slotSubsystem].Enabled())
	assert.False(t, cpu.Chans[slotState].Enabled())
}

func TestMigrate_ReaggregatesBothCPUs(t *testing.T) {
	f := newFixture(t)
	s := f.sys
	th := s.Threads[0]
	from := s.Looms[0].CPUs[0]
	to := s.Looms[0].CPUs[1]

	require.NoError(t, s.Execute(th, from))
	require.NoError(t, th.Chans[slotSubsystem].Set(9))
	f.step(t)

	require.NoError(t, s.Migrate(th, to))
	recs := f.step(t)
	assert.Contains(t, recs, "1:0:11:0")
	assert.Contains(t, recs, "2:0:11:9")
	assert.Same(t, to, th.CPU)
}

func TestAssign_OtherLoomRejected(t *testing.T) {
	f := newFixture(t)
	s := f.sys
	assert.Error(t, s.Assign(s.Threads[0], s.Looms[1].CPUs[0]))
	assert.Error(t, s.Unassign(s.Threads[0]))
}

func TestThreadChannelChange_QueuesCPU(t *testing.T) {
	f := newFixture(t)
	s := f.sys
	th := s.Threads[0]

	require.NoError(t, s.Execute(th, s.Looms[0].CPUs[0]))
	f.step(t)
	assert.Zero(t, s.Pending())

	require.NoError(t, th.Chans[slotSubsystem].Set(3))
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, th.Chans[slotTID].Set(11))
	assert.Equal(t, 1, s.Pending())
}

func TestPerModelTables(t *testing.T) {
	f := newFixture(t)
	th := f.sys.Threads[0]

	tab := th.Proc.Tasks('V')
	assert.Same(t, tab, th.Proc.Tasks('V'))
	assert.NotSame(t, tab, th.Proc.Tasks('6'))

	st := th.Stack('V')
	assert.Same(t, st, th.Stack('V'))

	th.SetExt('O', 42)
	assert.Equal(t, 42, th.Ext('O'))
	assert.Nil(t, th.Ext('K'))
}

func TestLayout_Index(t *testing.T) {
	i, ok := testLayout.Index("tid")
	require.True(t, ok)
	assert.Equal(t, slotTID, i)
	_, ok = testLayout.Index("nope")
	assert.False(t, ok)
}
