package player

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ovniemu/internal/ev"
	"github.com/roach88/ovniemu/internal/stream"
)

func newStream(t *testing.T, name string, clocks ...uint64) *stream.Stream {
	t.Helper()
	buf := stream.AppendHeader(nil)
	for _, c := range clocks {
		var err error
		buf, err = ev.Append(buf, 'O', 'H', 'p', c, nil)
		require.NoError(t, err)
	}
	s, err := stream.FromBytes(name, buf)
	require.NoError(t, err)
	return s
}

func drain(t *testing.T, p *Player) ([]int64, []int) {
	t.Helper()
	var clocks []int64
	var idx []int
	for {
		step, ok, err := p.Next()
		require.NoError(t, err)
		if !ok {
			return clocks, idx
		}
		clocks = append(clocks, step.Clock)
		idx = append(idx, step.Stream)
	}
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPlayer_MergeOrder(t *testing.T) {
	p, err := New([]*stream.Stream{
		newStream(t, "a", 10, 30),
		newStream(t, "b", 5, 20),
	}, quiet())
	require.NoError(t, err)

	clocks, idx := drain(t, p)
	assert.Equal(t, []int64{5, 10, 20, 30}, clocks)
	assert.Equal(t, []int{1, 0, 1, 0}, idx)
	assert.Zero(t, p.Jumps())
	assert.Equal(t, 1.0, p.Progress())
}

func TestPlayer_TiesByStreamIndex(t *testing.T) {
	p, err := New([]*stream.Stream{
		newStream(t, "a", 10, 10),
		newStream(t, "b", 10),
		newStream(t, "c", 5, 10),
	}, quiet())
	require.NoError(t, err)

	_, idx := drain(t, p)
	assert.Equal(t, []int{2, 0, 0, 1, 2}, idx)
}

func TestPlayer_OffsetsApplied(t *testing.T) {
	a := newStream(t, "a", 100, 200)
	b := newStream(t, "b", 10, 20)
	b.SetOffset(150)

	p, err := New([]*stream.Stream{a, b}, quiet())
	require.NoError(t, err)

	clocks, _ := drain(t, p)
	assert.Equal(t, []int64{100, 160, 170, 200}, clocks)
}

func TestPlayer_EmptyStreams(t *testing.T) {
	p, err := New([]*stream.Stream{newStream(t, "empty"), newStream(t, "one", 7)}, quiet())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Active())

	clocks, _ := drain(t, p)
	assert.Equal(t, []int64{7}, clocks)

	_, ok, err := p.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPlayer_BackwardsJumpWarns(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	p, err := New([]*stream.Stream{newStream(t, "bad", 10, 5, 20)}, WithLogger(logger))
	require.NoError(t, err)

	clocks, _ := drain(t, p)
	assert.Equal(t, []int64{10, 5, 20}, clocks)
	assert.Equal(t, 1, p.Jumps())
	assert.Contains(t, logs.String(), "backwards jump")
}

func TestPlayer_BackwardsJumpStrict(t *testing.T) {
	p, err := New([]*stream.Stream{newStream(t, "bad", 10, 5)}, WithStrict(true), quiet())
	require.NoError(t, err)

	_, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = p.Next()
	assert.False(t, ok)
	var oe *OrderError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, int64(5), oe.Clock)
	assert.Equal(t, int64(10), oe.Prev)
	assert.True(t, oe.Ordering())
}

func TestPlayer_PayloadSurvivesAdvance(t *testing.T) {
	buf := stream.AppendHeader(nil)
	buf, _ = ev.Append(buf, 'O', 'H', 'x', 1, ev.Args(3))
	buf, _ = ev.Append(buf, 'O', 'H', 'e', 2, nil)
	s, err := stream.FromBytes("t", buf)
	require.NoError(t, err)

	p, err := New([]*stream.Stream{s}, quiet())
	require.NoError(t, err)

	step, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "OHx", step.Event.MCV())
	cpu, err := step.Event.Int32(0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), cpu)
}
