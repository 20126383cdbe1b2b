package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, dup Dup) (*Channel, *Bay, *Recorder) {
	t.Helper()
	bay := NewBay()
	rec := &Recorder{}
	ch := New("th.subsystem", Config{Type: 10, Dup: dup})
	bay.Add(ch, rec, 1)
	return ch, bay, rec
}

func TestChannel_InitialState(t *testing.T) {
	ch := New("c", Config{})
	assert.False(t, ch.Enabled())
	assert.Equal(t, 1, ch.Depth())
	assert.Equal(t, Clean, ch.Dirty())
	assert.Equal(t, ValueBad, ch.Read())

	require.NoError(t, ch.Enable())
	assert.Equal(t, ValueNull, ch.Read())
}

func TestChannel_EnableDisable(t *testing.T) {
	ch, bay, rec := newTestChannel(t, DupReject)

	assert.True(t, IsCode(ch.Disable(), CodeDisabled))

	bay.SetTime(5)
	require.NoError(t, ch.Enable())
	assert.Equal(t, DirtyActive, ch.Dirty())
	assert.Equal(t, int64(5), ch.Since())
	assert.True(t, IsCode(ch.Enable(), CodeEnabled))

	require.NoError(t, bay.Flush())
	bay.SetTime(9)
	require.NoError(t, ch.Disable())
	require.NoError(t, bay.Flush())

	assert.Equal(t, []string{"1:5:10:0", "1:9:10:0"}, rec.Strings())
}

func TestChannel_SetCoalesces(t *testing.T) {
	ch, bay, rec := newTestChannel(t, DupReject)
	require.NoError(t, ch.Enable())
	require.NoError(t, ch.Set(3))
	require.NoError(t, ch.Set(4))
	assert.Equal(t, DirtyValue, ch.Dirty())
	assert.Len(t, bay.Pending(), 1)

	require.NoError(t, bay.Flush())
	assert.Equal(t, []string{"1:0:10:4"}, rec.Strings())
	assert.Empty(t, bay.Pending())
	assert.Equal(t, Clean, ch.Dirty())
}

func TestChannel_SetRequiresEnabled(t *testing.T) {
	ch := New("c", Config{})
	assert.True(t, IsCode(ch.Set(1), CodeDisabled))
	assert.True(t, IsCode(ch.Push(1), CodeDisabled))
	assert.True(t, IsCode(ch.Signal(1), CodeDisabled))
	_, err := ch.PopAny()
	assert.True(t, IsCode(err, CodeDisabled))
}

func TestChannel_PushPopBalance(t *testing.T) {
	ch, bay, rec := newTestChannel(t, DupReject)
	require.NoError(t, ch.Enable())
	require.NoError(t, bay.Flush())

	values := []int64{7, 8, 9}
	for i, v := range values {
		bay.SetTime(int64(10 + i))
		require.NoError(t, ch.Push(v))
		require.NoError(t, bay.Flush())
	}
	assert.Equal(t, 4, ch.Depth())

	for i := len(values) - 1; i >= 0; i-- {
		bay.SetTime(int64(20 + i))
		v, err := ch.Pop(values[i])
		require.NoError(t, err)
		assert.Equal(t, values[i], v)
		require.NoError(t, bay.Flush())
	}

	assert.Equal(t, 1, ch.Depth())
	assert.Equal(t, []string{
		"1:0:10:0",
		"1:10:10:7", "1:11:10:8", "1:12:10:9",
		"1:22:10:8", "1:21:10:7", "1:20:10:0",
	}, rec.Strings())
}

func TestChannel_PushRequiresClean(t *testing.T) {
	ch, _, _ := newTestChannel(t, DupReject)
	require.NoError(t, ch.Enable())
	err := ch.Push(1)
	assert.True(t, IsCode(err, CodeDirty))
}

func TestChannel_PushFull(t *testing.T) {
	ch, bay, _ := newTestChannel(t, DupAllow)
	require.NoError(t, ch.Enable())
	require.NoError(t, bay.Flush())

	for ch.Depth() < MaxStack {
		require.NoError(t, ch.Push(int64(ch.Depth())))
		require.NoError(t, bay.Flush())
	}

	err := ch.Push(1)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeStackFull, ce.Code)
	assert.True(t, ce.Resource())
	assert.Same(t, ch, ce.Channel())
}

func TestChannel_PopErrors(t *testing.T) {
	ch, bay, _ := newTestChannel(t, DupAllow)
	require.NoError(t, ch.Enable())
	require.NoError(t, bay.Flush())
	require.NoError(t, ch.Push(5))
	require.NoError(t, bay.Flush())

	_, err := ch.Pop(6)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeMismatch, ce.Code)
	assert.False(t, ce.Resource())

	_, err = ch.Pop(5)
	require.NoError(t, err)
	_, err = ch.PopAny()
	require.NoError(t, err)
	_, err = ch.PopAny()
	assert.True(t, IsCode(err, CodeStackEmpty))
	assert.Equal(t, ValueNull, ch.Read())
}

func TestChannel_SetOnEmptyStack(t *testing.T) {
	ch, _, _ := newTestChannel(t, DupAllow)
	require.NoError(t, ch.Enable())
	_, err := ch.PopAny()
	require.NoError(t, err)
	assert.Equal(t, 0, ch.Depth())

	require.NoError(t, ch.Set(4))
	assert.Equal(t, 1, ch.Depth())
	assert.Equal(t, int64(4), ch.Read())
}

func TestChannel_SignalEmitsPulseThenTop(t *testing.T) {
	ch, bay, rec := newTestChannel(t, DupReject)
	require.NoError(t, ch.Enable())
	require.NoError(t, ch.Set(2))
	require.NoError(t, bay.Flush())
	rec.Reset()

	bay.SetTime(50)
	require.NoError(t, ch.Signal(9))
	assert.True(t, IsCode(ch.Signal(10), CodePulse))
	require.NoError(t, bay.Flush())

	assert.Equal(t, []string{"1:50:10:9", "1:50:10:2"}, rec.Strings())
	_, pending := ch.Pulse()
	assert.False(t, pending)
}

func TestChannel_DupPolicies(t *testing.T) {
	tests := []struct {
		dup     Dup
		records int
		code    Code
	}{
		{DupReject, 1, CodeDuplicate},
		{DupAllow, 2, ""},
		{DupSkip, 1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.dup.String(), func(t *testing.T) {
			ch, bay, rec := newTestChannel(t, tt.dup)
			require.NoError(t, ch.Enable())
			require.NoError(t, ch.Set(3))
			require.NoError(t, bay.Flush())

			require.NoError(t, ch.Set(3))
			err := bay.Flush()
			if tt.code != "" {
				assert.True(t, IsCode(err, tt.code))
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, rec.Records, tt.records)
			assert.Equal(t, Clean, ch.Dirty())
		})
	}
}

func TestChannel_ReenableEmitsSameValue(t *testing.T) {
	ch, bay, rec := newTestChannel(t, DupReject)
	require.NoError(t, ch.Enable())
	require.NoError(t, ch.Set(3))
	require.NoError(t, bay.Flush())
	require.NoError(t, ch.Disable())
	require.NoError(t, bay.Flush())
	require.NoError(t, ch.Enable())
	require.NoError(t, bay.Flush())

	assert.Equal(t, []string{"1:0:10:3", "1:0:10:0", "1:0:10:3"}, rec.Strings())
}

func TestChannel_MarkBad(t *testing.T) {
	ch, bay, rec := newTestChannel(t, DupReject)
	ch.MarkBad()
	assert.True(t, ch.Enabled())
	require.NoError(t, bay.Flush())
	assert.Equal(t, []string{"1:0:10:666"}, rec.Strings())

	// A second bad mark is not a rejected duplicate.
	bay.SetTime(5)
	ch.MarkBad()
	require.NoError(t, bay.Flush())
	assert.Equal(t, []string{"1:0:10:666"}, rec.Strings())
}

func TestChannel_MarkBadAfterRejectedDuplicate(t *testing.T) {
	ch, bay, rec := newTestChannel(t, DupReject)
	require.NoError(t, ch.Enable())
	require.NoError(t, bay.Flush())
	require.NoError(t, ch.Push(1))
	require.NoError(t, bay.Flush())

	bay.SetTime(20)
	require.NoError(t, ch.Push(1))
	err := bay.Flush()
	require.True(t, IsCode(err, CodeDuplicate))
	assert.Empty(t, bay.Pending())

	ch.MarkBad()
	require.Equal(t, []*Channel{ch}, bay.Pending())
	require.NoError(t, bay.Flush())
	assert.Equal(t, []string{"1:0:10:0", "1:0:10:1", "1:20:10:666"}, rec.Strings())
}

func TestBay_DirtyListOrderNoDuplicates(t *testing.T) {
	bay := NewBay()
	a := New("a", Config{})
	b := New("b", Config{})
	bay.Add(a, nil, 0)
	bay.Add(b, nil, 1)

	require.NoError(t, b.Enable())
	require.NoError(t, a.Enable())
	require.NoError(t, b.Set(1))
	require.NoError(t, a.Set(2))

	pending := bay.Pending()
	require.Len(t, pending, 2)
	assert.Same(t, b, pending[0])
	assert.Same(t, a, pending[1])
	assert.Len(t, bay.Channels(), 2)
}

func TestChannel_HookRunsOnceAStep(t *testing.T) {
	ch, bay, _ := newTestChannel(t, DupAllow)
	calls := 0
	ch.SetHook(func(*Channel) { calls++ })

	require.NoError(t, ch.Enable())
	require.NoError(t, ch.Set(1))
	assert.Equal(t, 1, calls)

	require.NoError(t, bay.Flush())
	require.NoError(t, ch.Set(2))
	assert.Equal(t, 2, calls)
}

func TestParsePolicies(t *testing.T) {
	d, err := ParseDup("skip")
	require.NoError(t, err)
	assert.Equal(t, DupSkip, d)
	_, err = ParseDup("sometimes")
	assert.Error(t, err)

	tr, err := ParseTrack("active")
	require.NoError(t, err)
	assert.Equal(t, TrackActive, tr)
	_, err = ParseTrack("idle")
	assert.Error(t, err)
}

func TestRecord_String(t *testing.T) {
	assert.Equal(t, "3:100:20:-1", Record{Row: 3, Time: 100, Type: 20, Value: -1}.String())
}
