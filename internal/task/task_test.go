package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T) *Table {
	t.Helper()
	tab := NewTable(NewRegistry())
	_, err := tab.DefineType(1, "compute")
	require.NoError(t, err)
	return tab
}

func TestTable_CreateUniqueID(t *testing.T) {
	tab := newTable(t)

	_, err := tab.Create(10, 1)
	require.NoError(t, err)

	_, err = tab.Create(10, 1)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "create", te.Op)
	assert.Contains(t, te.Msg, "already exists")
}

func TestTable_CreateUnknownType(t *testing.T) {
	tab := newTable(t)

	_, err := tab.Create(10, 99)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Msg, "unknown task type")
}

func TestTable_DefineTypeTwice(t *testing.T) {
	tab := newTable(t)
	_, err := tab.DefineType(1, "other")
	assert.Error(t, err)
}

func TestTable_TasksSorted(t *testing.T) {
	tab := newTable(t)
	for _, id := range []uint32{5, 1, 3} {
		_, err := tab.Create(id, 1)
		require.NoError(t, err)
	}

	var ids []uint32
	for _, task := range tab.Tasks() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []uint32{1, 3, 5}, ids)
}

func TestGID_StableAndNormalized(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	require.NotEqual(t, composed, decomposed)

	assert.Equal(t, GID(composed), GID(decomposed))
	assert.NotEqual(t, GID("a"), GID("b"))

	a := NewTable(NewRegistry())
	typ, err := a.DefineType(7, decomposed)
	require.NoError(t, err)
	assert.Equal(t, GID(composed), typ.GID)
	assert.Equal(t, composed, typ.Label)
}

func TestRegistry_SharedAcrossTables(t *testing.T) {
	reg := NewRegistry()
	a := NewTable(reg)
	b := NewTable(reg)

	ta, err := a.DefineType(1, "solve")
	require.NoError(t, err)
	tb, err := b.DefineType(9, "solve")
	require.NoError(t, err)
	assert.Equal(t, ta.GID, tb.GID)

	label, ok := reg.Label(ta.GID)
	require.True(t, ok)
	assert.Equal(t, "solve", label)
}

func TestRegistry_Collision(t *testing.T) {
	reg := NewRegistry()
	// Force a collision by planting a different label under the gid.
	gid := GID("solve")
	reg.labels[gid] = "something else"

	_, err := reg.Intern("solve")
	var ce *CollisionError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Fatal())
	assert.Equal(t, gid, ce.GID)
}

func TestStack_Lifecycle(t *testing.T) {
	tab := newTable(t)
	task, err := tab.Create(1, 1)
	require.NoError(t, err)
	st := NewStack(100)

	require.NoError(t, st.Execute(task, true, false))
	assert.Equal(t, Running, task.State)
	assert.Equal(t, 100, task.Thread)
	assert.True(t, task.Owned())

	require.NoError(t, st.Pause(task, true))
	assert.Equal(t, Paused, task.State)
	require.NoError(t, st.Resume(task, true))
	require.NoError(t, st.End(task, true))
	assert.Equal(t, Dead, task.State)
	assert.Zero(t, st.Depth())
}

func TestStack_ExecuteRules(t *testing.T) {
	tab := newTable(t)
	a, _ := tab.Create(1, 1)
	b, _ := tab.Create(2, 1)
	st := NewStack(100)

	assert.Error(t, st.Execute(a, false, false), "thread not running")

	require.NoError(t, st.Execute(a, true, false))
	assert.Error(t, st.Execute(a, true, true), "executed twice")
	assert.Error(t, st.Execute(b, true, false), "nesting not allowed")

	require.NoError(t, st.Execute(b, true, true))
	assert.Equal(t, 2, st.Depth())
	assert.Same(t, b, st.Top())
}

func TestStack_ExecuteOnPausedTop(t *testing.T) {
	tab := newTable(t)
	a, _ := tab.Create(1, 1)
	b, _ := tab.Create(2, 1)
	st := NewStack(100)

	require.NoError(t, st.Execute(a, true, false))
	require.NoError(t, st.Pause(a, true))
	require.NoError(t, st.Execute(b, true, false))
	assert.Same(t, b, st.Top())
}

func TestStack_OnlyTopMoves(t *testing.T) {
	tab := newTable(t)
	a, _ := tab.Create(1, 1)
	b, _ := tab.Create(2, 1)
	st := NewStack(100)

	require.NoError(t, st.Execute(a, true, false))
	require.NoError(t, st.Execute(b, true, true))

	var te *Error
	require.ErrorAs(t, st.End(a, true), &te)
	assert.Contains(t, te.Msg, "not on top")
	assert.Error(t, st.Pause(a, true))
	assert.Error(t, st.Resume(b, true), "b is running")
	assert.Error(t, st.End(b, false), "thread not running")

	require.NoError(t, st.End(b, true))
	require.NoError(t, st.End(a, true))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "state(9)", State(9).String())
}
