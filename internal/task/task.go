// Package task tracks the tasks that runtimes schedule on top of threads.
//
// Task types are declared by the traced program with a numeric id and a
// label. Each type also gets a global id, derived from its label, so the
// same type keeps the same value across processes and runs. Two different
// labels hashing to the same global id cannot be told apart in the output
// and abort the replay.
//
// Tasks live in a per-process Table and follow a fixed lifecycle:
//
//	Created -> Running <-> Paused -> Dead
//
// A thread runs tasks through its Stack. Only the top of the stack may be
// paused, resumed or ended, and a second task can only start on top of a
// running one when its execution is declared nestable.
package task

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// State is the lifecycle state of a task.
type State uint8

const (
	Created State = iota
	Running
	Paused
	Dead
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Dead:
		return "dead"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Type is a task type of one process.
type Type struct {
	ID    uint32
	GID   uint32
	Label string
}

// Task is one unit of runtime-scheduled work.
type Task struct {
	ID    uint32
	Type  *Type
	State State

	// Thread is the tid of the thread that executed the task, once set.
	Thread int
	owned  bool
}

// Owned reports whether a thread has executed the task.
func (t *Task) Owned() bool { return t.owned }

// Error is a task operation that breaks the lifecycle rules.
type Error struct {
	Op   string
	Task uint32
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("task %d: %s: %s", e.Task, e.Op, e.Msg)
}

// CollisionError reports two labels with the same global id.
type CollisionError struct {
	GID      uint32
	Label    string
	Existing string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("task type %q collides with %q (gid %#x)", e.Label, e.Existing, e.GID)
}

// Fatal marks collisions as unrecoverable.
func (e *CollisionError) Fatal() bool { return true }

// GID computes the global id of a label: the low 32 bits of the xxHash64
// of its NFC form.
func GID(label string) uint32 {
	return uint32(xxhash.Sum64String(norm.NFC.String(label)))
}

// Registry interns type labels by global id across all processes.
type Registry struct {
	labels map[uint32]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{labels: make(map[uint32]string)}
}

// Intern returns the global id of label, failing on a collision.
func (r *Registry) Intern(label string) (uint32, error) {
	label = norm.NFC.String(label)
	gid := GID(label)
	if existing, ok := r.labels[gid]; ok && existing != label {
		return 0, &CollisionError{GID: gid, Label: label, Existing: existing}
	}
	r.labels[gid] = label
	return gid, nil
}

// Label returns the label interned for gid.
func (r *Registry) Label(gid uint32) (string, bool) {
	l, ok := r.labels[gid]
	return l, ok
}

// Labels returns every interned label keyed by global id.
func (r *Registry) Labels() map[uint32]string { return r.labels }

// Table holds the types and tasks of one process for one model.
type Table struct {
	reg   *Registry
	types map[uint32]*Type
	tasks map[uint32]*Task
}

// NewTable returns an empty table interning type labels in reg.
func NewTable(reg *Registry) *Table {
	return &Table{
		reg:   reg,
		types: make(map[uint32]*Type),
		tasks: make(map[uint32]*Task),
	}
}

// DefineType declares a task type. Type ids are unique per table.
func (t *Table) DefineType(id uint32, label string) (*Type, error) {
	if typ, ok := t.types[id]; ok {
		return nil, &Error{Op: "type", Task: id, Msg: fmt.Sprintf("type %d already defined as %q", id, typ.Label)}
	}
	gid, err := t.reg.Intern(label)
	if err != nil {
		return nil, err
	}
	typ := &Type{ID: id, GID: gid, Label: norm.NFC.String(label)}
	t.types[id] = typ
	return typ, nil
}

// Type returns the type with the given id.
func (t *Table) Type(id uint32) (*Type, bool) {
	typ, ok := t.types[id]
	return typ, ok
}

// Create adds a task in the Created state.
func (t *Table) Create(id, typeID uint32) (*Task, error) {
	if _, ok := t.tasks[id]; ok {
		return nil, &Error{Op: "create", Task: id, Msg: "task already exists"}
	}
	typ, ok := t.types[typeID]
	if !ok {
		return nil, &Error{Op: "create", Task: id, Msg: fmt.Sprintf("unknown task type %d", typeID)}
	}
	task := &Task{ID: id, Type: typ, State: Created}
	t.tasks[id] = task
	return task, nil
}

// Get returns the task with the given id.
func (t *Table) Get(id uint32) (*Task, bool) {
	task, ok := t.tasks[id]
	return task, ok
}

// Lookup returns the task with the given id or an error naming op.
func (t *Table) Lookup(op string, id uint32) (*Task, error) {
	task, ok := t.tasks[id]
	if !ok {
		return nil, &Error{Op: op, Task: id, Msg: "unknown task"}
	}
	return task, nil
}

// Tasks returns the tasks sorted by id.
func (t *Table) Tasks() []*Task {
	out := make([]*Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
