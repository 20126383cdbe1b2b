package model

import (
	"fmt"
	"sort"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/system"
)

// ChanDecl declares one channel of a model.
type ChanDecl struct {
	Name  string
	Type  int
	Track channel.Track
	Dup   channel.Dup
	CPU   bool
	Label string
}

// OpKind is the kind of a table operation.
type OpKind uint8

const (
	OpIgnore OpKind = iota
	OpPush
	OpPop
	OpSet
	OpSignal
	OpEnable
	OpDisable
	OpTaskType
	OpTaskCreate
	OpTaskExecute
	OpTaskPause
	OpTaskResume
	OpTaskEnd
)

var opNames = map[string]OpKind{
	"ignore":       OpIgnore,
	"push":         OpPush,
	"pop":          OpPop,
	"set":          OpSet,
	"signal":       OpSignal,
	"enable":       OpEnable,
	"disable":      OpDisable,
	"task.type":    OpTaskType,
	"task.create":  OpTaskCreate,
	"task.execute": OpTaskExecute,
	"task.pause":   OpTaskPause,
	"task.resume":  OpTaskResume,
	"task.end":     OpTaskEnd,
}

// ParseOp converts an operation name.
func ParseOp(s string) (OpKind, error) {
	k, ok := opNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown operation %q", s)
	}
	return k, nil
}

func (k OpKind) String() string {
	for name, kind := range opNames {
		if kind == k {
			return name
		}
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// NoArg means the operation uses its constant value.
const NoArg = -1

// Op is one step of a rule.
type Op struct {
	Kind OpKind
	Chan string

	// Value is used when Arg is NoArg; otherwise the Arg-th int32 of the
	// payload is used.
	Value int64
	Arg   int

	// Nestable allows task.execute on top of a running task.
	Nestable bool

	// TaskChan and TypeChan receive the task id and type gid on task
	// execute/resume (push) and pause/end (pop).
	TaskChan string
	TypeChan string
}

// Rule maps one category/value pair to its operations.
type Rule struct {
	Category byte
	Value    byte
	Ops      []Op
}

// Spec is the declarative description of a model.
type Spec struct {
	ID   byte
	Name string

	// Builtin models are implemented in Go; only their channels come from
	// the spec.
	Builtin bool

	Channels []ChanDecl
	Rules    []Rule
}

// Qualified returns the layout name of a channel of the model.
func (s *Spec) Qualified(ch string) string {
	return s.Name + "." + ch
}

// BuildLayout concatenates the channels of all specs, in spec order, and
// checks that record type ids are unique.
func BuildLayout(specs []*Spec) (system.Layout, error) {
	var layout system.Layout
	types := make(map[int]string)
	ids := make(map[byte]string)

	for _, s := range specs {
		if prev, ok := ids[s.ID]; ok {
			return nil, fmt.Errorf("models %s and %s share id %q", prev, s.Name, s.ID)
		}
		ids[s.ID] = s.Name

		for _, c := range s.Channels {
			name := s.Qualified(c.Name)
			if prev, ok := types[c.Type]; ok {
				return nil, fmt.Errorf("channels %s and %s share type %d", prev, name, c.Type)
			}
			types[c.Type] = name
			layout = append(layout, system.ChanSpec{
				Name:  name,
				Type:  c.Type,
				Dup:   c.Dup,
				Track: c.Track,
				CPU:   c.CPU,
			})
		}
	}
	return layout, nil
}

// Labels returns the channel labels of all specs keyed by record type.
func Labels(specs []*Spec) map[int]string {
	out := make(map[int]string)
	for _, s := range specs {
		for _, c := range s.Channels {
			label := c.Label
			if label == "" {
				label = s.Qualified(c.Name)
			}
			out[c.Type] = label
		}
	}
	return out
}

// SortSpecs orders specs by model id.
func SortSpecs(specs []*Spec) {
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
}
