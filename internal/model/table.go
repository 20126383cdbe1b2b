package model

import (
	"fmt"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/system"
	"github.com/roach88/ovniemu/internal/task"
)

type boundOp struct {
	Op
	slot     int
	cpu      bool
	taskSlot int
	typeSlot int
}

// Table runs a declarative Spec.
type Table struct {
	spec  *Spec
	rules map[[2]byte][]boundOp
}

// NewTable binds the rules of spec to the channel slots of layout.
func NewTable(spec *Spec, layout system.Layout) (*Table, error) {
	t := &Table{spec: spec, rules: make(map[[2]byte][]boundOp, len(spec.Rules))}

	resolve := func(name string) (int, bool, error) {
		if name == "" {
			return -1, false, nil
		}
		slot, ok := layout.Index(spec.Qualified(name))
		if !ok {
			return 0, false, fmt.Errorf("model %s: unknown channel %q", spec.Name, name)
		}
		return slot, layout[slot].CPU, nil
	}

	for _, r := range spec.Rules {
		key := [2]byte{r.Category, r.Value}
		if _, dup := t.rules[key]; dup {
			return nil, fmt.Errorf("model %s: duplicate rule %c%c", spec.Name, r.Category, r.Value)
		}

		ops := make([]boundOp, 0, len(r.Ops))
		for _, op := range r.Ops {
			b := boundOp{Op: op}
			var err error
			if b.slot, b.cpu, err = resolve(op.Chan); err != nil {
				return nil, err
			}
			if b.taskSlot, _, err = resolve(op.TaskChan); err != nil {
				return nil, err
			}
			if b.typeSlot, _, err = resolve(op.TypeChan); err != nil {
				return nil, err
			}
			if needsChan(op.Kind) && b.slot < 0 {
				return nil, fmt.Errorf("model %s: rule %c%c: %s needs a channel", spec.Name, r.Category, r.Value, op.Kind)
			}
			ops = append(ops, b)
		}
		t.rules[key] = ops
	}
	return t, nil
}

func needsChan(k OpKind) bool {
	switch k {
	case OpPush, OpPop, OpSet, OpSignal, OpEnable, OpDisable:
		return true
	}
	return false
}

// ID returns the model id.
func (t *Table) ID() byte { return t.spec.ID }

// Spec returns the spec the table runs.
func (t *Table) Spec() *Spec { return t.spec }

// Process applies the rule of the event, operation by operation.
func (t *Table) Process(ctx *Context) error {
	ops, ok := t.rules[[2]byte{ctx.Ev.Category, ctx.Ev.Value}]
	if !ok {
		return &UnknownEventError{MCV: ctx.Ev.MCV(), Reason: fmt.Sprintf("not handled by model %s", t.spec.Name)}
	}
	for i := range ops {
		if err := t.apply(ctx, &ops[i]); err != nil {
			return fmt.Errorf("%s %s: %w", ctx.Ev.MCV(), ops[i].Kind, err)
		}
	}
	return nil
}

func (t *Table) channel(ctx *Context, op *boundOp) (*channel.Channel, error) {
	if op.cpu {
		if ctx.Thread.CPU == nil {
			return nil, &system.StateError{Op: op.Kind.String(), TID: ctx.Thread.TID, State: ctx.Thread.State, Msg: "thread has no CPU"}
		}
		return ctx.Thread.CPU.Chans[op.slot], nil
	}
	return ctx.Thread.Chans[op.slot], nil
}

func (t *Table) value(ctx *Context, op *boundOp) (int64, error) {
	if op.Arg == NoArg {
		return op.Value, nil
	}
	v, err := ctx.Ev.Int32(op.Arg)
	return int64(v), err
}

func (t *Table) apply(ctx *Context, op *boundOp) error {
	switch op.Kind {
	case OpIgnore:
		return nil
	case OpTaskType, OpTaskCreate, OpTaskExecute, OpTaskPause, OpTaskResume, OpTaskEnd:
		return t.applyTask(ctx, op)
	}

	ch, err := t.channel(ctx, op)
	if err != nil {
		return err
	}

	switch op.Kind {
	case OpEnable:
		return ch.Enable()
	case OpDisable:
		return ch.Disable()
	}

	v, err := t.value(ctx, op)
	if err != nil {
		return err
	}

	switch op.Kind {
	case OpPush:
		return ch.Push(v)
	case OpPop:
		_, err := ch.Pop(v)
		return err
	case OpSet:
		return ch.Set(v)
	case OpSignal:
		return ch.Signal(v)
	}
	return fmt.Errorf("unhandled operation %s", op.Kind)
}

func (t *Table) applyTask(ctx *Context, op *boundOp) error {
	tab := ctx.Proc.Tasks(t.spec.ID)

	id, err := ctx.Ev.Uint32(0)
	if err != nil {
		return err
	}

	switch op.Kind {
	case OpTaskType:
		label, err := ctx.Ev.Label(4)
		if err != nil {
			return err
		}
		_, err = tab.DefineType(id, label)
		return err

	case OpTaskCreate:
		typeID, err := ctx.Ev.Uint32(1)
		if err != nil {
			return err
		}
		_, err = tab.Create(id, typeID)
		return err
	}

	th := ctx.Thread
	taskChan, typeChan := t.slotChan(th, op.taskSlot), t.slotChan(th, op.typeSlot)

	tk, err := tab.Lookup(op.Kind.String(), id)
	if err != nil {
		return fault(err, taskChan, typeChan)
	}
	stack := th.Stack(t.spec.ID)
	running := th.State == system.Running

	switch op.Kind {
	case OpTaskExecute:
		if err := stack.Execute(tk, running, op.Nestable); err != nil {
			return fault(err, taskChan, typeChan)
		}
		return t.pushTask(th, op, tk)
	case OpTaskResume:
		if err := stack.Resume(tk, running); err != nil {
			return fault(err, taskChan, typeChan)
		}
		return t.pushTask(th, op, tk)
	case OpTaskPause:
		if err := stack.Pause(tk, running); err != nil {
			return fault(err, taskChan, typeChan)
		}
		return t.popTask(th, op, tk)
	case OpTaskEnd:
		if err := stack.End(tk, running); err != nil {
			return fault(err, taskChan, typeChan)
		}
		return t.popTask(th, op, tk)
	}
	return fmt.Errorf("unhandled operation %s", op.Kind)
}

func (t *Table) slotChan(th *system.Thread, slot int) *channel.Channel {
	if slot < 0 {
		return nil
	}
	return th.Chans[slot]
}

func (t *Table) pushTask(th *system.Thread, op *boundOp, tk *task.Task) error {
	if op.taskSlot >= 0 {
		if err := th.Chans[op.taskSlot].Push(int64(tk.ID)); err != nil {
			return err
		}
	}
	if op.typeSlot >= 0 {
		if err := th.Chans[op.typeSlot].Push(int64(tk.Type.GID)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) popTask(th *system.Thread, op *boundOp, tk *task.Task) error {
	if op.taskSlot >= 0 {
		if _, err := th.Chans[op.taskSlot].Pop(int64(tk.ID)); err != nil {
			return err
		}
	}
	if op.typeSlot >= 0 {
		if _, err := th.Chans[op.typeSlot].Pop(int64(tk.Type.GID)); err != nil {
			return err
		}
	}
	return nil
}
