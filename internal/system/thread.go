package system

import (
	"fmt"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/task"
)

// ThreadState is the execution state of a thread. The numbering is the one
// written to the thread state channel.
type ThreadState uint8

const (
	Unknown ThreadState = 0
	Running ThreadState = 1
	Paused  ThreadState = 2
	Dead    ThreadState = 3
	Cooling ThreadState = 4
	Warming ThreadState = 5
)

// Active reports whether the state counts as active on a CPU.
func (s ThreadState) Active() bool {
	return s == Running || s == Cooling || s == Warming
}

func (s ThreadState) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Dead:
		return "dead"
	case Cooling:
		return "cooling"
	case Warming:
		return "warming"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Thread is one traced thread.
type Thread struct {
	TID   int
	Proc  *Process
	Row   int
	State ThreadState

	// CPU is the CPU the thread is assigned to, or nil.
	CPU *CPU

	// Chans has one channel per layout slot, nil for CPU-only slots.
	Chans []*channel.Channel

	stacks map[byte]*task.Stack
	ext    map[byte]any
}

// Stack returns the task stack of the thread for the given model.
func (th *Thread) Stack(model byte) *task.Stack {
	st, ok := th.stacks[model]
	if !ok {
		st = task.NewStack(th.TID)
		th.stacks[model] = st
	}
	return st
}

// Stacks returns the task stacks created so far, keyed by model id.
func (th *Thread) Stacks() map[byte]*task.Stack { return th.stacks }

// Ext returns the model-private data stored for model, or nil.
func (th *Thread) Ext(model byte) any { return th.ext[model] }

// SetExt stores model-private data on the thread.
func (th *Thread) SetExt(model byte, v any) { th.ext[model] = v }

func (th *Thread) String() string {
	return fmt.Sprintf("%s.%d.%d", th.Proc.Loom.Host, th.Proc.PID, th.TID)
}

func (s *System) stateError(op string, th *Thread, format string, args ...any) *StateError {
	return &StateError{Op: op, TID: th.TID, State: th.State, Msg: fmt.Sprintf(format, args...)}
}

// transition moves th to state to if it is currently in one of from. The
// thread must hold a CPU.
func (s *System) transition(op string, th *Thread, to ThreadState, from ...ThreadState) error {
	if th.CPU == nil {
		return s.stateError(op, th, "thread has no CPU")
	}
	for _, f := range from {
		if th.State == f {
			th.State = to
			s.queue(th.CPU)
			return nil
		}
	}
	return s.stateError(op, th, "cannot go from %s to %s", th.State, to)
}

// Execute starts th on cpu and enables its channels.
func (s *System) Execute(th *Thread, cpu *CPU) error {
	if th.State != Unknown {
		return s.stateError("execute", th, "thread already started")
	}
	if err := s.Assign(th, cpu); err != nil {
		return err
	}
	th.State = Running
	for _, ch := range th.Chans {
		if ch != nil && !ch.Enabled() {
			if err := ch.Enable(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pause moves a running or cooling thread to Paused.
func (s *System) Pause(th *Thread) error {
	return s.transition("pause", th, Paused, Running, Cooling)
}

// Resume moves a paused or warming thread to Running.
func (s *System) Resume(th *Thread) error {
	return s.transition("resume", th, Running, Paused, Warming)
}

// Cool moves a running thread to Cooling.
func (s *System) Cool(th *Thread) error {
	return s.transition("cool", th, Cooling, Running)
}

// Warm moves a paused thread to Warming.
func (s *System) Warm(th *Thread) error {
	return s.transition("warm", th, Warming, Paused)
}

// End terminates a running or cooling thread, disables its channels and
// releases its CPU.
func (s *System) End(th *Thread) error {
	if err := s.transition("end", th, Dead, Running, Cooling); err != nil {
		return err
	}
	for _, ch := range th.Chans {
		if ch != nil && ch.Enabled() {
			if err := ch.Disable(); err != nil {
				return err
			}
		}
	}
	return s.Unassign(th)
}

// Assign binds th to cpu. The thread must not hold a CPU.
func (s *System) Assign(th *Thread, cpu *CPU) error {
	if th.CPU != nil {
		return s.stateError("assign", th, "thread already on cpu %s", th.CPU.Label())
	}
	if cpu.Loom != th.Proc.Loom {
		return s.stateError("assign", th, "cpu %s belongs to loom %s", cpu.Label(), cpu.Loom.Host)
	}
	th.CPU = cpu
	cpu.add(th)
	s.queue(cpu)
	return nil
}

// Unassign releases the CPU of th.
func (s *System) Unassign(th *Thread) error {
	if th.CPU == nil {
		return s.stateError("unassign", th, "thread has no CPU")
	}
	cpu := th.CPU
	if !cpu.remove(th) {
		return s.stateError("unassign", th, "thread missing from cpu %s", cpu.Label())
	}
	th.CPU = nil
	s.queue(cpu)
	return nil
}

// Migrate moves th from its CPU to cpu. Both CPUs are re-aggregated.
func (s *System) Migrate(th *Thread, cpu *CPU) error {
	if err := s.Unassign(th); err != nil {
		return err
	}
	return s.Assign(th, cpu)
}
