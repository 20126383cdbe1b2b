// Package system models the entities of a trace: looms, processes, threads
// and CPUs, and the state machines that move threads between CPUs.
//
// Every thread and CPU owns one channel per slot of the channel Layout. All
// channels share a single Bay, so a flush after each event emits the
// coalesced state of every entity touched by that event.
//
// Threads are the only entities driven directly by events. CPU channels with
// a tracking mode follow the threads assigned to them: whenever a thread
// changes state, migrates or dirties a tracked channel, its CPU is queued and
// Propagate re-aggregates it before the flush.
//
// Rows are numbered from 1 in a fixed order: threads by (host, pid, tid) and
// CPUs by (host, index) with the virtual CPU of each loom after its physical
// ones.
package system

import (
	"fmt"
	"log/slog"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/metadata"
	"github.com/roach88/ovniemu/internal/task"
)

// VirtualCPU is the index of the per-loom CPU for threads not bound to a
// physical CPU.
const VirtualCPU = -1

// ChanSpec declares one channel slot.
type ChanSpec struct {
	// Name is unique within the layout, e.g. "ovni.state".
	Name string

	// Type is the record type id.
	Type int

	// Dup is the duplicate policy of the thread channel.
	Dup channel.Dup

	// Track is how the CPU mirror of this slot follows its threads.
	// TrackNone slots only exist on threads.
	Track channel.Track

	// CPU marks a slot that only exists on CPUs and is driven by hand.
	CPU bool
}

// Layout is the ordered list of channel slots of a run.
type Layout []ChanSpec

// Index returns the slot of the named channel.
func (l Layout) Index(name string) (int, bool) {
	for i, c := range l {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (c ChanSpec) onThread() bool { return !c.CPU }

func (c ChanSpec) onCPU() bool { return c.CPU || c.Track != channel.TrackNone }

// Loom is a node of the trace.
type Loom struct {
	Host  string
	Index int

	// CPUs are the physical CPUs sorted by index.
	CPUs []*CPU
	VCPU *CPU

	Procs  []*Process
	Offset int64

	byIndex map[int]*CPU
}

// CPU returns the CPU with the given logical index, VirtualCPU included.
func (l *Loom) CPU(index int) (*CPU, bool) {
	if index == VirtualCPU {
		return l.VCPU, true
	}
	c, ok := l.byIndex[index]
	return c, ok
}

// Process is one traced process.
type Process struct {
	PID    int
	AppID  int
	Rank   int
	NRanks int

	Loom    *Loom
	Threads []*Thread

	tables map[byte]*task.Table
	reg    *task.Registry
}

// Tasks returns the task table of the process for the given model.
func (p *Process) Tasks(model byte) *task.Table {
	t, ok := p.tables[model]
	if !ok {
		t = task.NewTable(p.reg)
		p.tables[model] = t
	}
	return t
}

// TaskTables returns the task tables created so far, keyed by model id.
func (p *Process) TaskTables() map[byte]*task.Table { return p.tables }

// Option configures a System.
type Option func(*System)

// WithLinter turns oversubscribed physical CPUs into errors.
func WithLinter(on bool) Option {
	return func(s *System) {
		s.linter = on
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) {
		s.logger = logger
	}
}

// System holds every entity of a run and their channels.
type System struct {
	Layout Layout
	Bay    *channel.Bay
	Tasks  *task.Registry

	Looms   []*Loom
	Threads []*Thread
	CPUs    []*CPU

	linter bool
	logger *slog.Logger

	pending []*CPU
}

// New builds the entities of tr with one channel per layout slot. Thread
// records go to threadSink and CPU records to cpuSink. Threads appear in the
// same order as the streams of tr (host, pid, tid).
func New(tr *metadata.Trace, layout Layout, threadSink, cpuSink channel.Sink, opts ...Option) (*System, error) {
	s := &System{
		Layout: layout,
		Bay:    channel.NewBay(),
		Tasks:  task.NewRegistry(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	seen := make(map[string]bool, len(layout))
	for _, c := range layout {
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate channel %q in layout", c.Name)
		}
		seen[c.Name] = true
	}

	for li, ml := range tr.Looms {
		loom := &Loom{Host: ml.Host, Index: li, byIndex: make(map[int]*CPU)}
		for _, mc := range ml.CPUs {
			cpu := s.newCPU(loom, mc.Index, mc.PhyID, cpuSink)
			loom.CPUs = append(loom.CPUs, cpu)
			loom.byIndex[mc.Index] = cpu
		}
		loom.VCPU = s.newCPU(loom, VirtualCPU, VirtualCPU, cpuSink)

		for _, mp := range ml.Procs {
			proc := &Process{
				PID:    mp.PID,
				AppID:  mp.Meta.AppID,
				Rank:   mp.Meta.Rank,
				NRanks: mp.Meta.NRanks,
				Loom:   loom,
				tables: make(map[byte]*task.Table),
				reg:    s.Tasks,
			}
			for _, mt := range mp.Threads {
				th := s.newThread(proc, mt.TID, threadSink)
				proc.Threads = append(proc.Threads, th)
			}
			loom.Procs = append(loom.Procs, proc)
		}
		s.Looms = append(s.Looms, loom)
	}

	return s, nil
}

func (s *System) newCPU(loom *Loom, index, phyid int, sink channel.Sink) *CPU {
	cpu := &CPU{
		Index:   index,
		PhyID:   phyid,
		Loom:    loom,
		Virtual: index == VirtualCPU,
		Row:     len(s.CPUs) + 1,
		Chans:   make([]*channel.Channel, len(s.Layout)),
	}
	for i, spec := range s.Layout {
		if !spec.onCPU() {
			continue
		}
		dup := channel.DupSkip
		if spec.CPU {
			dup = spec.Dup
		}
		ch := channel.New(fmt.Sprintf("%s.cpu%s.%s", loom.Host, cpu.Label(), spec.Name),
			channel.Config{Type: spec.Type, Dup: dup})
		s.Bay.Add(ch, sink, cpu.Row)
		if spec.CPU {
			// Hand-driven CPU channels are always on.
			ch.Enable()
		}
		cpu.Chans[i] = ch
	}
	s.CPUs = append(s.CPUs, cpu)
	return cpu
}

func (s *System) newThread(proc *Process, tid int, sink channel.Sink) *Thread {
	th := &Thread{
		TID:    tid,
		Proc:   proc,
		Row:    len(s.Threads) + 1,
		Chans:  make([]*channel.Channel, len(s.Layout)),
		stacks: make(map[byte]*task.Stack),
		ext:    make(map[byte]any),
	}
	for i, spec := range s.Layout {
		if !spec.onThread() {
			continue
		}
		ch := channel.New(fmt.Sprintf("%s.pid%d.tid%d.%s", proc.Loom.Host, proc.PID, tid, spec.Name),
			channel.Config{Type: spec.Type, Dup: spec.Dup})
		s.Bay.Add(ch, sink, th.Row)
		if spec.Track != channel.TrackNone {
			ch.SetHook(func(*channel.Channel) { s.touch(th) })
		}
		th.Chans[i] = ch
	}
	s.Threads = append(s.Threads, th)
	return th
}

// touch queues the CPU of th for propagation.
func (s *System) touch(th *Thread) {
	if th.CPU != nil {
		s.queue(th.CPU)
	}
}

func (s *System) queue(cpu *CPU) {
	if cpu.pending {
		return
	}
	cpu.pending = true
	s.pending = append(s.pending, cpu)
}

// Propagate re-aggregates the tracking channels of every queued CPU, in the
// order they were queued, and empties the queue. Errors from all CPUs are
// returned together.
func (s *System) Propagate() error {
	var errs []error
	for i := 0; i < len(s.pending); i++ {
		cpu := s.pending[i]
		cpu.pending = false
		errs = append(errs, s.aggregate(cpu)...)
	}
	for i := range s.pending {
		s.pending[i] = nil
	}
	s.pending = s.pending[:0]
	return joinErrors(errs)
}

func (s *System) aggregate(cpu *CPU) []error {
	running := cpu.Running()
	active := cpu.Active()

	var errs []error
	if s.linter && !cpu.Virtual && len(running) > 1 {
		errs = append(errs, &StateError{
			Op:  "propagate",
			TID: running[1].TID,
			Msg: fmt.Sprintf("cpu %s of %s has %d running threads", cpu.Label(), cpu.Loom.Host, len(running)),
		})
	}

	for i, spec := range s.Layout {
		var threads []*Thread
		switch spec.Track {
		case channel.TrackRunning:
			threads = running
		case channel.TrackActive:
			threads = active
		default:
			continue
		}
		chans := make([]*channel.Channel, len(threads))
		for j, th := range threads {
			chans[j] = th.Chans[i]
		}
		if err := channel.Aggregate(cpu.Chans[i], chans); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Pending returns the number of CPUs queued for propagation.
func (s *System) Pending() int { return len(s.pending) }

// Logger returns the logger of the system.
func (s *System) Logger() *slog.Logger { return s.logger }

// Linter reports whether linter mode is on.
func (s *System) Linter() bool { return s.linter }
