package model

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/ovniemu/internal/system"
)

// OvniID is the model id of the built-in ovni model.
const OvniID = 'O'

// MaxBursts is the number of burst events recorded per thread.
const MaxBursts = 100

// Channels the ovni model drives.
const (
	ChanTID      = "tid"
	ChanPID      = "pid"
	ChanAppID    = "appid"
	ChanRank     = "rank"
	ChanState    = "state"
	ChanCPU      = "cpu"
	ChanFlush    = "flush"
	ChanNThreads = "nthreads"
)

// flushing is the value pushed on the flush channel.
const flushing = 1

// BurstError reports a thread with more bursts than MaxBursts.
type BurstError struct {
	TID int
}

func (e *BurstError) Error() string {
	return fmt.Sprintf("thread %d: more than %d burst events", e.TID, MaxBursts)
}

// Resource marks the error as resource exhaustion.
func (e *BurstError) Resource() bool { return true }

// Ovni is the built-in model: thread lifecycle, CPU affinity, flushes and
// bursts.
type Ovni struct {
	spec   *Spec
	logger *slog.Logger

	tid, pid, appid, rank, state, cpu, flush, nthreads int

	// byTID indexes the threads of each loom for remote affinity events.
	byTID map[*system.Loom]map[int]*system.Thread
}

type ovniThread struct {
	bursts []int64
}

// NewOvni binds the ovni model to the channel slots of layout.
func NewOvni(spec *Spec, layout system.Layout, logger *slog.Logger) (*Ovni, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Ovni{spec: spec, logger: logger, byTID: make(map[*system.Loom]map[int]*system.Thread)}

	slots := map[string]*int{
		ChanTID: &o.tid, ChanPID: &o.pid, ChanAppID: &o.appid, ChanRank: &o.rank,
		ChanState: &o.state, ChanCPU: &o.cpu, ChanFlush: &o.flush, ChanNThreads: &o.nthreads,
	}
	for name, dst := range slots {
		slot, ok := layout.Index(spec.Qualified(name))
		if !ok {
			return nil, fmt.Errorf("ovni model: missing channel %q", name)
		}
		*dst = slot
	}
	if !layout[o.nthreads].CPU {
		return nil, fmt.Errorf("ovni model: channel %q must be a CPU channel", ChanNThreads)
	}
	return o, nil
}

// ID returns OvniID.
func (o *Ovni) ID() byte { return o.spec.ID }

// Process interprets one ovni event.
func (o *Ovni) Process(ctx *Context) error {
	e := ctx.Ev
	switch e.Category {
	case 'H':
		return o.thread(ctx)
	case 'A':
		return o.affinity(ctx)
	case 'B':
		return o.burst(ctx)
	case 'F':
		return o.flushEvent(ctx)
	case 'U':
		if e.Value == '[' || e.Value == ']' {
			return nil
		}
	case 'C':
		if e.Value == 'n' {
			return nil
		}
	}
	return &UnknownEventError{MCV: e.MCV(), Reason: "not handled by model ovni"}
}

func (o *Ovni) thread(ctx *Context) error {
	sys, th := ctx.Sys, ctx.Thread

	switch ctx.Ev.Value {
	case 'C':
		// Thread creation is only informative.
		return nil

	case 'x':
		cpu, err := o.cpuArg(ctx, 0)
		if err != nil {
			return err
		}
		if err := sys.Execute(th, cpu); err != nil {
			return fault(err, th.Chans[o.state])
		}
		ids := [...]struct {
			slot int
			v    int64
		}{
			{o.tid, int64(th.TID)},
			{o.pid, int64(th.Proc.PID)},
			{o.appid, int64(th.Proc.AppID)},
			{o.rank, int64(th.Proc.Rank)},
		}
		for _, id := range ids {
			if err := th.Chans[id.slot].Set(id.v); err != nil {
				return err
			}
		}
		if err := o.setCPU(th); err != nil {
			return err
		}
		return o.setState(th, cpu)

	case 'e':
		prev := th.CPU
		if err := sys.End(th); err != nil {
			return fault(err, th.Chans[o.state])
		}
		return o.updateNThreads(prev)
	}

	var err error
	switch ctx.Ev.Value {
	case 'p':
		err = sys.Pause(th)
	case 'r':
		err = sys.Resume(th)
	case 'c':
		err = sys.Cool(th)
	case 'w':
		err = sys.Warm(th)
	default:
		return &UnknownEventError{MCV: ctx.Ev.MCV(), Reason: "not handled by model ovni"}
	}
	if err != nil {
		return fault(err, th.Chans[o.state])
	}
	return o.setState(th, th.CPU)
}

func (o *Ovni) setState(th *system.Thread, cpu *system.CPU) error {
	if err := th.Chans[o.state].Set(int64(th.State)); err != nil {
		return err
	}
	return o.updateNThreads(cpu)
}

func (o *Ovni) setCPU(th *system.Thread) error {
	v := int64(-1)
	if !th.CPU.Virtual {
		v = int64(th.CPU.Index + 1)
	}
	return th.Chans[o.cpu].Set(v)
}

func (o *Ovni) updateNThreads(cpus ...*system.CPU) error {
	for _, c := range cpus {
		if c == nil {
			continue
		}
		if err := c.Chans[o.nthreads].Set(int64(len(c.Running()))); err != nil {
			return err
		}
	}
	return nil
}

func (o *Ovni) cpuArg(ctx *Context, i int) (*system.CPU, error) {
	idx, err := ctx.Ev.Int32(i)
	if err != nil {
		return nil, err
	}
	cpu, ok := ctx.Loom.CPU(int(idx))
	if !ok {
		return nil, &InputError{MCV: ctx.Ev.MCV(), Msg: fmt.Sprintf("loom %s has no cpu %d", ctx.Loom.Host, idx)}
	}
	return cpu, nil
}

func (o *Ovni) affinity(ctx *Context) error {
	switch ctx.Ev.Value {
	case 's':
		cpu, err := o.cpuArg(ctx, 0)
		if err != nil {
			return err
		}
		return o.migrate(ctx, ctx.Thread, cpu)

	case 'r':
		cpu, err := o.cpuArg(ctx, 0)
		if err != nil {
			return err
		}
		tid, err := ctx.Ev.Int32(1)
		if err != nil {
			return err
		}
		remote, ok := o.lookup(ctx.Loom, int(tid))
		if !ok {
			return &InputError{MCV: ctx.Ev.MCV(), Msg: fmt.Sprintf("loom %s has no thread %d", ctx.Loom.Host, tid)}
		}
		return o.migrate(ctx, remote, cpu)
	}
	return &UnknownEventError{MCV: ctx.Ev.MCV(), Reason: "not handled by model ovni"}
}

func (o *Ovni) migrate(ctx *Context, th *system.Thread, cpu *system.CPU) error {
	from := th.CPU
	if from == cpu {
		return nil
	}
	if err := ctx.Sys.Migrate(th, cpu); err != nil {
		return err
	}
	if err := o.setCPU(th); err != nil {
		return err
	}
	return o.updateNThreads(from, cpu)
}

func (o *Ovni) lookup(loom *system.Loom, tid int) (*system.Thread, bool) {
	idx, ok := o.byTID[loom]
	if !ok {
		idx = make(map[int]*system.Thread)
		for _, p := range loom.Procs {
			for _, th := range p.Threads {
				idx[th.TID] = th
			}
		}
		o.byTID[loom] = idx
	}
	th, ok := idx[tid]
	return th, ok
}

func (o *Ovni) burst(ctx *Context) error {
	if ctx.Ev.Value != 'b' {
		return &UnknownEventError{MCV: ctx.Ev.MCV(), Reason: "not handled by model ovni"}
	}
	ext, _ := ctx.Thread.Ext(OvniID).(*ovniThread)
	if ext == nil {
		ext = &ovniThread{}
		ctx.Thread.SetExt(OvniID, ext)
	}
	if len(ext.bursts) >= MaxBursts {
		return &BurstError{TID: ctx.Thread.TID}
	}
	ext.bursts = append(ext.bursts, ctx.Clock)
	return nil
}

func (o *Ovni) flushEvent(ctx *Context) error {
	ch := ctx.Thread.Chans[o.flush]
	switch ctx.Ev.Value {
	case '[':
		return ch.Push(flushing)
	case ']':
		_, err := ch.Pop(flushing)
		return err
	}
	return &UnknownEventError{MCV: ctx.Ev.MCV(), Reason: "not handled by model ovni"}
}

// BurstStats summarizes the gaps between consecutive bursts of a thread.
type BurstStats struct {
	TID    int
	Count  int
	Median int64
	Min    int64
	Max    int64
	Mean   float64
}

// Bursts returns the burst statistics of every thread with at least two
// bursts.
func (o *Ovni) Bursts(sys *system.System) []BurstStats {
	var out []BurstStats
	for _, th := range sys.Threads {
		ext, _ := th.Ext(OvniID).(*ovniThread)
		if ext == nil || len(ext.bursts) < 2 {
			continue
		}
		deltas := make([]int64, len(ext.bursts)-1)
		var sum int64
		for i := range deltas {
			deltas[i] = ext.bursts[i+1] - ext.bursts[i]
			sum += deltas[i]
		}
		sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
		out = append(out, BurstStats{
			TID:    th.TID,
			Count:  len(ext.bursts),
			Median: deltas[len(deltas)/2],
			Min:    deltas[0],
			Max:    deltas[len(deltas)-1],
			Mean:   float64(sum) / float64(len(deltas)),
		})
	}
	return out
}

// Finish logs the burst statistics.
func (o *Ovni) Finish(sys *system.System) error {
	for _, b := range o.Bursts(sys) {
		o.logger.Info("burst stats",
			"tid", b.TID, "bursts", b.Count,
			"median_ns", b.Median, "min_ns", b.Min, "max_ns", b.Max, "mean_ns", b.Mean)
	}
	return nil
}
