package emu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/clkoff"
	"github.com/roach88/ovniemu/internal/metadata"
	"github.com/roach88/ovniemu/internal/model"
	"github.com/roach88/ovniemu/internal/player"
	"github.com/roach88/ovniemu/internal/stream"
	"github.com/roach88/ovniemu/internal/system"
	"github.com/roach88/ovniemu/internal/task"
)

// progressEvery is the number of events between progress reports.
const progressEvery = 1 << 16

// Metrics receives counters from a run. Methods are only called from the
// goroutine running Load, Run and Finish.
type Metrics interface {
	Event(mcv string)
	Warning(code ErrorCode)
	Regions(n int)
	Jumps(n int)
}

type nopMetrics struct{}

func (nopMetrics) Event(string)      {}
func (nopMetrics) Warning(ErrorCode) {}
func (nopMetrics) Regions(int)       {}
func (nopMetrics) Jumps(int)         {}

// Option configures an Emulator.
type Option func(*Emulator)

// WithLinter makes ordering and logic errors fatal and enables the
// end-of-run consistency checks.
func WithLinter(on bool) Option {
	return func(e *Emulator) {
		e.linter = on
	}
}

// WithLookback sets the number of in-order events the region repair looks
// back through.
//
// Default: stream.DefaultWindow
func WithLookback(n int) Option {
	return func(e *Emulator) {
		e.lookback = n
	}
}

// WithClockOffsets applies per-host clock offsets. Every loom of the trace
// must have an entry.
func WithClockOffsets(t *clkoff.Table) Option {
	return func(e *Emulator) {
		e.offsets = t
	}
}

// WithProgress registers a callback receiving the fraction of events
// replayed, from 0 to 1.
func WithProgress(fn func(done float64)) Option {
	return func(e *Emulator) {
		e.progress = fn
	}
}

// WithMetrics sets the counters sink.
func WithMetrics(m Metrics) Option {
	return func(e *Emulator) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithTracer sets the tracer used for phase spans.
//
// Default: the global otel tracer provider
func WithTracer(t trace.Tracer) Option {
	return func(e *Emulator) {
		e.tracer = t
	}
}

// WithLoadLimit bounds the number of streams opened and repaired at once.
//
// Default: runtime.NumCPU()
func WithLoadLimit(n int) Option {
	return func(e *Emulator) {
		e.loadLimit = n
	}
}

// Stats summarizes a run.
type Stats struct {
	Streams  int
	Threads  int
	CPUs     int
	Events   int64
	Warnings int64
	Regions  int
	Jumps    int

	// Duration is the output time of the last event, in nanoseconds.
	Duration int64

	Bursts []model.BurstStats
}

// Emulator replays a trace through the models and emits channel records.
type Emulator struct {
	trace      *metadata.Trace
	specs      []*model.Spec
	threadSink channel.Sink
	cpuSink    channel.Sink

	linter    bool
	lookback  int
	offsets   *clkoff.Table
	progress  func(float64)
	metrics   Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	loadLimit int

	streams []*stream.Stream
	sys     *system.System
	reg     *model.Registry
	ovni    *model.Ovni
	player  *player.Player

	started bool
	first   int64
	now     int64

	stats Stats
}

// New returns an emulator for tr running the given models. Thread records
// go to threadSink and CPU records to cpuSink.
func New(tr *metadata.Trace, specs []*model.Spec, threadSink, cpuSink channel.Sink, opts ...Option) *Emulator {
	e := &Emulator{
		trace:      tr,
		specs:      specs,
		threadSink: threadSink,
		cpuSink:    cpuSink,
		lookback:   stream.DefaultWindow,
		metrics:    nopMetrics{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/roach88/ovniemu/internal/emu"),
		loadLimit:  runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// System returns the entities of the run. Only valid after Load.
func (e *Emulator) System() *system.System { return e.sys }

// Load opens and repairs every stream, applies clock offsets and builds the
// system and the model registry.
func (e *Emulator) Load(ctx context.Context) (err error) {
	ctx, span := e.tracer.Start(ctx, "emu.load")
	defer func() { endSpan(span, err) }()

	if err := e.openStreams(ctx); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int("streams", len(e.streams)),
		attribute.Int("regions", e.stats.Regions))

	layout, err := model.BuildLayout(e.specs)
	if err != nil {
		return err
	}
	e.sys, err = system.New(e.trace, layout, e.threadSink, e.cpuSink,
		system.WithLinter(e.linter),
		system.WithLogger(e.logger))
	if err != nil {
		return err
	}

	if err := e.applyOffsets(); err != nil {
		return err
	}
	if err := e.buildRegistry(layout); err != nil {
		return err
	}

	e.player, err = player.New(e.streams,
		player.WithStrict(e.linter),
		player.WithLogger(e.logger))
	if err != nil {
		return e.wrap(err, nil, 0)
	}

	e.stats.Streams = len(e.streams)
	e.stats.Threads = len(e.sys.Threads)
	e.stats.CPUs = len(e.sys.CPUs)
	e.logger.Info("trace loaded",
		"dir", e.trace.Dir,
		"looms", len(e.sys.Looms),
		"threads", e.stats.Threads,
		"cpus", e.stats.CPUs,
		"regions", e.stats.Regions)
	return nil
}

func (e *Emulator) openStreams(ctx context.Context) error {
	var paths []string
	for _, l := range e.trace.Looms {
		for _, p := range l.Procs {
			for _, th := range p.Threads {
				paths = append(paths, th.Path)
			}
		}
	}

	streams := make([]*stream.Stream, len(paths))
	regions := make([]int, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.loadLimit, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := stream.Open(path)
			if err != nil {
				return e.wrap(err, nil, 0)
			}
			streams[i] = s

			n, err := stream.Repair(s.Events(), e.lookback)
			regions[i] = n
			if err != nil {
				var re *stream.RegionError
				if errors.As(err, &re) {
					re.Stream = path
				}
				werr := e.wrap(err, nil, 0)
				if !werr.Code.Tolerable() || e.linter {
					return werr
				}
				e.logger.Warn("stream left unsorted", "stream", path, "err", err)
			}
			return nil
		})
	}

	err := g.Wait()
	e.streams = streams
	if err != nil {
		_ = e.Close()
		return err
	}

	for _, n := range regions {
		e.stats.Regions += n
	}
	e.metrics.Regions(e.stats.Regions)
	return nil
}

func (e *Emulator) applyOffsets() error {
	if e.offsets == nil {
		if len(e.sys.Looms) > 1 {
			e.logger.Warn("no clock offsets for a trace with several looms, clocks may not be comparable",
				"looms", len(e.sys.Looms))
		}
		return nil
	}

	for _, loom := range e.sys.Looms {
		off, err := e.offsets.Lookup(loom.Host)
		if err != nil {
			return err
		}
		loom.Offset = off
	}
	for i, th := range e.sys.Threads {
		e.streams[i].SetOffset(th.Proc.Loom.Offset)
	}
	return nil
}

func (e *Emulator) buildRegistry(layout system.Layout) error {
	e.reg = model.NewRegistry(e.logger)
	for _, spec := range e.specs {
		var m model.Interpreter
		switch {
		case spec.Builtin && spec.ID == model.OvniID:
			ovni, err := model.NewOvni(spec, layout, e.logger)
			if err != nil {
				return err
			}
			e.ovni = ovni
			m = ovni
		case spec.Builtin:
			return fmt.Errorf("model %s: no built-in implementation for id %q", spec.Name, spec.ID)
		default:
			tab, err := model.NewTable(spec, layout)
			if err != nil {
				return err
			}
			m = tab
		}
		if err := e.reg.Register(m); err != nil {
			return err
		}
	}
	if e.ovni == nil {
		return fmt.Errorf("model ovni is required")
	}
	return nil
}

// Run replays every event. Cancellation is checked between events; records
// emitted before an abort are valid.
func (e *Emulator) Run(ctx context.Context) (err error) {
	ctx, span := e.tracer.Start(ctx, "emu.run")
	defer func() {
		span.SetAttributes(attribute.Int64("events", e.stats.Events))
		endSpan(span, err)
	}()

	if e.player == nil {
		return fmt.Errorf("emulator not loaded")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		step, ok, err := e.player.Next()
		if err != nil {
			return e.wrap(err, nil, step.Clock)
		}
		if !ok {
			break
		}
		if err := e.Step(step); err != nil {
			return err
		}

		if e.progress != nil && e.stats.Events%progressEvery == 0 {
			e.progress(e.player.Progress())
		}
	}

	if e.progress != nil {
		e.progress(1)
	}
	return nil
}

// Step processes one event of the merged sequence: dispatch to its model,
// propagation to the CPUs and emission of the dirty channels.
func (e *Emulator) Step(step player.Step) error {
	th := e.sys.Threads[step.Stream]

	if !e.started {
		e.started = true
		e.first = step.Clock
	}
	// Output time never goes back, even after a tolerated jump.
	if t := step.Clock - e.first; t > e.now {
		e.now = t
	}
	e.sys.Bay.SetTime(e.now)

	ctx := &model.Context{
		Ev:     &step.Event,
		Clock:  step.Clock,
		Thread: th,
		Proc:   th.Proc,
		Loom:   th.Proc.Loom,
		Sys:    e.sys,
	}

	if err := e.reg.Dispatch(ctx); err != nil {
		if err := e.tolerate(err, ctx); err != nil {
			return err
		}
	}
	if err := e.sys.Propagate(); err != nil {
		if err := e.tolerate(err, ctx); err != nil {
			return err
		}
	}
	if err := e.sys.Bay.Flush(); err != nil {
		if err := e.tolerate(err, ctx); err != nil {
			return err
		}
		// Channels rejected by the flush were marked bad: emit them now, at
		// the time of the offending event.
		if err := e.reflush(ctx); err != nil {
			return err
		}
	}

	e.stats.Events++
	e.metrics.Event(ctx.Ev.MCV())
	return nil
}

func (e *Emulator) reflush(ctx *model.Context) error {
	if err := e.sys.Propagate(); err != nil {
		if err := e.tolerate(err, ctx); err != nil {
			return err
		}
	}
	if err := e.sys.Bay.Flush(); err != nil {
		return e.tolerate(err, ctx)
	}
	return nil
}

// tolerate applies the error policy to every error joined in err. It returns
// the first error that must abort the run.
func (e *Emulator) tolerate(err error, ctx *model.Context) error {
	for _, leaf := range leaves(err) {
		werr := e.wrap(leaf, ctx.Thread, ctx.Clock)
		werr.MCV = ctx.Ev.MCV()
		if !werr.Code.Tolerable() || e.linter {
			return werr
		}

		e.stats.Warnings++
		e.metrics.Warning(werr.Code)
		e.logger.Warn("emulation error",
			"code", werr.Code,
			"tid", werr.Thread,
			"clock", werr.Clock,
			"mcv", werr.MCV,
			"err", leaf)

		for _, ch := range offendingChannels(leaf) {
			ch.MarkBad()
		}
	}
	return nil
}

func (e *Emulator) wrap(err error, th *system.Thread, clock int64) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	werr = &Error{
		Code:    Classify(err),
		Message: err.Error(),
		Clock:   clock,
		Err:     err,
	}
	if th != nil {
		werr.Thread = th.TID
	}
	return werr
}

// Stats returns the statistics gathered so far. Finish returns the complete
// ones; Stats serves runs that stopped early.
func (e *Emulator) Stats() Stats {
	st := e.stats
	st.Duration = e.now
	if e.player != nil {
		st.Jumps = e.player.Jumps()
	}
	return st
}

// Finish runs the end-of-run checks and the model finishers and returns the
// run statistics. In linter mode, unbalanced channel stacks and tasks left
// running are errors.
func (e *Emulator) Finish(ctx context.Context) (stats Stats, err error) {
	_, span := e.tracer.Start(ctx, "emu.finish")
	defer func() { endSpan(span, err) }()

	if e.sys == nil {
		return e.stats, fmt.Errorf("emulator not loaded")
	}

	var problems []error
	for _, th := range e.sys.Threads {
		for _, ch := range th.Chans {
			switch {
			case ch == nil:
			case ch.Depth() > 1:
				problems = append(problems, fmt.Errorf("thread %d: channel %s ends with %d stacked values", th.TID, ch.Name(), ch.Depth()-1))
			case ch.Depth() == 0:
				problems = append(problems, fmt.Errorf("thread %d: channel %s ends with an empty stack", th.TID, ch.Name()))
			}
		}
	}
	for _, loom := range e.sys.Looms {
		for _, proc := range loom.Procs {
			tables := proc.TaskTables()
			ids := make([]int, 0, len(tables))
			for id := range tables {
				ids = append(ids, int(id))
			}
			sort.Ints(ids)
			for _, id := range ids {
				for _, tk := range tables[byte(id)].Tasks() {
					if tk.State == task.Running {
						problems = append(problems, fmt.Errorf("process %d: task %d of model %q still running on thread %d", proc.PID, tk.ID, id, tk.Thread))
					}
				}
			}
		}
	}
	for _, p := range problems {
		if e.linter {
			return e.stats, &Error{Code: ErrCodeLogic, Message: p.Error(), Err: p}
		}
		e.stats.Warnings++
		e.metrics.Warning(ErrCodeLogic)
		e.logger.Warn("inconsistent end of trace", "err", p)
	}

	if err := e.reg.Finish(e.sys); err != nil {
		return e.stats, err
	}

	if e.player != nil {
		e.stats.Jumps = e.player.Jumps()
		e.metrics.Jumps(e.stats.Jumps)
	}
	e.stats.Duration = e.now
	e.stats.Bursts = e.ovni.Bursts(e.sys)
	return e.stats, nil
}

// Close releases the stream mappings.
func (e *Emulator) Close() error {
	var errs []error
	for _, s := range e.streams {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	e.streams = nil
	return errors.Join(errs...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
