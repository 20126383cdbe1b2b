package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/clkoff"
	"github.com/roach88/ovniemu/internal/config"
	"github.com/roach88/ovniemu/internal/emu"
	"github.com/roach88/ovniemu/internal/metadata"
	"github.com/roach88/ovniemu/internal/model"
	"github.com/roach88/ovniemu/internal/prv"
	"github.com/roach88/ovniemu/internal/store"
	"github.com/roach88/ovniemu/internal/telemetry"
)

// EmuOptions holds flags for the emu command.
type EmuOptions struct {
	*RootOptions
	NoProgress bool
}

// EmuResult is the outcome of an emulation.
type EmuResult struct {
	TraceDir  string `json:"trace_dir"`
	OutputDir string `json:"output_dir"`
	RunID     string `json:"run_id,omitempty"`

	Streams  int   `json:"streams"`
	Threads  int   `json:"threads"`
	CPUs     int   `json:"cpus"`
	Events   int64 `json:"events"`
	Warnings int64 `json:"warnings"`
	Regions  int   `json:"regions"`
	Jumps    int   `json:"jumps"`
	Duration int64 `json:"duration_ns"`

	Bursts []model.BurstStats `json:"bursts,omitempty"`
}

// NewEmuCommand creates the emu command.
func NewEmuCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmuOptions{RootOptions: rootOpts}
	flags := &emuFlags{}

	cmd := &cobra.Command{
		Use:   "emu <trace-dir>",
		Short: "Emulate a trace and write Paraver traces",
		Long: `Replay every thread stream of a trace in global clock order through
the models and write the thread and CPU views as Paraver traces.

Outside linter mode, inconsistent events are reported as warnings and the
affected channels show the bad value 666. In linter mode the first error
stops the emulation.

Exit codes:
  0 - Emulation finished
  1 - Emulation stopped by an error
  2 - Command error (invalid paths, bad config, models that do not compile)

Examples:
  ovniemu emu ./ovni
  ovniemu emu ./ovni --linter
  ovniemu emu ./ovni -o ./out --store runs.db
  ovniemu emu ./ovni --clock-offsets ./ovni/clock-offsets.txt --metrics emu.prom`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *opts.Config
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return WrapExitError(ExitCommandError, "invalid options", err)
			}
			return runEmu(cmd.Context(), opts, &cfg, args[0], cmd)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "do not show the progress bar")

	return cmd
}

// emuFlags are the command line overrides of the config file.
type emuFlags struct {
	linter       bool
	lookback     int
	loadLimit    int
	models       string
	clockOffsets string
	output       string
	store        string
	metrics      string
	spans        string
}

func (f *emuFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.BoolVarP(&f.linter, "linter", "l", false, "stop at the first emulation error")
	fl.IntVar(&f.lookback, "lookback", 0, "events searched back when repairing an unsorted region")
	fl.IntVar(&f.loadLimit, "load-limit", 0, "streams opened and repaired at once (0 = one per CPU)")
	fl.StringVar(&f.models, "models", "", "directory of extra CUE model tables")
	fl.StringVar(&f.clockOffsets, "clock-offsets", "", "clock offset table")
	fl.StringVarP(&f.output, "output", "o", "", "Paraver output directory (default <trace-dir>/prv)")
	fl.StringVar(&f.store, "store", "", "SQLite run store")
	fl.StringVar(&f.metrics, "metrics", "", "write Prometheus metrics to this file")
	fl.StringVar(&f.spans, "spans", "", "write phase spans as JSON to this file")
}

// apply overrides cfg with the flags set on the command line.
func (f *emuFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("linter") {
		cfg.Emu.Linter = f.linter
	}
	if fl.Changed("lookback") {
		cfg.Emu.Lookback = f.lookback
	}
	if fl.Changed("load-limit") {
		cfg.Emu.LoadLimit = f.loadLimit
	}
	if fl.Changed("models") {
		cfg.Emu.ModelsDir = f.models
	}
	if fl.Changed("clock-offsets") {
		cfg.Emu.ClockOffsets = f.clockOffsets
	}
	if fl.Changed("output") {
		// Used as given, not relative to the trace.
		cfg.Output.Dir, _ = filepath.Abs(f.output)
	}
	if fl.Changed("store") {
		cfg.Output.Store = f.store
	}
	if fl.Changed("metrics") {
		cfg.Telemetry.MetricsFile = f.metrics
	}
	if fl.Changed("spans") {
		cfg.Telemetry.SpansFile = f.spans
	}
}

func runEmu(ctx context.Context, opts *EmuOptions, cfg *config.Config, traceDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.Logger

	models, err := LoadModels(cfg.Emu.ModelsDir)
	if err != nil {
		return commandError(formatter, err)
	}
	tr, err := metadata.Load(traceDir)
	if err != nil {
		return commandError(formatter, &LoadError{Code: ErrCodeTrace, Message: err.Error(), Err: err})
	}

	emuOpts := []emu.Option{
		emu.WithLinter(cfg.Emu.Linter),
		emu.WithLookback(cfg.Emu.Lookback),
		emu.WithLogger(logger),
	}
	if cfg.Emu.LoadLimit > 0 {
		emuOpts = append(emuOpts, emu.WithLoadLimit(cfg.Emu.LoadLimit))
	}
	if cfg.Emu.ClockOffsets != "" {
		table, err := clkoff.Load(cfg.Emu.ClockOffsets)
		if err != nil {
			return commandError(formatter, &LoadError{Code: ErrCodeNotFound, Message: err.Error(), Err: err})
		}
		emuOpts = append(emuOpts, emu.WithClockOffsets(table))
	}

	metrics := telemetry.NewMetrics()
	emuOpts = append(emuOpts, emu.WithMetrics(metrics))

	if cfg.Telemetry.SpansFile != "" {
		f, err := os.Create(cfg.Telemetry.SpansFile)
		if err != nil {
			return commandError(formatter, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error(), Err: err})
		}
		defer f.Close()
		shutdown, err := telemetry.InitTracing("ovniemu", f)
		if err != nil {
			return commandError(formatter, err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("span export failed", "err", err)
			}
		}()
	}

	outDir := cfg.Output.Dir
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(traceDir, outDir)
	}
	out, err := prv.CreateOutput(outDir)
	if err != nil {
		return commandError(formatter, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error(), Err: err})
	}

	var threadSink, cpuSink channel.Sink = out.Thread, out.CPU
	var run *storedRun
	if cfg.Output.Store != "" {
		run, err = beginStoredRun(ctx, cfg, tr.Dir, models.Files)
		if err != nil {
			out.Close()
			return commandError(formatter, err)
		}
		defer run.close()
		threadSink = channel.MultiSink{out.Thread, run.threads}
		cpuSink = channel.MultiSink{out.CPU, run.cpus}
	}

	var bar io.Closer
	if !opts.NoProgress && opts.Format != "json" {
		pb := newProgress(cmd.ErrOrStderr(), "emulating")
		emuOpts = append(emuOpts, emu.WithProgress(func(done float64) {
			_ = pb.Set(int(done * progressSteps))
		}))
		bar = closerFunc(pb.Finish)
	}

	e := emu.New(tr, models.Specs, threadSink, cpuSink, emuOpts...)
	defer e.Close()

	started := time.Now()
	stats, runErr := emulate(ctx, e)
	if bar != nil {
		bar.Close()
	}
	logger.Debug("emulation finished", "elapsed", time.Since(started), "err", runErr)

	// Partial traces are kept: they show the state up to the failure.
	var outErr error
	if sys := e.System(); sys != nil {
		outErr = out.Finish(sys, model.Labels(models.Specs))
	} else {
		outErr = out.Close()
	}

	result := EmuResult{
		TraceDir:  tr.Dir,
		OutputDir: outDir,
		Streams:   stats.Streams,
		Threads:   stats.Threads,
		CPUs:      stats.CPUs,
		Events:    stats.Events,
		Warnings:  stats.Warnings,
		Regions:   stats.Regions,
		Jumps:     stats.Jumps,
		Duration:  stats.Duration,
		Bursts:    stats.Bursts,
	}
	if run != nil {
		result.RunID = run.id
		if err := run.finish(ctx, e, stats, runErr); err != nil {
			outErr = errors.Join(outErr, err)
		}
	}

	if cfg.Telemetry.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Telemetry.MetricsFile); err != nil {
			outErr = errors.Join(outErr, err)
		}
	}

	if runErr != nil {
		code := string(emu.Classify(runErr))
		var ee *emu.Error
		if errors.As(runErr, &ee) {
			code = string(ee.Code)
		}
		_ = formatter.Error(code, runErr.Error(), result)
		return WrapExitError(ExitFailure, "emulation failed", runErr)
	}
	if outErr != nil {
		_ = formatter.Error(ErrCodeWriteFailed, outErr.Error(), nil)
		return WrapExitError(ExitCommandError, "write output", outErr)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	printEmuSummary(formatter, result)
	return nil
}

// emulate loads, replays and finishes a run. A run that stops early still
// reports the statistics gathered up to the failure.
func emulate(ctx context.Context, e *emu.Emulator) (emu.Stats, error) {
	if err := e.Load(ctx); err != nil {
		return e.Stats(), err
	}
	if err := e.Run(ctx); err != nil {
		return e.Stats(), err
	}
	return e.Finish(ctx)
}

func printEmuSummary(f *OutputFormatter, r EmuResult) {
	w := f.Writer
	fmt.Fprintln(w, successStyle.Render("✓ EMULATION COMPLETE"))
	summaryLine(w, "Trace:", r.TraceDir)
	summaryLine(w, "Threads:", fmt.Sprintf("%d (%d streams)", r.Threads, r.Streams))
	summaryLine(w, "CPUs:", r.CPUs)
	summaryLine(w, "Events:", r.Events)
	summaryLine(w, "Duration:", time.Duration(r.Duration))
	if r.Warnings > 0 {
		summaryLine(w, "Warnings:", failStyle.Render(fmt.Sprint(r.Warnings)))
	}
	if r.Regions > 0 {
		summaryLine(w, "Repaired:", fmt.Sprintf("%d unsorted regions", r.Regions))
	}
	if r.Jumps > 0 {
		summaryLine(w, "Jumps:", r.Jumps)
	}
	summaryLine(w, "Output:", r.OutputDir)
	if r.RunID != "" {
		summaryLine(w, "Run:", r.RunID)
	}

	if f.Verbose && len(r.Bursts) > 0 {
		fmt.Fprintln(w, accentStyle.Render("▸ BURSTS"))
		for _, b := range r.Bursts {
			fmt.Fprintf(w, "  %s median %s min %s max %s (%d bursts)\n",
				titleStyle.Render(fmt.Sprintf("tid %d", b.TID)),
				time.Duration(b.Median), time.Duration(b.Min), time.Duration(b.Max), b.Count)
		}
	}
}

// commandError reports an error that prevented the emulation from starting.
func commandError(f *OutputFormatter, err error) error {
	code := ErrCodeGeneric
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		code = loadErr.Code
	}
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, "cannot emulate", err)
}

// storedRun mirrors the records of a run into the store.
type storedRun struct {
	st      *store.Store
	id      string
	threads *store.RecordSink
	cpus    *store.RecordSink
}

func beginStoredRun(ctx context.Context, cfg *config.Config, traceDir string, models []string) (*storedRun, error) {
	st, err := store.Open(cfg.Output.Store)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeStore, Message: err.Error(), Err: err}
	}
	id, err := st.BeginRun(ctx, store.RunInfo{TraceDir: traceDir, Linter: cfg.Emu.Linter, Models: models})
	if err != nil {
		st.Close()
		return nil, &LoadError{Code: ErrCodeStore, Message: err.Error(), Err: err}
	}
	return &storedRun{
		st:      st,
		id:      id,
		threads: st.Records(ctx, id, store.KindThread),
		cpus:    st.Records(ctx, id, store.KindCPU),
	}, nil
}

func (r *storedRun) finish(ctx context.Context, e *emu.Emulator, stats emu.Stats, runErr error) error {
	errs := []error{r.threads.Flush(), r.cpus.Flush()}
	if sys := e.System(); sys != nil {
		errs = append(errs,
			r.st.WriteRows(ctx, r.id, store.KindThread, prv.ThreadNames(sys)),
			r.st.WriteRows(ctx, r.id, store.KindCPU, prv.CPUNames(sys)))
	}
	errs = append(errs, r.st.FinishRun(ctx, r.id, store.RunResult{
		Events:     stats.Events,
		Warnings:   stats.Warnings,
		Regions:    stats.Regions,
		Jumps:      stats.Jumps,
		DurationNS: stats.Duration,
		Err:        runErr,
	}))
	return errors.Join(errs...)
}

func (r *storedRun) close() { r.st.Close() }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
