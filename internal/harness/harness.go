package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/clkoff"
	"github.com/roach88/ovniemu/internal/compiler"
	"github.com/roach88/ovniemu/internal/emu"
)

// Harness runs scenarios.
type Harness struct {
	logger *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the emulator.
//
// Default: logs are discarded
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// New returns a harness.
func New(opts ...Option) *Harness {
	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with the default harness.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return New().Run(ctx, scenario)
}

// Run executes a scenario and returns the result.
//
// Each scenario writes its trace to a fresh temporary directory, removed
// afterwards. The returned error reports harness failures (the trace could
// not be written, the models do not compile); emulation errors are part of
// the result and checked against the scenario expectations.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "ovniemu-scenario-")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	tr, err := WriteTrace(dir, scenario)
	if err != nil {
		return nil, err
	}

	specs, err := compiler.LoadBuiltin()
	if err != nil {
		return nil, fmt.Errorf("load built-in models: %w", err)
	}
	if len(scenario.Models) > 0 {
		extra, err := compiler.LoadFiles(scenario.Models...)
		if err != nil {
			return nil, fmt.Errorf("load scenario models: %w", err)
		}
		specs = compiler.Merge(specs, extra)
	}

	opts := []emu.Option{
		emu.WithLinter(scenario.Linter),
		emu.WithLogger(h.logger),
		emu.WithLoadLimit(1),
	}
	if scenario.Offsets != "" {
		table, err := clkoff.Parse(strings.NewReader(scenario.Offsets))
		if err != nil {
			return nil, fmt.Errorf("parse scenario offsets: %w", err)
		}
		opts = append(opts, emu.WithClockOffsets(table))
	}

	threads, cpus := &channel.Recorder{}, &channel.Recorder{}
	e := emu.New(tr, specs, threads, cpus, opts...)
	defer e.Close()

	result := NewResult()
	stats, runErr := run(ctx, e)
	result.Threads = threads.Records
	result.CPUs = cpus.Records
	result.Stats = stats
	if runErr != nil {
		result.Err = runErr.Error()
		result.Code = string(emu.Classify(runErr))
		var ee *emu.Error
		if errors.As(runErr, &ee) {
			result.Code = string(ee.Code)
		}
	}

	h.checkExpect(scenario, result)
	for _, a := range scenario.Assertions {
		if err := evaluateAssertion(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func run(ctx context.Context, e *emu.Emulator) (emu.Stats, error) {
	if err := e.Load(ctx); err != nil {
		return emu.Stats{}, err
	}
	if err := e.Run(ctx); err != nil {
		return emu.Stats{}, err
	}
	return e.Finish(ctx)
}

func (h *Harness) checkExpect(s *Scenario, r *Result) {
	want := s.Expect
	switch {
	case want.Code == "" && r.Err != "":
		r.AddError(fmt.Sprintf("unexpected error: %s", r.Err))
		return
	case want.Code != "" && r.Err == "":
		r.AddError(fmt.Sprintf("expected %s error, run succeeded", want.Code))
		return
	case want.Code != "" && want.Code != r.Code:
		r.AddError(fmt.Sprintf("expected %s error, got %s: %s", want.Code, r.Code, r.Err))
		return
	}
	if want.Error != "" && !strings.Contains(r.Err, want.Error) {
		r.AddError(fmt.Sprintf("expected error containing %q, got %q", want.Error, r.Err))
	}

	if want.Events != nil && *want.Events != r.Stats.Events {
		r.AddError(fmt.Sprintf("expected %d events, got %d", *want.Events, r.Stats.Events))
	}
	if want.Warnings != nil && *want.Warnings != r.Stats.Warnings {
		r.AddError(fmt.Sprintf("expected %d warnings, got %d", *want.Warnings, r.Stats.Warnings))
	}
	if want.Regions != nil && *want.Regions != r.Stats.Regions {
		r.AddError(fmt.Sprintf("expected %d repaired regions, got %d", *want.Regions, r.Stats.Regions))
	}
	if want.Jumps != nil && *want.Jumps != r.Stats.Jumps {
		r.AddError(fmt.Sprintf("expected %d clock jumps, got %d", *want.Jumps, r.Stats.Jumps))
	}
}
