package cli

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ovniemu/internal/config"
	"github.com/roach88/ovniemu/internal/stream"
)

// SortOptions holds flags for the sort command.
type SortOptions struct {
	*RootOptions
	Check    bool
	Lookback int
}

// SortedStream is the outcome for one stream.
type SortedStream struct {
	Path    string `json:"path"`
	Regions int    `json:"regions"`
	Sorted  bool   `json:"sorted"`
	Error   string `json:"error,omitempty"`
}

// SortResult holds the outcome of the sort command.
type SortResult struct {
	Streams []SortedStream `json:"streams"`
	Regions int            `json:"regions"`
	Failed  int            `json:"failed"`
}

// NewSortCommand creates the sort command.
func NewSortCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SortOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sort <trace-dir>",
		Short: "Repair unsorted regions of the streams in place",
		Long: `Sort the unsorted regions of every stream of a trace and write the
result back to the stream files, so later emulations skip the repair.

With --check, files are only read and the command fails if any stream is
not sorted.

Exit codes:
  0 - All streams sorted
  1 - A stream could not be repaired (or is unsorted with --check)
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("lookback") {
				opts.Lookback = opts.Config.Emu.Lookback
			}
			return runSort(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "only check that every stream is sorted")
	cmd.Flags().IntVar(&opts.Lookback, "lookback", config.Default().Emu.Lookback, "events searched back when repairing a region")

	return cmd
}

func runSort(ctx context.Context, opts *SortOptions, traceDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Lookback <= 0 {
		return commandError(formatter, fmt.Errorf("lookback must be positive, got %d", opts.Lookback))
	}

	paths, err := streamPaths(traceDir)
	if err != nil {
		return commandError(formatter, err)
	}

	result := SortResult{Streams: make([]SortedStream, len(paths))}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := sortStream(p, opts)
			mu.Lock()
			result.Streams[i] = s
			mu.Unlock()
			formatter.VerboseLog("%s: %d regions", p, s.Regions)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return commandError(formatter, err)
	}

	for _, s := range result.Streams {
		result.Regions += s.Regions
		if s.Error != "" || (opts.Check && !s.Sorted) {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printSortResult(formatter, opts, result)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d stream(s) failed", result.Failed))
	}
	return nil
}

func sortStream(path string, opts *SortOptions) SortedStream {
	out := SortedStream{Path: path}
	open := stream.OpenShared
	if opts.Check {
		open = stream.Open
	}
	s, err := open(path)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer s.Close()

	if opts.Check {
		out.Regions, err = stream.CountRegions(s.Events())
		if err == nil {
			err = stream.CheckSorted(s.Events())
			var se *stream.SortError
			if errors.As(err, &se) {
				return out
			}
		}
		if err != nil {
			out.Error = err.Error()
			return out
		}
		out.Sorted = true
		return out
	}

	out.Regions, err = stream.Repair(s.Events(), opts.Lookback)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Sorted = true
	return out
}

func printSortResult(f *OutputFormatter, opts *SortOptions, r SortResult) {
	w := f.Writer
	for _, s := range r.Streams {
		switch {
		case s.Error != "":
			fmt.Fprintf(w, "%s %s\n  %s\n", failStyle.Render("✗"), s.Path, s.Error)
		case !s.Sorted:
			fmt.Fprintf(w, "%s %s %s\n", failStyle.Render("✗"), s.Path, mutedStyle.Render(fmt.Sprintf("unsorted, %d regions", s.Regions)))
		case f.Verbose || s.Regions > 0:
			fmt.Fprintf(w, "%s %s %s\n", successStyle.Render("✓"), s.Path, mutedStyle.Render(fmt.Sprintf("%d regions", s.Regions)))
		}
	}

	verb := "repaired"
	if opts.Check {
		verb = "found"
	}
	fmt.Fprintf(w, "\nSort Summary: %d streams, %d regions %s, %d failed\n", len(r.Streams), r.Regions, verb, r.Failed)
}
