package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ovniemu/internal/metadata"
	"github.com/roach88/ovniemu/internal/stream"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Limit  int    // events per stream, 0 = all
	Filter string // MCV prefix
}

// DumpEvent is one decoded event.
type DumpEvent struct {
	Stream  string `json:"stream"`
	Offset  int64  `json:"offset"`
	Clock   uint64 `json:"clock"`
	MCV     string `json:"mcv"`
	Jumbo   bool   `json:"jumbo,omitempty"`
	Payload string `json:"payload,omitempty"` // hex
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <trace-dir|stream-file>",
		Short: "Print the raw events of streams",
		Long: `Decode and print the events of one stream file, or of every stream of
a trace directory, in file order. Clocks are raw: no offsets are applied and
unsorted regions are shown as recorded.

Examples:
  ovniemu dump ./ovni
  ovniemu dump ./ovni/loom.node1/proc.100/thread.101.obs --limit 20
  ovniemu dump ./ovni --filter KO`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "events printed per stream (0 = all)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only events whose MCV starts with this prefix")

	return cmd
}

func runDump(opts *DumpOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	paths, err := streamPaths(path)
	if err != nil {
		return commandError(formatter, err)
	}

	var events []DumpEvent
	for _, p := range paths {
		if opts.Format != "json" && len(paths) > 1 {
			fmt.Fprintln(formatter.Writer, titleStyle.Render("▸ "+p))
		}
		err := dumpStream(p, opts, func(e DumpEvent) {
			if opts.Format == "json" {
				events = append(events, e)
				return
			}
			fmt.Fprintf(formatter.Writer, "%s %20d %s %s\n",
				mutedStyle.Render(fmt.Sprintf("%08x", e.Offset)), e.Clock, accentStyle.Render(e.MCV), e.Payload)
		})
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, "dump", err)
		}
	}

	if opts.Format == "json" {
		if events == nil {
			events = []DumpEvent{}
		}
		return formatter.Success(events)
	}
	return nil
}

// streamPaths returns path itself for a file, or the stream files of the
// trace in path.
func streamPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error(), Err: err}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	tr, err := metadata.Load(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeTrace, Message: err.Error(), Err: err}
	}
	var paths []string
	for _, l := range tr.Looms {
		for _, p := range l.Procs {
			for _, th := range p.Threads {
				paths = append(paths, th.Path)
			}
		}
	}
	return paths, nil
}

func dumpStream(path string, opts *DumpOptions, emit func(DumpEvent)) error {
	s, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	n := 0
	for {
		ok, err := s.Advance()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		h := s.Head()
		mcv := h.MCV()
		if !strings.HasPrefix(mcv, opts.Filter) {
			continue
		}
		emit(DumpEvent{
			Stream:  path,
			Offset:  s.Progress() - int64(h.Size),
			Clock:   h.Clock,
			MCV:     mcv,
			Jumbo:   h.Jumbo(),
			Payload: hex.EncodeToString(h.Payload),
		})
		n++
		if opts.Limit > 0 && n >= opts.Limit {
			return nil
		}
	}
}
