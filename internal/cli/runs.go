package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ovniemu/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
}

// ShowOptions holds flags for the runs show command.
type ShowOptions struct {
	*RunsOptions
	Kind  string
	Type  int
	Limit int
}

// RunDetail is a stored run with its rows and records.
type RunDetail struct {
	Run     store.Run `json:"run"`
	Kind    string    `json:"kind"`
	Rows    []string  `json:"rows"`
	Records []string  `json:"records"`
	Total   int       `json:"total"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the emulations of a run store",
		Long: `List the runs recorded in a SQLite run store, oldest first.

The store defaults to output.store from the config.

Examples:
  ovniemu runs --db runs.db
  ovniemu runs show <run-id> --db runs.db --kind cpu --type 45`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListRuns(opts, cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite run store")
	cmd.AddCommand(newShowCommand(opts))

	return cmd
}

func newShowCommand(runsOpts *RunsOptions) *cobra.Command {
	opts := &ShowOptions{RunsOptions: runsOpts}

	cmd := &cobra.Command{
		Use:           "show <run-id>",
		Short:         "Show a stored run and its records",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShowRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", store.KindThread, "records to show (thread|cpu)")
	cmd.Flags().IntVar(&opts.Type, "type", 0, "only records of this type (0 = all)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "records shown (0 = all)")

	return cmd
}

func openStore(opts *RunsOptions) (*store.Store, error) {
	path := opts.Database
	if path == "" {
		path = opts.Config.Output.Store
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no run store: use --db or set output.store")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "run store not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open run store", err)
	}
	return st, nil
}

func runListRuns(opts *RunsOptions, cmd *cobra.Command) error {
	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		return formatter.Success(runs)
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s %s %s\n", statusMark(r.Status), r.ID, mutedStyle.Render(r.TraceDir))
		fmt.Fprintf(w, "    %d events, %d warnings, %s",
			r.Events, r.Warnings, time.Duration(r.DurationNS))
		if r.Linter {
			fmt.Fprint(w, ", linter")
		}
		fmt.Fprintln(w)
		if r.Error != "" {
			fmt.Fprintf(w, "    %s\n", failStyle.Render(r.Error))
		}
	}
	return nil
}

func statusMark(status string) string {
	switch status {
	case store.StatusOK:
		return successStyle.Render("✓")
	case store.StatusFailed:
		return failStyle.Render("✗")
	default:
		return accentStyle.Render("…")
	}
}

func runShowRun(opts *ShowOptions, runID string, cmd *cobra.Command) error {
	if opts.Kind != store.KindThread && opts.Kind != store.KindCPU {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be thread or cpu", opts.Kind))
	}

	st, err := openStore(opts.RunsOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitFailure, "no such run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	rows, err := st.ReadRows(ctx, runID, opts.Kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read rows", err)
	}
	records, err := st.ReadRecords(ctx, runID, opts.Kind, opts.Type)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	detail := RunDetail{Run: run, Kind: opts.Kind, Rows: rows, Records: []string{}, Total: len(records)}
	for i, r := range records {
		if opts.Limit > 0 && i == opts.Limit {
			break
		}
		detail.Records = append(detail.Records, r.String())
	}

	if opts.Format == "json" {
		formatter := newFormatter(opts.RootOptions, cmd)
		return formatter.Success(detail)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s\n", statusMark(run.Status), titleStyle.Render(run.ID))
	summaryLine(w, "Trace:", run.TraceDir)
	summaryLine(w, "Events:", run.Events)
	summaryLine(w, "Warnings:", run.Warnings)
	summaryLine(w, "Duration:", time.Duration(run.DurationNS))
	if run.Error != "" {
		summaryLine(w, "Error:", run.Error)
	}

	fmt.Fprintln(w, accentStyle.Render(fmt.Sprintf("▸ %s ROWS", opts.Kind)))
	for i, name := range rows {
		fmt.Fprintf(w, "  %3d %s\n", i+1, name)
	}
	fmt.Fprintln(w, accentStyle.Render(fmt.Sprintf("▸ RECORDS (%d of %d)", len(detail.Records), detail.Total)))
	for _, r := range detail.Records {
		fmt.Fprintf(w, "  %s\n", r)
	}
	return nil
}
