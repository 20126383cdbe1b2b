package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ovniemu/internal/compiler"
	"github.com/roach88/ovniemu/internal/model"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Models []ModelSummary             `json:"models,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// ModelSummary describes one compiled model.
type ModelSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Builtin  bool   `json:"builtin"`
	Channels int    `json:"channels"`
	Rules    int    `json:"rules"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [models-dir]",
		Short: "Validate model tables without running a trace",
		Long: `Compile the CUE model tables in a directory, check them and check
that their channels fit with the built-in models.

Without a directory the built-in models (and emu.models_dir from the
config, if set) are checked.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Config.Emu.ModelsDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result, err := LoadModels(modelsDir)
	if err != nil {
		if verrs := validationErrors(err); len(verrs) > 0 {
			return outputValidationErrors(formatter, verrs)
		}
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Error(), nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, modelsDir)
	for _, f := range result.Files {
		formatter.VerboseLog("  %s", f)
	}

	return outputValidateSuccess(formatter, summarize(result.Specs))
}

func summarize(specs []*model.Spec) []ModelSummary {
	out := make([]ModelSummary, len(specs))
	for i, s := range specs {
		out[i] = ModelSummary{
			ID:       string(s.ID),
			Name:     s.Name,
			Builtin:  s.Builtin,
			Channels: len(s.Channels),
			Rules:    len(s.Rules),
		}
	}
	return out
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, models []ModelSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Models: models})
	}

	w := formatter.Writer
	for _, m := range models {
		kind := "table"
		if m.Builtin {
			kind = "built-in"
		}
		fmt.Fprintf(w, "  %s %-8s %s\n", m.ID, m.Name,
			mutedStyle.Render(fmt.Sprintf("%s, %d channels, %d rules", kind, m.Channels, m.Rules)))
	}
	fmt.Fprintln(w, successStyle.Render("✓ All models valid"))
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, message)
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, failStyle.Render("✗ Validation failed"))
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s model %s: %s: %s\n", err.Code, err.Model, err.Field, err.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
