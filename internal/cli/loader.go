package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue/token"

	"github.com/roach88/ovniemu/internal/compiler"
	"github.com/roach88/ovniemu/internal/model"
)

// LoadResult contains the models of a run.
type LoadResult struct {
	Specs     []*model.Spec
	Files     []string // extra model tables, empty for built-in models only
	FileCount int
}

// LoadError represents an error that occurred during model loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadModels returns the built-in models merged with the model tables found
// under dir. An empty dir loads the built-in models only.
func LoadModels(dir string) (*LoadResult, error) {
	builtin, err := compiler.LoadBuiltin()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("built-in models: %v", err), Err: err}
	}
	if dir == "" {
		return &LoadResult{Specs: builtin}, nil
	}

	files, err := findModelFiles(dir)
	if err != nil {
		return nil, err
	}
	extra, err := compiler.LoadFiles(files...)
	if err != nil {
		return nil, convertCompileError(err, dir)
	}

	specs := compiler.Merge(builtin, extra)
	if _, err := model.BuildLayout(specs); err != nil {
		return nil, &LoadError{Code: ErrCodeLayout, Message: err.Error(), Err: err}
	}
	return &LoadResult{Specs: specs, Files: files, FileCount: len(files)}, nil
}

func findModelFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("models directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing models directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}
	return files, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
			Err:     err,
		}
	}
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return &LoadError{Code: verr.Code, Message: err.Error(), Err: err}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
		Err:     err,
	}
}

// validationErrors returns the validation errors joined in err.
func validationErrors(err error) []compiler.ValidationError {
	var out []compiler.ValidationError
	var walk func(error)
	walk = func(e error) {
		if verr, ok := e.(compiler.ValidationError); ok {
			out = append(out, verr)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		if inner := errors.Unwrap(e); inner != nil {
			walk(inner)
		}
	}
	walk(err)
	return out
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeCompile     = "E004" // CUE model table does not compile
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // Built-in models failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeLayout      = "E008" // Channel layout clash between models
	ErrCodeTrace       = "E009" // Trace directory unreadable
	ErrCodeStore       = "E010" // Run store error
)
