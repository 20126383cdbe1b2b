package harness

import (
	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/emu"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the outcome and every assertion match.
	Pass bool `json:"pass"`

	// Threads and CPUs hold the emitted records in emission order.
	Threads []channel.Record `json:"-"`
	CPUs    []channel.Record `json:"-"`

	// Stats are the run statistics. Only complete for runs that finished.
	Stats emu.Stats `json:"-"`

	// Code and Err describe the error that stopped the run, if any.
	Code string `json:"code,omitempty"`
	Err  string `json:"err,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Records returns the records of one kind.
func (r *Result) Records(kind string) []channel.Record {
	if kind == KindCPU {
		return r.CPUs
	}
	return r.Threads
}
