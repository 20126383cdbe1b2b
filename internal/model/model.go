// Package model defines how events are interpreted.
//
// Every event carries a model id: the runtime that emitted it. For each
// event the emulator builds a Context and hands it to the Interpreter
// registered for that id. Interpreters mutate the channels of the event's
// thread, the thread state machine and the task tables, and must not look at
// other threads' future events.
//
// Two kinds of interpreters exist. The ovni model is built in: it drives the
// thread lifecycle and CPU placement that every other model relies on. All
// other runtimes are described declaratively by a Spec (compiled from CUE
// tables by the compiler package) and run by a Table interpreter.
package model

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/ev"
	"github.com/roach88/ovniemu/internal/system"
)

// Context is the view an interpreter gets of one event.
type Context struct {
	Ev     *ev.Event
	Clock  int64
	Thread *system.Thread
	Proc   *system.Process
	Loom   *system.Loom
	Sys    *system.System
}

// Interpreter processes the events of one model.
type Interpreter interface {
	ID() byte
	Process(ctx *Context) error
}

// Finisher is implemented by interpreters with end-of-run work.
type Finisher interface {
	Finish(sys *system.System) error
}

// UnknownEventError reports an event no interpreter understands.
type UnknownEventError struct {
	MCV    string
	Reason string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event %s: %s", e.MCV, e.Reason)
}

// Malformed marks the error as malformed input.
func (e *UnknownEventError) Malformed() bool { return true }

// InputError reports an event whose content contradicts the trace, such as
// a CPU index not present in the metadata.
type InputError struct {
	MCV string
	Msg string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("event %s: %s", e.MCV, e.Msg)
}

// Malformed marks the error as malformed input.
func (e *InputError) Malformed() bool { return true }

// FaultError ties a state machine error to the channels whose value can no
// longer be trusted.
type FaultError struct {
	Err   error
	Chans []*channel.Channel
}

func (e *FaultError) Error() string { return e.Err.Error() }

func (e *FaultError) Unwrap() error { return e.Err }

// Channels returns the channels to mark bad.
func (e *FaultError) Channels() []*channel.Channel { return e.Chans }

// fault wraps err with the given channels, skipping nil ones. Channel errors
// already name their channel and are returned as is.
func fault(err error, chans ...*channel.Channel) error {
	if err == nil {
		return nil
	}
	var ce *channel.Error
	if errors.As(err, &ce) {
		return err
	}
	f := &FaultError{Err: err}
	for _, ch := range chans {
		if ch != nil {
			f.Chans = append(f.Chans, ch)
		}
	}
	return f
}

// Registry dispatches events to interpreters by model id.
type Registry struct {
	models [256]Interpreter
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds m. Model ids are unique.
func (r *Registry) Register(m Interpreter) error {
	id := m.ID()
	if r.models[id] != nil {
		return fmt.Errorf("model %q registered twice", id)
	}
	r.models[id] = m
	r.logger.Debug("model registered", "id", string(id))
	return nil
}

// Lookup returns the interpreter for id.
func (r *Registry) Lookup(id byte) (Interpreter, bool) {
	m := r.models[id]
	return m, m != nil
}

// IDs returns the registered model ids in ascending order.
func (r *Registry) IDs() []byte {
	var ids []byte
	for i, m := range r.models {
		if m != nil {
			ids = append(ids, byte(i))
		}
	}
	return ids
}

// Dispatch runs the interpreter of the event's model.
func (r *Registry) Dispatch(ctx *Context) error {
	m := r.models[ctx.Ev.Model]
	if m == nil {
		return &UnknownEventError{MCV: ctx.Ev.MCV(), Reason: fmt.Sprintf("no model %q", ctx.Ev.Model)}
	}
	return m.Process(ctx)
}

// Finish runs every Finisher, in model id order.
func (r *Registry) Finish(sys *system.System) error {
	for _, id := range r.IDs() {
		if f, ok := r.models[id].(Finisher); ok {
			if err := f.Finish(sys); err != nil {
				return fmt.Errorf("finish model %q: %w", id, err)
			}
		}
	}
	return nil
}
