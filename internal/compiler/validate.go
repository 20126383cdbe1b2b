package compiler

import (
	"fmt"

	"github.com/roach88/ovniemu/internal/model"
)

// Validation error codes (E100-E199)
const (
	ErrModelID         = "E101" // id is not a printable ASCII byte
	ErrInvalidType     = "E102" // channel type must be positive
	ErrDuplicateType   = "E103" // two channels share a record type
	ErrUnknownChannel  = "E104" // operation names an undeclared channel
	ErrMissingChannel  = "E105" // channel operation without chan
	ErrInvalidArg      = "E106" // arg outside the payload argument range
	ErrMisplacedField  = "E107" // field does not apply to the operation
	ErrBuiltinRules    = "E108" // built-in models are implemented in Go
	ErrTaskChannelKind = "E109" // task channels must be thread channels
)

// MaxArg is the largest payload argument index an operation can read. A
// normal event payload holds at most four 32-bit arguments.
const MaxArg = 3

// ValidationError represents a model table that compiles but breaks a rule.
type ValidationError struct {
	Model   string `json:"model"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] model %s: %s: %s", e.Code, e.Model, e.Field, e.Message)
}

// Validate checks a compiled spec. Returns all errors found (does not
// fail-fast).
func Validate(spec *model.Spec) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{
			Model:   spec.Name,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if spec.ID < '!' || spec.ID > '~' {
		add(ErrModelID, "id", "id %q is not a printable ASCII character", spec.ID)
	}

	chans := make(map[string]model.ChanDecl, len(spec.Channels))
	types := make(map[int]string)
	for _, c := range spec.Channels {
		field := "channels." + c.Name
		if c.Type <= 0 {
			add(ErrInvalidType, field, "type %d must be positive", c.Type)
		}
		if prev, ok := types[c.Type]; ok {
			add(ErrDuplicateType, field, "type %d already used by %s", c.Type, prev)
		}
		types[c.Type] = c.Name
		chans[c.Name] = c
	}

	if spec.Builtin && len(spec.Rules) > 0 {
		add(ErrBuiltinRules, "rules", "built-in model cannot declare rules")
	}

	for _, r := range spec.Rules {
		for i, op := range r.Ops {
			field := fmt.Sprintf("rules.%c%c[%d]", r.Category, r.Value, i)
			validateOp(op, chans, func(code, format string, args ...any) {
				add(code, field, format, args...)
			})
		}
	}
	return errs
}

func validateOp(op model.Op, chans map[string]model.ChanDecl, add func(code, format string, args ...any)) {
	isTask := false
	switch op.Kind {
	case model.OpPush, model.OpPop, model.OpSet, model.OpSignal, model.OpEnable, model.OpDisable:
		if op.Chan == "" {
			add(ErrMissingChannel, "%s needs chan", op.Kind)
		} else if _, ok := chans[op.Chan]; !ok {
			add(ErrUnknownChannel, "unknown channel %q", op.Chan)
		}
	case model.OpTaskExecute, model.OpTaskPause, model.OpTaskResume, model.OpTaskEnd:
		isTask = true
	default:
		if op.Chan != "" {
			add(ErrMisplacedField, "%s takes no chan", op.Kind)
		}
	}

	if op.Arg != model.NoArg {
		if op.Arg < 0 || op.Arg > MaxArg {
			add(ErrInvalidArg, "arg %d outside 0..%d", op.Arg, MaxArg)
		}
		switch op.Kind {
		case model.OpPush, model.OpPop, model.OpSet, model.OpSignal:
		default:
			add(ErrMisplacedField, "%s takes no arg", op.Kind)
		}
	}

	if op.Nestable && op.Kind != model.OpTaskExecute {
		add(ErrMisplacedField, "nestable only applies to task.execute")
	}

	for _, name := range []string{op.TaskChan, op.TypeChan} {
		if name == "" {
			continue
		}
		if !isTask {
			add(ErrMisplacedField, "%s takes no task channels", op.Kind)
			continue
		}
		c, ok := chans[name]
		if !ok {
			add(ErrUnknownChannel, "unknown channel %q", name)
			continue
		}
		if c.CPU {
			add(ErrTaskChannelKind, "task channel %q is a CPU channel", name)
		}
	}
}
