package channel

import (
	"errors"
	"fmt"
)

// Code categorizes channel errors.
type Code string

const (
	// CodeEnabled indicates an enable of an enabled channel.
	CodeEnabled Code = "ALREADY_ENABLED"

	// CodeDisabled indicates an operation on (or disable of) a disabled channel.
	CodeDisabled Code = "DISABLED"

	// CodeDirty indicates a push on a channel already modified this step.
	CodeDirty Code = "DIRTY"

	// CodeStackFull indicates a push beyond MaxStack.
	CodeStackFull Code = "STACK_FULL"

	// CodeStackEmpty indicates a pop of an empty stack.
	CodeStackEmpty Code = "STACK_EMPTY"

	// CodeMismatch indicates a pop whose expected value is not on top.
	CodeMismatch Code = "MISMATCH"

	// CodePulse indicates a second signal in the same step.
	CodePulse Code = "PULSE_PENDING"

	// CodeDuplicate indicates a rejected duplicated emission.
	CodeDuplicate Code = "DUPLICATE"

	// CodeInconsistent indicates a tracking channel following a disabled
	// thread channel.
	CodeInconsistent Code = "INCONSISTENT"
)

// Error is a channel operation that violates the channel rules.
type Error struct {
	Code Code
	Chan *Channel
	Msg  string
}

func (e *Error) Error() string {
	name := "?"
	if e.Chan != nil {
		name = e.Chan.Name()
	}
	return fmt.Sprintf("channel %s: %s", name, e.Msg)
}

// Resource reports whether the error exhausted a bounded resource. Those are
// never recoverable.
func (e *Error) Resource() bool { return e.Code == CodeStackFull }

// Channel returns the offending channel.
func (e *Error) Channel() *Channel { return e.Chan }

// IsCode reports whether err wraps a channel error with the given code.
func IsCode(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
