package emu

import (
	"errors"
	"fmt"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/ev"
)

// Error is an error raised while replaying an event.
//
// Every error reaching the emulator is classified by Code:
//   - Malformed: the input cannot be interpreted (bad framing, unknown event)
//   - Resource: a fixed limit was exceeded (channel stack, burst buffer)
//   - Fatal: the run cannot produce meaningful output (type id collision)
//   - Ordering: events out of time order
//   - Logic: the events contradict the state machines
//
// Malformed, Resource and Fatal errors always abort the replay. Ordering and
// Logic errors abort it only in linter mode; otherwise they are logged and the
// offending channel is marked bad.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Thread is the tid of the thread whose event failed, if any.
	Thread int

	// Clock is the corrected clock of the event, if any.
	Clock int64

	// MCV names the event, if any.
	MCV string

	// Err is the underlying error.
	Err error
}

// ErrorCode categorizes emulation errors.
type ErrorCode string

const (
	ErrCodeMalformed ErrorCode = "MALFORMED"
	ErrCodeResource  ErrorCode = "RESOURCE"
	ErrCodeFatal     ErrorCode = "FATAL"
	ErrCodeOrdering  ErrorCode = "ORDERING"
	ErrCodeLogic     ErrorCode = "LOGIC"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.MCV != "" {
		return fmt.Sprintf("%s: %s (tid=%d, clock=%d, event=%s)", e.Code, e.Message, e.Thread, e.Clock, e.MCV)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns the category of err.
func Classify(err error) ErrorCode {
	var malformed interface{ Malformed() bool }
	if errors.As(err, &malformed) && malformed.Malformed() {
		return ErrCodeMalformed
	}
	var me *ev.MalformedError
	var pe *ev.PayloadError
	if errors.As(err, &me) || errors.As(err, &pe) {
		return ErrCodeMalformed
	}

	var resource interface{ Resource() bool }
	if errors.As(err, &resource) && resource.Resource() {
		return ErrCodeResource
	}

	var fatal interface{ Fatal() bool }
	if errors.As(err, &fatal) && fatal.Fatal() {
		return ErrCodeFatal
	}

	var ordering interface{ Ordering() bool }
	if errors.As(err, &ordering) && ordering.Ordering() {
		return ErrCodeOrdering
	}
	return ErrCodeLogic
}

// Tolerable reports whether errors of code c can be ignored outside linter
// mode.
func (c ErrorCode) Tolerable() bool {
	return c == ErrCodeOrdering || c == ErrCodeLogic
}

// IsMalformed returns true if err is an emulation error caused by malformed
// input. Uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	return hasCode(err, ErrCodeMalformed)
}

// IsOrdering returns true if err is an emulation error caused by events out
// of time order.
func IsOrdering(err error) bool {
	return hasCode(err, ErrCodeOrdering)
}

// IsLogic returns true if err is an emulation error caused by a state
// machine violation.
func IsLogic(err error) bool {
	return hasCode(err, ErrCodeLogic)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// leaves flattens joined errors.
func leaves(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, leaves(e)...)
		}
		return out
	}
	return []error{err}
}

// offendingChannels returns the channels an error is about, if any.
func offendingChannels(err error) []*channel.Channel {
	var ce *channel.Error
	if errors.As(err, &ce) {
		if ce.Chan == nil {
			return nil
		}
		return []*channel.Channel{ce.Chan}
	}
	var faulty interface{ Channels() []*channel.Channel }
	if errors.As(err, &faulty) {
		return faulty.Channels()
	}
	return nil
}
