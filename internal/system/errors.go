package system

import (
	"errors"
	"fmt"
)

// StateError is a thread or CPU transition that breaks the state machine.
type StateError struct {
	Op    string
	TID   int
	State ThreadState
	Msg   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("thread %d (%s): %s: %s", e.TID, e.State, e.Op, e.Msg)
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
