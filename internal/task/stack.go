package task

import "fmt"

// Stack is the nest of tasks a thread is executing. The top is the task the
// thread is currently inside.
type Stack struct {
	thread int
	tasks  []*Task
}

// NewStack returns an empty stack for the thread with the given tid.
func NewStack(tid int) *Stack {
	return &Stack{thread: tid}
}

// Top returns the innermost task, or nil.
func (s *Stack) Top() *Task {
	if len(s.tasks) == 0 {
		return nil
	}
	return s.tasks[len(s.tasks)-1]
}

// Depth returns the number of nested tasks.
func (s *Stack) Depth() int { return len(s.tasks) }

// Execute starts t on the thread. The thread must be running. A task can
// only start on top of a running task when nestable is set.
func (s *Stack) Execute(t *Task, threadRunning, nestable bool) error {
	if !threadRunning {
		return &Error{Op: "execute", Task: t.ID, Msg: fmt.Sprintf("thread %d is not running", s.thread)}
	}
	if t.State != Created {
		return &Error{Op: "execute", Task: t.ID, Msg: fmt.Sprintf("task is %s, not created", t.State)}
	}
	if t.owned {
		return &Error{Op: "execute", Task: t.ID, Msg: fmt.Sprintf("task already owned by thread %d", t.Thread)}
	}
	if top := s.Top(); top != nil && top.State == Running && !nestable {
		return &Error{Op: "execute", Task: t.ID, Msg: fmt.Sprintf("thread %d already runs task %d", s.thread, top.ID)}
	}

	t.State = Running
	t.Thread = s.thread
	t.owned = true
	s.tasks = append(s.tasks, t)
	return nil
}

func (s *Stack) checkTop(op string, t *Task, threadRunning bool, want State) error {
	if !threadRunning {
		return &Error{Op: op, Task: t.ID, Msg: fmt.Sprintf("thread %d is not running", s.thread)}
	}
	if s.Top() != t {
		return &Error{Op: op, Task: t.ID, Msg: fmt.Sprintf("task is not on top of thread %d", s.thread)}
	}
	if t.State != want {
		return &Error{Op: op, Task: t.ID, Msg: fmt.Sprintf("task is %s, not %s", t.State, want)}
	}
	return nil
}

// Pause pauses the running task on top.
func (s *Stack) Pause(t *Task, threadRunning bool) error {
	if err := s.checkTop("pause", t, threadRunning, Running); err != nil {
		return err
	}
	t.State = Paused
	return nil
}

// Resume resumes the paused task on top.
func (s *Stack) Resume(t *Task, threadRunning bool) error {
	if err := s.checkTop("resume", t, threadRunning, Paused); err != nil {
		return err
	}
	t.State = Running
	return nil
}

// End finishes the running task on top and removes it from the stack.
func (s *Stack) End(t *Task, threadRunning bool) error {
	if err := s.checkTop("end", t, threadRunning, Running); err != nil {
		return err
	}
	t.State = Dead
	s.tasks[len(s.tasks)-1] = nil
	s.tasks = s.tasks[:len(s.tasks)-1]
	return nil
}
