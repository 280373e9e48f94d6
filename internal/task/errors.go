package task

import "fmt"

// TransitionError reports an attempt to move a task along an edge the
// state machine does not permit.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal task transition %s -> %s", e.From, e.To)
}

// NotPausableError reports a pause request against a task whose state is
// not pausable.
type NotPausableError struct {
	State State
}

func (e *NotPausableError) Error() string {
	return fmt.Sprintf("task cannot be paused in state %q", e.State)
}

// NotResumableError reports a resume request against a task that is not
// suspended.
type NotResumableError struct {
	State State
}

func (e *NotResumableError) Error() string {
	return fmt.Sprintf("task cannot be resumed in state %q", e.State)
}

// NotCancelableError reports a cancel request against a task already in a
// terminal state.
type NotCancelableError struct {
	State State
}

func (e *NotCancelableError) Error() string {
	return fmt.Sprintf("task cannot be canceled in state %q", e.State)
}

// NotStartableError reports an execution request against a task that is
// not in a startable state.
type NotStartableError struct {
	State State
}

func (e *NotStartableError) Error() string {
	return fmt.Sprintf("task cannot be started in state %q", e.State)
}
