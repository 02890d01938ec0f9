package session

import "fmt"

// InvalidTransitionError reports a lifecycle action that is not legal from
// the session's current state.
type InvalidTransitionError struct {
	SessionID string
	From      State
	Action    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot %s from state %q", e.SessionID, e.Action, e.From)
}

// AlreadyFinalizedError reports a finish or discard attempted on a session
// that already reached a terminal state.
type AlreadyFinalizedError struct {
	SessionID string
	State     State
	Action    string
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("session %s: already finalized (%s), cannot %s", e.SessionID, e.State, e.Action)
}

// ValidationError reports a request rejected before it touched session
// state, such as starting a second concurrent session.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
