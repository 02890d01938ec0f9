package recorder

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned for actions sent before Run starts or after it
// returns.
var ErrNotRunning = errors.New("recorder is not running")

// ErrNoCheckpoint is wrapped in a RecoveryError when recovery is asked for
// a session that left nothing behind.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// FinalizeError means finish() could not produce the artifact. The session
// stays in its prior state so the user can retry without losing data.
type FinalizeError struct {
	SessionID string
	Err       error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize session %s: %v", e.SessionID, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

// RecoveryError means a session's checkpoints exist but could not be
// resumed. The engine never auto-discards; the user must discard
// explicitly.
type RecoveryError struct {
	SessionID string
	Err       error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recover session %s: %v", e.SessionID, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }
