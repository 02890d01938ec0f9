package checkpoint

import "fmt"

// WriteError reports a failed checkpoint write. The recorder retries these
// with backoff; recording itself continues.
type WriteError struct {
	SessionID string
	Sequence  int64
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write checkpoint %d for session %s: %v", e.Sequence, e.SessionID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CorruptError means checkpoint files exist for the session but none could
// be read back consistently. Recovery surfaces this and waits for an
// explicit discard; data is never auto-deleted.
type CorruptError struct {
	SessionID string
	Tried     int
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("session %s: all %d checkpoints unreadable", e.SessionID, e.Tried)
}
