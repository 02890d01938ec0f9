package session

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a recording session. Exactly one state
// is live at a time; Finished and Discarded are terminal.
type State string

const (
	StatePending   State = "pending"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateFinished  State = "finished"
	StateDiscarded State = "discarded"
)

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateDiscarded
}

// Activity types understood by the calorie model. Anything else is carried
// through verbatim and treated like Other.
const (
	TypeRide  = "ride"
	TypeRun   = "run"
	TypeWalk  = "walk"
	TypeHike  = "hike"
	TypeOther = "other"
)

// PausedInterval is one pause window. End is zero while the pause is open.
type PausedInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

// Duration returns the interval length, measuring open intervals up to now.
func (p PausedInterval) Duration(now time.Time) time.Duration {
	end := p.End
	if end.IsZero() {
		end = now
	}
	if end.Before(p.Start) {
		return 0
	}
	return end.Sub(p.Start)
}

// Session is the single mutable lifecycle record. It is owned exclusively by
// the recorder's processing loop; everything else sees copies.
type Session struct {
	ID                string           `json:"id"`
	ProfileID         string           `json:"profile_id"`
	ActivityType      string           `json:"activity_type"`
	PlannedActivityID string           `json:"planned_activity_id,omitempty"`
	State             State            `json:"state"`
	StartedAt         time.Time        `json:"started_at,omitempty"`
	PausedIntervals   []PausedInterval `json:"paused_intervals,omitempty"`
	CheckpointCursor  int64            `json:"checkpoint_cursor"`
}

// New creates a pending session for the given athlete and activity type.
func New(profileID, activityType, plannedActivityID string) *Session {
	if activityType == "" {
		activityType = TypeOther
	}
	return &Session{
		ID:                uuid.NewString(),
		ProfileID:         profileID,
		ActivityType:      activityType,
		PlannedActivityID: plannedActivityID,
		State:             StatePending,
	}
}

// Start moves pending -> recording and stamps the start time.
func (s *Session) Start(now time.Time) error {
	if err := s.guard("start", StatePending); err != nil {
		return err
	}
	s.State = StateRecording
	s.StartedAt = now
	return nil
}

// Pause moves recording -> paused and opens a pause interval.
func (s *Session) Pause(now time.Time) error {
	if err := s.guard("pause", StateRecording); err != nil {
		return err
	}
	s.State = StatePaused
	s.PausedIntervals = append(s.PausedIntervals, PausedInterval{Start: now})
	return nil
}

// Resume moves paused -> recording and closes the open pause interval.
func (s *Session) Resume(now time.Time) error {
	if err := s.guard("resume", StatePaused); err != nil {
		return err
	}
	s.State = StateRecording
	s.closeOpenPause(now)
	return nil
}

// Finish moves recording|paused -> finished. A pause still open is closed at
// the finish instant so it never bleeds into elapsed time.
func (s *Session) Finish(now time.Time) error {
	if err := s.guard("finish", StateRecording, StatePaused); err != nil {
		return err
	}
	s.closeOpenPause(now)
	s.State = StateFinished
	return nil
}

// Discard moves any non-terminal state -> discarded.
func (s *Session) Discard(now time.Time) error {
	if err := s.guard("discard", StatePending, StateRecording, StatePaused); err != nil {
		return err
	}
	s.closeOpenPause(now)
	s.State = StateDiscarded
	return nil
}

// AddImplicitPause records a closed pause window the athlete never asked
// for, covering a span with no sensor data (crash-recovery gap).
func (s *Session) AddImplicitPause(start, end time.Time) {
	if !end.After(start) {
		return
	}
	s.PausedIntervals = append(s.PausedIntervals, PausedInterval{Start: start, End: end})
}

// PausedTotal sums all pause windows, counting an open one up to now.
func (s *Session) PausedTotal(now time.Time) time.Duration {
	var total time.Duration
	for _, p := range s.PausedIntervals {
		total += p.Duration(now)
	}
	return total
}

// Elapsed is wall time since start minus every paused interval. Zero before
// the session starts.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() || now.Before(s.StartedAt) {
		return 0
	}
	e := now.Sub(s.StartedAt) - s.PausedTotal(now)
	if e < 0 {
		return 0
	}
	return e
}

// Clone returns an independent copy safe to hand to other goroutines.
func (s *Session) Clone() Session {
	cp := *s
	cp.PausedIntervals = append([]PausedInterval(nil), s.PausedIntervals...)
	return cp
}

func (s *Session) closeOpenPause(now time.Time) {
	if n := len(s.PausedIntervals); n > 0 && s.PausedIntervals[n-1].End.IsZero() {
		s.PausedIntervals[n-1].End = now
	}
}

func (s *Session) guard(action string, allowed ...State) error {
	for _, a := range allowed {
		if s.State == a {
			return nil
		}
	}
	if s.State.Terminal() && (action == "finish" || action == "discard") {
		return &AlreadyFinalizedError{SessionID: s.ID, State: s.State, Action: action}
	}
	return &InvalidTransitionError{SessionID: s.ID, From: s.State, Action: action}
}
