package recorder

import (
	"sync"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/metrics"
	"github.com/deancochran/gradientpeak-sub005/internal/sensor"
	"github.com/deancochran/gradientpeak-sub005/internal/session"
)

// EventType discriminates the push events the engine emits to observers.
type EventType string

const (
	EventStateChanged    EventType = "state_changed"
	EventMetricsUpdated  EventType = "metrics_updated"
	EventSensorStatus    EventType = "sensor_status"
	EventRecordingAtRisk EventType = "recording_at_risk"
	EventRecoveryFailed  EventType = "recovery_failed"
	EventLapMarked       EventType = "lap_marked"
)

// Event is one observation pushed to subscribers. Only the fields matching
// Type are set.
type Event struct {
	Type      EventType           `json:"type"`
	At        time.Time           `json:"at"`
	SessionID string              `json:"session_id,omitempty"`
	State     session.State       `json:"state,omitempty"`
	Metrics   *metrics.Snapshot   `json:"metrics,omitempty"`
	Sensor    *sensor.StatusEvent `json:"sensor,omitempty"`
	Lap       *metrics.Lap        `json:"lap,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// subscribers is a fan-out registry. Sends never block: a stalled observer
// loses events rather than stalling ingestion.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

func newSubscribers(buffer int) *subscribers {
	if buffer <= 0 {
		buffer = 16
	}
	return &subscribers{subs: make(map[int]chan Event), buffer: buffer}
}

func (s *subscribers) add() (int, <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ch := make(chan Event, s.buffer)
	s.subs[s.nextID] = ch
	return s.nextID, ch
}

func (s *subscribers) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *subscribers) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
