// Package activity defines the finalized, immutable artifact produced when
// a recording session finishes. Once written it is never mutated; sync
// collaborators consume it as-is.
package activity

import (
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/metrics"
)

// Activity is the finalized form of a recording session.
type Activity struct {
	ID                 string           `json:"id"`
	ProfileID          string           `json:"profile_id"`
	ActivityType       string           `json:"activity_type"`
	PlannedActivityID  string           `json:"planned_activity_id,omitempty"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         time.Time        `json:"finished_at"`
	FinalMetrics       metrics.Snapshot `json:"final_metrics"`
	RawStreamReference string           `json:"raw_stream_reference,omitempty"`
	// Exports maps a format name ("gpx", "fit") to the file rendered for it.
	Exports map[string]string `json:"exports,omitempty"`
}
