// Package plan resolves planned-workout descriptors referenced by a
// session's planned activity ID. Plans are display material for the UI;
// nothing in metric computation depends on them, so parsing is lenient and
// malformed entries are dropped with a warning instead of failing a
// recording.
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
)

// Target is a step intensity, either a single Value or a Start..End range,
// expressed in Units such as "%lthr", "%ftp" or "%pace".
type Target struct {
	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`
	Units string  `json:"units,omitempty"`
	Value float64 `json:"value,omitempty"`
}

// Step is one block of a planned workout. A step is bounded by distance or
// duration (at least one set); interval sets nest through Steps with
// Repetitions.
type Step struct {
	Text            string  `json:"text,omitempty"`
	DistanceMeters  float64 `json:"distance_m,omitempty"`
	DurationSeconds float64 `json:"duration_s,omitempty"`
	HeartRate       *Target `json:"hr,omitempty"`
	Power           *Target `json:"power,omitempty"`
	Pace            *Target `json:"pace,omitempty"`
	Steps           []Step  `json:"steps,omitempty"`
	Repetitions     int     `json:"reps,omitempty"`
}

// Plan is a planned workout a session may reference.
type Plan struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	ActivityType    string  `json:"activity_type,omitempty"`
	DistanceMeters  float64 `json:"distance_m,omitempty"`
	DurationSeconds float64 `json:"duration_s,omitempty"`
	Steps           []Step  `json:"steps,omitempty"`
}

// Flatten expands repetition blocks into the linear step sequence a display
// walks through.
func (p Plan) Flatten() []Step {
	return flatten(p.Steps)
}

func flatten(steps []Step) []Step {
	var out []Step
	for _, s := range steps {
		if len(s.Steps) == 0 {
			out = append(out, s)
			continue
		}
		reps := s.Repetitions
		if reps <= 0 {
			reps = 1
		}
		inner := flatten(s.Steps)
		for i := 0; i < reps; i++ {
			out = append(out, inner...)
		}
	}
	return out
}

// Source resolves a planned activity ID. The boolean reports whether the
// plan is known; the ID stays a valid opaque reference either way.
type Source interface {
	Lookup(ctx context.Context, id string) (Plan, bool)
}

// Static serves a fixed plan set, keyed by ID.
type Static map[string]Plan

func (s Static) Lookup(_ context.Context, id string) (Plan, bool) {
	p, ok := s[id]
	if ok {
		p.ID = id
	}
	return p, ok
}

// FileSource reads plans from a JSON file holding an array of plan
// documents. A missing file means no plans. Entries that fail to parse or
// carry no ID are skipped with a warning; one bad document never hides the
// rest.
type FileSource struct {
	Path string
	Log  *slog.Logger
}

func (f FileSource) Lookup(_ context.Context, id string) (Plan, bool) {
	log := f.Log
	if log == nil {
		log = slog.Default()
	}
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Plan{}, false
	}
	if err != nil {
		log.Warn("planned activities unreadable", "path", f.Path, "error", err)
		return Plan{}, false
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		log.Warn("planned activities malformed", "path", f.Path, "error", err)
		return Plan{}, false
	}
	for i, doc := range docs {
		var p Plan
		if err := json.Unmarshal(doc, &p); err != nil {
			log.Warn("skipping malformed planned activity", "path", f.Path, "index", i, "error", err)
			continue
		}
		if p.ID == "" {
			log.Warn("skipping planned activity without id", "path", f.Path, "index", i)
			continue
		}
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
