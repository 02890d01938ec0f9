package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Profile carries the athlete thresholds the metrics layer depends on. Every
// field is optional: the profile service is an external collaborator and may
// know nothing about this athlete. Missing thresholds degrade the dependent
// metrics to unavailable, they never fail a recording.
type Profile struct {
	ID          string   `json:"id"`
	FTPWatts    *float64 `json:"ftp_watts,omitempty"`
	ThresholdHR *int     `json:"threshold_hr,omitempty"`
	MaxHR       *int     `json:"max_hr,omitempty"`
	WeightKg    *float64 `json:"weight_kg,omitempty"`
}

// FTP returns the functional threshold power if known.
func (p Profile) FTP() (float64, bool) {
	if p.FTPWatts == nil || *p.FTPWatts <= 0 {
		return 0, false
	}
	return *p.FTPWatts, true
}

// LTHR returns the threshold heart rate if known.
func (p Profile) LTHR() (int, bool) {
	if p.ThresholdHR == nil || *p.ThresholdHR <= 0 {
		return 0, false
	}
	return *p.ThresholdHR, true
}

// Weight returns the athlete weight in kilograms if known.
func (p Profile) Weight() (float64, bool) {
	if p.WeightKg == nil || *p.WeightKg <= 0 {
		return 0, false
	}
	return *p.WeightKg, true
}

// Source resolves athlete profiles. Implementations must treat an unknown
// profile as an empty Profile, not an error.
type Source interface {
	Lookup(ctx context.Context, profileID string) (Profile, error)
}

// Static serves a fixed set of profiles, keyed by ID. The zero value serves
// nobody.
type Static map[string]Profile

func (s Static) Lookup(_ context.Context, profileID string) (Profile, error) {
	p, ok := s[profileID]
	if !ok {
		return Profile{ID: profileID}, nil
	}
	p.ID = profileID
	return p, nil
}

// FileSource reads profiles from a JSON file of the shape
// {"<profileID>": {"ftp_watts": 250, ...}, ...}. A missing file means no
// profiles; a malformed file is an error the caller may downgrade to
// "profile absent".
type FileSource struct {
	Path string
}

func (f FileSource) Lookup(_ context.Context, profileID string) (Profile, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Profile{ID: profileID}, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profiles: %w", err)
	}

	var all map[string]Profile
	if err := json.Unmarshal(raw, &all); err != nil {
		return Profile{}, fmt.Errorf("parse profiles: %w", err)
	}
	p, ok := all[profileID]
	if !ok {
		return Profile{ID: profileID}, nil
	}
	p.ID = profileID
	return p, nil
}

// FloatPtr and IntPtr build optional fields in literals and tests.
func FloatPtr(v float64) *float64 { return &v }
func IntPtr(v int) *int           { return &v }
