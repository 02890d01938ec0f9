package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
	"github.com/deancochran/gradientpeak-sub005/internal/export"
	"github.com/deancochran/gradientpeak-sub005/internal/metrics"
	"github.com/deancochran/gradientpeak-sub005/internal/reading"
	"github.com/deancochran/gradientpeak-sub005/internal/session"
)

// encodeFixture writes a small FIT ride to feed back through the engine.
func encodeFixture(t *testing.T) string {
	t.Helper()
	start := time.Date(2025, 4, 6, 8, 0, 0, 0, time.UTC)
	var rds []reading.Reading
	for i := 0; i < 40; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		rds = append(rds, reading.GPS("gps-1", ts, 44.2, 5.3+float64(i)*0.0001, 512))
		if i > 0 {
			rds = append(rds, reading.HeartRate("hr-1", ts, 128))
			rds = append(rds, reading.Power("pm-1", ts, 190))
		}
	}
	art := activity.Activity{
		ID:           "fixture-ride",
		ProfileID:    "athlete-1",
		ActivityType: session.TypeRide,
		StartedAt:    start,
		FinishedAt:   start.Add(39 * time.Second),
		FinalMetrics: metrics.Snapshot{ElapsedSeconds: 39, MovingSeconds: 39},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	out := export.New(false, true, log).Export(t.TempDir(), art, rds)
	path, ok := out[export.FormatFIT]
	if !ok {
		t.Fatal("fixture FIT not written")
	}
	return path
}

func TestReplayEndToEnd(t *testing.T) {
	fitPath := encodeFixture(t)
	dataDir := t.TempDir()

	var out bytes.Buffer
	if err := run([]string{"-quiet", "-data", dataDir, "-profile", "athlete-9", fitPath}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "activity ") {
		t.Fatalf("output missing summary: %q", out.String())
	}

	entries, err := os.ReadDir(filepath.Join(dataDir, "activities"))
	if err != nil {
		t.Fatalf("read activities dir: %v", err)
	}
	var artPath string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			artPath = filepath.Join(dataDir, "activities", e.Name())
		}
	}
	if artPath == "" {
		t.Fatalf("no artifact written, dir has %d entries", len(entries))
	}

	raw, err := os.ReadFile(artPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var art activity.Activity
	if err := json.Unmarshal(raw, &art); err != nil {
		t.Fatalf("parse artifact: %v", err)
	}
	if art.ProfileID != "athlete-9" || art.ActivityType != session.TypeRide {
		t.Fatalf("artifact identity = %q/%q", art.ProfileID, art.ActivityType)
	}
	if art.FinalMetrics.DistanceMeters <= 0 {
		t.Fatalf("distance = %.2f, want > 0", art.FinalMetrics.DistanceMeters)
	}
	if len(art.Exports) != 2 {
		t.Fatalf("exports = %v, want gpx and fit", art.Exports)
	}
	for format, p := range art.Exports {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s export missing: %v", format, err)
		}
	}
}

func TestReplayRejectsMissingFile(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"-quiet", "-data", t.TempDir(), "/nope/missing.fit"}, &out); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReplayUsageError(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"-quiet"}, &out); err == nil {
		t.Fatal("expected usage error without a fit file")
	}
}
