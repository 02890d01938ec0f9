package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
	"github.com/deancochran/gradientpeak-sub005/internal/checkpoint"
	"github.com/deancochran/gradientpeak-sub005/internal/geo"
	"github.com/deancochran/gradientpeak-sub005/internal/metrics"
	"github.com/deancochran/gradientpeak-sub005/internal/profile"
	"github.com/deancochran/gradientpeak-sub005/internal/rawlog"
	"github.com/deancochran/gradientpeak-sub005/internal/reading"
	"github.com/deancochran/gradientpeak-sub005/internal/sensor"
	"github.com/deancochran/gradientpeak-sub005/internal/session"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	rec      *Recorder
	store    *checkpoint.FileStore
	clock    *testClock
	readings chan reading.Reading
	status   chan sensor.StatusEvent
}

// newHarness runs a recorder against root with long cadences, so
// checkpoints happen only on state transitions and teardown and every
// metrics event is attributable to a specific cause.
func newHarness(t *testing.T, root string, mutate func(*Options)) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := checkpoint.NewFileStore(root, 0, log)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := &testClock{now: t0}
	opts := Options{
		Config: Config{
			CheckpointInterval:      time.Hour,
			CheckpointEveryReadings: 1 << 20,
			WriteRetries:            3,
			WriteBackoff:            time.Millisecond,
			MetricsInterval:         time.Hour,
			EventBuffer:             256,
			Clock:                   clock.Now,
		},
		Store: store,
		Profiles: profile.Static{
			"athlete-1": {
				ID:          "athlete-1",
				FTPWatts:    profile.FloatPtr(250),
				ThresholdHR: profile.IntPtr(170),
				WeightKg:    profile.FloatPtr(72),
			},
		},
		Logger: log,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h := &harness{
		rec:      New(opts),
		store:    store,
		clock:    clock,
		readings: make(chan reading.Reading),
		status:   make(chan sensor.StatusEvent),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go h.rec.Run(ctx, h.readings, h.status)
	t.Cleanup(func() {
		h.rec.Close()
		cancel()
	})
	return h
}

func (h *harness) feed(rds ...reading.Reading) {
	for _, rd := range rds {
		h.readings <- rd
	}
}

// gpsLine builds fixes one second apart heading east at roughly 7.9 m/s,
// climbing one meter per fix.
func gpsLine(n, from int, start time.Time) []reading.Reading {
	rds := make([]reading.Reading, n)
	for i := range rds {
		idx := from + i
		rds[i] = reading.GPS("gps-1", start.Add(time.Duration(i)*time.Second),
			45.0, 7.0+float64(idx)*0.0001, 320+float64(idx))
	}
	return rds
}

// lineDistance sums the haversine legs of a fix batch, matching what the
// aggregator accumulates for it.
func lineDistance(rds []reading.Reading) float64 {
	var d float64
	for i := 1; i < len(rds); i++ {
		d += geo.HaversineM(rds[i-1].Lat, rds[i-1].Lon, rds[i].Lat, rds[i].Lon)
	}
	return d
}

func approx(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed waiting for %q", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", want)
		}
	}
}

func TestLifecyclePauseExcludesElapsedAndDistance(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	sess, err := h.rec.Start(ctx, "athlete-1", session.TypeRide, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.State != session.StateRecording {
		t.Fatalf("state after start = %q, want recording", sess.State)
	}

	riding := gpsLine(10, 0, t0)
	h.feed(riding...)
	h.clock.Set(t0.Add(60 * time.Second))
	if err := h.rec.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Samples received while paused reach the raw stream but not the
	// metrics.
	h.feed(gpsLine(5, 100, t0.Add(61*time.Second))...)

	ov, ok := h.rec.Current()
	if !ok {
		t.Fatal("current: no session")
	}
	if ov.Session.State != session.StatePaused {
		t.Fatalf("state = %q, want paused", ov.Session.State)
	}
	wantDist := lineDistance(riding)
	if !approx(ov.Metrics.DistanceMeters, wantDist, 1e-6) {
		t.Fatalf("distance while paused = %.2f, want %.2f", ov.Metrics.DistanceMeters, wantDist)
	}

	h.clock.Set(t0.Add(120 * time.Second))
	if err := h.rec.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	h.clock.Set(t0.Add(180 * time.Second))
	art, err := h.rec.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	if got := art.FinalMetrics.ElapsedSeconds; !approx(got, 120, 1e-6) {
		t.Fatalf("elapsed = %.1fs, want 120s (60s pause excluded)", got)
	}
	if !approx(art.FinalMetrics.DistanceMeters, wantDist, 1e-6) {
		t.Fatalf("final distance = %.2f, want %.2f", art.FinalMetrics.DistanceMeters, wantDist)
	}
	if !approx(art.FinalMetrics.ElevationGainMeters, 9, 1e-6) {
		t.Fatalf("elevation gain = %.2f, want 9", art.FinalMetrics.ElevationGainMeters)
	}
	if !art.FinishedAt.Equal(t0.Add(180 * time.Second)) {
		t.Fatalf("finished at %v", art.FinishedAt)
	}
	if len(art.FinalMetrics.Laps) != 0 {
		t.Fatalf("unmarked session has %d laps, want 0", len(art.FinalMetrics.Laps))
	}

	stored, err := h.store.LoadArtifact(art.ID)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if stored.ProfileID != "athlete-1" || stored.ActivityType != session.TypeRide {
		t.Fatalf("artifact profile/type = %q/%q", stored.ProfileID, stored.ActivityType)
	}

	rds, err := rawlog.ReadAll(art.RawStreamReference)
	if err != nil {
		t.Fatalf("read raw stream: %v", err)
	}
	if len(rds) != 15 {
		t.Fatalf("raw stream has %d readings, want 15 (paused samples included)", len(rds))
	}

	// The session's checkpoints are gone, the artifact is the durable
	// record now.
	if cp, err := h.store.LoadLatest(art.ID); err != nil || cp != nil {
		t.Fatalf("checkpoints after finalize: cp=%v err=%v", cp, err)
	}

	// A second finish cannot touch the artifact.
	if _, err := h.rec.Finish(ctx); err == nil {
		t.Fatal("second finish succeeded")
	} else {
		var fin *session.AlreadyFinalizedError
		if !errors.As(err, &fin) {
			t.Fatalf("second finish error = %v, want AlreadyFinalizedError", err)
		}
	}
	again, err := h.store.LoadArtifact(art.ID)
	if err != nil {
		t.Fatalf("reload artifact: %v", err)
	}
	if !again.FinishedAt.Equal(art.FinishedAt) {
		t.Fatal("artifact changed by second finish")
	}
}

func TestSingleActiveSession(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	if _, err := h.rec.Start(ctx, "athlete-1", session.TypeRun, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := h.rec.Start(ctx, "athlete-1", session.TypeRun, "")
	var verr *session.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("second start error = %v, want ValidationError", err)
	}

	if _, err := h.rec.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := h.rec.Start(ctx, "athlete-1", session.TypeRun, ""); err != nil {
		t.Fatalf("start after finish: %v", err)
	}
}

func TestStartRequiresProfileID(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	_, err := h.rec.Start(context.Background(), "", session.TypeRide, "")
	var verr *session.ValidationError
	if !errors.As(err, &verr) || verr.Field != "profile_id" {
		t.Fatalf("error = %v, want profile_id validation error", err)
	}
}

func TestTransitionGuards(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	var verr *session.ValidationError
	if err := h.rec.Pause(); !errors.As(err, &verr) {
		t.Fatalf("pause with no session = %v, want ValidationError", err)
	}
	if _, err := h.rec.MarkLap(); !errors.As(err, &verr) {
		t.Fatalf("lap with no session = %v, want ValidationError", err)
	}

	if _, err := h.rec.Start(ctx, "athlete-1", session.TypeRide, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	var inv *session.InvalidTransitionError
	if err := h.rec.Resume(); !errors.As(err, &inv) {
		t.Fatalf("resume while recording = %v, want InvalidTransitionError", err)
	}
	if err := h.rec.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := h.rec.Pause(); !errors.As(err, &inv) {
		t.Fatalf("double pause = %v, want InvalidTransitionError", err)
	}
	if _, err := h.rec.MarkLap(); !errors.As(err, &inv) {
		t.Fatalf("lap while paused = %v, want InvalidTransitionError", err)
	}
	if err := h.rec.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestDiscardDeletesSessionData(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	sess, err := h.rec.Start(ctx, "athlete-1", session.TypeHike, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(gpsLine(5, 0, t0)...)
	if err := h.rec.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := h.rec.Discard(); err != nil {
		t.Fatalf("discard: %v", err)
	}

	if _, err := os.Stat(h.store.Dir(sess.ID)); !os.IsNotExist(err) {
		t.Fatalf("session dir still present after discard: %v", err)
	}

	var fin *session.AlreadyFinalizedError
	if _, err := h.rec.Finish(ctx); !errors.As(err, &fin) {
		t.Fatalf("finish after discard = %v, want AlreadyFinalizedError", err)
	}
	if err := h.rec.Discard(); !errors.As(err, &fin) {
		t.Fatalf("double discard = %v, want AlreadyFinalizedError", err)
	}
	var inv *session.InvalidTransitionError
	if err := h.rec.Pause(); !errors.As(err, &inv) {
		t.Fatalf("pause after discard = %v, want InvalidTransitionError", err)
	}
}

func TestPowerMetricsAndLaps(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	if _, err := h.rec.Start(ctx, "athlete-1", session.TypeRide, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Steady 250 W at FTP for ten minutes: NP 250, IF 1.0.
	for i := 0; i <= 600; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		h.feed(reading.GPS("gps-1", ts, 45.0, 7.0+float64(i)*0.0001, 320))
		if i > 0 {
			h.feed(reading.Power("pm-1", ts, 250))
		}
		if i == 300 {
			h.clock.Set(ts)
			if _, err := h.rec.MarkLap(); err != nil {
				t.Fatalf("mark lap: %v", err)
			}
		}
	}
	h.clock.Set(t0.Add(600 * time.Second))
	art, err := h.rec.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	m := art.FinalMetrics

	if !m.NormalizedPowerWatts.Valid || !approx(m.NormalizedPowerWatts.V, 250, 0.01) {
		t.Fatalf("normalized power = %+v, want 250", m.NormalizedPowerWatts)
	}
	if !m.IntensityFactor.Valid || !approx(m.IntensityFactor.V, 1.0, 1e-6) {
		t.Fatalf("intensity factor = %+v, want 1.0", m.IntensityFactor)
	}
	// One hour at FTP is 100 TSS, so ten minutes is 100/6.
	if !m.TSS.Valid || !approx(m.TSS.V, 100.0/6, 0.01) {
		t.Fatalf("tss = %+v, want %.2f", m.TSS, 100.0/6)
	}
	if m.TSSBasis != metrics.TSSBasisPower {
		t.Fatalf("tss basis = %q, want power", m.TSSBasis)
	}
	if !m.AvgPowerWatts.Valid || !approx(m.AvgPowerWatts.V, 250, 1e-6) {
		t.Fatalf("avg power = %+v", m.AvgPowerWatts)
	}
	if !m.CaloriesKcal.Valid || m.CaloriesKcal.V <= 0 {
		t.Fatalf("calories = %+v", m.CaloriesKcal)
	}
	if len(m.Laps) != 2 {
		t.Fatalf("laps = %d, want 2 (one mark plus trailing)", len(m.Laps))
	}
	if m.Laps[0].Index != 1 || m.Laps[1].Index != 2 {
		t.Fatalf("lap indexes = %d,%d", m.Laps[0].Index, m.Laps[1].Index)
	}
	total := m.Laps[0].DistanceMeters + m.Laps[1].DistanceMeters
	if !approx(total, m.DistanceMeters, 1e-6) {
		t.Fatalf("lap distances sum %.2f != total %.2f", total, m.DistanceMeters)
	}
}

func TestMissingFTPDegradesTSS(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	// Unknown athlete: the profile source returns an empty profile.
	if _, err := h.rec.Start(ctx, "stranger", session.TypeRide, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i <= 120; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		h.feed(reading.GPS("gps-1", ts, 45.0, 7.0+float64(i)*0.0001, 320))
		if i > 0 {
			h.feed(reading.Power("pm-1", ts, 200))
		}
	}
	h.clock.Set(t0.Add(120 * time.Second))
	art, err := h.rec.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	m := art.FinalMetrics
	if !m.NormalizedPowerWatts.Valid {
		t.Fatal("normalized power should not need a threshold")
	}
	if m.TSS.Valid || m.IntensityFactor.Valid {
		t.Fatalf("tss/if available without FTP: %+v %+v", m.TSS, m.IntensityFactor)
	}
	if m.PowerZones.Valid {
		t.Fatal("power zones available without FTP")
	}
}

func TestCheckpointRecoveryRoundTrip(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	h1 := newHarness(t, root, nil)
	sess, err := h1.rec.Start(ctx, "athlete-1", session.TypeRide, "plan-7")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	before := gpsLine(10, 0, t0)
	h1.feed(before...)
	h1.clock.Set(t0.Add(10 * time.Second))
	h1.rec.Close()

	cp, err := h1.store.LoadLatest(sess.ID)
	if err != nil || cp == nil {
		t.Fatalf("final checkpoint after close: cp=%v err=%v", cp, err)
	}
	if cp.Session.State != session.StateRecording {
		t.Fatalf("checkpointed state = %q", cp.Session.State)
	}

	// Restart an hour later.
	h2 := newHarness(t, root, nil)
	h2.clock.Set(t0.Add(3610 * time.Second))
	ov, err := h2.rec.Recover(ctx, sess.ID)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if ov.Session.State != session.StateRecording {
		t.Fatalf("recovered state = %q", ov.Session.State)
	}
	if ov.Session.PlannedActivityID != "plan-7" {
		t.Fatalf("planned activity lost: %q", ov.Session.PlannedActivityID)
	}
	d1 := lineDistance(before)
	if !approx(ov.Metrics.DistanceMeters, d1, 1e-6) {
		t.Fatalf("recovered distance = %.2f, want %.2f", ov.Metrics.DistanceMeters, d1)
	}
	// The downtime is an implicit pause, not activity time.
	if !approx(ov.Metrics.ElapsedSeconds, 10, 1e-6) {
		t.Fatalf("recovered elapsed = %.1fs, want 10s", ov.Metrics.ElapsedSeconds)
	}
	if n := len(ov.Session.PausedIntervals); n != 1 {
		t.Fatalf("paused intervals = %d, want 1", n)
	}

	// The first fix after recovery only re-anchors; no distance may be
	// fabricated across the gap.
	after := gpsLine(10, 10, t0.Add(3610*time.Second))
	h2.feed(after[:1]...)
	mid, _ := h2.rec.Current()
	if !approx(mid.Metrics.DistanceMeters, d1, 1e-6) {
		t.Fatalf("distance jumped across recovery gap: %.2f != %.2f", mid.Metrics.DistanceMeters, d1)
	}
	h2.feed(after[1:]...)

	h2.clock.Set(t0.Add(3620 * time.Second))
	art, err := h2.rec.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	want := d1 + lineDistance(after)
	if !approx(art.FinalMetrics.DistanceMeters, want, 1e-6) {
		t.Fatalf("total distance = %.2f, want %.2f (no double counting)", art.FinalMetrics.DistanceMeters, want)
	}
	if !approx(art.FinalMetrics.ElapsedSeconds, 20, 1e-6) {
		t.Fatalf("total elapsed = %.1fs, want 20s", art.FinalMetrics.ElapsedSeconds)
	}

	rds, err := rawlog.ReadAll(art.RawStreamReference)
	if err != nil {
		t.Fatalf("read raw stream: %v", err)
	}
	if len(rds) != 20 {
		t.Fatalf("raw stream has %d readings, want 20 across both runs", len(rds))
	}
}

func TestRecoverUnknownSession(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	_, err := h.rec.Recover(context.Background(), "ghost")
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("error = %v, want ErrNoCheckpoint", err)
	}
	var rerr *RecoveryError
	if !errors.As(err, &rerr) || rerr.SessionID != "ghost" {
		t.Fatalf("error = %v, want RecoveryError for ghost", err)
	}
}

func TestRecoverFinalizedCheckpointRejected(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	cp := checkpoint.Checkpoint{
		SessionID: "done-1",
		Sequence:  3,
		Timestamp: t0,
		Session:   session.Session{ID: "done-1", ProfileID: "athlete-1", State: session.StateFinished},
	}
	if err := h.store.Write(cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	var rerr *RecoveryError
	if _, err := h.rec.Recover(context.Background(), "done-1"); !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want RecoveryError", err)
	}
}

func TestCorruptCheckpointRequiresExplicitDiscard(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	cp := checkpoint.Checkpoint{
		SessionID: "sess-x",
		Sequence:  1,
		Timestamp: t0,
		Session:   session.Session{ID: "sess-x", ProfileID: "athlete-1", State: session.StateRecording, StartedAt: t0},
	}
	if err := h.store.Write(cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	path := filepath.Join(h.store.Dir("sess-x"), "cp-000000001.json")
	if err := os.WriteFile(path, []byte("{torn"), 0o644); err != nil {
		t.Fatalf("corrupt checkpoint: %v", err)
	}

	id, events := h.rec.Subscribe()
	defer h.rec.Unsubscribe(id)

	_, err := h.rec.Recover(ctx, "sess-x")
	var cerr *checkpoint.CorruptError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CorruptError inside RecoveryError", err)
	}
	ev := waitEvent(t, events, EventRecoveryFailed)
	if ev.SessionID != "sess-x" {
		t.Fatalf("recovery_failed for %q", ev.SessionID)
	}

	// Data is untouched and new recordings are blocked until the user
	// decides.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("corrupt checkpoint was removed: %v", err)
	}
	var verr *session.ValidationError
	if _, err := h.rec.Start(ctx, "athlete-1", session.TypeRide, ""); !errors.As(err, &verr) {
		t.Fatalf("start while recovery pending = %v, want ValidationError", err)
	}

	if err := h.rec.Discard(); err != nil {
		t.Fatalf("discard failed recovery: %v", err)
	}
	if _, err := os.Stat(h.store.Dir("sess-x")); !os.IsNotExist(err) {
		t.Fatal("session data still present after discard")
	}
	if _, err := h.rec.Start(ctx, "athlete-1", session.TypeRide, ""); err != nil {
		t.Fatalf("start after discard: %v", err)
	}
}

func TestCheckpointFailureEmitsAtRiskAndRecordingContinues(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	id, events := h.rec.Subscribe()
	defer h.rec.Unsubscribe(id)

	sess, err := h.rec.Start(ctx, "athlete-1", session.TypeRide, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(gpsLine(3, 0, t0)...)

	// Make the session directory unwritable by replacing it with a file.
	dir := h.store.Dir(sess.ID)
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := os.WriteFile(dir, []byte("x"), 0o644); err != nil {
		t.Fatalf("block dir: %v", err)
	}
	h.clock.Set(t0.Add(30 * time.Second))
	if err := h.rec.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	ev := waitEvent(t, events, EventRecordingAtRisk)
	if ev.SessionID != sess.ID || ev.Reason == "" {
		t.Fatalf("at-risk event = %+v", ev)
	}

	// Durability is degraded but the session is still live.
	if err := h.rec.Resume(); err != nil {
		t.Fatalf("resume after at-risk: %v", err)
	}
	h.feed(gpsLine(3, 10, t0.Add(31*time.Second))...)
	ov, ok := h.rec.Current()
	if !ok || ov.Session.State != session.StateRecording {
		t.Fatalf("session not recording after at-risk: %+v", ov.Session.State)
	}
	if ov.Metrics.DistanceMeters <= 0 {
		t.Fatal("ingestion stopped after checkpoint failure")
	}
}

func TestFinalizeFailureKeepsSessionRetryable(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	sess, err := h.rec.Start(ctx, "athlete-1", session.TypeRide, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(gpsLine(5, 0, t0)...)

	// Occupy the artifact slot so finalize cannot write it.
	if _, err := h.store.WriteArtifact(activity.Activity{ID: sess.ID}); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	h.clock.Set(t0.Add(10 * time.Second))
	_, err = h.rec.Finish(ctx)
	var ferr *FinalizeError
	if !errors.As(err, &ferr) || !errors.Is(err, checkpoint.ErrArtifactExists) {
		t.Fatalf("finish error = %v, want FinalizeError wrapping ErrArtifactExists", err)
	}

	// The session survived in its prior state and keeps accepting data.
	ov, ok := h.rec.Current()
	if !ok || ov.Session.State != session.StateRecording {
		t.Fatalf("state after failed finalize = %+v, want recording", ov.Session.State)
	}
	h.feed(gpsLine(3, 10, t0.Add(11*time.Second))...)
	if err := h.rec.Pause(); err != nil {
		t.Fatalf("pause after failed finalize: %v", err)
	}
	if err := h.rec.Discard(); err != nil {
		t.Fatalf("discard: %v", err)
	}
}

func TestEventStreamFollowsLifecycle(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	ctx := context.Background()

	id, events := h.rec.Subscribe()
	defer h.rec.Unsubscribe(id)

	if _, err := h.rec.Start(ctx, "athlete-1", session.TypeRide, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ev := waitEvent(t, events, EventStateChanged); ev.State != session.StateRecording {
		t.Fatalf("first state event = %q", ev.State)
	}
	h.feed(gpsLine(3, 0, t0)...)
	if ev := waitEvent(t, events, EventMetricsUpdated); ev.Metrics == nil {
		t.Fatal("metrics event without payload")
	}

	if err := h.rec.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if ev := waitEvent(t, events, EventStateChanged); ev.State != session.StatePaused {
		t.Fatalf("state event = %q, want paused", ev.State)
	}
	if err := h.rec.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := h.rec.MarkLap(); err != nil {
		t.Fatalf("mark lap: %v", err)
	}
	if ev := waitEvent(t, events, EventLapMarked); ev.Lap == nil || ev.Lap.Index != 1 {
		t.Fatalf("lap event = %+v", ev.Lap)
	}
	if _, err := h.rec.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	for {
		ev := waitEvent(t, events, EventStateChanged)
		if ev.State == session.StateFinished {
			break
		}
	}
}

func TestSensorStatusForwarded(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)

	id, events := h.rec.Subscribe()
	defer h.rec.Unsubscribe(id)

	h.status <- sensor.StatusEvent{SourceID: "hr-1", Status: sensor.StatusReconnecting, Attempt: 2, At: t0}
	ev := waitEvent(t, events, EventSensorStatus)
	if ev.Sensor == nil || ev.Sensor.SourceID != "hr-1" || ev.Sensor.Status != sensor.StatusReconnecting {
		t.Fatalf("sensor event = %+v", ev.Sensor)
	}
	if ev.SessionID != "" {
		t.Fatalf("sensor event bound to session %q with none active", ev.SessionID)
	}
}

func TestActionsAfterClose(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil)
	h.rec.Close()

	if err := h.rec.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("pause after close = %v, want ErrNotRunning", err)
	}
	if _, err := h.rec.Start(context.Background(), "athlete-1", session.TypeRide, ""); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("start after close = %v, want ErrNotRunning", err)
	}
	if _, ok := h.rec.Current(); ok {
		t.Fatal("current after close reported a session")
	}
}

func TestRawWriterBarrier(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "raw.jsonl")
	raw, err := rawlog.Open(path)
	if err != nil {
		t.Fatalf("open raw log: %v", err)
	}
	w := newRawWriter(raw, log)

	for i := 0; i < 100; i++ {
		w.append(reading.HeartRate("hr-1", t0.Add(time.Duration(i)*time.Second), 120+i%20))
	}
	if err := w.syncWait(); err != nil {
		t.Fatalf("sync barrier: %v", err)
	}
	rds, err := rawlog.ReadAll(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rds) != 100 {
		t.Fatalf("barrier returned before %d of 100 readings were durable", len(rds))
	}
	w.stop()
	if err := raw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
