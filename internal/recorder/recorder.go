// Package recorder is the processing core of the recording engine. A single
// goroutine owns the live session, gates sensor readings through the
// lifecycle state machine, feeds the metrics aggregator, and drives
// checkpointing, finalization, and crash recovery. Actions arrive as
// closures over a command channel, so session state is never touched
// concurrently.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
	"github.com/deancochran/gradientpeak-sub005/internal/checkpoint"
	"github.com/deancochran/gradientpeak-sub005/internal/metrics"
	"github.com/deancochran/gradientpeak-sub005/internal/profile"
	"github.com/deancochran/gradientpeak-sub005/internal/rawlog"
	"github.com/deancochran/gradientpeak-sub005/internal/reading"
	"github.com/deancochran/gradientpeak-sub005/internal/sensor"
	"github.com/deancochran/gradientpeak-sub005/internal/session"
)

// rawStreamFile is the per-session append-only reading log, stored next to
// the session's checkpoints.
const rawStreamFile = "raw.jsonl"

// Exporter renders courtesy export files into dir and returns format name
// to file path for every rendering that succeeded.
type Exporter interface {
	Export(dir string, art activity.Activity, readings []reading.Reading) map[string]string
}

// Archiver mirrors finalized artifacts to an external store for the sync
// collaborator. Failures are logged, never fatal: the disk artifact is the
// source of truth.
type Archiver interface {
	Save(ctx context.Context, art activity.Activity) error
}

// Config tunes the engine's cadences. Zero values take defaults.
type Config struct {
	// CheckpointInterval and CheckpointEveryReadings bound data loss: a
	// snapshot is scheduled when either elapses first.
	CheckpointInterval      time.Duration
	CheckpointEveryReadings int
	// WriteRetries and WriteBackoff shape the checkpoint retry policy.
	WriteRetries int
	WriteBackoff time.Duration
	// MetricsInterval throttles metrics_updated events.
	MetricsInterval time.Duration
	// EventBuffer sizes each subscriber channel.
	EventBuffer int
	Metrics     metrics.Config
	// Clock is injectable for tests.
	Clock func() time.Time
}

// DefaultConfig returns the production cadences.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval:      5 * time.Second,
		CheckpointEveryReadings: 100,
		WriteRetries:            5,
		WriteBackoff:            100 * time.Millisecond,
		MetricsInterval:         time.Second,
		EventBuffer:             16,
		Metrics:                 metrics.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = d.CheckpointInterval
	}
	if c.CheckpointEveryReadings <= 0 {
		c.CheckpointEveryReadings = d.CheckpointEveryReadings
	}
	if c.WriteRetries <= 0 {
		c.WriteRetries = d.WriteRetries
	}
	if c.WriteBackoff <= 0 {
		c.WriteBackoff = d.WriteBackoff
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Options bundle the recorder's collaborators. Store is required; Exporter
// and Archiver are optional.
type Options struct {
	Config   Config
	Store    *checkpoint.FileStore
	Profiles profile.Source
	Exporter Exporter
	Archiver Archiver
	Logger   *slog.Logger
}

// Overview pairs a session snapshot with its metrics at the same instant.
type Overview struct {
	Session session.Session  `json:"session"`
	Metrics metrics.Snapshot `json:"metrics"`
}

type command struct {
	fn   func() error
	done chan error
}

// Recorder owns at most one session at a time. A finished or discarded
// session stays in the slot, visible through Current, until the next Start
// replaces it.
type Recorder struct {
	cfg      Config
	log      *slog.Logger
	store    *checkpoint.FileStore
	profiles profile.Source
	exporter Exporter
	archiver Archiver
	subs     *subscribers

	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	running   atomic.Bool
	closeOnce sync.Once

	// Owned by the Run goroutine.
	sess            *session.Session
	prof            profile.Profile
	agg             *metrics.Aggregator
	finalSnap       *metrics.Snapshot
	raw             *rawlog.Log
	rawW            *rawWriter
	cpw             *cpWriter
	seq             int64
	logged          int64
	readsSinceCP    int
	lastCP          time.Time
	lastMetricsEmit time.Time
	// failedRecovery holds a session ID whose recovery failed; Start is
	// blocked until the user discards it.
	failedRecovery string
}

// New builds a recorder around store. Call Run to start it.
func New(opts Options) *Recorder {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	profiles := opts.Profiles
	if profiles == nil {
		profiles = profile.Static{}
	}
	cfg := opts.Config.withDefaults()
	return &Recorder{
		cfg:      cfg,
		log:      log,
		store:    opts.Store,
		profiles: profiles,
		exporter: opts.Exporter,
		archiver: opts.Archiver,
		subs:     newSubscribers(cfg.EventBuffer),
		cmds:     make(chan command),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run consumes the merged reading stream and the hub's status events until
// ctx is canceled or Close is called. Buffered readings are always folded
// in ahead of a command, so an action like finish sees every sample that
// arrived before it. On the way out a live session gets one last durable
// checkpoint so a restart can recover it.
func (r *Recorder) Run(ctx context.Context, readings <-chan reading.Reading, status <-chan sensor.StatusEvent) {
	r.cpw = newCPWriter(r.store, r.log, r.cfg.WriteRetries, r.cfg.WriteBackoff)
	go r.cpw.run(ctx)
	r.running.Store(true)
	defer r.teardown()

	tick := r.cfg.MetricsInterval
	if r.cfg.CheckpointInterval < tick {
		tick = r.cfg.CheckpointInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
	drain:
		for readings != nil {
			select {
			case rd, ok := <-readings:
				if !ok {
					readings = nil
					break drain
				}
				r.onReading(rd)
			default:
				break drain
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case rd, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			r.onReading(rd)
		case ev, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			r.onSensorStatus(ev)
		case res := <-r.cpw.results:
			r.onWriteResult(res)
		case c := <-r.cmds:
			c.done <- c.fn()
		case <-ticker.C:
			r.onTick(r.cfg.Clock())
		}
	}
}

// Close stops the loop and blocks until teardown finishes. It must only be
// called after Run has started; calling it again is a no-op.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
	<-r.done
}

// Subscribe registers an event observer. The returned channel is buffered;
// a consumer that falls behind loses events rather than stalling the
// engine. Release with Unsubscribe.
func (r *Recorder) Subscribe() (int, <-chan Event) { return r.subs.add() }

// Unsubscribe closes the observer channel registered under id.
func (r *Recorder) Unsubscribe(id int) { r.subs.remove(id) }

// do runs fn on the processing goroutine and waits for its result.
func (r *Recorder) do(fn func() error) error {
	if !r.running.Load() {
		return ErrNotRunning
	}
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case r.cmds <- c:
	case <-r.done:
		return ErrNotRunning
	}
	select {
	case err := <-c.done:
		return err
	case <-r.done:
		return ErrNotRunning
	}
}

// Start creates a session for profileID and begins recording immediately.
func (r *Recorder) Start(ctx context.Context, profileID, activityType, plannedActivityID string) (session.Session, error) {
	var snap session.Session
	err := r.do(func() error {
		s, err := r.start(ctx, profileID, activityType, plannedActivityID)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	return snap, err
}

// Pause suspends metric accumulation. Readings received while paused still
// reach the raw stream.
func (r *Recorder) Pause() error { return r.do(r.pause) }

// Resume continues a paused session.
func (r *Recorder) Resume() error { return r.do(r.resume) }

// MarkLap closes the open lap and starts the next one.
func (r *Recorder) MarkLap() (metrics.Lap, error) {
	var lap metrics.Lap
	err := r.do(func() error {
		if r.sess == nil {
			return errNoSession("mark a lap in")
		}
		if r.sess.State != session.StateRecording {
			return &session.InvalidTransitionError{SessionID: r.sess.ID, From: r.sess.State, Action: "mark lap"}
		}
		lap = r.agg.MarkLap(r.cfg.Clock())
		r.log.Info("lap marked", "session_id", r.sess.ID, "lap", lap.Index)
		r.emit(Event{Type: EventLapMarked, SessionID: r.sess.ID, Lap: &lap})
		return nil
	})
	return lap, err
}

// Finish finalizes the live session into an immutable artifact. On failure
// the session stays live in its prior state and Finish can be retried.
func (r *Recorder) Finish(ctx context.Context) (activity.Activity, error) {
	var art activity.Activity
	err := r.do(func() error {
		a, err := r.finish(ctx)
		if err != nil {
			return err
		}
		art = a
		return nil
	})
	return art, err
}

// Discard halts the live session and deletes its checkpoints and raw
// stream. It also clears a session stuck after a failed recovery.
func (r *Recorder) Discard() error { return r.do(r.discard) }

// Recover restores a session from its latest durable checkpoint. The gap
// between the checkpoint and now is excluded from activity time as an
// implicit pause.
func (r *Recorder) Recover(ctx context.Context, sessionID string) (Overview, error) {
	var ov Overview
	err := r.do(func() error {
		o, err := r.recover(ctx, sessionID)
		if err != nil {
			return err
		}
		ov = o
		return nil
	})
	return ov, err
}

// Current reports the session occupying the slot, live or terminal. The
// second return is false when no session has been started yet.
func (r *Recorder) Current() (Overview, bool) {
	var (
		ov Overview
		ok bool
	)
	err := r.do(func() error {
		if r.sess == nil {
			return nil
		}
		ov = r.overview(r.cfg.Clock())
		ok = true
		return nil
	})
	if err != nil {
		return Overview{}, false
	}
	return ov, ok
}

func (r *Recorder) start(ctx context.Context, profileID, activityType, plannedActivityID string) (session.Session, error) {
	if r.sess != nil && !r.sess.State.Terminal() {
		return session.Session{}, &session.ValidationError{Field: "session", Reason: "another session is active: " + r.sess.ID}
	}
	if r.failedRecovery != "" {
		return session.Session{}, &session.ValidationError{Field: "session", Reason: "session " + r.failedRecovery + " failed recovery and must be discarded first"}
	}
	if profileID == "" {
		return session.Session{}, &session.ValidationError{Field: "profile_id", Reason: "required"}
	}
	prof, err := r.profiles.Lookup(ctx, profileID)
	if err != nil {
		// Thresholds only degrade derived metrics; a broken profile source
		// must never block recording.
		r.log.Warn("profile lookup failed, threshold metrics unavailable", "profile_id", profileID, "error", err)
		prof = profile.Profile{ID: profileID}
	}

	sess := session.New(profileID, activityType, plannedActivityID)
	now := r.cfg.Clock()
	if err := sess.Start(now); err != nil {
		return session.Session{}, err
	}
	raw, rawW, err := r.openRaw(sess.ID)
	if err != nil {
		return session.Session{}, fmt.Errorf("open raw stream: %w", err)
	}

	r.sess = sess
	r.prof = prof
	r.finalSnap = nil
	r.raw, r.rawW = raw, rawW
	r.logged = raw.Count()
	r.agg = metrics.New(r.cfg.Metrics, prof, sess.ActivityType)
	r.agg.Begin(now)
	r.seq = 0
	r.readsSinceCP = 0
	r.lastMetricsEmit = time.Time{}

	r.log.Info("recording started",
		"session_id", sess.ID, "profile_id", profileID, "activity_type", sess.ActivityType)
	r.emitState()
	r.scheduleCheckpoint(now)
	return sess.Clone(), nil
}

func (r *Recorder) pause() error {
	if r.sess == nil {
		return errNoSession("pause")
	}
	now := r.cfg.Clock()
	if err := r.sess.Pause(now); err != nil {
		return err
	}
	r.agg.OnPause()
	r.log.Info("recording paused", "session_id", r.sess.ID)
	r.emitState()
	r.scheduleCheckpoint(now)
	return nil
}

func (r *Recorder) resume() error {
	if r.sess == nil {
		return errNoSession("resume")
	}
	now := r.cfg.Clock()
	if err := r.sess.Resume(now); err != nil {
		return err
	}
	r.agg.OnResume()
	r.log.Info("recording resumed", "session_id", r.sess.ID)
	r.emitState()
	r.scheduleCheckpoint(now)
	return nil
}

func (r *Recorder) finish(ctx context.Context) (activity.Activity, error) {
	if r.sess == nil {
		return activity.Activity{}, errNoSession("finish")
	}
	now := r.cfg.Clock()
	prev := r.sess.Clone()
	if err := r.sess.Finish(now); err != nil {
		return activity.Activity{}, err
	}

	art, err := r.finalize(ctx, now)
	if err != nil {
		*r.sess = prev
		if r.raw == nil {
			if raw, rawW, rerr := r.openRaw(r.sess.ID); rerr != nil {
				r.log.Error("raw stream reopen failed after aborted finalize", "session_id", r.sess.ID, "error", rerr)
				r.emit(Event{Type: EventRecordingAtRisk, SessionID: r.sess.ID, Reason: "raw stream unavailable: " + rerr.Error()})
			} else {
				r.raw, r.rawW = raw, rawW
				r.logged = raw.Count()
			}
		}
		return activity.Activity{}, &FinalizeError{SessionID: r.sess.ID, Err: err}
	}

	r.log.Info("recording finalized",
		"session_id", r.sess.ID, "elapsed_s", art.FinalMetrics.ElapsedSeconds, "distance_m", art.FinalMetrics.DistanceMeters)
	r.emitState()
	r.emit(Event{Type: EventMetricsUpdated, SessionID: r.sess.ID, Metrics: &art.FinalMetrics})
	final := art.FinalMetrics
	r.seal(&final)
	return art, nil
}

// finalize seals the raw stream, writes the artifact and exports, then
// clears the session's checkpoints. The caller has already moved the
// session to finished and rolls it back if this fails.
func (r *Recorder) finalize(ctx context.Context, now time.Time) (activity.Activity, error) {
	// No checkpoint may be in flight once files start moving; a stale
	// write after ClearCheckpoints would resurrect them.
	r.cpw.flushSync(r.onWriteResult)

	r.rawW.stop()
	r.rawW = nil
	rawPath := r.raw.Path()
	if err := r.raw.Close(); err != nil {
		r.raw = nil
		return activity.Activity{}, fmt.Errorf("seal raw stream: %w", err)
	}
	r.raw = nil

	final := r.agg.FinalSnapshot(r.sess.Elapsed(now), now)
	art := activity.Activity{
		ID:                 r.sess.ID,
		ProfileID:          r.sess.ProfileID,
		ActivityType:       r.sess.ActivityType,
		PlannedActivityID:  r.sess.PlannedActivityID,
		StartedAt:          r.sess.StartedAt,
		FinishedAt:         now,
		FinalMetrics:       final,
		RawStreamReference: rawPath,
	}
	if r.exporter != nil {
		if rds, err := rawlog.ReadAll(rawPath); err != nil {
			r.log.Warn("raw stream unreadable, skipping exports", "session_id", r.sess.ID, "error", err)
		} else {
			art.Exports = r.exporter.Export(r.store.ActivitiesDir(), art, rds)
		}
	}

	path, err := r.store.WriteArtifact(art)
	if err != nil {
		return activity.Activity{}, err
	}
	if err := r.store.ClearCheckpoints(r.sess.ID); err != nil {
		r.log.Warn("clearing checkpoints after finalize failed", "session_id", r.sess.ID, "error", err)
	}
	if r.archiver != nil {
		if err := r.archiver.Save(ctx, art); err != nil {
			r.log.Warn("archiving finalized activity failed", "activity_id", art.ID, "error", err)
		}
	}
	r.log.Debug("artifact written", "session_id", r.sess.ID, "path", path)
	return art, nil
}

func (r *Recorder) discard() error {
	if r.sess == nil || r.sess.State.Terminal() {
		if r.failedRecovery != "" {
			id := r.failedRecovery
			if err := r.store.Discard(id); err != nil {
				return err
			}
			r.failedRecovery = ""
			r.log.Info("unrecoverable session discarded", "session_id", id)
			r.emit(Event{Type: EventStateChanged, SessionID: id, State: session.StateDiscarded})
			return nil
		}
		if r.sess == nil {
			return errNoSession("discard")
		}
	}
	now := r.cfg.Clock()
	if err := r.sess.Discard(now); err != nil {
		return err
	}
	r.cpw.flushSync(r.onWriteResult)
	if r.rawW != nil {
		r.rawW.stop()
		r.rawW = nil
	}
	if r.raw != nil {
		if err := r.raw.Close(); err != nil {
			r.log.Warn("raw stream close on discard", "session_id", r.sess.ID, "error", err)
		}
		r.raw = nil
	}
	if err := r.store.Discard(r.sess.ID); err != nil {
		r.log.Error("removing discarded session data failed", "session_id", r.sess.ID, "error", err)
	}
	r.log.Info("recording discarded", "session_id", r.sess.ID)
	r.emitState()
	r.seal(nil)
	return nil
}

func (r *Recorder) recover(ctx context.Context, sessionID string) (Overview, error) {
	if r.sess != nil && !r.sess.State.Terminal() {
		return Overview{}, &session.ValidationError{Field: "session", Reason: "another session is active: " + r.sess.ID}
	}
	if r.failedRecovery != "" && r.failedRecovery != sessionID {
		return Overview{}, &session.ValidationError{Field: "session", Reason: "session " + r.failedRecovery + " failed recovery and must be discarded first"}
	}
	cp, err := r.store.LoadLatest(sessionID)
	if err != nil {
		var ce *checkpoint.CorruptError
		if errors.As(err, &ce) {
			// Never silently discarded: the user decides what happens to a
			// session we cannot restore.
			r.failedRecovery = sessionID
			r.log.Error("session recovery failed, explicit discard required", "session_id", sessionID, "error", err)
			r.emit(Event{Type: EventRecoveryFailed, SessionID: sessionID, Reason: err.Error()})
		}
		return Overview{}, &RecoveryError{SessionID: sessionID, Err: err}
	}
	if cp == nil {
		return Overview{}, &RecoveryError{SessionID: sessionID, Err: ErrNoCheckpoint}
	}
	if cp.Session.State.Terminal() {
		return Overview{}, &RecoveryError{SessionID: sessionID, Err: fmt.Errorf("checkpoint is already %s", cp.Session.State)}
	}

	prof, err := r.profiles.Lookup(ctx, cp.Session.ProfileID)
	if err != nil {
		r.log.Warn("profile lookup failed during recovery, threshold metrics unavailable",
			"profile_id", cp.Session.ProfileID, "error", err)
		prof = profile.Profile{ID: cp.Session.ProfileID}
	}

	now := r.cfg.Clock()
	restored := cp.Session.Clone()
	sess := &restored
	if sess.State == session.StateRecording {
		// The downtime carried no sensor data; it counts as pause, not
		// activity time.
		sess.AddImplicitPause(cp.Timestamp, now)
	}
	raw, rawW, err := r.openRaw(sess.ID)
	if err != nil {
		return Overview{}, &RecoveryError{SessionID: sessionID, Err: err}
	}

	r.sess = sess
	r.prof = prof
	r.finalSnap = nil
	r.failedRecovery = ""
	r.raw, r.rawW = raw, rawW
	r.logged = raw.Count()
	r.agg = metrics.New(r.cfg.Metrics, prof, sess.ActivityType)
	r.agg.Restore(cp.Metrics)
	r.seq = cp.Sequence
	r.readsSinceCP = 0
	r.lastMetricsEmit = time.Time{}

	r.log.Info("session recovered",
		"session_id", sess.ID, "sequence", cp.Sequence, "state", sess.State,
		"downtime", now.Sub(cp.Timestamp).Round(time.Second).String())
	r.emitState()
	r.emitMetrics(now)
	r.scheduleCheckpoint(now)
	return r.overview(now), nil
}

func (r *Recorder) onReading(rd reading.Reading) {
	if r.sess == nil || r.sess.State.Terminal() {
		return
	}
	// Every reading lands in the raw stream, including samples rejected by
	// the plausibility filter and samples received while paused.
	r.rawW.append(rd)
	r.logged++
	if r.sess.State != session.StateRecording {
		return
	}
	if !r.agg.Ingest(rd) {
		r.log.Debug("gps fix rejected by plausibility filter",
			"session_id", r.sess.ID, "source_id", rd.SourceID)
	}
	r.readsSinceCP++
	now := r.cfg.Clock()
	r.maybeCheckpoint(now)
	r.maybeEmitMetrics(now)
}

func (r *Recorder) onSensorStatus(ev sensor.StatusEvent) {
	r.log.Info("sensor status changed", "source_id", ev.SourceID, "status", ev.Status)
	e := Event{Type: EventSensorStatus, At: ev.At, Sensor: &ev}
	if r.sess != nil && !r.sess.State.Terminal() {
		e.SessionID = r.sess.ID
	}
	r.emit(e)
}

func (r *Recorder) onWriteResult(res writeResult) {
	if res.err != nil {
		// Recording continues on the in-memory state; the user is told
		// durability is degraded.
		r.log.Error("checkpoint write exhausted retries",
			"session_id", res.sessionID, "sequence", res.sequence, "error", res.err)
		r.emit(Event{Type: EventRecordingAtRisk, SessionID: res.sessionID, Reason: res.err.Error()})
		return
	}
	if r.sess != nil && r.sess.ID == res.sessionID && res.cursor > r.sess.CheckpointCursor {
		r.sess.CheckpointCursor = res.cursor
	}
}

func (r *Recorder) onTick(now time.Time) {
	if r.sess == nil || r.sess.State != session.StateRecording {
		return
	}
	r.maybeCheckpoint(now)
	r.maybeEmitMetrics(now)
}

func (r *Recorder) maybeCheckpoint(now time.Time) {
	if now.Sub(r.lastCP) < r.cfg.CheckpointInterval && r.readsSinceCP < r.cfg.CheckpointEveryReadings {
		return
	}
	r.scheduleCheckpoint(now)
}

func (r *Recorder) scheduleCheckpoint(now time.Time) {
	r.seq++
	r.cpw.schedule(checkpoint.Checkpoint{
		SessionID:     r.sess.ID,
		Sequence:      r.seq,
		Timestamp:     now,
		Session:       r.sess.Clone(),
		Metrics:       r.agg.Export(),
		ReadingCursor: r.logged,
	}, r.rawW.syncWait)
	r.lastCP = now
	r.readsSinceCP = 0
}

func (r *Recorder) maybeEmitMetrics(now time.Time) {
	if now.Sub(r.lastMetricsEmit) < r.cfg.MetricsInterval {
		return
	}
	r.emitMetrics(now)
}

func (r *Recorder) emitMetrics(now time.Time) {
	snap := r.agg.Snapshot(r.sess.Elapsed(now))
	r.emit(Event{Type: EventMetricsUpdated, SessionID: r.sess.ID, Metrics: &snap})
	r.lastMetricsEmit = now
}

func (r *Recorder) emitState() {
	r.emit(Event{Type: EventStateChanged, SessionID: r.sess.ID, State: r.sess.State})
}

func (r *Recorder) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = r.cfg.Clock()
	}
	r.subs.emit(ev)
}

func (r *Recorder) overview(now time.Time) Overview {
	ov := Overview{Session: r.sess.Clone()}
	switch {
	case r.agg != nil:
		ov.Metrics = r.agg.Snapshot(r.sess.Elapsed(now))
	case r.finalSnap != nil:
		ov.Metrics = *r.finalSnap
	}
	return ov
}

// seal keeps the terminal session visible through Current while releasing
// everything that belonged to the live recording.
func (r *Recorder) seal(final *metrics.Snapshot) {
	r.agg = nil
	r.raw = nil
	r.rawW = nil
	r.finalSnap = final
}

func (r *Recorder) openRaw(sessionID string) (*rawlog.Log, *rawWriter, error) {
	raw, err := rawlog.Open(filepath.Join(r.store.Dir(sessionID), rawStreamFile))
	if err != nil {
		return nil, nil, err
	}
	return raw, newRawWriter(raw, r.log), nil
}

// teardown flushes writers, snapshots a live session one last time, and
// releases subscribers. Runs on the loop goroutine after Run's select
// exits.
func (r *Recorder) teardown() {
	r.running.Store(false)

	live := r.sess != nil && !r.sess.State.Terminal() && r.agg != nil
	r.cpw.flushSync(r.onWriteResult)
	if r.rawW != nil {
		r.rawW.stop()
		r.rawW = nil
	}
	if r.raw != nil {
		if err := r.raw.Close(); err != nil {
			r.log.Error("raw stream close on shutdown", "error", err)
		}
		r.raw = nil
	}
	if live {
		now := r.cfg.Clock()
		r.seq++
		cp := checkpoint.Checkpoint{
			SessionID:     r.sess.ID,
			Sequence:      r.seq,
			Timestamp:     now,
			Session:       r.sess.Clone(),
			Metrics:       r.agg.Export(),
			ReadingCursor: r.logged,
		}
		if err := r.store.Write(cp); err != nil {
			r.log.Error("final checkpoint on shutdown failed", "session_id", r.sess.ID, "error", err)
		} else {
			r.log.Info("final checkpoint written", "session_id", r.sess.ID, "sequence", r.seq)
		}
	}

	r.cpw.close()
	for res := range r.cpw.results {
		r.onWriteResult(res)
	}
	r.subs.closeAll()
	close(r.done)
}

func errNoSession(action string) error {
	return &session.ValidationError{Field: "session", Reason: "no active session to " + action}
}
