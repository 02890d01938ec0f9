// Package metrics accumulates training metrics from an ordered sensor
// reading stream: distance, elevation gain, moving time, rolling power,
// zone distributions, and training load. The aggregator is single-owner
// state; it is driven by one processing loop and never locks.
package metrics

import (
	"math"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/geo"
	"github.com/deancochran/gradientpeak-sub005/internal/profile"
	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

// Config holds the signal-processing tunables.
type Config struct {
	// MaxPlausibleSpeedMps rejects GPS fixes implying faster travel.
	MaxPlausibleSpeedMps float64
	// ElevationHysteresisM ignores climbs smaller than this before they
	// count toward elevation gain.
	ElevationHysteresisM float64
	// StationarySpeedMps is the speed below which the athlete counts as
	// stopped.
	StationarySpeedMps float64
	// StationaryWindow is how long speed must stay below the stationary
	// threshold before the whole still span is dropped from moving time.
	StationaryWindow time.Duration
	// RollingPowerWindow is the smoothing window for normalized power.
	RollingPowerWindow time.Duration
	// MaxSampleGap caps the time attributed to a single sample; larger
	// gaps count as signal absence.
	MaxSampleGap time.Duration
}

// DefaultConfig returns the tunables used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxPlausibleSpeedMps: 30,
		ElevationHysteresisM: 1.0,
		StationarySpeedMps:   0.7,
		StationaryWindow:     10 * time.Second,
		RollingPowerWindow:   30 * time.Second,
		MaxSampleGap:         5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPlausibleSpeedMps <= 0 {
		c.MaxPlausibleSpeedMps = d.MaxPlausibleSpeedMps
	}
	if c.ElevationHysteresisM <= 0 {
		c.ElevationHysteresisM = d.ElevationHysteresisM
	}
	if c.StationarySpeedMps <= 0 {
		c.StationarySpeedMps = d.StationarySpeedMps
	}
	if c.StationaryWindow <= 0 {
		c.StationaryWindow = d.StationaryWindow
	}
	if c.RollingPowerWindow <= 0 {
		c.RollingPowerWindow = d.RollingPowerWindow
	}
	if c.MaxSampleGap <= 0 {
		c.MaxSampleGap = d.MaxSampleGap
	}
	return c
}

// Net kilocalories per kilogram of body mass per kilometer, by activity
// type. Used only when no power data exists.
var calorieFactorPerKgKm = map[string]float64{
	"ride": 0.28,
	"run":  1.0,
	"walk": 0.6,
	"hike": 0.7,
}

// A speed-sensor sample this recent overrides GPS-derived speed.
const speedSensorFresh = 3 * time.Second

// State is the durable part of the aggregator: everything a checkpoint must
// carry so a restart resumes accumulation without loss or double counting.
// Transient signal anchors (last GPS fix, rolling window contents) are
// deliberately not part of it; they reset on resume.
type State struct {
	DistanceMeters      float64 `json:"distance_m"`
	ElevationGainMeters float64 `json:"elevation_gain_m"`
	MovingSeconds       float64 `json:"moving_s"`

	PowerSum        float64 `json:"power_sum"`
	PowerN          int64   `json:"power_n"`
	MaxPowerWatts   float64 `json:"max_power_w"`
	HRSum           float64 `json:"hr_sum"`
	HRN             int64   `json:"hr_n"`
	MaxHeartRateBpm float64 `json:"max_hr_bpm"`
	CadenceSum      float64 `json:"cadence_sum"`
	CadenceN        int64   `json:"cadence_n"`

	RollingPow4Sum float64 `json:"rolling_pow4_sum"`
	RollingPow4N   int64   `json:"rolling_pow4_n"`
	Joules         float64 `json:"joules"`
	HRStress       float64 `json:"hr_stress"`

	PowerZoneSeconds [ZoneCount]float64 `json:"power_zone_s"`
	HRZoneSeconds    [ZoneCount]float64 `json:"hr_zone_s"`

	Laps              []Lap     `json:"laps,omitempty"`
	LapStartedAt      time.Time `json:"lap_started_at,omitempty"`
	LapStartDistanceM float64   `json:"lap_start_distance_m"`
	LapStartMovingS   float64   `json:"lap_start_moving_s"`
	LapPowerSum       float64   `json:"lap_power_sum"`
	LapPowerN         int64     `json:"lap_power_n"`
	LapHRSum          float64   `json:"lap_hr_sum"`
	LapHRN            int64     `json:"lap_hr_n"`
}

type powerSample struct {
	t time.Time
	w float64
}

// Aggregator folds readings into running metrics. It assumes the caller
// only feeds it while the session is recording and calls OnResume after
// every gap (explicit pause or crash recovery) so stale anchors never
// bridge a data-free interval.
type Aggregator struct {
	cfg          Config
	activityType string

	ftp       float64
	hasFTP    bool
	lthr      float64
	hasLTHR   bool
	weightKg  float64
	hasWeight bool

	st State

	// Transient anchors, reset by OnResume/Restore.
	hasFix           bool
	lastFixT         time.Time
	lastFixLat       float64
	lastFixLon       float64
	hasElevRef       bool
	elevRef          float64
	npWin            []powerSample
	npAnchor         time.Time
	lastPowerT       time.Time
	lastHRT          time.Time
	lastTickT        time.Time
	lastSpeedSensorT time.Time
	stillSince       time.Time
	stillAccrued     float64
	currentSpeed     float64
}

// New builds an aggregator for one session. Absent profile thresholds
// degrade the dependent metrics to unavailable.
func New(cfg Config, prof profile.Profile, activityType string) *Aggregator {
	a := &Aggregator{cfg: cfg.withDefaults(), activityType: activityType}
	a.ftp, a.hasFTP = prof.FTP()
	lthr, ok := prof.LTHR()
	a.lthr, a.hasLTHR = float64(lthr), ok
	a.weightKg, a.hasWeight = prof.Weight()
	return a
}

// Begin marks the session start so the first lap has an anchor.
func (a *Aggregator) Begin(t time.Time) {
	if a.st.LapStartedAt.IsZero() {
		a.st.LapStartedAt = t
	}
}

// OnResume clears the transient signal anchors after a pause or recovery
// gap. Without this the first reading after the gap would fabricate
// distance and time across an interval with no data.
func (a *Aggregator) OnResume() {
	a.resetAnchors()
}

// OnPause freezes live readouts at the pause boundary.
func (a *Aggregator) OnPause() {
	a.resetAnchors()
}

func (a *Aggregator) resetAnchors() {
	a.hasFix = false
	a.hasElevRef = false
	a.npWin = a.npWin[:0]
	a.npAnchor = time.Time{}
	a.lastPowerT = time.Time{}
	a.lastHRT = time.Time{}
	a.lastTickT = time.Time{}
	a.lastSpeedSensorT = time.Time{}
	a.stillSince = time.Time{}
	a.stillAccrued = 0
	a.currentSpeed = 0
}

// Ingest folds one reading in. It reports false when a GPS fix was rejected
// by the plausibility filter; rejected fixes still belong in the raw stream,
// just not in distance.
func (a *Aggregator) Ingest(r reading.Reading) bool {
	accepted := true
	switch r.Kind {
	case reading.KindGPS:
		accepted = a.ingestGPS(r)
	case reading.KindHeartRate:
		a.ingestHeartRate(r)
	case reading.KindPower:
		a.ingestPower(r)
	case reading.KindCadence:
		a.st.CadenceSum += float64(r.RPM)
		a.st.CadenceN++
	case reading.KindSpeed:
		a.currentSpeed = r.SpeedMps
		a.lastSpeedSensorT = r.Timestamp
	}
	a.tick(r.Timestamp)
	return accepted
}

func (a *Aggregator) ingestGPS(r reading.Reading) bool {
	if !a.hasFix {
		a.setFix(r)
		a.observeElevation(r.ElevationM)
		return true
	}
	dt := r.Timestamp.Sub(a.lastFixT).Seconds()
	if dt <= 0 {
		return false
	}
	d := geo.HaversineM(a.lastFixLat, a.lastFixLon, r.Lat, r.Lon)
	if d/dt > a.cfg.MaxPlausibleSpeedMps {
		return false
	}
	a.st.DistanceMeters += d
	if r.Timestamp.Sub(a.lastSpeedSensorT) > speedSensorFresh {
		a.currentSpeed = d / dt
	}
	a.setFix(r)
	a.observeElevation(r.ElevationM)
	return true
}

func (a *Aggregator) setFix(r reading.Reading) {
	a.hasFix = true
	a.lastFixT = r.Timestamp
	a.lastFixLat = r.Lat
	a.lastFixLon = r.Lon
}

// observeElevation commits climb only once it clears the hysteresis band,
// so barometric/GPS jitter below the band never inflates gain.
func (a *Aggregator) observeElevation(e float64) {
	if !a.hasElevRef {
		a.hasElevRef = true
		a.elevRef = e
		return
	}
	switch {
	case e < a.elevRef:
		a.elevRef = e
	case e-a.elevRef >= a.cfg.ElevationHysteresisM:
		a.st.ElevationGainMeters += e - a.elevRef
		a.elevRef = e
	}
}

func (a *Aggregator) ingestHeartRate(r reading.Reading) {
	bpm := float64(r.BPM)
	dt := a.sampleDt(a.lastHRT, r.Timestamp)
	a.lastHRT = r.Timestamp

	a.st.HRSum += bpm
	a.st.HRN++
	if bpm > a.st.MaxHeartRateBpm {
		a.st.MaxHeartRateBpm = bpm
	}
	a.st.LapHRSum += bpm
	a.st.LapHRN++

	if a.hasLTHR && dt > 0 {
		a.st.HRZoneSeconds[HeartRateZone(bpm, a.lthr)] += dt
		ratio := bpm / a.lthr
		a.st.HRStress += dt / 3600 * ratio * ratio * 100
	}
}

func (a *Aggregator) ingestPower(r reading.Reading) {
	w := float64(r.Watts)
	dt := a.sampleDt(a.lastPowerT, r.Timestamp)
	gap := !a.lastPowerT.IsZero() && r.Timestamp.Sub(a.lastPowerT) > a.cfg.MaxSampleGap

	a.st.PowerSum += w
	a.st.PowerN++
	if w > a.st.MaxPowerWatts {
		a.st.MaxPowerWatts = w
	}
	a.st.LapPowerSum += w
	a.st.LapPowerN++

	if dt > 0 {
		a.st.Joules += w * dt
		if a.hasFTP {
			a.st.PowerZoneSeconds[PowerZone(w, a.ftp)] += dt
		}
	}

	// A dropout longer than the sample gap restarts the rolling window;
	// smoothing across absent data would be invented power.
	if gap {
		a.npWin = a.npWin[:0]
		a.npAnchor = time.Time{}
	}
	if a.npAnchor.IsZero() {
		a.npAnchor = r.Timestamp
	}
	a.npWin = append(a.npWin, powerSample{t: r.Timestamp, w: w})
	cutoff := r.Timestamp.Add(-a.cfg.RollingPowerWindow)
	trim := 0
	for trim < len(a.npWin) && !a.npWin[trim].t.After(cutoff) {
		trim++
	}
	a.npWin = a.npWin[trim:]
	a.lastPowerT = r.Timestamp

	if r.Timestamp.Sub(a.npAnchor) >= a.cfg.RollingPowerWindow && len(a.npWin) > 0 {
		var sum float64
		for _, s := range a.npWin {
			sum += s.w
		}
		avg := sum / float64(len(a.npWin))
		a.st.RollingPow4Sum += avg * avg * avg * avg
		a.st.RollingPow4N++
	}
}

// sampleDt returns the seconds attributable to a sample, zero for the first
// sample of a stream and for gaps beyond MaxSampleGap.
func (a *Aggregator) sampleDt(prev, t time.Time) float64 {
	if prev.IsZero() {
		return 0
	}
	d := t.Sub(prev)
	if d <= 0 || d > a.cfg.MaxSampleGap {
		return 0
	}
	return d.Seconds()
}

// tick advances moving time using the currently observed speed. A still
// span shorter than StationaryWindow still counts as moving (traffic-light
// stops); once the span outlives the window the whole span is removed.
func (a *Aggregator) tick(t time.Time) {
	if a.lastTickT.IsZero() {
		a.lastTickT = t
		return
	}
	dt := t.Sub(a.lastTickT)
	if dt <= 0 {
		return
	}
	prev := a.lastTickT
	a.lastTickT = t
	if dt > a.cfg.MaxSampleGap {
		a.stillSince = time.Time{}
		a.stillAccrued = 0
		return
	}

	if a.currentSpeed >= a.cfg.StationarySpeedMps {
		a.st.MovingSeconds += dt.Seconds()
		a.stillSince = time.Time{}
		a.stillAccrued = 0
		return
	}
	if a.stillSince.IsZero() {
		a.stillSince = prev
	}
	if t.Sub(a.stillSince) <= a.cfg.StationaryWindow {
		a.st.MovingSeconds += dt.Seconds()
		a.stillAccrued += dt.Seconds()
		return
	}
	if a.stillAccrued > 0 {
		a.st.MovingSeconds -= a.stillAccrued
		if a.st.MovingSeconds < 0 {
			a.st.MovingSeconds = 0
		}
		a.stillAccrued = 0
	}
}

// MarkLap closes the current lap at t, returns it, and opens the next one.
func (a *Aggregator) MarkLap(t time.Time) Lap {
	lap := a.closeLap(t)
	a.st.Laps = append(a.st.Laps, lap)
	a.openLap(t)
	return lap
}

// FinalSnapshot is Snapshot plus the trailing lap closed at endedAt. It
// does not mutate the aggregator, so a failed finalize can be retried.
// Sessions with no lap marks stay lap-free; exporters synthesize a
// whole-session lap where a format requires one.
func (a *Aggregator) FinalSnapshot(elapsed time.Duration, endedAt time.Time) Snapshot {
	s := a.Snapshot(elapsed)
	if len(a.st.Laps) > 0 {
		s.Laps = append(s.Laps, a.closeLap(endedAt))
	}
	return s
}

func (a *Aggregator) closeLap(t time.Time) Lap {
	moving := a.st.MovingSeconds - a.st.LapStartMovingS
	if moving < 0 {
		moving = 0
	}
	lap := Lap{
		Index:          len(a.st.Laps) + 1,
		StartedAt:      a.st.LapStartedAt,
		EndedAt:        t,
		DistanceMeters: a.st.DistanceMeters - a.st.LapStartDistanceM,
		MovingSeconds:  moving,
	}
	if a.st.LapPowerN > 0 {
		lap.AvgPowerWatts = Available(a.st.LapPowerSum / float64(a.st.LapPowerN))
	}
	if a.st.LapHRN > 0 {
		lap.AvgHeartRateBpm = Available(a.st.LapHRSum / float64(a.st.LapHRN))
	}
	return lap
}

func (a *Aggregator) openLap(t time.Time) {
	a.st.LapStartedAt = t
	a.st.LapStartDistanceM = a.st.DistanceMeters
	a.st.LapStartMovingS = a.st.MovingSeconds
	a.st.LapPowerSum = 0
	a.st.LapPowerN = 0
	a.st.LapHRSum = 0
	a.st.LapHRN = 0
}

// Snapshot renders the current metric set. elapsed is lifecycle time owned
// by the session (wall minus pauses); everything else comes from the
// accumulated state.
func (a *Aggregator) Snapshot(elapsed time.Duration) Snapshot {
	s := Snapshot{
		ElapsedSeconds:      elapsed.Seconds(),
		MovingSeconds:       a.st.MovingSeconds,
		DistanceMeters:      a.st.DistanceMeters,
		ElevationGainMeters: a.st.ElevationGainMeters,
		CurrentSpeedMps:     a.currentSpeed,
		HeartRateZones:      Zones{Seconds: a.st.HRZoneSeconds, Valid: a.hasLTHR},
		PowerZones:          Zones{Seconds: a.st.PowerZoneSeconds, Valid: a.hasFTP},
		Laps:                append([]Lap(nil), a.st.Laps...),
	}
	if a.st.MovingSeconds > 0 {
		s.AvgSpeedMps = a.st.DistanceMeters / a.st.MovingSeconds
	}
	if a.st.PowerN > 0 {
		s.AvgPowerWatts = Available(a.st.PowerSum / float64(a.st.PowerN))
		s.MaxPowerWatts = Available(a.st.MaxPowerWatts)
	}
	if a.st.HRN > 0 {
		s.AvgHeartRateBpm = Available(a.st.HRSum / float64(a.st.HRN))
		s.MaxHeartRateBpm = Available(a.st.MaxHeartRateBpm)
	}
	if a.st.CadenceN > 0 {
		s.AvgCadenceRpm = Available(a.st.CadenceSum / float64(a.st.CadenceN))
	}
	if a.st.RollingPow4N > 0 {
		s.NormalizedPowerWatts = Available(math.Pow(a.st.RollingPow4Sum/float64(a.st.RollingPow4N), 0.25))
	}

	switch {
	case s.NormalizedPowerWatts.Valid && a.hasFTP:
		np := s.NormalizedPowerWatts.V
		intensity := np / a.ftp
		s.IntensityFactor = Available(intensity)
		s.TSS = Available(elapsed.Seconds() * np * intensity / (a.ftp * 3600) * 100)
		s.TSSBasis = TSSBasisPower
	case a.hasLTHR && a.st.HRN > 0:
		s.TSS = Available(a.st.HRStress)
		s.TSSBasis = TSSBasisHeartRate
	}

	switch {
	case a.st.Joules > 0:
		// With power data, mechanical kJ approximates metabolic kcal:
		// gross efficiency near 24% cancels the 4.184 J/cal conversion.
		s.CaloriesKcal = Available(a.st.Joules / 1000)
	case a.hasWeight && a.st.DistanceMeters > 0:
		if factor, ok := calorieFactorPerKgKm[a.activityType]; ok {
			s.CaloriesKcal = Available(factor * a.weightKg * a.st.DistanceMeters / 1000)
		}
	}
	return s
}

// Export copies the durable state for a checkpoint.
func (a *Aggregator) Export() State {
	st := a.st
	st.Laps = append([]Lap(nil), a.st.Laps...)
	return st
}

// Restore replaces the durable state from a checkpoint and resets the
// transient anchors, exactly as a resume does.
func (a *Aggregator) Restore(st State) {
	a.st = st
	a.st.Laps = append([]Lap(nil), st.Laps...)
	a.resetAnchors()
}
