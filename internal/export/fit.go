package export

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
	"github.com/deancochran/gradientpeak-sub005/internal/geo"
	"github.com/deancochran/gradientpeak-sub005/internal/metrics"
	"github.com/deancochran/gradientpeak-sub005/internal/reading"
	"github.com/deancochran/gradientpeak-sub005/internal/session"
)

// Degrees to semicircles, the FIT coordinate encoding.
const semicirclesPerDegree = 2147483648.0 / 180.0

// A speed-sensor sample this recent beats the GPS-derived leg speed.
const speedSensorFresh = 3 * time.Second

// writeFIT renders the activity as a FIT file: file_id, one record per
// fix carrying the latest value of each signal, a stop event, the lap set,
// and the session summary.
func writeFIT(path string, art activity.Activity, readings []reading.Reading) error {
	records := buildRecords(readings)
	if len(records) == 0 {
		return errors.New("no readings to encode")
	}

	m := art.FinalMetrics
	laps := m.Laps
	if len(laps) == 0 {
		// Viewers expect at least one lap; synthesize the whole session.
		laps = []metrics.Lap{{
			Index:           1,
			StartedAt:       art.StartedAt,
			EndedAt:         art.FinishedAt,
			DistanceMeters:  m.DistanceMeters,
			MovingSeconds:   m.MovingSeconds,
			AvgPowerWatts:   m.AvgPowerWatts,
			AvgHeartRateBpm: m.AvgHeartRateBpm,
		}}
	}

	var doc proto.FIT

	fileID := mesgdef.NewFileId(nil)
	fileID.Type = typedef.FileActivity
	fileID.Manufacturer = typedef.ManufacturerDevelopment
	fileID.ProductName = "gradientpeak"
	fileID.TimeCreated = art.StartedAt
	doc.Messages = append(doc.Messages, fileID.ToMesg(nil))

	doc.Messages = append(doc.Messages, records...)

	stop := mesgdef.NewEvent(nil)
	stop.Timestamp = art.FinishedAt
	stop.Event = typedef.EventTimer
	stop.EventType = typedef.EventTypeStopAll
	doc.Messages = append(doc.Messages, stop.ToMesg(nil))

	for i, lp := range laps {
		doc.Messages = append(doc.Messages, lapMesg(i, lp).ToMesg(nil))
	}
	doc.Messages = append(doc.Messages, sessionMesg(art, len(laps)).ToMesg(nil))

	act := mesgdef.NewActivity(nil)
	act.Timestamp = art.FinishedAt
	act.NumSessions = 1
	act.Type = typedef.ActivityManual
	act.Event = typedef.EventActivity
	act.EventType = typedef.EventTypeStop
	act.TotalTimerTime = uint32(m.ElapsedSeconds * 1000)
	doc.Messages = append(doc.Messages, act.ToMesg(nil))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encoder.New(f).Encode(&doc); err != nil {
		f.Close()
		return fmt.Errorf("encode fit: %w", err)
	}
	return f.Close()
}

// buildRecords walks the raw stream in order, emitting one record per GPS
// fix with the latest seen value of every other signal. A stream with no
// GPS at all (trainer session) gets one record per second of signal data.
func buildRecords(readings []reading.Reading) []proto.Message {
	hasGPS := false
	for _, r := range readings {
		if r.Kind == reading.KindGPS {
			hasGPS = true
			break
		}
	}

	var (
		msgs      []proto.Message
		dist      float64
		lastLat   float64
		lastLon   float64
		lastFixT  time.Time
		haveFix   bool
		bpm       = -1
		watts     = -1
		rpm       = -1
		sensorMps = -1.0
		sensorAt  time.Time
		gpsMps    = -1.0
		lastEmit  time.Time
	)

	emit := func(ts time.Time, withPos bool, lat, lon, elev float64) {
		rec := mesgdef.NewRecord(nil)
		rec.Timestamp = ts
		if withPos {
			rec.PositionLat = int32(lat * semicirclesPerDegree)
			rec.PositionLong = int32(lon * semicirclesPerDegree)
			alt := uint32((elev + 500) * 5)
			rec.EnhancedAltitude = alt
			rec.Altitude = uint16(alt)
			rec.Distance = uint32(dist * 100)
		}
		mps := sensorMps
		if mps < 0 || ts.Sub(sensorAt) > speedSensorFresh {
			mps = gpsMps
		}
		if mps >= 0 {
			mmps := uint32(mps * 1000)
			rec.EnhancedSpeed = mmps
			if mmps < 65535 {
				rec.Speed = uint16(mmps)
			}
		}
		if bpm >= 0 {
			rec.HeartRate = uint8(bpm)
		}
		if watts >= 0 {
			rec.Power = uint16(watts)
		}
		if rpm >= 0 {
			rec.Cadence = uint8(rpm)
		}
		msgs = append(msgs, rec.ToMesg(nil))
		lastEmit = ts
	}

	for _, r := range readings {
		switch r.Kind {
		case reading.KindHeartRate:
			bpm = r.BPM
		case reading.KindPower:
			watts = r.Watts
		case reading.KindCadence:
			rpm = r.RPM
		case reading.KindSpeed:
			sensorMps = r.SpeedMps
			sensorAt = r.Timestamp
		case reading.KindGPS:
			if haveFix {
				leg := geo.HaversineM(lastLat, lastLon, r.Lat, r.Lon)
				if dt := r.Timestamp.Sub(lastFixT).Seconds(); dt > 0 {
					gpsMps = leg / dt
				}
				dist += leg
			}
			haveFix = true
			lastLat, lastLon, lastFixT = r.Lat, r.Lon, r.Timestamp
			emit(r.Timestamp, true, r.Lat, r.Lon, r.ElevationM)
			continue
		}
		if !hasGPS && r.Timestamp.Sub(lastEmit) >= time.Second {
			emit(r.Timestamp, false, 0, 0, 0)
		}
	}
	return msgs
}

func lapMesg(i int, lp metrics.Lap) *mesgdef.Lap {
	l := mesgdef.NewLap(nil)
	l.MessageIndex = typedef.MessageIndex(i)
	l.Timestamp = lp.EndedAt
	l.StartTime = lp.StartedAt
	l.Event = typedef.EventLap
	l.EventType = typedef.EventTypeStop
	l.TotalElapsedTime = uint32(lp.EndedAt.Sub(lp.StartedAt).Milliseconds())
	l.TotalTimerTime = uint32(lp.MovingSeconds * 1000)
	l.TotalDistance = uint32(lp.DistanceMeters * 100)
	if lp.AvgPowerWatts.Valid {
		l.AvgPower = uint16(lp.AvgPowerWatts.V)
	}
	if lp.AvgHeartRateBpm.Valid {
		l.AvgHeartRate = uint8(lp.AvgHeartRateBpm.V)
	}
	return l
}

func sessionMesg(art activity.Activity, numLaps int) *mesgdef.Session {
	m := art.FinalMetrics
	s := mesgdef.NewSession(nil)
	s.Timestamp = art.FinishedAt
	s.StartTime = art.StartedAt
	s.Sport = sportOf(art.ActivityType)
	s.SubSport = typedef.SubSportGeneric
	s.Event = typedef.EventSession
	s.EventType = typedef.EventTypeStop
	s.Trigger = typedef.SessionTriggerActivityEnd
	s.FirstLapIndex = 0
	s.NumLaps = uint16(numLaps)
	s.TotalElapsedTime = uint32(art.FinishedAt.Sub(art.StartedAt).Milliseconds())
	s.TotalTimerTime = uint32(m.ElapsedSeconds * 1000)
	s.TotalMovingTime = uint32(m.MovingSeconds * 1000)
	s.TotalDistance = uint32(m.DistanceMeters * 100)
	s.TotalAscent = uint16(m.ElevationGainMeters)
	if m.MovingSeconds > 0 {
		mmps := uint32(m.AvgSpeedMps * 1000)
		s.EnhancedAvgSpeed = mmps
		if mmps < 65535 {
			s.AvgSpeed = uint16(mmps)
		}
	}
	if m.AvgPowerWatts.Valid {
		s.AvgPower = uint16(m.AvgPowerWatts.V)
	}
	if m.MaxPowerWatts.Valid {
		s.MaxPower = uint16(m.MaxPowerWatts.V)
	}
	if m.NormalizedPowerWatts.Valid {
		s.NormalizedPower = uint16(m.NormalizedPowerWatts.V)
	}
	if m.AvgHeartRateBpm.Valid {
		s.AvgHeartRate = uint8(m.AvgHeartRateBpm.V)
	}
	if m.MaxHeartRateBpm.Valid {
		s.MaxHeartRate = uint8(m.MaxHeartRateBpm.V)
	}
	if m.AvgCadenceRpm.Valid {
		s.AvgCadence = uint8(m.AvgCadenceRpm.V)
	}
	// tss carries scale 10, intensity factor scale 1000.
	if m.TSS.Valid {
		s.TrainingStressScore = uint16(m.TSS.V * 10)
	}
	if m.IntensityFactor.Valid {
		s.IntensityFactor = uint16(m.IntensityFactor.V * 1000)
	}
	if m.CaloriesKcal.Valid {
		s.TotalCalories = uint16(m.CaloriesKcal.V)
	}
	return s
}

func sportOf(activityType string) typedef.Sport {
	switch activityType {
	case session.TypeRide:
		return typedef.SportCycling
	case session.TypeRun:
		return typedef.SportRunning
	case session.TypeWalk:
		return typedef.SportWalking
	case session.TypeHike:
		return typedef.SportHiking
	default:
		return typedef.SportGeneric
	}
}
