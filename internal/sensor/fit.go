package sensor

import (
	"fmt"
	"os"

	"github.com/tormoder/fit"

	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

const semicirclesToDeg = 180.0 / 2147483648.0

// FIT invalid sentinels for the record fields read here.
const (
	invalidSemicircles = 0x7FFFFFFF
	invalidUint8       = 0xFF
	invalidUint16      = 0xFFFF
	invalidUint32      = 0xFFFFFFFF
)

// ReplayFromFIT decodes an activity file and splits its record stream into
// one replay source per signal present, so a previously recorded ride can be
// played back through the hub as if the sensors were live. Speed paces all
// returned sources identically (1.0 = real time, 0 = as fast as possible).
func ReplayFromFIT(path string, speed float64) ([]*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fd, err := fit.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	af, err := fd.Activity()
	if err != nil {
		return nil, fmt.Errorf("%s is not an activity file: %w", path, err)
	}

	var gps, hr, power, cadence, wheel []reading.Reading
	for _, rr := range af.Records {
		ts := rr.Timestamp
		if ts.IsZero() {
			continue
		}

		latSC := rr.PositionLat.Semicircles()
		lonSC := rr.PositionLong.Semicircles()
		if latSC != 0 && lonSC != 0 && latSC != invalidSemicircles && lonSC != invalidSemicircles {
			elev := 0.0
			switch {
			case rr.EnhancedAltitude != invalidUint32:
				elev = float64(rr.EnhancedAltitude)/5 - 500
			case rr.Altitude != invalidUint16:
				elev = float64(rr.Altitude)/5 - 500
			}
			lat := float64(latSC) * semicirclesToDeg
			lon := float64(lonSC) * semicirclesToDeg
			gps = append(gps, reading.GPS("replay-gps", ts, lat, lon, elev))
		}
		// Zero bpm means no strap contact, not a resting athlete.
		if rr.HeartRate != invalidUint8 && rr.HeartRate != 0 {
			hr = append(hr, reading.HeartRate("replay-hr", ts, int(rr.HeartRate)))
		}
		// Zero watts and zero rpm are real samples (coasting).
		if rr.Power != invalidUint16 {
			power = append(power, reading.Power("replay-power", ts, int(rr.Power)))
		}
		if rr.Cadence != invalidUint8 {
			cadence = append(cadence, reading.Cadence("replay-cadence", ts, int(rr.Cadence)))
		}
		switch {
		case rr.EnhancedSpeed != invalidUint32:
			wheel = append(wheel, reading.Speed("replay-speed", ts, float64(rr.EnhancedSpeed)/1000))
		case rr.Speed != invalidUint16:
			wheel = append(wheel, reading.Speed("replay-speed", ts, float64(rr.Speed)/1000))
		}
	}

	var sources []*ReplaySource
	for _, s := range []*ReplaySource{
		{SourceID: "replay-gps", Readings: gps, Speed: speed},
		{SourceID: "replay-hr", Readings: hr, Speed: speed},
		{SourceID: "replay-power", Readings: power, Speed: speed},
		{SourceID: "replay-cadence", Readings: cadence, Speed: speed},
		{SourceID: "replay-speed", Readings: wheel, Speed: speed},
	} {
		if len(s.Readings) > 0 {
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%s: no usable records", path)
	}
	return sources, nil
}
