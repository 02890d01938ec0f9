package reading

import "time"

// Kind identifies the signal a reading carries.
type Kind string

const (
	KindGPS       Kind = "gps"
	KindHeartRate Kind = "heartRate"
	KindPower     Kind = "power"
	KindCadence   Kind = "cadence"
	KindSpeed     Kind = "speed"
)

// Quality marks how trustworthy a sample is. Sources report what they know;
// downstream consumers may still reject samples on physical grounds.
type Quality string

const (
	QualityGood     Quality = "good"
	QualityDegraded Quality = "degraded"
	QualityEstimate Quality = "estimate"
)

// Reading is one canonical sensor sample. Only the fields matching Kind are
// meaningful; the rest stay zero. Timestamps are monotonic per source.
type Reading struct {
	SourceID  string    `json:"source_id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Lat        float64 `json:"lat,omitempty"`
	Lon        float64 `json:"lon,omitempty"`
	ElevationM float64 `json:"elevation_m,omitempty"`

	BPM      int     `json:"bpm,omitempty"`
	Watts    int     `json:"watts,omitempty"`
	RPM      int     `json:"rpm,omitempty"`
	SpeedMps float64 `json:"speed_mps,omitempty"`

	Quality Quality `json:"quality,omitempty"`
}

// priority orders kinds for timestamp ties: GPS wins, then heart rate,
// power, cadence, speed.
var priority = map[Kind]int{
	KindGPS:       0,
	KindHeartRate: 1,
	KindPower:     2,
	KindCadence:   3,
	KindSpeed:     4,
}

// Priority returns the tie-break rank of the kind; lower sorts first.
// Unknown kinds sort last.
func (k Kind) Priority() int {
	p, ok := priority[k]
	if !ok {
		return len(priority)
	}
	return p
}

// Valid reports whether the kind is one of the five canonical signals.
func (k Kind) Valid() bool {
	_, ok := priority[k]
	return ok
}

// Less orders readings by timestamp, breaking ties by kind priority.
func Less(a, b Reading) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Kind.Priority() < b.Kind.Priority()
}

// GPS builds a position sample.
func GPS(sourceID string, ts time.Time, lat, lon, elevationM float64) Reading {
	return Reading{SourceID: sourceID, Kind: KindGPS, Timestamp: ts, Lat: lat, Lon: lon, ElevationM: elevationM, Quality: QualityGood}
}

// HeartRate builds a heart-rate sample in beats per minute.
func HeartRate(sourceID string, ts time.Time, bpm int) Reading {
	return Reading{SourceID: sourceID, Kind: KindHeartRate, Timestamp: ts, BPM: bpm, Quality: QualityGood}
}

// Power builds a power sample in watts.
func Power(sourceID string, ts time.Time, watts int) Reading {
	return Reading{SourceID: sourceID, Kind: KindPower, Timestamp: ts, Watts: watts, Quality: QualityGood}
}

// Cadence builds a cadence sample in revolutions per minute.
func Cadence(sourceID string, ts time.Time, rpm int) Reading {
	return Reading{SourceID: sourceID, Kind: KindCadence, Timestamp: ts, RPM: rpm, Quality: QualityGood}
}

// Speed builds a wheel/foot-pod speed sample in meters per second.
func Speed(sourceID string, ts time.Time, mps float64) Reading {
	return Reading{SourceID: sourceID, Kind: KindSpeed, Timestamp: ts, SpeedMps: mps, Quality: QualityGood}
}
