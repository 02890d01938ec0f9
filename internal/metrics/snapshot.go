package metrics

import "time"

// Basis values for the tss field.
const (
	TSSBasisPower     = "power"
	TSSBasisHeartRate = "heart_rate"
)

// Lap is a closed lap segment, delimited by explicit lap marks.
type Lap struct {
	Index           int       `json:"index"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DistanceMeters  float64   `json:"distance_m"`
	MovingSeconds   float64   `json:"moving_s"`
	AvgPowerWatts   Value     `json:"avg_power_w"`
	AvgHeartRateBpm Value     `json:"avg_hr_bpm"`
}

// Snapshot is the externally visible metric set at a point in time. It is
// what checkpoints persist and what the finalized artifact carries.
type Snapshot struct {
	ElapsedSeconds       float64 `json:"elapsed_s"`
	MovingSeconds        float64 `json:"moving_s"`
	DistanceMeters       float64 `json:"distance_m"`
	ElevationGainMeters  float64 `json:"elevation_gain_m"`
	AvgSpeedMps          float64 `json:"avg_speed_mps"`
	CurrentSpeedMps      float64 `json:"current_speed_mps"`
	NormalizedPowerWatts Value   `json:"normalized_power_w"`
	IntensityFactor      Value   `json:"intensity_factor"`
	TSS                  Value   `json:"tss"`
	TSSBasis             string  `json:"tss_basis,omitempty"`
	CaloriesKcal         Value   `json:"calories_kcal"`
	AvgPowerWatts        Value   `json:"avg_power_w"`
	MaxPowerWatts        Value   `json:"max_power_w"`
	AvgHeartRateBpm      Value   `json:"avg_hr_bpm"`
	MaxHeartRateBpm      Value   `json:"max_hr_bpm"`
	AvgCadenceRpm        Value   `json:"avg_cadence_rpm"`
	HeartRateZones       Zones   `json:"hr_zones_s"`
	PowerZones           Zones   `json:"power_zones_s"`
	Laps                 []Lap   `json:"laps,omitempty"`
}
