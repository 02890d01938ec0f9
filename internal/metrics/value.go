package metrics

import (
	"bytes"
	"encoding/json"
)

// Value is an optional metric. Valid is false when the inputs required to
// compute it were absent; it marshals as JSON null in that case so readers
// can tell "unavailable" from zero.
type Value struct {
	V     float64
	Valid bool
}

// Available wraps a computed value.
func Available(v float64) Value {
	return Value{V: v, Valid: true}
}

var jsonNull = []byte("null")

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return jsonNull, nil
	}
	return json.Marshal(v.V)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*v = Value{}
		return nil
	}
	if err := json.Unmarshal(data, &v.V); err != nil {
		return err
	}
	v.Valid = true
	return nil
}

// ZoneCount is the number of intensity buckets for both heart rate and power.
const ZoneCount = 7

// Zones holds time spent per intensity zone, in seconds. Invalid when the
// profile threshold needed to place samples was absent.
type Zones struct {
	Seconds [ZoneCount]float64
	Valid   bool
}

func (z Zones) MarshalJSON() ([]byte, error) {
	if !z.Valid {
		return jsonNull, nil
	}
	return json.Marshal(z.Seconds)
}

func (z *Zones) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*z = Zones{}
		return nil
	}
	if err := json.Unmarshal(data, &z.Seconds); err != nil {
		return err
	}
	z.Valid = true
	return nil
}
