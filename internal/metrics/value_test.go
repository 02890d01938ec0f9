package metrics

import (
	"encoding/json"
	"testing"
)

func TestValueNullSemantics(t *testing.T) {
	type doc struct {
		TSS Value `json:"tss"`
		NP  Value `json:"np"`
	}
	in := doc{TSS: Available(87.5)}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"tss":87.5,"np":null}` {
		t.Fatalf("marshal = %s", b)
	}

	var out doc
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.TSS.Valid || out.TSS.V != 87.5 {
		t.Fatalf("tss round-trip = %+v", out.TSS)
	}
	if out.NP.Valid {
		t.Fatalf("np round-trip = %+v, want unavailable", out.NP)
	}
}

func TestZonesNullSemantics(t *testing.T) {
	var z Zones
	b, err := json.Marshal(z)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "null" {
		t.Fatalf("invalid zones marshal = %s", b)
	}

	z.Valid = true
	z.Seconds[3] = 120
	b, err = json.Marshal(z)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Zones
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Valid || back.Seconds[3] != 120 {
		t.Fatalf("zones round-trip = %+v", back)
	}
}

func TestZoneBoundaries(t *testing.T) {
	cases := []struct {
		watts float64
		zone  int
	}{
		{0, 0}, {137, 0}, {138, 1}, {187, 1}, {188, 2},
		{225, 2}, {226, 3}, {262, 3}, {263, 4}, {300, 4},
		{301, 5}, {375, 5}, {376, 6}, {900, 6},
	}
	for _, tc := range cases {
		if got := PowerZone(tc.watts, 250); got != tc.zone {
			t.Fatalf("PowerZone(%v, 250) = %d, want %d", tc.watts, got, tc.zone)
		}
	}
	if got := HeartRateZone(160, 160); got != 4 {
		t.Fatalf("HeartRateZone(160, 160) = %d, want 4", got)
	}
	if got := HeartRateZone(129, 160); got != 0 {
		t.Fatalf("HeartRateZone(129, 160) = %d, want 0", got)
	}
}
