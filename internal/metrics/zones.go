package metrics

// Zone boundaries as fractions of the profile threshold. Each entry is the
// upper edge of zones 1..6; anything above the last edge lands in zone 7.
//
// Power follows the Coggan model anchored on FTP, heart rate the Friel
// model anchored on threshold HR.
var (
	powerZoneEdges = [ZoneCount - 1]float64{0.55, 0.75, 0.90, 1.05, 1.20, 1.50}
	hrZoneEdges    = [ZoneCount - 1]float64{0.81, 0.89, 0.93, 0.99, 1.02, 1.06}
)

func zoneIndex(value, threshold float64, edges [ZoneCount - 1]float64) int {
	for i, frac := range edges {
		if value <= threshold*frac {
			return i
		}
	}
	return ZoneCount - 1
}

// PowerZone returns the 0-based Coggan zone for a wattage given FTP.
func PowerZone(watts, ftp float64) int {
	return zoneIndex(watts, ftp, powerZoneEdges)
}

// HeartRateZone returns the 0-based Friel zone for a heart rate given
// threshold HR.
func HeartRateZone(bpm, thresholdHR float64) int {
	return zoneIndex(bpm, thresholdHR, hrZoneEdges)
}
