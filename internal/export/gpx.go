package export

import (
	"errors"
	"fmt"
	"os"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

// writeGPX renders the recorded track as one GPX 1.1 track with a single
// segment holding every fix of the raw stream, in arrival order.
func writeGPX(path string, art activity.Activity, readings []reading.Reading) error {
	var seg gpx.GPXTrackSegment
	for _, r := range readings {
		if r.Kind != reading.KindGPS {
			continue
		}
		seg.Points = append(seg.Points, gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  r.Lat,
				Longitude: r.Lon,
				Elevation: *gpx.NewNullableFloat64(r.ElevationM),
			},
			Timestamp: r.Timestamp,
		})
	}
	if len(seg.Points) == 0 {
		return errors.New("no gps fixes in raw stream")
	}

	started := art.StartedAt
	doc := gpx.GPX{
		Creator: "gradientpeak",
		Time:    &started,
		Tracks: []gpx.GPXTrack{{
			Name:     fmt.Sprintf("%s %s", art.ActivityType, art.StartedAt.Format("2006-01-02")),
			Type:     art.ActivityType,
			Segments: []gpx.GPXTrackSegment{seg},
		}},
	}
	body, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return fmt.Errorf("serialize gpx: %w", err)
	}
	return os.WriteFile(path, body, 0o644)
}
