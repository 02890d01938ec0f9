// Package export renders courtesy files from a finalized activity and its
// raw reading stream: a GPX track and a FIT activity file. Exports are a
// convenience on top of the immutable artifact; a failed rendering is
// logged and skipped, it never fails a finalize.
package export

import (
	"log/slog"
	"path/filepath"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

// Format names used as keys in the artifact's export map.
const (
	FormatGPX = "gpx"
	FormatFIT = "fit"
)

// Exporter renders the enabled formats next to the artifact.
type Exporter struct {
	gpx bool
	fit bool
	log *slog.Logger
}

// New builds an exporter for the enabled formats. A nil logger falls back
// to slog.Default.
func New(gpx, fit bool, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{gpx: gpx, fit: fit, log: log}
}

// Export writes every enabled format into dir and returns format name to
// file path for the renderings that succeeded. A nil map means nothing was
// produced.
func (e *Exporter) Export(dir string, art activity.Activity, readings []reading.Reading) map[string]string {
	out := make(map[string]string)
	if e.gpx {
		path := filepath.Join(dir, art.ID+".gpx")
		if err := writeGPX(path, art, readings); err != nil {
			e.log.Warn("gpx export failed", "activity_id", art.ID, "error", err)
		} else {
			e.log.Info("gpx export written", "activity_id", art.ID, "path", path)
			out[FormatGPX] = path
		}
	}
	if e.fit {
		path := filepath.Join(dir, art.ID+".fit")
		if err := writeFIT(path, art, readings); err != nil {
			e.log.Warn("fit export failed", "activity_id", art.ID, "error", err)
		} else {
			e.log.Info("fit export written", "activity_id", art.ID, "path", path)
			out[FormatFIT] = path
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
