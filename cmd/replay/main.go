// Command replay feeds a recorded FIT activity back through the engine as
// live sensor sources, producing a fresh artifact with recomputed metrics
// and exports. Useful for regression-checking metric changes against real
// rides without hardware on the desk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/checkpoint"
	"github.com/deancochran/gradientpeak-sub005/internal/export"
	"github.com/deancochran/gradientpeak-sub005/internal/profile"
	"github.com/deancochran/gradientpeak-sub005/internal/recorder"
	"github.com/deancochran/gradientpeak-sub005/internal/sensor"
	"github.com/deancochran/gradientpeak-sub005/internal/session"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	var (
		speed     = fs.Float64("speed", 0, "pacing factor, 1.0 is real time, 0 replays as fast as possible")
		dataDir   = fs.String("data", "./data", "checkpoint and artifact directory")
		profiles  = fs.String("profiles", "", "athlete profile JSON file")
		profileID = fs.String("profile", "replay", "profile id to record under")
		actType   = fs.String("type", session.TypeRide, "activity type")
		quiet     = fs.Bool("quiet", false, "suppress engine logs")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: replay [flags] <activity.fit>")
	}
	fitPath := fs.Arg(0)

	logOut := io.Writer(os.Stderr)
	if *quiet {
		logOut = io.Discard
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	sources, err := sensor.ReplayFromFIT(fitPath, *speed)
	if err != nil {
		return err
	}

	store, err := checkpoint.NewFileStore(*dataDir, 0, logger)
	if err != nil {
		return err
	}
	var profSrc profile.Source = profile.Static{}
	if *profiles != "" {
		profSrc = profile.FileSource{Path: *profiles}
	}

	rec := recorder.New(recorder.Options{
		Store:    store,
		Profiles: profSrc,
		Exporter: export.New(true, true, logger),
		Logger:   logger,
	})
	hub := sensor.NewHub(sensor.Config{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tee hub status to the recorder while counting clean source exits, so
	// we know when the last replayed reading has left the hub.
	recStatus := make(chan sensor.StatusEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(recStatus)
		remaining := len(sources)
		for ev := range hub.Status() {
			if ev.Status == sensor.StatusDisconnected {
				if remaining--; remaining == 0 {
					close(done)
				}
			}
			recStatus <- ev
		}
	}()
	go rec.Run(ctx, hub.Readings(), recStatus)

	sess, err := rec.Start(ctx, *profileID, *actType, "")
	if err != nil {
		return err
	}
	for _, src := range sources {
		if err := hub.Register(src); err != nil {
			return err
		}
	}
	if err := hub.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "replaying %s as session %s with %d sources\n",
		filepath.Base(fitPath), sess.ID, len(sources))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
	case <-sigCh:
		fmt.Fprintln(stdout, "interrupted, finalizing what was replayed")
	}

	// Stop flushes the holdback buffer before closing the reading channel,
	// and the recorder drains pending readings ahead of any action, so
	// finish sees the complete stream.
	hub.Stop()
	art, err := rec.Finish(ctx)
	rec.Close()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "activity %s: %.2f km, %s moving, %.0f m climbed\n",
		art.ID,
		art.FinalMetrics.DistanceMeters/1000,
		time.Duration(art.FinalMetrics.MovingSeconds)*time.Second,
		art.FinalMetrics.ElevationGainMeters)
	if art.FinalMetrics.TSS.Valid {
		fmt.Fprintf(stdout, "  tss %.1f (%s basis)\n", art.FinalMetrics.TSS.V, art.FinalMetrics.TSSBasis)
	}
	for format, path := range art.Exports {
		fmt.Fprintf(stdout, "  %s export: %s\n", format, path)
	}
	return nil
}
