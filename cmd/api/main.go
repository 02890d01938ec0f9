package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/deancochran/gradientpeak-sub005/internal/archive"
	"github.com/deancochran/gradientpeak-sub005/internal/checkpoint"
	"github.com/deancochran/gradientpeak-sub005/internal/config"
	"github.com/deancochran/gradientpeak-sub005/internal/db"
	"github.com/deancochran/gradientpeak-sub005/internal/export"
	"github.com/deancochran/gradientpeak-sub005/internal/metrics"
	"github.com/deancochran/gradientpeak-sub005/internal/plan"
	"github.com/deancochran/gradientpeak-sub005/internal/profile"
	"github.com/deancochran/gradientpeak-sub005/internal/recorder"
	"github.com/deancochran/gradientpeak-sub005/internal/sensor"
	"github.com/deancochran/gradientpeak-sub005/internal/server"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	// Both stores are optional. Without postgres the engine is disk-only;
	// without redis live observation stays single-instance.
	var pg *pgxpool.Pool
	if cfg.PostgresURL != "" {
		var err error
		pg, err = deps.connectPostgres(cfg)
		if err != nil {
			log.Printf("postgres connection failed, archive disabled: %v", err)
			pg = nil
		}
	}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = deps.connectRedis(cfg)
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

// Swapped in tests.
var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run assembles the recording engine behind its HTTP surface and serves it
// until a termination signal. Shutdown stops the sensor hub first, then the
// recorder, so a live session gets a final checkpoint before the process
// exits.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	store, err := checkpoint.NewFileStore(cfg.DataDir, cfg.CheckpointKeep, logger)
	if err != nil {
		return err
	}

	var profiles profile.Source = profile.Static{}
	if cfg.ProfilePath != "" {
		profiles = profile.FileSource{Path: cfg.ProfilePath}
	}
	var plans plan.Source
	if cfg.PlanPath != "" {
		plans = plan.FileSource{Path: cfg.PlanPath, Log: logger}
	}

	opts := recorder.Options{
		Config: recorder.Config{
			CheckpointInterval:      time.Duration(cfg.CheckpointSeconds) * time.Second,
			CheckpointEveryReadings: cfg.CheckpointReadings,
			Metrics: metrics.Config{
				MaxPlausibleSpeedMps: cfg.MaxPlausibleSpeedMps,
				RollingPowerWindow:   time.Duration(cfg.NPWindowSeconds) * time.Second,
				StationaryWindow:     time.Duration(cfg.StationaryWindowSeconds) * time.Second,
			},
		},
		Store:    store,
		Profiles: profiles,
		Exporter: export.New(cfg.ExportGPX, cfg.ExportFIT, logger),
		Logger:   logger,
	}
	var arch *archive.Service
	if pg != nil {
		arch = archive.NewService(pg)
		opts.Archiver = arch
	}

	rec := recorder.New(opts)
	hub := sensor.NewHub(sensor.Config{
		Holdback: time.Duration(cfg.HoldbackMS) * time.Millisecond,
	}, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go rec.Run(runCtx, hub.Readings(), hub.Status())
	if err := hub.Start(runCtx); err != nil {
		rec.Close()
		return err
	}

	recoverInterrupted(runCtx, rec, store, logger)

	srv := server.NewServer(cfg, server.Deps{
		Recorder: rec,
		Store:    store,
		Archive:  arch,
		Plans:    plans,
		Redis:    rdb,
		Logger:   logger,
	})

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	srv.Close()
	hub.Stop()
	rec.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}

// recoverInterrupted resumes the first session a previous process left
// behind. Only one session can be live, so any further candidates stay on
// disk for an explicit recover or discard through the API.
func recoverInterrupted(ctx context.Context, rec *recorder.Recorder, store *checkpoint.FileStore, logger *slog.Logger) {
	ids, err := store.Sessions()
	if err != nil {
		logger.Warn("scan for interrupted sessions failed", "error", err)
		return
	}
	for _, id := range ids {
		ov, err := rec.Recover(ctx, id)
		if err != nil {
			if errors.Is(err, recorder.ErrNoCheckpoint) {
				continue
			}
			logger.Error("interrupted session not recovered", "session_id", id, "error", err)
			continue
		}
		logger.Info("interrupted session recovered",
			"session_id", ov.Session.ID, "state", ov.Session.State)
		return
	}
}
