// Package server is the HTTP and websocket surface over the recording
// engine. Handlers translate requests into recorder actions and engine
// errors into statuses; no recording logic lives here.
package server

import (
	"encoding/json"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/deancochran/gradientpeak-sub005/internal/archive"
	"github.com/deancochran/gradientpeak-sub005/internal/checkpoint"
	"github.com/deancochran/gradientpeak-sub005/internal/config"
	"github.com/deancochran/gradientpeak-sub005/internal/plan"
	"github.com/deancochran/gradientpeak-sub005/internal/recorder"
	"github.com/deancochran/gradientpeak-sub005/internal/stream"
)

// Deps are the collaborators behind the HTTP surface. Archive, Plans and
// Redis are optional: a nil archive serves activities from the on-disk
// store, a nil plan source omits plan details, a nil redis keeps the
// stream hub single-instance.
type Deps struct {
	Recorder *recorder.Recorder
	Store    *checkpoint.FileStore
	Archive  *archive.Service
	Plans    plan.Source
	Redis    *redis.Client
	Logger   *slog.Logger
}

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	Stream *stream.Hub

	deps     Deps
	bridgeID int
}

func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		Stream: stream.NewHub(deps.Redis, deps.Logger),
		deps:   deps,
	}

	if deps.Recorder != nil {
		id, events := deps.Recorder.Subscribe()
		s.bridgeID = id
		go s.forwardEvents(events)
	}

	registerRoutes(s)
	return s
}

// Close detaches the event bridge. Shutting down the fiber app is the
// caller's job.
func (s *Server) Close() {
	if s.deps.Recorder != nil {
		s.deps.Recorder.Unsubscribe(s.bridgeID)
	}
}

// forwardEvents pushes engine events to the websocket observers of the
// session they belong to. The loop ends when the recorder closes the
// subscription.
func (s *Server) forwardEvents(events <-chan recorder.Event) {
	for ev := range events {
		if ev.SessionID == "" {
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			s.deps.Logger.Warn("event not serializable", "type", ev.Type, "error", err)
			continue
		}
		s.Stream.Broadcast(ev.SessionID, payload)
	}
}
