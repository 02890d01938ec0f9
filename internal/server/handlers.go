package server

import (
	"errors"
	"io/fs"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/deancochran/gradientpeak-sub005/internal/archive"
	"github.com/deancochran/gradientpeak-sub005/internal/checkpoint"
	"github.com/deancochran/gradientpeak-sub005/internal/recorder"
	"github.com/deancochran/gradientpeak-sub005/internal/session"
	"github.com/deancochran/gradientpeak-sub005/internal/stream"
)

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	rec := s.deps.Recorder

	sessions := s.App.Group("/sessions")

	sessions.Post("/", func(c *fiber.Ctx) error {
		var body struct {
			ProfileID         string `json:"profile_id"`
			ActivityType      string `json:"activity_type"`
			PlannedActivityID string `json:"planned_activity_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		sess, err := rec.Start(c.Context(), body.ProfileID, body.ActivityType, body.PlannedActivityID)
		if err != nil {
			return statusFor(err)
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	})

	sessions.Get("/current", func(c *fiber.Ctx) error {
		ov, ok := rec.Current()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no active session")
		}
		resp := fiber.Map{"session": ov.Session, "metrics": ov.Metrics}
		if s.deps.Plans != nil && ov.Session.PlannedActivityID != "" {
			if p, ok := s.deps.Plans.Lookup(c.Context(), ov.Session.PlannedActivityID); ok {
				resp["plan"] = p
				resp["plan_steps"] = p.Flatten()
			}
		}
		return c.JSON(resp)
	})

	sessions.Post("/current/pause", func(c *fiber.Ctx) error {
		if err := rec.Pause(); err != nil {
			return statusFor(err)
		}
		return currentOverview(c, rec)
	})

	sessions.Post("/current/resume", func(c *fiber.Ctx) error {
		if err := rec.Resume(); err != nil {
			return statusFor(err)
		}
		return currentOverview(c, rec)
	})

	sessions.Post("/current/lap", func(c *fiber.Ctx) error {
		lap, err := rec.MarkLap()
		if err != nil {
			return statusFor(err)
		}
		return c.Status(fiber.StatusCreated).JSON(lap)
	})

	sessions.Post("/current/finish", func(c *fiber.Ctx) error {
		art, err := rec.Finish(c.Context())
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(art)
	})

	sessions.Post("/current/discard", func(c *fiber.Ctx) error {
		if err := rec.Discard(); err != nil {
			return statusFor(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	sessions.Post("/recover", func(c *fiber.Ctx) error {
		var body struct {
			SessionID string `json:"session_id"`
		}
		if err := c.BodyParser(&body); err != nil || body.SessionID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "session_id required")
		}
		ov, err := rec.Recover(c.Context(), body.SessionID)
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(ov)
	})

	activities := s.App.Group("/activities")

	activities.Get("/", func(c *fiber.Ctx) error {
		if s.deps.Archive != nil {
			records, err := s.deps.Archive.List(c.Context(), c.Query("profile_id"))
			if err != nil {
				return statusFor(err)
			}
			return c.JSON(records)
		}
		arts, err := s.deps.Store.ListArtifacts()
		if err != nil {
			return statusFor(err)
		}
		records := make([]archive.Record, 0, len(arts))
		for _, art := range arts {
			records = append(records, archive.Record{Activity: art})
		}
		return c.JSON(records)
	})

	activities.Get("/:id", func(c *fiber.Ctx) error {
		if s.deps.Archive != nil {
			record, err := s.deps.Archive.Get(c.Context(), c.Params("id"))
			if err != nil {
				return statusFor(err)
			}
			return c.JSON(record)
		}
		art, err := s.deps.Store.LoadArtifact(c.Params("id"))
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(archive.Record{Activity: art})
	})

	activities.Post("/:id/synced", func(c *fiber.Ctx) error {
		if s.deps.Archive == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "archive not configured")
		}
		var body struct {
			At time.Time `json:"at"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		at := body.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if err := s.deps.Archive.MarkSynced(c.Context(), c.Params("id"), at); err != nil {
			return statusFor(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

// currentOverview answers state-changing calls with the session and metrics
// they produced, matching what GET /sessions/current would return.
func currentOverview(c *fiber.Ctx, rec *recorder.Recorder) error {
	ov, ok := rec.Current()
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(ov)
}

// statusFor maps engine errors onto HTTP statuses: bad input is 400,
// lifecycle conflicts and unreadable checkpoints 409, unknown ids 404, an
// engine that is not running 503, anything else 500.
func statusFor(err error) *fiber.Error {
	var (
		invalid    *session.ValidationError
		transition *session.InvalidTransitionError
		finalized  *session.AlreadyFinalizedError
		corrupt    *checkpoint.CorruptError
	)
	switch {
	case errors.As(err, &invalid):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.As(err, &transition), errors.As(err, &finalized), errors.As(err, &corrupt):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, recorder.ErrNoCheckpoint),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, fs.ErrNotExist):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, recorder.ErrNotRunning):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
