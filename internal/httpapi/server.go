// Package httpapi exposes the enqueue API over HTTP.
package httpapi

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/yourorg/conveyor/internal/inflight"
	"github.com/yourorg/conveyor/internal/notify"
	"github.com/yourorg/conveyor/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	store    store.Store
	notifier notify.Notifier
	tracker  inflight.Tracker
	logger   *slog.Logger
}

func NewServer(s store.Store, n notify.Notifier, t inflight.Tracker, logger *slog.Logger) *Server {
	if t == nil {
		t = inflight.Noop{}
	}
	return &Server{store: s, notifier: n, tracker: t, logger: logger}
}

// App builds the fiber application with all routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/healthz", s.healthHandler)

	v1 := app.Group("/v1")
	v1.Post("/jobs", s.submitHandler)
	v1.Post("/jobs/batch", s.submitBatchHandler)
	v1.Get("/jobs/:id", s.jobDetailHandler)

	return app
}
