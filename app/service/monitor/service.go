package monitor

import (
	"context"
	"log/slog"

	_ "embed"

	"github.com/Filichkin/AV-ASSISTANT/app/config"
	"github.com/Filichkin/AV-ASSISTANT/app/service/store"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

//go:embed dashboard.html
var dashboardHTML string

// Service is the read-only observability surface over the worker's state.
// It never writes to the store.
type Service struct {
	cfg   *config.Config
	store *store.Service
	app   *fiber.App
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:   do.MustInvoke[*config.Config](di),
		store: do.MustInvoke[*store.Service](di),
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	s.routes()

	return s, nil
}

func (s *Service) routes() {
	s.app.Get("/", s.handleIndex)
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/stats", s.handleStats)
	s.app.Get("/dialogs", s.handleDialogs)
	s.app.Get("/queue", s.handleQueue)
	s.app.Get("/dashboard", s.handleDashboard)
}

// Listen blocks serving HTTP until Shutdown is called.
func (s *Service) Listen() error {
	slog.Info("Monitor API listening", "addr", s.cfg.Monitor.Addr)

	return s.app.Listen(s.cfg.Monitor.Addr)
}

func (s *Service) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Service) handleIndex(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "Avito Worker Monitor API",
		"version": "1.0.0",
		"endpoints": fiber.Map{
			"/health":    "Service health",
			"/stats":     "Worker statistics",
			"/dialogs":   "Active dialog count",
			"/queue":     "Message queue lengths",
			"/dashboard": "Web dashboard",
		},
	})
}

func (s *Service) handleHealth(c *fiber.Ctx) error {
	if err := s.store.Ping(c.Context()); err != nil {
		slog.Error("Health check failed", "error", err)

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "healthy",
		"redis":  "connected",
	})
}

func (s *Service) handleStats(c *fiber.Ctx) error {
	stats, err := s.store.GetStats(c.Context())
	if err != nil {
		slog.Error("Failed to read stats", "error", err)

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(stats)
}

func (s *Service) handleDialogs(c *fiber.Ctx) error {
	count, err := s.store.ActiveDialogCount(c.Context())
	if err != nil {
		slog.Error("Failed to count dialogs", "error", err)

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"active_dialogs": count,
	})
}

func (s *Service) handleQueue(c *fiber.Ctx) error {
	queueLen, err := s.store.QueueLen(c.Context())
	if err != nil {
		slog.Error("Failed to read queue length", "error", err)

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	processing, err := s.store.ProcessingCount(c.Context())
	if err != nil {
		slog.Error("Failed to read processing count", "error", err)

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"queue_length":     queueLen,
		"processing_count": processing,
		"total":            queueLen + processing,
	})
}

func (s *Service) handleDashboard(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)

	return c.SendString(dashboardHTML)
}
