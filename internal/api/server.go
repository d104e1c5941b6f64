// Package api exposes the workflow engine over HTTP.
package api

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/p-blackswan/stageflow/internal/metrics"
	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/requestid"
)

// ServerConfig holds configuration for the HTTP API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
	TLSCert     string
	TLSKey      string
	// UploadDir, when set, is served read-only under UploadBaseURL.
	UploadDir     string
	UploadBaseURL string
}

// Server is the HTTP API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures the API server.
func NewServer(cfg ServerConfig, handlers *Handlers, collector *metrics.Metrics, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "api_server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(handlers, collector)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, logger zerolog.Logger) {
	// Recovery middleware
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// CORS middleware
	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		}))
	}

	// Rate limiter
	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	// Auth middleware
	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, logger))

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Skip noisy probe logging
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, collector *metrics.Metrics) {
	// Probe endpoints (no auth required — handled in auth middleware)
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	// Prometheus metrics
	if collector != nil {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(collector.Handler())
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	// Uploaded attachment files
	if s.config.UploadDir != "" && s.config.UploadBaseURL != "" {
		s.app.Static(s.config.UploadBaseURL, s.config.UploadDir)
	}

	// API v1 routes
	v1 := s.app.Group("/api/v1")

	// Projects and stages
	v1.Post("/projects", requireRole(models.RoleOperator), h.CreateProject)
	v1.Get("/projects", h.ListProjects)
	v1.Get("/projects/:id", h.GetProject)
	v1.Get("/projects/:id/stages", h.ListStages)
	v1.Post("/projects/:id/stages", requireRole(models.RoleAdmin), h.CreateStage)
	v1.Patch("/stages/:id", requireRole(models.RoleAdmin), h.UpdateStage)
	v1.Delete("/stages/:id", requireRole(models.RoleAdmin), h.DeleteStage)

	// Tasks
	v1.Post("/projects/:id/tasks", requireRole(models.RoleOperator), h.CreateTask)
	v1.Get("/projects/:id/tasks", h.ListTasks)
	v1.Get("/tasks/:id", h.GetTask)
	v1.Patch("/tasks/:id", requireRole(models.RoleOperator), h.UpdateTask)

	// Workflow transitions
	v1.Post("/tasks/:id/move", requireRole(models.RoleOperator), h.MoveTask)
	v1.Post("/tasks/:id/review", requireRole(models.RoleOperator), h.EnterReview)
	v1.Post("/tasks/:id/approve", requireRole(models.RoleOperator), h.ApproveReview)
	v1.Post("/tasks/:id/reject", requireRole(models.RoleOperator), h.RejectReview)

	// Assignees
	v1.Put("/tasks/:id/assignees", requireRole(models.RoleOperator), h.SetAssignees)
	v1.Delete("/tasks/:id/assignees/:userId", requireRole(models.RoleOperator), h.RemoveAssignee)
	v1.Put("/tasks/:id/assignees/:userId/status", requireRole(models.RoleOperator), h.SetAssigneeStatus)

	// History and attachments
	v1.Get("/tasks/:id/history", h.ListHistory)
	v1.Get("/tasks/:id/attachments", h.ListAttachments)
	v1.Post("/tasks/:id/links", requireRole(models.RoleOperator), h.AddLink)
	v1.Post("/tasks/:id/files", requireRole(models.RoleOperator), h.UploadFile)
	v1.Delete("/tasks/:id/attachments/:attachmentId", requireRole(models.RoleOperator), h.RemoveAttachment)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")

	if s.config.TLSCert != "" && s.config.TLSKey != "" {
		return s.app.ListenTLS(addr, s.config.TLSCert, s.config.TLSKey)
	}
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
