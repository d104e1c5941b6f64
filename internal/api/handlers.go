package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/health"
	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/pipeline"
	"github.com/p-blackswan/stageflow/internal/store"
	"github.com/p-blackswan/stageflow/internal/workflow"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store     *store.Store
	machine   *workflow.Machine
	seeder    *pipeline.Seeder
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, machine *workflow.Machine, seeder *pipeline.Seeder, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:     st,
		machine:   machine,
		seeder:    seeder,
		checker:   checker,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// domainError maps the workflow error taxonomy onto problem responses.
func domainError(c *fiber.Ctx, err error) error {
	switch {
	case perrors.IsValidation(err):
		return problemResponse(c, fiber.StatusBadRequest,
			"validation_failed", "Bad Request", err.Error())
	case perrors.IsPermission(err):
		return problemResponse(c, fiber.StatusForbidden,
			"permission_denied", "Forbidden", err.Error())
	case perrors.IsNotFound(err):
		return problemResponse(c, fiber.StatusNotFound,
			"not_found", "Not Found", err.Error())
	case perrors.IsConcurrency(err):
		return problemResponse(c, fiber.StatusConflict,
			"conflict", "Conflict", err.Error())
	default:
		return err // customErrorHandler turns this into a 500
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "uptime": time.Since(h.startTime).String()})
}

// Readiness handles GET /readyz, reporting per-dependency check results.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	checks, ready := h.checker.Summary(c.Context())
	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": checks})
}

// CreateProject handles POST /api/v1/projects: creates the project and seeds
// its stage pipeline.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_name", "Bad Request", "Project name is required")
	}

	actor := actorFromCtx(c)
	p, err := h.store.CreateProject(req.Name, actor.ID)
	if err != nil {
		return domainError(c, err)
	}
	stages, err := h.seeder.Seed(p.ID, req.Pipeline)
	if err != nil {
		return domainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"project": p, "stages": stages})
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	projects, err := h.store.ListProjects()
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(fiber.Map{"projects": projects})
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	p, err := h.store.GetProject(c.Params("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(p)
}

// ListStages handles GET /api/v1/projects/:id/stages.
func (h *Handlers) ListStages(c *fiber.Ctx) error {
	stages, err := h.store.GetProjectStages(c.Params("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(fiber.Map{"stages": stages})
}

// CreateStage handles POST /api/v1/projects/:id/stages.
func (h *Handlers) CreateStage(c *fiber.Ctx) error {
	var req CreateStageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	st := &models.Stage{
		ProjectID:             c.Params("id"),
		Title:                 req.Title,
		Order:                 req.Order,
		Kind:                  models.StageKind(req.Kind),
		IsReviewStage:         req.IsReviewStage,
		ApprovedTargetStageID: req.ApprovedTargetStageID,
		LinkedNextStageID:     req.LinkedNextStageID,
		MainResponsibleID:     req.MainResponsibleID,
		BackupResponsibleID1:  req.BackupResponsibleID1,
		BackupResponsibleID2:  req.BackupResponsibleID2,
		StageGroupID:          req.StageGroupID,
	}
	if st.Kind == "" {
		st.Kind = models.KindCustom
	}

	if err := h.validateStageChange(st, true); err != nil {
		return domainError(c, err)
	}
	if err := h.store.CreateStage(st); err != nil {
		return domainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(st)
}

// UpdateStage handles PATCH /api/v1/stages/:id.
func (h *Handlers) UpdateStage(c *fiber.Ctx) error {
	var req UpdateStageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	st, err := h.store.GetStage(c.Params("id"))
	if err != nil {
		return domainError(c, err)
	}

	if req.Title != nil {
		st.Title = *req.Title
	}
	if req.Order != nil {
		st.Order = *req.Order
	}
	if req.IsReviewStage != nil {
		st.IsReviewStage = *req.IsReviewStage
	}
	if req.ApprovedTargetStageID != nil {
		st.ApprovedTargetStageID = *req.ApprovedTargetStageID
	}
	if req.LinkedNextStageID != nil {
		st.LinkedNextStageID = *req.LinkedNextStageID
	}
	if req.MainResponsibleID != nil {
		st.MainResponsibleID = *req.MainResponsibleID
	}
	if req.BackupResponsibleID1 != nil {
		st.BackupResponsibleID1 = *req.BackupResponsibleID1
	}
	if req.BackupResponsibleID2 != nil {
		st.BackupResponsibleID2 = *req.BackupResponsibleID2
	}
	if req.StageGroupID != nil {
		st.StageGroupID = *req.StageGroupID
	}

	if err := h.validateStageChange(st, false); err != nil {
		return domainError(c, err)
	}
	if err := h.store.UpdateStage(st); err != nil {
		return domainError(c, err)
	}
	return c.JSON(st)
}

// DeleteStage handles DELETE /api/v1/stages/:id.
func (h *Handlers) DeleteStage(c *fiber.Ctx) error {
	if err := h.store.DeleteStage(c.Params("id")); err != nil {
		return domainError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// validateStageChange checks the project's stage set as it would look after
// the change. The store enforces per-row rules; this catches graph-level
// problems like duplicate reserved kinds or dangling references.
func (h *Handlers) validateStageChange(st *models.Stage, isNew bool) error {
	stages, err := h.store.GetProjectStages(st.ProjectID)
	if err != nil {
		return err
	}
	projected := make([]*models.Stage, 0, len(stages)+1)
	for _, existing := range stages {
		if existing.ID == st.ID {
			continue
		}
		projected = append(projected, existing)
	}
	projected = append(projected, st)

	// A brand-new project has no stages yet; the seeder owns that case.
	if isNew && len(stages) == 0 {
		return nil
	}
	if errs := workflow.ValidateStages(projected); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
