package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/workflow"
)

// CreateTask handles POST /api/v1/projects/:id/tasks.
func (h *Handlers) CreateTask(c *fiber.Ctx) error {
	var req CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	t, err := h.machine.CreateTask(workflow.CreateTaskInput{
		ProjectID:       c.Params("id"),
		StageID:         req.StageID,
		Title:           req.Title,
		Description:     req.Description,
		Priority:        req.Priority,
		DueDate:         req.DueDate,
		StartDate:       req.StartDate,
		StartStageID:    req.StartStageID,
		AssignedUserIDs: req.AssignedUsers,
		Tags:            req.Tags,
		ParentID:        req.ParentID,
	}, actorFromCtx(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

// GetTask handles GET /api/v1/tasks/:id.
func (h *Handlers) GetTask(c *fiber.Ctx) error {
	t, err := h.store.GetTask(c.Params("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(t)
}

// ListTasks handles GET /api/v1/projects/:id/tasks?stage_id=...
func (h *Handlers) ListTasks(c *fiber.Ctx) error {
	tasks, err := h.store.ListTasks(c.Params("id"), c.Query("stage_id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(fiber.Map{"tasks": tasks})
}

// UpdateTask handles PATCH /api/v1/tasks/:id.
func (h *Handlers) UpdateTask(c *fiber.Ctx) error {
	var req UpdateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	res, err := h.machine.UpdateAttributes(c.Params("id"), workflow.TaskPatch{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		DueDate:      req.DueDate,
		StartDate:    req.StartDate,
		StartStageID: req.StartStageID,
		Tags:         req.Tags,
		ParentID:     req.ParentID,
	}, actorFromCtx(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(transitionResponse(res))
}

// MoveTask handles POST /api/v1/tasks/:id/move.
func (h *Handlers) MoveTask(c *fiber.Ctx) error {
	var req MoveTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}
	if req.TargetStageID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_target", "Bad Request", "target_stage_id is required")
	}

	res, err := h.machine.MoveTo(workflow.MoveRequest{
		TaskID:        c.Params("id"),
		TargetStageID: req.TargetStageID,
		FromStageID:   req.FromStageID,
		Actor:         actorFromCtx(c),
		Completion:    req.Completion.toPayload(),
	})
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(transitionResponse(res))
}

// EnterReview handles POST /api/v1/tasks/:id/review.
func (h *Handlers) EnterReview(c *fiber.Ctx) error {
	res, err := h.machine.EnterReview(c.Params("id"), actorFromCtx(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(transitionResponse(res))
}

// ApproveReview handles POST /api/v1/tasks/:id/approve.
func (h *Handlers) ApproveReview(c *fiber.Ctx) error {
	var req ApproveRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	res, err := h.machine.ApproveReview(c.Params("id"), actorFromCtx(c), req.Completion.toPayload())
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(transitionResponse(res))
}

// RejectReview handles POST /api/v1/tasks/:id/reject.
func (h *Handlers) RejectReview(c *fiber.Ctx) error {
	var req RejectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	res, err := h.machine.RejectReview(c.Params("id"), actorFromCtx(c), req.Comment)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(transitionResponse(res))
}

// SetAssignees handles PUT /api/v1/tasks/:id/assignees.
func (h *Handlers) SetAssignees(c *fiber.Ctx) error {
	var req AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	res, err := h.machine.Assign(c.Params("id"), req.UserIDs, actorFromCtx(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(transitionResponse(res))
}

// RemoveAssignee handles DELETE /api/v1/tasks/:id/assignees/:userId.
func (h *Handlers) RemoveAssignee(c *fiber.Ctx) error {
	res, err := h.machine.Unassign(c.Params("id"), c.Params("userId"), actorFromCtx(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(transitionResponse(res))
}

// SetAssigneeStatus handles PUT /api/v1/tasks/:id/assignees/:userId/status.
func (h *Handlers) SetAssigneeStatus(c *fiber.Ctx) error {
	var req AssigneeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	res, err := h.machine.SetAssigneeStatus(
		c.Params("id"), c.Params("userId"),
		models.AssigneeStatus(req.Status), actorFromCtx(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(transitionResponse(res))
}

// ListHistory handles GET /api/v1/tasks/:id/history?action=...
func (h *Handlers) ListHistory(c *fiber.Ctx) error {
	entries, err := h.store.ListHistory(c.Params("id"), models.HistoryAction(c.Query("action")))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(fiber.Map{"history": entries})
}

// AddLink handles POST /api/v1/tasks/:id/links.
func (h *Handlers) AddLink(c *fiber.Ctx) error {
	var req AddLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	a, err := h.machine.AddAttachment(c.Params("id"), req.Name, req.URL, true, nil, actorFromCtx(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// UploadFile handles POST /api/v1/tasks/:id/files with a raw body and a
// filename query parameter.
func (h *Handlers) UploadFile(c *fiber.Ctx) error {
	name := c.Query("filename")
	if name == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_filename", "Bad Request", "filename query parameter is required")
	}

	a, err := h.machine.AddAttachment(c.Params("id"), name, "", false, c.Body(), actorFromCtx(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// RemoveAttachment handles DELETE /api/v1/tasks/:id/attachments/:attachmentId.
func (h *Handlers) RemoveAttachment(c *fiber.Ctx) error {
	if err := h.machine.RemoveAttachment(c.Params("id"), c.Params("attachmentId"), actorFromCtx(c)); err != nil {
		return domainError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListAttachments handles GET /api/v1/tasks/:id/attachments.
func (h *Handlers) ListAttachments(c *fiber.Ctx) error {
	attachments, err := h.store.ListAttachments(c.Params("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(fiber.Map{"attachments": attachments})
}

func transitionResponse(res *workflow.TransitionResult) TransitionResponse {
	return TransitionResponse{Task: res.Task, NoOp: res.NoOp, Last: res.History}
}
