package api

import (
	"github.com/p-blackswan/stageflow/internal/models"
)

// ProblemDetail is an RFC 7807 error response body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// CreateProjectRequest is the body of POST /api/v1/projects.
type CreateProjectRequest struct {
	Name     string `json:"name"`
	Pipeline string `json:"pipeline,omitempty"`
}

// CreateStageRequest is the body of POST /api/v1/projects/:id/stages.
type CreateStageRequest struct {
	Title                 string `json:"title"`
	Order                 int    `json:"order"`
	Kind                  string `json:"kind"`
	IsReviewStage         bool   `json:"is_review_stage"`
	ApprovedTargetStageID string `json:"approved_target_stage_id,omitempty"`
	LinkedNextStageID     string `json:"linked_next_stage_id,omitempty"`
	MainResponsibleID     string `json:"main_responsible_id,omitempty"`
	BackupResponsibleID1  string `json:"backup_responsible_id_1,omitempty"`
	BackupResponsibleID2  string `json:"backup_responsible_id_2,omitempty"`
	StageGroupID          string `json:"stage_group_id,omitempty"`
}

// UpdateStageRequest is the body of PATCH /api/v1/stages/:id. Nil fields are
// untouched.
type UpdateStageRequest struct {
	Title                 *string `json:"title,omitempty"`
	Order                 *int    `json:"order,omitempty"`
	IsReviewStage         *bool   `json:"is_review_stage,omitempty"`
	ApprovedTargetStageID *string `json:"approved_target_stage_id,omitempty"`
	LinkedNextStageID     *string `json:"linked_next_stage_id,omitempty"`
	MainResponsibleID     *string `json:"main_responsible_id,omitempty"`
	BackupResponsibleID1  *string `json:"backup_responsible_id_1,omitempty"`
	BackupResponsibleID2  *string `json:"backup_responsible_id_2,omitempty"`
	StageGroupID          *string `json:"stage_group_id,omitempty"`
}

// CreateTaskRequest is the body of POST /api/v1/projects/:id/tasks.
type CreateTaskRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	StageID       string   `json:"stage_id,omitempty"`
	Priority      int      `json:"priority,omitempty"`
	DueDate       int64    `json:"due_date,omitempty"`
	StartDate     int64    `json:"start_date,omitempty"`
	StartStageID  string   `json:"start_stage_id,omitempty"`
	AssignedUsers []string `json:"assigned_users"`
	Tags          []string `json:"tags,omitempty"`
	ParentID      string   `json:"parent_id,omitempty"`
}

// UpdateTaskRequest is the body of PATCH /api/v1/tasks/:id.
type UpdateTaskRequest struct {
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Priority     *int      `json:"priority,omitempty"`
	DueDate      *int64    `json:"due_date,omitempty"`
	StartDate    *int64    `json:"start_date,omitempty"`
	StartStageID *string   `json:"start_stage_id,omitempty"`
	Tags         *[]string `json:"tags,omitempty"`
	ParentID     *string   `json:"parent_id,omitempty"`
}

// CompletionFile is an uploaded file in a completion payload, base64 in JSON.
type CompletionFile struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// CompletionLink is a link attachment in a completion payload.
type CompletionLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CompletionBody carries the proof-of-work required for terminal moves.
type CompletionBody struct {
	Comment string           `json:"comment,omitempty"`
	Files   []CompletionFile `json:"files,omitempty"`
	Links   []CompletionLink `json:"links,omitempty"`
}

// MoveTaskRequest is the body of POST /api/v1/tasks/:id/move.
type MoveTaskRequest struct {
	TargetStageID string          `json:"target_stage_id"`
	FromStageID   string          `json:"from_stage_id,omitempty"`
	Completion    *CompletionBody `json:"completion,omitempty"`
}

// ApproveRequest is the body of POST /api/v1/tasks/:id/approve.
type ApproveRequest struct {
	Completion *CompletionBody `json:"completion,omitempty"`
}

// RejectRequest is the body of POST /api/v1/tasks/:id/reject.
type RejectRequest struct {
	Comment string `json:"comment"`
}

// AssignRequest is the body of PUT /api/v1/tasks/:id/assignees.
type AssignRequest struct {
	UserIDs []string `json:"user_ids"`
}

// AssigneeStatusRequest is the body of PUT /api/v1/tasks/:id/assignees/:userId/status.
type AssigneeStatusRequest struct {
	Status string `json:"status"`
}

// AddLinkRequest is the body of POST /api/v1/tasks/:id/links.
type AddLinkRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TransitionResponse reports an accepted workflow operation.
type TransitionResponse struct {
	Task *models.Task        `json:"task"`
	NoOp bool                `json:"no_op,omitempty"`
	Last *models.TaskHistory `json:"last_history,omitempty"`
}

func (b *CompletionBody) toPayload() *models.CompletionPayload {
	if b == nil {
		return nil
	}
	p := &models.CompletionPayload{Comment: b.Comment}
	for _, f := range b.Files {
		p.Files = append(p.Files, models.CompletionFile{Name: f.Name, Content: f.Content})
	}
	for _, l := range b.Links {
		p.Links = append(p.Links, models.CompletionLink{Name: l.Name, URL: l.URL})
	}
	return p
}
