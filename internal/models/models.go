// Package models defines the core entities of the stageflow workflow engine.
package models

import "time"

// StageKind tags a stage with its workflow role. Assigned at creation and
// immutable afterwards; the cosmetic title is never a workflow input.
type StageKind string

const (
	KindSuggested StageKind = "suggested"
	KindBacklog   StageKind = "backlog"
	KindCustom    StageKind = "custom"
	KindReview    StageKind = "review"
	KindCompleted StageKind = "completed"
	KindArchived  StageKind = "archived"
)

// ReservedKinds lists the stage kinds every project must have exactly once.
var ReservedKinds = []StageKind{KindSuggested, KindBacklog, KindCompleted, KindArchived}

// IsReserved reports whether the kind is one of the four reserved kinds.
func (k StageKind) IsReserved() bool {
	switch k {
	case KindSuggested, KindBacklog, KindCompleted, KindArchived:
		return true
	}
	return false
}

// Terminal reports whether tasks in this kind of stage are out of the
// active workflow.
func (k StageKind) Terminal() bool {
	return k == KindCompleted || k == KindArchived
}

// Stage is one step in a project's configurable pipeline.
type Stage struct {
	ID                    string    `json:"id"`
	ProjectID             string    `json:"project_id"`
	Title                 string    `json:"title"`
	Order                 int       `json:"order"`
	Kind                  StageKind `json:"kind"`
	IsReviewStage         bool      `json:"is_review_stage"`
	ApprovedTargetStageID string    `json:"approved_target_stage_id,omitempty"`
	LinkedNextStageID     string    `json:"linked_next_stage_id,omitempty"`
	MainResponsibleID     string    `json:"main_responsible_id,omitempty"`
	BackupResponsibleID1  string    `json:"backup_responsible_id_1,omitempty"`
	BackupResponsibleID2  string    `json:"backup_responsible_id_2,omitempty"`
	StageGroupID          string    `json:"stage_group_id,omitempty"`
	CreatedAt             int64     `json:"created_at"` // unix ms
	UpdatedAt             int64     `json:"updated_at"` // unix ms
}

// AssigneeStatus is the per-user completion flag on a task.
type AssigneeStatus string

const (
	AssigneePending    AssigneeStatus = "pending"
	AssigneeInProgress AssigneeStatus = "in_progress"
	AssigneeComplete   AssigneeStatus = "complete"
)

// TaskStatus is the task-level effective status rolled up from assignees.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
)

// TaskAssignee pairs a user with their completion flag on one task.
type TaskAssignee struct {
	UserID string         `json:"user_id"`
	Status AssigneeStatus `json:"status"`
}

// RevisionEntry is one rejection comment in a task's revision history.
type RevisionEntry struct {
	Comment     string `json:"comment"`
	RequestedBy string `json:"requested_by"`
	RequestedAt int64  `json:"requested_at"`           // unix ms
	ResolvedAt  int64  `json:"resolved_at,omitempty"`  // unix ms, 0 = open
}

// Attachment is a file or link attached to a task.
type Attachment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	IsLink    bool   `json:"is_link"`
	AddedBy   string `json:"added_by"`
	CreatedAt int64  `json:"created_at"` // unix ms
}

// Task belongs to a project and to exactly one stage at any time.
type Task struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"project_id"`
	StageID         string          `json:"stage_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Priority        int             `json:"priority"`
	DueDate         int64           `json:"due_date,omitempty"`    // unix ms, 0 = unset
	StartDate       int64           `json:"start_date,omitempty"`  // unix ms, 0 = unset
	StartStageID    string          `json:"start_stage_id,omitempty"`
	AssignedUsers   []TaskAssignee  `json:"assigned_users"`
	Assignee        string          `json:"assignee,omitempty"` // legacy mirror of AssignedUsers[0]
	Tags            []string        `json:"tags,omitempty"`
	ParentID        string          `json:"parent_id,omitempty"`
	RevisionHistory []RevisionEntry `json:"revision_history,omitempty"`
	Status          TaskStatus      `json:"status"`
	HasAutoStarted  bool            `json:"has_auto_started"`
	CompletedAt     int64           `json:"completed_at,omitempty"` // unix ms
	Version         int64           `json:"version"`
	CreatedAt       int64           `json:"created_at"` // unix ms
	UpdatedAt       int64           `json:"updated_at"` // unix ms
}

// PrimaryAssignee returns the first assigned user, or nil when unassigned.
func (t *Task) PrimaryAssignee() *TaskAssignee {
	if len(t.AssignedUsers) == 0 {
		return nil
	}
	return &t.AssignedUsers[0]
}

// AssigneeIndex returns the index of userID in AssignedUsers, or -1.
func (t *Task) AssigneeIndex(userID string) int {
	for i, a := range t.AssignedUsers {
		if a.UserID == userID {
			return i
		}
	}
	return -1
}

// HistoryAction enumerates the audit-trail record types.
type HistoryAction string

const (
	ActionCreated           HistoryAction = "created"
	ActionStageChanged      HistoryAction = "stage_changed"
	ActionMovedToReview     HistoryAction = "moved_to_review_stage"
	ActionAssigned          HistoryAction = "assigned"
	ActionReassigned        HistoryAction = "reassigned"
	ActionUnassigned        HistoryAction = "unassigned"
	ActionStatusChanged     HistoryAction = "status_changed"
	ActionCompleted         HistoryAction = "completed"
	ActionAttachmentAdded   HistoryAction = "attachment_added"
	ActionAttachmentRemoved HistoryAction = "attachment_removed"
	ActionArchived          HistoryAction = "archived"
	ActionRestored          HistoryAction = "restored"
	ActionUpdated           HistoryAction = "updated"
)

// TaskHistory is one immutable audit record. Created once per accepted
// mutation within the same atomic unit as the mutation itself; never edited.
type TaskHistory struct {
	ID               string            `json:"id"`
	TaskID           string            `json:"task_id"`
	ActorID          string            `json:"actor_id"`
	Action           HistoryAction     `json:"action"`
	IncomingStageID  string            `json:"incoming_stage_id,omitempty"`
	OutgoingStageID  string            `json:"outgoing_stage_id,omitempty"`
	IncomingUserID   string            `json:"incoming_user_id,omitempty"`
	OutgoingUserID   string            `json:"outgoing_user_id,omitempty"`
	PreviousSnapshot map[string]any    `json:"previous_snapshot,omitempty"`
	Details          string            `json:"details,omitempty"`
	CreatedAt        int64             `json:"created_at"` // unix ms
}

// Project owns its stages. Deleting a stage is forbidden while tasks or
// other stages still reference it.
type Project struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id"`
	CreatedAt int64  `json:"created_at"` // unix ms
	UpdatedAt int64  `json:"updated_at"` // unix ms
}

// SystemActorID attributes scheduler-driven transitions in the audit trail.
const SystemActorID = "system"

// CompletionPayload is the closing note required when moving a task into a
// completed or archived stage.
type CompletionPayload struct {
	Comment string           `json:"comment,omitempty"`
	Links   []CompletionLink `json:"links,omitempty"`
	Files   []CompletionFile `json:"files,omitempty"`
}

// CompletionLink is an external resource reference in a completion payload.
type CompletionLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CompletionFile is an uploaded file in a completion payload.
type CompletionFile struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// Empty reports whether the payload carries no closing note at all.
func (p *CompletionPayload) Empty() bool {
	return p == nil || (p.Comment == "" && len(p.Links) == 0 && len(p.Files) == 0)
}

// NowMs returns the current time in unix milliseconds.
func NowMs() int64 { return time.Now().UnixMilli() }
