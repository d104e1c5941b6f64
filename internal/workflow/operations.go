package workflow

import (
	"database/sql"
	"fmt"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
)

// CreateTaskInput describes a new task.
type CreateTaskInput struct {
	ProjectID       string
	StageID         string // defaults to the project's suggested-intake stage
	Title           string
	Description     string
	Priority        int
	DueDate         int64
	StartDate       int64
	StartStageID    string
	AssignedUserIDs []string
	Tags            []string
	ParentID        string
}

// CreateTask creates a task and records the created history entry.
func (m *Machine) CreateTask(input CreateTaskInput, actor models.Actor) (*models.Task, error) {
	if !actor.CanWrite() {
		return nil, perrors.NewPermissionError(actor.ID, "create task")
	}
	if input.Title == "" {
		return nil, perrors.NewValidationError("title", "title required")
	}
	if len(input.AssignedUserIDs) == 0 {
		return nil, perrors.NewValidationError("assignedUsers", "at least one assignee required")
	}
	if dup := firstDuplicate(input.AssignedUserIDs); dup != "" {
		return nil, perrors.NewValidationError("assignedUsers", fmt.Sprintf("duplicate user id %s", dup))
	}

	stages, err := m.store.GetProjectStages(input.ProjectID)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, perrors.NewNotFoundError("project", input.ProjectID)
	}

	stageID := input.StageID
	if stageID == "" {
		for _, st := range stages {
			if st.Kind == models.KindSuggested {
				stageID = st.ID
				break
			}
		}
	}
	if findStage(stages, stageID) == nil {
		return nil, perrors.NewValidationError("stageId",
			fmt.Sprintf("stage %s does not exist in project %s", stageID, input.ProjectID))
	}
	if input.StartStageID != "" && findStage(stages, input.StartStageID) == nil {
		return nil, perrors.NewValidationError("startStageId",
			fmt.Sprintf("stage %s does not exist in project %s", input.StartStageID, input.ProjectID))
	}

	assignees := make([]models.TaskAssignee, 0, len(input.AssignedUserIDs))
	for _, uid := range input.AssignedUserIDs {
		assignees = append(assignees, models.TaskAssignee{UserID: uid, Status: models.AssigneePending})
	}

	t := &models.Task{
		ProjectID:     input.ProjectID,
		StageID:       stageID,
		Title:         input.Title,
		Description:   input.Description,
		Priority:      input.Priority,
		DueDate:       input.DueDate,
		StartDate:     input.StartDate,
		StartStageID:  input.StartStageID,
		AssignedUsers: assignees,
		Tags:          input.Tags,
		ParentID:      input.ParentID,
		Status:        models.TaskPending,
	}

	err = m.store.WithTx(func(tx *sql.Tx) error {
		if err := m.store.CreateTaskTx(tx, t); err != nil {
			return err
		}
		return m.recorder.Record(tx, &models.TaskHistory{
			TaskID:          t.ID,
			ActorID:         actor.ID,
			Action:          models.ActionCreated,
			OutgoingStageID: t.StageID,
			Details:         fmt.Sprintf("task %q created", t.Title),
		})
	})
	m.observe("create", err)
	if err != nil {
		return nil, err
	}
	m.publish(t)
	return t, nil
}

// Assign replaces the task's assignee set. Each distinct add, remove or
// replace produces its own history record — never batched, because workload
// views consume them independently.
func (m *Machine) Assign(taskID string, newUserIDs []string, actor models.Actor) (*TransitionResult, error) {
	if !actor.CanWrite() {
		return nil, perrors.NewPermissionError(actor.ID, "assign task")
	}
	if len(newUserIDs) == 0 {
		return nil, perrors.NewValidationError("assignedUsers", "at least one assignee required")
	}
	if dup := firstDuplicate(newUserIDs); dup != "" {
		return nil, perrors.NewValidationError("assignedUsers", fmt.Sprintf("duplicate user id %s", dup))
	}

	var result *TransitionResult
	err := m.store.WithTx(func(tx *sql.Tx) error {
		t, err := m.store.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}

		oldStatus := t.Status
		oldByID := make(map[string]models.AssigneeStatus, len(t.AssignedUsers))
		for _, a := range t.AssignedUsers {
			oldByID[a.UserID] = a.Status
		}
		newSet := make(map[string]bool, len(newUserIDs))
		for _, uid := range newUserIDs {
			newSet[uid] = true
		}

		var added, removed []string
		for _, uid := range newUserIDs {
			if _, ok := oldByID[uid]; !ok {
				added = append(added, uid)
			}
		}
		for _, a := range t.AssignedUsers {
			if !newSet[a.UserID] {
				removed = append(removed, a.UserID)
			}
		}
		if len(added) == 0 && len(removed) == 0 {
			result = &TransitionResult{Task: t, NoOp: true}
			return nil
		}

		assignees := make([]models.TaskAssignee, 0, len(newUserIDs))
		for _, uid := range newUserIDs {
			status := models.AssigneePending
			if prev, ok := oldByID[uid]; ok {
				status = prev
			}
			assignees = append(assignees, models.TaskAssignee{UserID: uid, Status: status})
		}
		t.AssignedUsers = assignees
		rollup := recompute(t)

		if err := m.store.UpdateTaskTx(tx, t, t.Version); err != nil {
			return err
		}

		// Pair removals with additions as reassignments; leftovers get their
		// own assigned/unassigned records.
		paired := len(added)
		if len(removed) < paired {
			paired = len(removed)
		}
		for i := 0; i < paired; i++ {
			if err := m.recorder.Record(tx, &models.TaskHistory{
				TaskID:         t.ID,
				ActorID:        actor.ID,
				Action:         models.ActionReassigned,
				IncomingUserID: added[i],
				OutgoingUserID: removed[i],
				Details:        fmt.Sprintf("reassigned from %s to %s", removed[i], added[i]),
			}); err != nil {
				return err
			}
		}
		for _, uid := range added[paired:] {
			if err := m.recorder.Record(tx, &models.TaskHistory{
				TaskID:         t.ID,
				ActorID:        actor.ID,
				Action:         models.ActionAssigned,
				IncomingUserID: uid,
				Details:        fmt.Sprintf("assigned to %s", uid),
			}); err != nil {
				return err
			}
		}
		for _, uid := range removed[paired:] {
			if err := m.recorder.Record(tx, &models.TaskHistory{
				TaskID:         t.ID,
				ActorID:        actor.ID,
				Action:         models.ActionUnassigned,
				OutgoingUserID: uid,
				Details:        fmt.Sprintf("unassigned %s", uid),
			}); err != nil {
				return err
			}
		}

		if err := m.recordCompletionFlip(tx, t, oldStatus, rollup, actor); err != nil {
			return err
		}
		result = &TransitionResult{Task: t}
		return nil
	})
	m.observe("assign", err)
	if err != nil {
		return nil, err
	}
	if !result.NoOp {
		m.publish(result.Task)
	}
	return result, nil
}

// Unassign removes one user from the task. The assignee list may not end up
// empty.
func (m *Machine) Unassign(taskID, userID string, actor models.Actor) (*TransitionResult, error) {
	if !actor.CanWrite() {
		return nil, perrors.NewPermissionError(actor.ID, "unassign task")
	}

	var result *TransitionResult
	err := m.store.WithTx(func(tx *sql.Tx) error {
		t, err := m.store.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		idx := t.AssigneeIndex(userID)
		if idx < 0 {
			return perrors.NewNotFoundError("assignee", userID)
		}
		if len(t.AssignedUsers) == 1 {
			return perrors.NewValidationError("assignedUsers", "cannot remove the last assignee")
		}

		oldStatus := t.Status
		t.AssignedUsers = append(t.AssignedUsers[:idx], t.AssignedUsers[idx+1:]...)
		rollup := recompute(t)

		if err := m.store.UpdateTaskTx(tx, t, t.Version); err != nil {
			return err
		}
		if err := m.recorder.Record(tx, &models.TaskHistory{
			TaskID:         t.ID,
			ActorID:        actor.ID,
			Action:         models.ActionUnassigned,
			OutgoingUserID: userID,
			Details:        fmt.Sprintf("unassigned %s", userID),
		}); err != nil {
			return err
		}
		if err := m.recordCompletionFlip(tx, t, oldStatus, rollup, actor); err != nil {
			return err
		}
		result = &TransitionResult{Task: t}
		return nil
	})
	m.observe("unassign", err)
	if err != nil {
		return nil, err
	}
	m.publish(result.Task)
	return result, nil
}

// SetAssigneeStatus changes one assignee's completion flag and rolls the
// aggregate up. An unchanged flag is a no-op, which also absorbs duplicate
// event delivery.
func (m *Machine) SetAssigneeStatus(taskID, userID string, status models.AssigneeStatus, actor models.Actor) (*TransitionResult, error) {
	if !actor.CanWrite() {
		return nil, perrors.NewPermissionError(actor.ID, "change assignee status")
	}
	switch status {
	case models.AssigneePending, models.AssigneeInProgress, models.AssigneeComplete:
	default:
		return nil, perrors.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	var result *TransitionResult
	err := m.store.WithTx(func(tx *sql.Tx) error {
		t, err := m.store.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		idx := t.AssigneeIndex(userID)
		if idx < 0 {
			return perrors.NewNotFoundError("assignee", userID)
		}
		if t.AssignedUsers[idx].Status == status {
			result = &TransitionResult{Task: t, NoOp: true}
			return nil
		}

		oldStatus := t.Status
		previous := t.AssignedUsers[idx].Status
		t.AssignedUsers[idx].Status = status
		rollup := recompute(t)

		if err := m.store.UpdateTaskTx(tx, t, t.Version); err != nil {
			return err
		}
		if err := m.recorder.Record(tx, &models.TaskHistory{
			TaskID:           t.ID,
			ActorID:          actor.ID,
			Action:           models.ActionStatusChanged,
			IncomingUserID:   userID,
			PreviousSnapshot: map[string]any{"assigneeStatus": string(previous)},
			Details:          fmt.Sprintf("%s status %s → %s", userID, previous, status),
		}); err != nil {
			return err
		}
		if err := m.recordCompletionFlip(tx, t, oldStatus, rollup, actor); err != nil {
			return err
		}
		result = &TransitionResult{Task: t}
		return nil
	})
	m.observe("assignee_status", err)
	if err != nil {
		return nil, err
	}
	if !result.NoOp {
		m.publish(result.Task)
	}
	return result, nil
}

// recordCompletionFlip appends the single completed record when the rollup
// flipped the aggregate to complete. Flipping away appends nothing and never
// deletes the prior record.
func (m *Machine) recordCompletionFlip(tx *sql.Tx, t *models.Task, oldStatus models.TaskStatus, rollup RecomputeResult, actor models.Actor) error {
	if !rollup.Changed || rollup.NewStatus != models.TaskComplete || oldStatus == models.TaskComplete {
		return nil
	}
	return m.recorder.Record(tx, &models.TaskHistory{
		TaskID:  t.ID,
		ActorID: actor.ID,
		Action:  models.ActionCompleted,
		Details: "all assignees complete",
	})
}

// TaskPatch is a partial attribute update; nil fields are untouched.
type TaskPatch struct {
	Title        *string
	Description  *string
	Priority     *int
	DueDate      *int64
	StartDate    *int64
	StartStageID *string
	Tags         *[]string
	ParentID     *string
}

// UpdateAttributes applies a composite attribute update as one updated
// record whose snapshot enumerates only the attributes that actually
// changed. An empty diff is a no-op with no history entry.
func (m *Machine) UpdateAttributes(taskID string, patch TaskPatch, actor models.Actor) (*TransitionResult, error) {
	if !actor.CanWrite() {
		return nil, perrors.NewPermissionError(actor.ID, "update task")
	}

	var result *TransitionResult
	err := m.store.WithTx(func(tx *sql.Tx) error {
		t, err := m.store.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		old := *t
		old.Tags = append([]string(nil), t.Tags...)

		if patch.Title != nil {
			if *patch.Title == "" {
				return perrors.NewValidationError("title", "title required")
			}
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
		if patch.DueDate != nil {
			t.DueDate = *patch.DueDate
		}
		if patch.StartDate != nil {
			t.StartDate = *patch.StartDate
		}
		if patch.StartStageID != nil {
			if *patch.StartStageID != "" {
				stages, err := m.store.GetProjectStagesTx(tx, t.ProjectID)
				if err != nil {
					return err
				}
				if findStage(stages, *patch.StartStageID) == nil {
					return perrors.NewValidationError("startStageId",
						fmt.Sprintf("stage %s does not exist in project %s", *patch.StartStageID, t.ProjectID))
				}
			}
			t.StartStageID = *patch.StartStageID
		}
		if patch.Tags != nil {
			t.Tags = *patch.Tags
		}
		if patch.ParentID != nil {
			t.ParentID = *patch.ParentID
		}

		snapshot := AttributeSnapshot(&old, t)
		if snapshot == nil {
			result = &TransitionResult{Task: t, NoOp: true}
			return nil
		}

		if err := m.store.UpdateTaskTx(tx, t, t.Version); err != nil {
			return err
		}
		h := &models.TaskHistory{
			TaskID:           t.ID,
			ActorID:          actor.ID,
			Action:           models.ActionUpdated,
			PreviousSnapshot: snapshot,
			Details:          fmt.Sprintf("%d attributes updated", len(snapshot)),
		}
		if err := m.recorder.Record(tx, h); err != nil {
			return err
		}
		result = &TransitionResult{Task: t, History: h}
		return nil
	})
	m.observe("update", err)
	if err != nil {
		return nil, err
	}
	if !result.NoOp {
		m.publish(result.Task)
	}
	return result, nil
}

// AddAttachment attaches a file or link outside a completion payload.
func (m *Machine) AddAttachment(taskID string, name, url string, isLink bool, content []byte, actor models.Actor) (*models.Attachment, error) {
	if !actor.CanWrite() {
		return nil, perrors.NewPermissionError(actor.ID, "add attachment")
	}
	if name == "" {
		return nil, perrors.NewValidationError("name", "attachment name required")
	}
	if !isLink {
		if m.attachments == nil {
			return nil, perrors.NewValidationError("file", "no attachment store configured")
		}
		uploaded, err := m.attachments.Upload(name, content)
		if err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", name, err)
		}
		url = uploaded
	} else if url == "" {
		return nil, perrors.NewValidationError("url", "link URL required")
	}

	a := &models.Attachment{Name: name, URL: url, IsLink: isLink, AddedBy: actor.ID}
	var task *models.Task
	err := m.store.WithTx(func(tx *sql.Tx) error {
		t, err := m.store.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		task = t
		a.TaskID = t.ID
		if err := m.store.AddAttachmentTx(tx, a); err != nil {
			return err
		}
		return m.recorder.Record(tx, &models.TaskHistory{
			TaskID:  t.ID,
			ActorID: actor.ID,
			Action:  models.ActionAttachmentAdded,
			Details: fmt.Sprintf("attachment %q added", name),
		})
	})
	m.observe("attachment_add", err)
	if err != nil {
		return nil, err
	}
	m.publish(task)
	return a, nil
}

// RemoveAttachment detaches a file or link from a task.
func (m *Machine) RemoveAttachment(taskID, attachmentID string, actor models.Actor) error {
	if !actor.CanWrite() {
		return perrors.NewPermissionError(actor.ID, "remove attachment")
	}

	var task *models.Task
	err := m.store.WithTx(func(tx *sql.Tx) error {
		t, err := m.store.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		task = t
		a, err := m.store.RemoveAttachmentTx(tx, attachmentID)
		if err != nil {
			return err
		}
		if a.TaskID != t.ID {
			return perrors.NewValidationError("attachmentId",
				fmt.Sprintf("attachment %s does not belong to task %s", attachmentID, taskID))
		}
		return m.recorder.Record(tx, &models.TaskHistory{
			TaskID:  t.ID,
			ActorID: actor.ID,
			Action:  models.ActionAttachmentRemoved,
			Details: fmt.Sprintf("attachment %q removed", a.Name),
		})
	})
	m.observe("attachment_remove", err)
	if err != nil {
		return err
	}
	m.publish(task)
	return nil
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id
		}
		seen[id] = true
	}
	return ""
}
