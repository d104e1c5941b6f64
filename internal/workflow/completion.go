package workflow

import (
	"github.com/p-blackswan/stageflow/internal/models"
)

// RecomputeStatus rolls per-assignee completion flags up into the task-level
// effective status: complete iff assignedUsers is non-empty and every entry
// is complete; in_progress when any entry has moved past pending; pending
// otherwise.
func RecomputeStatus(assignees []models.TaskAssignee) models.TaskStatus {
	if len(assignees) == 0 {
		return models.TaskPending
	}

	allComplete := true
	anyStarted := false
	for _, a := range assignees {
		if a.Status != models.AssigneeComplete {
			allComplete = false
		}
		if a.Status != models.AssigneePending {
			anyStarted = true
		}
	}

	switch {
	case allComplete:
		return models.TaskComplete
	case anyStarted:
		return models.TaskInProgress
	default:
		return models.TaskPending
	}
}

// RecomputeResult describes the outcome of a rollup pass.
type RecomputeResult struct {
	Changed   bool
	NewStatus models.TaskStatus
}

// recompute applies the rollup to the task and reports whether the aggregate
// flipped. The caller writes the `completed` history record only when the
// status flips TO complete; re-delivery of the same per-assignee event finds
// the aggregate already complete and appends nothing, and toggling an
// assignee back to pending flips the status without touching prior history.
func recompute(t *models.Task) RecomputeResult {
	newStatus := RecomputeStatus(t.AssignedUsers)
	if newStatus == t.Status {
		return RecomputeResult{Changed: false, NewStatus: newStatus}
	}

	t.Status = newStatus
	if newStatus == models.TaskComplete {
		if t.CompletedAt == 0 {
			t.CompletedAt = models.NowMs()
		}
	} else {
		// The task is no longer effectively complete; downstream reporting
		// keys off completed_at, so it must not claim a completion time.
		t.CompletedAt = 0
	}
	return RecomputeResult{Changed: true, NewStatus: newStatus}
}
