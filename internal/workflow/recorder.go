package workflow

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/store"
)

// Recorder appends immutable audit records. Every accepted mutation produces
// exactly one record per logical event, written in the same transaction as
// the mutation itself so a crash never leaves one without the other.
type Recorder struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewRecorder creates a history recorder.
func NewRecorder(st *store.Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  st,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Record appends one history row inside the caller's transaction.
func (r *Recorder) Record(tx *sql.Tx, h *models.TaskHistory) error {
	if err := r.store.AppendHistoryTx(tx, h); err != nil {
		return err
	}
	r.logger.Debug().
		Str("task_id", h.TaskID).
		Str("action", string(h.Action)).
		Str("actor_id", h.ActorID).
		Msg("history recorded")
	return nil
}

// AttributeSnapshot builds the previous-value map for a composite attribute
// update. Only attributes that actually changed appear; internal bookkeeping
// (timestamps, version, the scheduler's auto-start flag) is never included.
func AttributeSnapshot(old, updated *models.Task) map[string]any {
	snapshot := make(map[string]any)

	if old.Title != updated.Title {
		snapshot["title"] = old.Title
	}
	if old.Description != updated.Description {
		snapshot["description"] = old.Description
	}
	if old.Priority != updated.Priority {
		snapshot["priority"] = old.Priority
	}
	if old.DueDate != updated.DueDate {
		snapshot["dueDate"] = old.DueDate
	}
	if old.StartDate != updated.StartDate {
		snapshot["startDate"] = old.StartDate
	}
	if old.StartStageID != updated.StartStageID {
		snapshot["startStageId"] = old.StartStageID
	}
	if old.ParentID != updated.ParentID {
		snapshot["parentId"] = old.ParentID
	}
	if !equalTags(old.Tags, updated.Tags) {
		snapshot["tags"] = append([]string(nil), old.Tags...)
	}

	if len(snapshot) == 0 {
		return nil
	}
	return snapshot
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
