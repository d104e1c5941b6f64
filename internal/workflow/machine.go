package workflow

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/metrics"
	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/store"
)

// RedoTag marks a task sent back from review.
const RedoTag = "Redo"

// Notifier is informed after each accepted transition. Consumers handle
// their own refetch; no workflow semantics cross this boundary.
type Notifier interface {
	TaskUpdated(projectID, taskID string)
}

// AttachmentUploader stores completion-payload files and returns their URL.
type AttachmentUploader interface {
	Upload(name string, content []byte) (string, error)
}

// Machine is the transition authority: it decides whether a requested move
// is legal and applies all implied side effects — stage write, completion
// rollup, attachments and the history record — as one atomic unit.
type Machine struct {
	store       *store.Store
	recorder    *Recorder
	attachments AttachmentUploader
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewMachine creates the task state machine. attachments, notifier and
// collector may be nil.
func NewMachine(st *store.Store, recorder *Recorder, attachments AttachmentUploader, notifier Notifier, collector *metrics.Metrics, logger zerolog.Logger) *Machine {
	return &Machine{
		store:       st,
		recorder:    recorder,
		attachments: attachments,
		notifier:    notifier,
		metrics:     collector,
		logger:      logger.With().Str("component", "state_machine").Logger(),
	}
}

// MoveRequest describes a proposed stage transition.
type MoveRequest struct {
	TaskID        string
	TargetStageID string
	// FromStageID, when set, guards against stale drags: the move is
	// rejected if the task has already left this stage.
	FromStageID string
	Actor       models.Actor
	Completion  *models.CompletionPayload
}

// TransitionResult reports an accepted (or no-op) transition.
type TransitionResult struct {
	Task    *models.Task
	History *models.TaskHistory
	NoOp    bool
}

// MoveTo moves a task to the target stage. Moving into a completed or
// archived stage requires a completion payload; moving to the current stage
// is a no-op with no history entry. Review stages cannot be left forward
// this way — only ApproveReview exits them.
func (m *Machine) MoveTo(req MoveRequest) (*TransitionResult, error) {
	res, err := m.move(req, false)
	m.observe("move", err)
	return res, err
}

func (m *Machine) move(req MoveRequest, viaApproval bool) (*TransitionResult, error) {
	if !req.Actor.CanWrite() {
		return nil, perrors.NewPermissionError(req.Actor.ID, "move task")
	}

	var result *TransitionResult
	err := m.store.WithTx(func(tx *sql.Tx) error {
		t, err := m.store.GetTaskTx(tx, req.TaskID)
		if err != nil {
			return err
		}
		if req.FromStageID != "" && t.StageID != req.FromStageID {
			return perrors.NewConcurrencyError(t.ID, "task already left the dragged-from stage")
		}
		if req.TargetStageID == t.StageID {
			result = &TransitionResult{Task: t, NoOp: true}
			return nil
		}

		stages, err := m.store.GetProjectStagesTx(tx, t.ProjectID)
		if err != nil {
			return err
		}
		history, err := m.applyMove(tx, t, stages, req.TargetStageID, req.Actor, req.Completion, viaApproval)
		if err != nil {
			return err
		}
		result = &TransitionResult{Task: t, History: history}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.NoOp {
		m.publish(result.Task)
	}
	return result, nil
}

// applyMove validates and applies a stage transition inside tx. The caller
// owns the no-op check and the post-commit publish.
func (m *Machine) applyMove(tx *sql.Tx, t *models.Task, stages []*models.Stage, targetID string, actor models.Actor, payload *models.CompletionPayload, viaApproval bool) (*models.TaskHistory, error) {
	current := findStage(stages, t.StageID)
	if current == nil {
		return nil, perrors.NewNotFoundError("stage", t.StageID)
	}
	target := findStage(stages, targetID)
	if target == nil {
		return nil, perrors.NewValidationError("targetStageId",
			fmt.Sprintf("stage %s does not exist in project %s", targetID, t.ProjectID))
	}

	if current.IsReviewStage && !viaApproval && target.Order > current.Order {
		return nil, perrors.NewValidationError("stage", "review stages are left forward only via approval")
	}
	if target.Kind.Terminal() && payload.Empty() {
		return nil, perrors.NewValidationError("completion", "completion payload required")
	}

	if err := m.commitAttachments(tx, t, actor, payload); err != nil {
		return nil, err
	}

	action := transitionAction(current, target)
	oldStage := t.StageID
	t.StageID = target.ID

	details := fmt.Sprintf("moved from %q to %q", current.Title, target.Title)
	if target.Kind == models.KindCompleted {
		// Completing the task marks only the primary assignee complete; the
		// other assignees keep their own flags.
		if primary := t.PrimaryAssignee(); primary != nil {
			t.AssignedUsers[0].Status = models.AssigneeComplete
		}
		recompute(t)
		t.CompletedAt = models.NowMs()
		details = fmt.Sprintf("completed in stage %q", target.Title)
	}
	if payload != nil && payload.Comment != "" {
		details = details + ": " + payload.Comment
	}

	if err := m.store.UpdateTaskTx(tx, t, t.Version); err != nil {
		return nil, err
	}

	h := &models.TaskHistory{
		TaskID:          t.ID,
		ActorID:         actor.ID,
		Action:          action,
		IncomingStageID: oldStage,
		OutgoingStageID: target.ID,
		Details:         details,
	}
	if err := m.recorder.Record(tx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// transitionAction picks the history action for a stage move by target (and
// source) kind. Completing and archiving moves collapse the stage change and
// the terminal event into a single record.
func transitionAction(current, target *models.Stage) models.HistoryAction {
	switch {
	case target.IsReviewStage:
		return models.ActionMovedToReview
	case current.Kind == models.KindArchived:
		return models.ActionRestored
	case target.Kind == models.KindCompleted:
		return models.ActionCompleted
	case target.Kind == models.KindArchived:
		return models.ActionArchived
	default:
		return models.ActionStageChanged
	}
}

// commitAttachments stores the completion payload's files and links before
// the stage change is committed; a failed upload aborts the whole move.
func (m *Machine) commitAttachments(tx *sql.Tx, t *models.Task, actor models.Actor, payload *models.CompletionPayload) error {
	if payload == nil {
		return nil
	}
	for _, f := range payload.Files {
		if m.attachments == nil {
			return perrors.NewValidationError("files", "no attachment store configured")
		}
		url, err := m.attachments.Upload(f.Name, f.Content)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", f.Name, err)
		}
		if err := m.store.AddAttachmentTx(tx, &models.Attachment{
			TaskID:  t.ID,
			Name:    f.Name,
			URL:     url,
			AddedBy: actor.ID,
		}); err != nil {
			return err
		}
	}
	for _, l := range payload.Links {
		if err := m.store.AddAttachmentTx(tx, &models.Attachment{
			TaskID:  t.ID,
			Name:    l.Name,
			URL:     l.URL,
			IsLink:  true,
			AddedBy: actor.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// EnterReview moves the task forward into its next stage, which must be a
// review stage. Recorded as moved_to_review_stage.
func (m *Machine) EnterReview(taskID string, actor models.Actor) (*TransitionResult, error) {
	t, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	stages, err := m.store.GetProjectStages(t.ProjectID)
	if err != nil {
		return nil, err
	}
	current := findStage(stages, t.StageID)
	if current == nil {
		return nil, perrors.NewNotFoundError("stage", t.StageID)
	}
	next, err := ResolveNext(current, stages)
	if err != nil {
		return nil, err
	}
	if !next.IsReviewStage {
		return nil, perrors.NewValidationError("stage",
			fmt.Sprintf("next stage %q is not a review stage", next.Title))
	}
	return m.MoveTo(MoveRequest{TaskID: taskID, TargetStageID: next.ID, FromStageID: t.StageID, Actor: actor})
}

// ApproveReview moves a task out of its review stage into the configured
// approved target. This is the only forward path out of a review stage.
func (m *Machine) ApproveReview(taskID string, actor models.Actor, payload *models.CompletionPayload) (*TransitionResult, error) {
	if !actor.CanApprove() {
		m.observe("approve_review", perrors.ErrPermission)
		return nil, perrors.NewPermissionError(actor.ID, "approve review")
	}

	t, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	stage, err := m.store.GetStage(t.StageID)
	if err != nil {
		return nil, err
	}
	if !stage.IsReviewStage {
		m.observe("approve_review", perrors.ErrValidation)
		return nil, perrors.NewValidationError("stage",
			fmt.Sprintf("task %s is not in a review stage", taskID))
	}
	if stage.ApprovedTargetStageID == "" {
		m.observe("approve_review", perrors.ErrValidation)
		return nil, perrors.NewValidationError("approvedTargetStageId",
			fmt.Sprintf("review stage %q has no approved target", stage.Title))
	}

	res, err := m.move(MoveRequest{
		TaskID:        taskID,
		TargetStageID: stage.ApprovedTargetStageID,
		FromStageID:   stage.ID,
		Actor:         actor,
		Completion:    payload,
	}, true)
	m.observe("approve_review", err)
	return res, err
}

// RejectReview keeps the task in its review stage, appends a revision entry
// and tags the task Redo. Recorded as a single updated record whose snapshot
// holds the prior tags.
func (m *Machine) RejectReview(taskID string, actor models.Actor, comment string) (*TransitionResult, error) {
	if !actor.CanApprove() {
		return nil, perrors.NewPermissionError(actor.ID, "reject review")
	}
	if comment == "" {
		return nil, perrors.NewValidationError("comment", "rejection comment required")
	}

	var result *TransitionResult
	err := m.store.WithTx(func(tx *sql.Tx) error {
		t, err := m.store.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		stage, err := m.store.GetStageTx(tx, t.StageID)
		if err != nil {
			return err
		}
		if !stage.IsReviewStage {
			return perrors.NewValidationError("stage",
				fmt.Sprintf("task %s is not in a review stage", taskID))
		}

		oldTags := append([]string(nil), t.Tags...)
		if !hasTag(t.Tags, RedoTag) {
			t.Tags = append(t.Tags, RedoTag)
		}

		entry := models.RevisionEntry{
			Comment:     comment,
			RequestedBy: actor.ID,
			RequestedAt: models.NowMs(),
		}
		if err := m.store.AddRevisionTx(tx, t.ID, entry); err != nil {
			return err
		}
		t.RevisionHistory = append(t.RevisionHistory, entry)

		if err := m.store.UpdateTaskTx(tx, t, t.Version); err != nil {
			return err
		}

		h := &models.TaskHistory{
			TaskID:           t.ID,
			ActorID:          actor.ID,
			Action:           models.ActionUpdated,
			PreviousSnapshot: map[string]any{"tags": oldTags},
			Details:          fmt.Sprintf("review rejected: %s", comment),
		}
		if err := m.recorder.Record(tx, h); err != nil {
			return err
		}
		result = &TransitionResult{Task: t, History: h}
		return nil
	})
	m.observe("reject_review", err)
	if err != nil {
		return nil, err
	}
	m.publish(result.Task)
	return result, nil
}

func (m *Machine) publish(t *models.Task) {
	if m.notifier != nil {
		m.notifier.TaskUpdated(t.ProjectID, t.ID)
	}
}

func (m *Machine) observe(op string, err error) {
	if m.metrics == nil {
		return
	}
	result := "accepted"
	switch {
	case perrors.IsValidation(err):
		result = "validation_error"
	case perrors.IsConcurrency(err):
		result = "concurrency_error"
	case perrors.IsNotFound(err):
		result = "not_found"
	case perrors.IsPermission(err):
		result = "permission_error"
	case err != nil:
		result = "error"
	}
	m.metrics.RecordTransition(op, result)
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
