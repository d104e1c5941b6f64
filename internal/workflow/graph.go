// Package workflow implements the stage workflow engine: graph validation,
// the task transition state machine, completion rollup, the auto-start
// scheduler and the history recorder.
package workflow

import (
	"fmt"
	"strings"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
)

// reservedTitles are canonical names of the reserved stages; a custom stage
// may not reuse them even with different casing.
var reservedTitles = map[string]bool{
	"suggested": true,
	"backlog":   true,
	"completed": true,
	"complete":  true,
	"archived":  true,
	"archive":   true,
}

// ResolveDefaultNext returns the stage with the smallest order strictly
// greater than current's, excluding the reserved suggested and archived
// kinds. Stages sharing an order value (possible under concurrent edits)
// break the tie on lowest stage ID.
func ResolveDefaultNext(stages []*models.Stage, current *models.Stage) (*models.Stage, error) {
	var next *models.Stage
	for _, st := range stages {
		if st.ID == current.ID {
			continue
		}
		if st.Kind == models.KindSuggested || st.Kind == models.KindArchived {
			continue
		}
		if st.Order <= current.Order {
			continue
		}
		if next == nil || st.Order < next.Order || (st.Order == next.Order && st.ID < next.ID) {
			next = st
		}
	}
	if next == nil {
		return nil, fmt.Errorf("stage %s (order %d): %w", current.ID, current.Order, perrors.ErrNoNextStage)
	}
	return next, nil
}

// ResolveNext returns the stage a forward move from current lands on: the
// linked-next override when set, the default ordinal successor otherwise.
// Review stages never resolve forward; they are left only via approval.
func ResolveNext(current *models.Stage, stages []*models.Stage) (*models.Stage, error) {
	if current.IsReviewStage {
		return nil, perrors.NewValidationError("stage", "review stages resolve only via approval")
	}
	if current.LinkedNextStageID != "" {
		for _, st := range stages {
			if st.ID == current.LinkedNextStageID {
				return st, nil
			}
		}
		return nil, perrors.NewValidationError("linkedNextStageId",
			fmt.Sprintf("stage %s links to unknown stage %s", current.ID, current.LinkedNextStageID))
	}
	return ResolveDefaultNext(stages, current)
}

// ValidateStages checks a project's stage set for structural problems:
// reserved-kind uniqueness, dangling or cross-project references, review
// stages without an approved target, and title collisions. Returns every
// problem found, not just the first.
func ValidateStages(stages []*models.Stage) []*perrors.ValidationError {
	var errs []*perrors.ValidationError

	byID := make(map[string]*models.Stage, len(stages))
	kindCount := make(map[models.StageKind]int)
	titles := make(map[string]string) // lowered title → stage id
	var projectID string

	for _, st := range stages {
		byID[st.ID] = st
		kindCount[st.Kind]++
		if projectID == "" {
			projectID = st.ProjectID
		}

		lowered := strings.ToLower(st.Title)
		if prev, ok := titles[lowered]; ok {
			errs = append(errs, perrors.NewValidationError("title",
				fmt.Sprintf("stage %s title %q collides with stage %s", st.ID, st.Title, prev)))
		} else {
			titles[lowered] = st.ID
		}

		if !st.Kind.IsReserved() && reservedTitles[lowered] {
			errs = append(errs, perrors.NewValidationError("title",
				fmt.Sprintf("stage %s uses reserved title %q", st.ID, st.Title)))
		}
	}

	for _, kind := range models.ReservedKinds {
		if n := kindCount[kind]; n != 1 {
			errs = append(errs, perrors.NewValidationError("kind",
				fmt.Sprintf("project must have exactly one %s stage, found %d", kind, n)))
		}
	}

	for _, st := range stages {
		if st.ProjectID != projectID {
			errs = append(errs, perrors.NewValidationError("projectId",
				fmt.Sprintf("stage %s belongs to project %s, not %s", st.ID, st.ProjectID, projectID)))
		}
		if st.IsReviewStage && st.ApprovedTargetStageID == "" {
			errs = append(errs, perrors.NewValidationError("approvedTargetStageId",
				fmt.Sprintf("review stage %s has no approved target", st.ID)))
		}
		if st.ApprovedTargetStageID != "" {
			if _, ok := byID[st.ApprovedTargetStageID]; !ok {
				errs = append(errs, perrors.NewValidationError("approvedTargetStageId",
					fmt.Sprintf("stage %s references unknown stage %s", st.ID, st.ApprovedTargetStageID)))
			}
		}
		if st.LinkedNextStageID != "" {
			if st.IsReviewStage {
				errs = append(errs, perrors.NewValidationError("linkedNextStageId",
					fmt.Sprintf("review stage %s may not set a linked next stage", st.ID)))
			}
			if _, ok := byID[st.LinkedNextStageID]; !ok {
				errs = append(errs, perrors.NewValidationError("linkedNextStageId",
					fmt.Sprintf("stage %s references unknown stage %s", st.ID, st.LinkedNextStageID)))
			}
		}
	}

	return errs
}

// findStage returns the stage with the given ID from the set, or nil.
func findStage(stages []*models.Stage, id string) *models.Stage {
	for _, st := range stages {
		if st.ID == id {
			return st
		}
	}
	return nil
}
