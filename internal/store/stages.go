package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
)

const stageColumns = `id, project_id, title, ord, kind, is_review, approved_target_stage_id,
	linked_next_stage_id, main_responsible_id, backup_responsible_id_1,
	backup_responsible_id_2, stage_group_id, created_at, updated_at`

// CreateStage inserts a new stage. Graph-level validation (reserved kinds,
// title collisions, reference integrity) belongs to workflow.ValidateStages;
// the unique title index is the last line of defense.
func (s *Store) CreateStage(st *models.Stage) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	st.CreatedAt = now
	st.UpdatedAt = now

	_, err := s.db.Exec(`
	INSERT INTO stages (`+stageColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.ProjectID, st.Title, st.Order, string(st.Kind), boolToInt(st.IsReviewStage),
		nullStr(st.ApprovedTargetStageID), nullStr(st.LinkedNextStageID),
		nullStr(st.MainResponsibleID), nullStr(st.BackupResponsibleID1), nullStr(st.BackupResponsibleID2),
		nullStr(st.StageGroupID), st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return perrors.NewValidationError("title", fmt.Sprintf("stage title %q already used in project", st.Title))
		}
		return fmt.Errorf("failed to create stage: %w", err)
	}
	return nil
}

// GetStage retrieves a stage by ID.
func (s *Store) GetStage(id string) (*models.Stage, error) {
	return scanStage(s.db.QueryRow(`SELECT `+stageColumns+` FROM stages WHERE id = ?`, id), id)
}

// GetStageTx retrieves a stage by ID inside a transaction.
func (s *Store) GetStageTx(tx *sql.Tx, id string) (*models.Stage, error) {
	return scanStage(tx.QueryRow(`SELECT `+stageColumns+` FROM stages WHERE id = ?`, id), id)
}

func scanStage(row *sql.Row, id string) (*models.Stage, error) {
	st := &models.Stage{}
	var kind string
	var isReview int
	var approved, linked, main, b1, b2, group sql.NullString

	err := row.Scan(
		&st.ID, &st.ProjectID, &st.Title, &st.Order, &kind, &isReview,
		&approved, &linked, &main, &b1, &b2, &group, &st.CreatedAt, &st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, perrors.NewNotFoundError("stage", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}

	st.Kind = models.StageKind(kind)
	st.IsReviewStage = isReview != 0
	st.ApprovedTargetStageID = approved.String
	st.LinkedNextStageID = linked.String
	st.MainResponsibleID = main.String
	st.BackupResponsibleID1 = b1.String
	st.BackupResponsibleID2 = b2.String
	st.StageGroupID = group.String
	return st, nil
}

// GetProjectStages returns the project's stages ordered by ord, then ID as a
// deterministic tie-break.
func (s *Store) GetProjectStages(projectID string) ([]*models.Stage, error) {
	return s.projectStages(s.db, projectID)
}

// GetProjectStagesTx returns the project's stages inside a transaction.
func (s *Store) GetProjectStagesTx(tx *sql.Tx, projectID string) ([]*models.Stage, error) {
	return s.projectStages(tx, projectID)
}

func (s *Store) projectStages(q querier, projectID string) ([]*models.Stage, error) {
	rows, err := q.Query(`SELECT `+stageColumns+` FROM stages WHERE project_id = ? ORDER BY ord, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []*models.Stage
	for rows.Next() {
		st := &models.Stage{}
		var kind string
		var isReview int
		var approved, linked, main, b1, b2, group sql.NullString
		if err := rows.Scan(
			&st.ID, &st.ProjectID, &st.Title, &st.Order, &kind, &isReview,
			&approved, &linked, &main, &b1, &b2, &group, &st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		st.Kind = models.StageKind(kind)
		st.IsReviewStage = isReview != 0
		st.ApprovedTargetStageID = approved.String
		st.LinkedNextStageID = linked.String
		st.MainResponsibleID = main.String
		st.BackupResponsibleID1 = b1.String
		st.BackupResponsibleID2 = b2.String
		st.StageGroupID = group.String
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// UpdateStage updates a stage's mutable fields. The kind of a reserved stage
// is immutable once created.
func (s *Store) UpdateStage(st *models.Stage) error {
	current, err := s.GetStage(st.ID)
	if err != nil {
		return err
	}
	if current.Kind.IsReserved() && st.Kind != current.Kind {
		return perrors.NewValidationError("kind", "reserved stages cannot change kind")
	}
	if current.Kind.IsReserved() && !strings.EqualFold(st.Title, current.Title) {
		return perrors.NewValidationError("title", "reserved stages cannot be renamed")
	}

	st.UpdatedAt = time.Now().UnixMilli()
	res, err := s.db.Exec(`
	UPDATE stages SET title = ?, ord = ?, is_review = ?, approved_target_stage_id = ?,
		linked_next_stage_id = ?, main_responsible_id = ?, backup_responsible_id_1 = ?,
		backup_responsible_id_2 = ?, stage_group_id = ?, updated_at = ?
	WHERE id = ?`,
		st.Title, st.Order, boolToInt(st.IsReviewStage),
		nullStr(st.ApprovedTargetStageID), nullStr(st.LinkedNextStageID),
		nullStr(st.MainResponsibleID), nullStr(st.BackupResponsibleID1), nullStr(st.BackupResponsibleID2),
		nullStr(st.StageGroupID), st.UpdatedAt, st.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return perrors.NewValidationError("title", fmt.Sprintf("stage title %q already used in project", st.Title))
		}
		return fmt.Errorf("failed to update stage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return perrors.NewNotFoundError("stage", st.ID)
	}
	return nil
}

// DeleteStage removes a stage. Rejected while any task sits in the stage or
// any other stage references it via linked_next or approved_target; tasks
// must be reassigned first.
func (s *Store) DeleteStage(id string) error {
	st, err := s.GetStage(id)
	if err != nil {
		return err
	}
	if st.Kind.IsReserved() {
		return perrors.NewValidationError("kind", "reserved stages cannot be deleted")
	}

	var taskCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE stage_id = ?`, id).Scan(&taskCount); err != nil {
		return fmt.Errorf("failed to count stage tasks: %w", err)
	}
	if taskCount > 0 {
		return perrors.NewValidationError("stage", fmt.Sprintf("%d tasks still reference stage %s", taskCount, id))
	}

	var refCount int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM stages WHERE linked_next_stage_id = ? OR approved_target_stage_id = ?`, id, id,
	).Scan(&refCount); err != nil {
		return fmt.Errorf("failed to count stage references: %w", err)
	}
	if refCount > 0 {
		return perrors.NewValidationError("stage", fmt.Sprintf("%d stages still reference stage %s", refCount, id))
	}

	if _, err := s.db.Exec(`DELETE FROM stages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete stage: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
