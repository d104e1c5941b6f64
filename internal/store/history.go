package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
)

const historyColumns = `id, task_id, actor_id, action, incoming_stage_id, outgoing_stage_id,
	incoming_user_id, outgoing_user_id, previous_snapshot, details, created_at`

// AppendHistoryTx appends one immutable audit record. There is deliberately
// no update or delete counterpart.
func (s *Store) AppendHistoryTx(tx *sql.Tx, h *models.TaskHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.CreatedAt == 0 {
		h.CreatedAt = time.Now().UnixMilli()
	}

	var snapshot sql.NullString
	if len(h.PreviousSnapshot) > 0 {
		b, err := json.Marshal(h.PreviousSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal previous snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(b), Valid: true}
	}

	_, err := tx.Exec(`
	INSERT INTO task_history (`+historyColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.TaskID, h.ActorID, string(h.Action),
		nullStr(h.IncomingStageID), nullStr(h.OutgoingStageID),
		nullStr(h.IncomingUserID), nullStr(h.OutgoingUserID),
		snapshot, h.Details, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListHistory returns a task's audit records in insertion order, optionally
// filtered by action (review dashboards filter on stage_changed, workload
// views on assigned/unassigned).
func (s *Store) ListHistory(taskID string, action models.HistoryAction) ([]*models.TaskHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM task_history WHERE task_id = ?`
	args := []any{taskID}
	if action != "" {
		query += ` AND action = ?`
		args = append(args, string(action))
	}
	// rowid keeps insertion order stable when two records share a millisecond.
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var records []*models.TaskHistory
	for rows.Next() {
		h := &models.TaskHistory{}
		var act string
		var inStage, outStage, inUser, outUser, snapshot sql.NullString
		if err := rows.Scan(
			&h.ID, &h.TaskID, &h.ActorID, &act,
			&inStage, &outStage, &inUser, &outUser, &snapshot, &h.Details, &h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.Action = models.HistoryAction(act)
		h.IncomingStageID = inStage.String
		h.OutgoingStageID = outStage.String
		h.IncomingUserID = inUser.String
		h.OutgoingUserID = outUser.String
		if snapshot.Valid && snapshot.String != "" {
			if err := json.Unmarshal([]byte(snapshot.String), &h.PreviousSnapshot); err != nil {
				return nil, fmt.Errorf("failed to unmarshal previous snapshot: %w", err)
			}
		}
		records = append(records, h)
	}
	return records, rows.Err()
}

// CountHistory returns the number of records for a task with a given action.
func (s *Store) CountHistory(taskID string, action models.HistoryAction) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM task_history WHERE task_id = ? AND action = ?`,
		taskID, string(action),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// AddAttachmentTx inserts an attachment row.
func (s *Store) AddAttachmentTx(tx *sql.Tx, a *models.Attachment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	_, err := tx.Exec(
		`INSERT INTO attachments (id, task_id, name, url, is_link, added_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.Name, a.URL, boolToInt(a.IsLink), a.AddedBy, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add attachment: %w", err)
	}
	return nil
}

// RemoveAttachmentTx deletes an attachment row.
func (s *Store) RemoveAttachmentTx(tx *sql.Tx, id string) (*models.Attachment, error) {
	a, err := s.getAttachment(tx, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`DELETE FROM attachments WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to remove attachment: %w", err)
	}
	return a, nil
}

// ListAttachments returns a task's attachments in insertion order.
func (s *Store) ListAttachments(taskID string) ([]*models.Attachment, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, name, url, is_link, added_by, created_at FROM attachments WHERE task_id = ? ORDER BY created_at, rowid`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*models.Attachment
	for rows.Next() {
		a := &models.Attachment{}
		var isLink int
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &a.URL, &isLink, &a.AddedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.IsLink = isLink != 0
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func (s *Store) getAttachment(q querier, id string) (*models.Attachment, error) {
	a := &models.Attachment{}
	var isLink int
	err := q.QueryRow(
		`SELECT id, task_id, name, url, is_link, added_by, created_at FROM attachments WHERE id = ?`, id,
	).Scan(&a.ID, &a.TaskID, &a.Name, &a.URL, &isLink, &a.AddedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, perrors.NewNotFoundError("attachment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	a.IsLink = isLink != 0
	return a, nil
}
