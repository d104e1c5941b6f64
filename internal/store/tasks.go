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

const taskColumns = `id, project_id, stage_id, title, description, priority, due_date,
	start_date, start_stage_id, assignee, tags, parent_id, status,
	has_auto_started, completed_at, version, created_at, updated_at`

// CreateTaskTx inserts a task and its assignee rows.
func (s *Store) CreateTaskTx(tx *sql.Tx, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	if primary := t.PrimaryAssignee(); primary != nil {
		t.Assignee = primary.UserID
	}

	tags, err := json.Marshal(tagsOrEmpty(t.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = tx.Exec(`
	INSERT INTO tasks (`+taskColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.StageID, t.Title, t.Description, t.Priority,
		nullInt(t.DueDate), nullInt(t.StartDate), nullStr(t.StartStageID),
		t.Assignee, string(tags), nullStr(t.ParentID), string(t.Status),
		boolToInt(t.HasAutoStarted), nullInt(t.CompletedAt), t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return s.replaceAssignees(tx, t.ID, t.AssignedUsers)
}

// GetTask retrieves a task with its assignees and revision history.
func (s *Store) GetTask(id string) (*models.Task, error) {
	return s.getTask(s.db, id)
}

// GetTaskTx retrieves a task inside a transaction.
func (s *Store) GetTaskTx(tx *sql.Tx, id string) (*models.Task, error) {
	return s.getTask(tx, id)
}

func (s *Store) getTask(q querier, id string) (*models.Task, error) {
	t := &models.Task{}
	var dueDate, startDate, completedAt sql.NullInt64
	var startStageID, parentID sql.NullString
	var tagsJSON, status string
	var hasAutoStarted int

	err := q.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id).Scan(
		&t.ID, &t.ProjectID, &t.StageID, &t.Title, &t.Description, &t.Priority,
		&dueDate, &startDate, &startStageID, &t.Assignee, &tagsJSON, &parentID,
		&status, &hasAutoStarted, &completedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, perrors.NewNotFoundError("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	t.DueDate = dueDate.Int64
	t.StartDate = startDate.Int64
	t.CompletedAt = completedAt.Int64
	t.StartStageID = startStageID.String
	t.ParentID = parentID.String
	t.Status = models.TaskStatus(status)
	t.HasAutoStarted = hasAutoStarted != 0
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	if t.AssignedUsers, err = s.taskAssignees(q, id); err != nil {
		return nil, err
	}
	if t.RevisionHistory, err = s.taskRevisions(q, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) taskAssignees(q querier, taskID string) ([]models.TaskAssignee, error) {
	rows, err := q.Query(`SELECT user_id, status FROM task_assignees WHERE task_id = ? ORDER BY ord`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignees: %w", err)
	}
	defer rows.Close()

	var assignees []models.TaskAssignee
	for rows.Next() {
		var a models.TaskAssignee
		var status string
		if err := rows.Scan(&a.UserID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}
		a.Status = models.AssigneeStatus(status)
		assignees = append(assignees, a)
	}
	return assignees, rows.Err()
}

func (s *Store) taskRevisions(q querier, taskID string) ([]models.RevisionEntry, error) {
	rows, err := q.Query(`SELECT comment, requested_by, requested_at, resolved_at FROM revision_history WHERE task_id = ? ORDER BY requested_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	var revisions []models.RevisionEntry
	for rows.Next() {
		var r models.RevisionEntry
		var resolvedAt sql.NullInt64
		if err := rows.Scan(&r.Comment, &r.RequestedBy, &r.RequestedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		r.ResolvedAt = resolvedAt.Int64
		revisions = append(revisions, r)
	}
	return revisions, rows.Err()
}

// UpdateTaskTx writes the task back, guarded by optimistic versioning: the
// update only applies if the stored version still matches expectedVersion.
// A zero-row update means a concurrent writer won; the caller receives a
// ConcurrencyError and must refetch.
func (s *Store) UpdateTaskTx(tx *sql.Tx, t *models.Task, expectedVersion int64) error {
	t.UpdatedAt = time.Now().UnixMilli()
	t.Version = expectedVersion + 1
	if primary := t.PrimaryAssignee(); primary != nil {
		t.Assignee = primary.UserID
	} else {
		t.Assignee = ""
	}

	tags, err := json.Marshal(tagsOrEmpty(t.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	res, err := tx.Exec(`
	UPDATE tasks SET stage_id = ?, title = ?, description = ?, priority = ?,
		due_date = ?, start_date = ?, start_stage_id = ?, assignee = ?, tags = ?,
		parent_id = ?, status = ?, has_auto_started = ?, completed_at = ?,
		version = ?, updated_at = ?
	WHERE id = ? AND version = ?`,
		t.StageID, t.Title, t.Description, t.Priority,
		nullInt(t.DueDate), nullInt(t.StartDate), nullStr(t.StartStageID),
		t.Assignee, string(tags), nullStr(t.ParentID), string(t.Status),
		boolToInt(t.HasAutoStarted), nullInt(t.CompletedAt),
		t.Version, t.UpdatedAt, t.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return perrors.NewConcurrencyError(t.ID, "task changed between read and write")
	}

	return s.replaceAssignees(tx, t.ID, t.AssignedUsers)
}

func (s *Store) replaceAssignees(tx *sql.Tx, taskID string, assignees []models.TaskAssignee) error {
	if _, err := tx.Exec(`DELETE FROM task_assignees WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to clear assignees: %w", err)
	}
	for i, a := range assignees {
		if _, err := tx.Exec(
			`INSERT INTO task_assignees (task_id, user_id, status, ord) VALUES (?, ?, ?, ?)`,
			taskID, a.UserID, string(a.Status), i,
		); err != nil {
			return fmt.Errorf("failed to insert assignee: %w", err)
		}
	}
	return nil
}

// AddRevisionTx appends a revision entry (review rejection comment).
func (s *Store) AddRevisionTx(tx *sql.Tx, taskID string, r models.RevisionEntry) error {
	_, err := tx.Exec(
		`INSERT INTO revision_history (id, task_id, comment, requested_by, requested_at, resolved_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), taskID, r.Comment, r.RequestedBy, r.RequestedAt, nullInt(r.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add revision: %w", err)
	}
	return nil
}

// ClaimAutoStartTx is the single concurrency-sensitive primitive of the
// scheduler: a compare-and-set from has_auto_started 0 → 1. Returns true
// only for the caller that wins the race; everyone else sees zero rows
// affected and must no-op.
func (s *Store) ClaimAutoStartTx(tx *sql.Tx, taskID string) (bool, error) {
	res, err := tx.Exec(
		`UPDATE tasks SET has_auto_started = 1, updated_at = ? WHERE id = ? AND has_auto_started = 0`,
		time.Now().UnixMilli(), taskID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim auto-start: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// DueAutoStartTasks returns IDs of tasks sitting in a backlog-kind stage
// whose start_date has elapsed and which have not auto-started yet.
func (s *Store) DueAutoStartTasks(nowMs int64) ([]string, error) {
	rows, err := s.db.Query(`
	SELECT t.id FROM tasks t
	JOIN stages s ON s.id = t.stage_id
	WHERE s.kind = ? AND t.has_auto_started = 0 AND t.start_date IS NOT NULL AND t.start_date <= ?
	ORDER BY t.start_date`, string(models.KindBacklog), nowMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due task: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListTasks returns tasks in a project, optionally filtered by stage.
func (s *Store) ListTasks(projectID, stageID string) ([]*models.Task, error) {
	query := `SELECT id FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if stageID != "" {
		query += ` AND stage_id = ?`
		args = append(args, stageID)
	}
	query += ` ORDER BY priority DESC, created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
