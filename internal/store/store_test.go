package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
)

func newTestStore(t *testing.T) *Store {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	store, err := New(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedProject(t *testing.T, s *Store) *models.Project {
	p, err := s.CreateProject("Test Project", "owner-1")
	require.NoError(t, err)
	return p
}

func seedStage(t *testing.T, s *Store, projectID, title string, order int, kind models.StageKind) *models.Stage {
	st := &models.Stage{ProjectID: projectID, Title: title, Order: order, Kind: kind}
	require.NoError(t, s.CreateStage(st))
	return st
}

func seedTask(t *testing.T, s *Store, projectID, stageID string, assignees ...string) *models.Task {
	task := &models.Task{
		ProjectID: projectID,
		StageID:   stageID,
		Title:     "Test Task",
	}
	for _, uid := range assignees {
		task.AssignedUsers = append(task.AssignedUsers, models.TaskAssignee{UserID: uid, Status: models.AssigneePending})
	}
	require.NoError(t, s.WithTx(func(tx *sql.Tx) error {
		return s.CreateTaskTx(tx, task)
	}))
	return task
}

func TestNew_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	tables := []string{
		"projects", "stages", "tasks", "task_assignees",
		"revision_history", "task_history", "attachments", "meta",
	}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
}

func TestProject_CreateAndGet(t *testing.T) {
	s := newTestStore(t)

	p, err := s.CreateProject("My Big Launch", "owner-1")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "my-big-launch", p.Slug)

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)

	bySlug, err := s.GetProjectBySlug("my-big-launch")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySlug.ID)
}

func TestProject_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProject("nope")
	assert.True(t, perrors.IsNotFound(err))
}

func TestStage_CRUD(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)

	st := seedStage(t, s, p.ID, "Design", 20, models.KindCustom)
	assert.NotEmpty(t, st.ID)

	got, err := s.GetStage(st.ID)
	require.NoError(t, err)
	assert.Equal(t, "Design", got.Title)
	assert.Equal(t, models.KindCustom, got.Kind)

	got.Title = "Design v2"
	got.Order = 25
	require.NoError(t, s.UpdateStage(got))

	got, err = s.GetStage(st.ID)
	require.NoError(t, err)
	assert.Equal(t, "Design v2", got.Title)
	assert.Equal(t, 25, got.Order)

	require.NoError(t, s.DeleteStage(st.ID))
	_, err = s.GetStage(st.ID)
	assert.True(t, perrors.IsNotFound(err))
}

func TestStage_TitleCollision(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	seedStage(t, s, p.ID, "Design", 20, models.KindCustom)

	err := s.CreateStage(&models.Stage{ProjectID: p.ID, Title: "DESIGN", Order: 30, Kind: models.KindCustom})
	assert.True(t, perrors.IsValidation(err), "case-insensitive title collision should fail: %v", err)
}

func TestStage_ReservedImmutable(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	st := seedStage(t, s, p.ID, "Backlog", 10, models.KindBacklog)

	// Reserved stages cannot be renamed.
	st.Title = "Icebox"
	err := s.UpdateStage(st)
	assert.True(t, perrors.IsValidation(err))

	// Reserved stages cannot be deleted.
	err = s.DeleteStage(st.ID)
	assert.True(t, perrors.IsValidation(err))
}

func TestStage_DeleteBlockedByTask(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	st := seedStage(t, s, p.ID, "Doing", 20, models.KindCustom)
	seedTask(t, s, p.ID, st.ID, "u1")

	err := s.DeleteStage(st.ID)
	assert.True(t, perrors.IsValidation(err))
}

func TestStage_DeleteBlockedByStageReference(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	design := seedStage(t, s, p.ID, "Design", 20, models.KindCustom)
	review := seedStage(t, s, p.ID, "Design Review", 30, models.KindCustom)

	design.LinkedNextStageID = review.ID
	require.NoError(t, s.UpdateStage(design))

	// The reference survives a reload.
	got, err := s.GetStage(design.ID)
	require.NoError(t, err)
	assert.Equal(t, review.ID, got.LinkedNextStageID)

	// Deleting the referenced stage is rejected while the link stands.
	err = s.DeleteStage(review.ID)
	assert.True(t, perrors.IsValidation(err))

	// Same guard for approved-target references.
	design.LinkedNextStageID = ""
	design.ApprovedTargetStageID = review.ID
	require.NoError(t, s.UpdateStage(design))
	err = s.DeleteStage(review.ID)
	assert.True(t, perrors.IsValidation(err))

	// Clearing the reference unblocks the delete.
	design.ApprovedTargetStageID = ""
	require.NoError(t, s.UpdateStage(design))
	require.NoError(t, s.DeleteStage(review.ID))
	_, err = s.GetStage(review.ID)
	assert.True(t, perrors.IsNotFound(err))
}

func TestStage_OrderedByOrdThenID(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	seedStage(t, s, p.ID, "C", 30, models.KindCustom)
	seedStage(t, s, p.ID, "A", 10, models.KindCustom)
	seedStage(t, s, p.ID, "B", 20, models.KindCustom)

	stages, err := s.GetProjectStages(p.ID)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "A", stages[0].Title)
	assert.Equal(t, "B", stages[1].Title)
	assert.Equal(t, "C", stages[2].Title)
}

func TestTask_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	st := seedStage(t, s, p.ID, "Doing", 20, models.KindCustom)

	task := seedTask(t, s, p.ID, st.ID, "u1", "u2")
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, int64(1), task.Version)

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test Task", got.Title)
	require.Len(t, got.AssignedUsers, 2)
	assert.Equal(t, "u1", got.AssignedUsers[0].UserID)
	assert.Equal(t, "u1", got.Assignee, "legacy assignee mirrors the primary")
	assert.Equal(t, models.TaskPending, got.Status)
}

func TestTask_VersionCAS(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	st := seedStage(t, s, p.ID, "Doing", 20, models.KindCustom)
	task := seedTask(t, s, p.ID, st.ID, "u1")

	// First write with the correct version succeeds and bumps it.
	err := s.WithTx(func(tx *sql.Tx) error {
		task.Title = "Renamed"
		return s.UpdateTaskTx(tx, task, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), task.Version)

	// A write against the stale version loses.
	err = s.WithTx(func(tx *sql.Tx) error {
		return s.UpdateTaskTx(tx, task, 1)
	})
	assert.True(t, perrors.IsConcurrency(err))
}

func TestTask_ClaimAutoStart_ExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	st := seedStage(t, s, p.ID, "Backlog", 10, models.KindBacklog)
	task := seedTask(t, s, p.ID, st.ID, "u1")

	var first, second bool
	require.NoError(t, s.WithTx(func(tx *sql.Tx) error {
		var err error
		first, err = s.ClaimAutoStartTx(tx, task.ID)
		return err
	}))
	require.NoError(t, s.WithTx(func(tx *sql.Tx) error {
		var err error
		second, err = s.ClaimAutoStartTx(tx, task.ID)
		return err
	}))

	assert.True(t, first, "first claim wins")
	assert.False(t, second, "second claim must no-op")

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.True(t, got.HasAutoStarted)
}

func TestTask_DueAutoStart(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	backlog := seedStage(t, s, p.ID, "Backlog", 10, models.KindBacklog)
	doing := seedStage(t, s, p.ID, "Doing", 20, models.KindCustom)

	now := models.NowMs()

	due := &models.Task{ProjectID: p.ID, StageID: backlog.ID, Title: "due", StartDate: now - 1000}
	notYet := &models.Task{ProjectID: p.ID, StageID: backlog.ID, Title: "later", StartDate: now + 60_000}
	noDate := &models.Task{ProjectID: p.ID, StageID: backlog.ID, Title: "nodate"}
	wrongStage := &models.Task{ProjectID: p.ID, StageID: doing.ID, Title: "active", StartDate: now - 1000}
	for _, task := range []*models.Task{due, notYet, noDate, wrongStage} {
		require.NoError(t, s.WithTx(func(tx *sql.Tx) error { return s.CreateTaskTx(tx, task) }))
	}

	ids, err := s.DueAutoStartTasks(now)
	require.NoError(t, err)
	assert.Equal(t, []string{due.ID}, ids)
}

func TestHistory_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	st := seedStage(t, s, p.ID, "Doing", 20, models.KindCustom)
	task := seedTask(t, s, p.ID, st.ID, "u1")

	require.NoError(t, s.WithTx(func(tx *sql.Tx) error {
		if err := s.AppendHistoryTx(tx, &models.TaskHistory{
			TaskID: task.ID, ActorID: "u1", Action: models.ActionCreated,
		}); err != nil {
			return err
		}
		return s.AppendHistoryTx(tx, &models.TaskHistory{
			TaskID:           task.ID,
			ActorID:          "u1",
			Action:           models.ActionUpdated,
			PreviousSnapshot: map[string]any{"title": "old"},
		})
	}))

	all, err := s.ListHistory(task.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.ActionCreated, all[0].Action)
	assert.Equal(t, "old", all[1].PreviousSnapshot["title"])

	updated, err := s.ListHistory(task.ID, models.ActionUpdated)
	require.NoError(t, err)
	assert.Len(t, updated, 1)

	n, err := s.CountHistory(task.ID, models.ActionCreated)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAttachments_AddListRemove(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	st := seedStage(t, s, p.ID, "Doing", 20, models.KindCustom)
	task := seedTask(t, s, p.ID, st.ID, "u1")

	a := &models.Attachment{TaskID: task.ID, Name: "spec.pdf", URL: "/files/spec.pdf", AddedBy: "u1"}
	require.NoError(t, s.WithTx(func(tx *sql.Tx) error { return s.AddAttachmentTx(tx, a) }))

	list, err := s.ListAttachments(task.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "spec.pdf", list[0].Name)

	require.NoError(t, s.WithTx(func(tx *sql.Tx) error {
		removed, err := s.RemoveAttachmentTx(tx, a.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, a.Name, removed.Name)
		return nil
	}))

	list, err = s.ListAttachments(task.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGenerateSlug(t *testing.T) {
	assert.Equal(t, "my-big-launch", GenerateSlug("My Big Launch"))
	assert.Equal(t, "q3-okrs", GenerateSlug("Q3 OKRs!"))
}
