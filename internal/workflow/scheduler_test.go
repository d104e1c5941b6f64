package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/stageflow/internal/models"
)

func (e *env) newAutoStartTask(t *testing.T, startStage string) *models.Task {
	input := CreateTaskInput{
		ProjectID:       e.project.ID,
		StageID:         e.stages["Backlog"].ID,
		Title:           "Scheduled Task",
		StartDate:       models.NowMs() - 1000,
		AssignedUserIDs: []string{"u1"},
	}
	if startStage != "" {
		input.StartStageID = e.stages[startStage].ID
	}
	task, err := e.machine.CreateTask(input, operator)
	require.NoError(t, err)
	return task
}

func TestAutoStart_MovesToStartStage(t *testing.T) {
	e := newEnv(t)
	task := e.newAutoStartTask(t, "Doing")

	started, err := e.machine.AutoStart(task.ID)
	require.NoError(t, err)
	assert.True(t, started)

	got, err := e.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, e.stages["Doing"].ID, got.StageID)
	assert.True(t, got.HasAutoStarted)

	moves, err := e.store.ListHistory(task.ID, models.ActionStageChanged)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, models.SystemActorID, moves[0].ActorID, "automatic transitions are attributed to the system actor")
}

func TestAutoStart_SecondCallNoOps(t *testing.T) {
	e := newEnv(t)
	task := e.newAutoStartTask(t, "Doing")

	started, err := e.machine.AutoStart(task.ID)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = e.machine.AutoStart(task.ID)
	require.NoError(t, err)
	assert.False(t, started, "the flag is consumed; later calls no-op")
}

func TestAutoStart_NoStartStageConsumesFlag(t *testing.T) {
	e := newEnv(t)
	task := e.newAutoStartTask(t, "")

	started, err := e.machine.AutoStart(task.ID)
	require.NoError(t, err)
	assert.True(t, started)

	got, err := e.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, e.stages["Backlog"].ID, got.StageID, "no configured start stage means no move")
	assert.True(t, got.HasAutoStarted, "the flag is still consumed so the scheduler stops revisiting")

	moves, err := e.store.ListHistory(task.ID, models.ActionStageChanged)
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func TestAutoStart_ConcurrentTicksFireOnce(t *testing.T) {
	e := newEnv(t)
	task := e.newAutoStartTask(t, "Doing")

	var wg sync.WaitGroup
	results := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started, err := e.machine.AutoStart(task.ID)
			assert.NoError(t, err)
			results <- started
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for started := range results {
		if started {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one tick performs the transition")

	moves, err := e.store.ListHistory(task.ID, models.ActionStageChanged)
	require.NoError(t, err)
	assert.Len(t, moves, 1, "losers must not duplicate the stage-changed record")
}

func TestScheduler_Sweep(t *testing.T) {
	e := newEnv(t)
	due := e.newAutoStartTask(t, "Doing")
	notDue, err := e.machine.CreateTask(CreateTaskInput{
		ProjectID:       e.project.ID,
		StageID:         e.stages["Backlog"].ID,
		Title:           "Future Task",
		StartDate:       models.NowMs() + time.Hour.Milliseconds(),
		StartStageID:    e.stages["Doing"].ID,
		AssignedUserIDs: []string{"u1"},
	}, operator)
	require.NoError(t, err)

	logger := e.machine.logger
	s := NewScheduler(e.store, e.machine, time.Minute, time.UTC, logger)
	s.Sweep()

	got, err := e.store.GetTask(due.ID)
	require.NoError(t, err)
	assert.Equal(t, e.stages["Doing"].ID, got.StageID)

	got, err = e.store.GetTask(notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, e.stages["Backlog"].ID, got.StageID)
	assert.False(t, got.HasAutoStarted)
}
