package workflow

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/store"
)

// AutoStart claims and executes the one-shot automatic transition for a due
// task. The claim is a compare-and-set on the has_auto_started flag; losers
// of a concurrent race report started=false and change nothing. A task with
// no start stage configured still consumes its flag so the scheduler never
// revisits it.
func (m *Machine) AutoStart(taskID string) (started bool, err error) {
	var task *models.Task
	err = m.store.WithTx(func(tx *sql.Tx) error {
		claimed, err := m.store.ClaimAutoStartTx(tx, taskID)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		started = true

		t, err := m.store.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		task = t
		if t.StartStageID == "" || t.StartStageID == t.StageID {
			return nil
		}

		stages, err := m.store.GetProjectStagesTx(tx, t.ProjectID)
		if err != nil {
			return err
		}
		_, err = m.applyMove(tx, t, stages, t.StartStageID, models.SystemActor, nil, false)
		return err
	})
	m.observe("auto_start", err)
	if err != nil {
		return false, err
	}
	if started && m.metrics != nil {
		m.metrics.RecordAutoStart()
	}
	if started && task != nil && task.StartStageID != "" && task.StartStageID != task.StageID {
		m.publish(task)
	}
	return started, nil
}

// Scheduler periodically sweeps for backlog tasks whose start date has
// elapsed in the organization's timezone and auto-starts each one. Multiple
// scheduler instances may sweep concurrently; the per-task claim keeps the
// transition exactly-once.
type Scheduler struct {
	store    *store.Store
	machine  *Machine
	interval time.Duration
	loc      *time.Location
	logger   zerolog.Logger
}

// NewScheduler creates the auto-start scheduler.
func NewScheduler(st *store.Store, machine *Machine, interval time.Duration, loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store:    st,
		machine:  machine,
		interval: interval,
		loc:      loc,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run ticks until the context is canceled. One immediate sweep happens on
// startup so due tasks do not wait a full interval after a restart.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Str("timezone", s.loc.String()).
		Msg("auto-start scheduler running")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("auto-start scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass over all due tasks. Per-task failures are logged and
// skipped so one bad task cannot starve the rest of the sweep.
func (s *Scheduler) Sweep() {
	now := time.Now().In(s.loc)
	ids, err := s.store.DueAutoStartTasks(now.UnixMilli())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query due tasks")
		return
	}
	if len(ids) == 0 {
		return
	}

	startedCount := 0
	for _, id := range ids {
		started, err := s.machine.AutoStart(id)
		switch {
		case perrors.IsConcurrency(err):
			// Another sweep got there first.
			s.logger.Debug().Str("task_id", id).Msg("auto-start lost race")
		case err != nil:
			s.logger.Error().Err(err).Str("task_id", id).Msg("auto-start failed")
		case started:
			startedCount++
		}
	}
	s.logger.Info().
		Int("due", len(ids)).
		Int("started", startedCount).
		Msg("auto-start sweep complete")
}
