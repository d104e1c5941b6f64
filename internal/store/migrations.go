package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		slug       TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		owner_id   TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stages (
		id                       TEXT PRIMARY KEY,
		project_id               TEXT NOT NULL REFERENCES projects(id),
		title                    TEXT NOT NULL,
		ord                      INTEGER NOT NULL,
		kind                     TEXT NOT NULL,
		is_review                INTEGER NOT NULL DEFAULT 0,
		approved_target_stage_id TEXT,
		linked_next_stage_id     TEXT,
		main_responsible_id      TEXT,
		backup_responsible_id_1  TEXT,
		backup_responsible_id_2  TEXT,
		stage_group_id           TEXT,
		created_at               INTEGER NOT NULL,
		updated_at               INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stages_project ON stages(project_id, ord);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_stages_title ON stages(project_id, lower(title));

	CREATE TABLE IF NOT EXISTS tasks (
		id               TEXT PRIMARY KEY,
		project_id       TEXT NOT NULL REFERENCES projects(id),
		stage_id         TEXT NOT NULL REFERENCES stages(id),
		title            TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		priority         INTEGER NOT NULL DEFAULT 0,
		due_date         INTEGER,
		start_date       INTEGER,
		start_stage_id   TEXT,
		assignee         TEXT NOT NULL DEFAULT '',
		tags             TEXT NOT NULL DEFAULT '[]',
		parent_id        TEXT,
		status           TEXT NOT NULL DEFAULT 'pending',
		has_auto_started INTEGER NOT NULL DEFAULT 0,
		completed_at     INTEGER,
		version          INTEGER NOT NULL DEFAULT 1,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_stage ON tasks(stage_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_autostart ON tasks(has_auto_started, start_date);

	CREATE TABLE IF NOT EXISTS task_assignees (
		task_id TEXT NOT NULL REFERENCES tasks(id),
		user_id TEXT NOT NULL,
		status  TEXT NOT NULL DEFAULT 'pending',
		ord     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (task_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS revision_history (
		id           TEXT PRIMARY KEY,
		task_id      TEXT NOT NULL REFERENCES tasks(id),
		comment      TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		requested_at INTEGER NOT NULL,
		resolved_at  INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_revisions_task ON revision_history(task_id, requested_at);

	CREATE TABLE IF NOT EXISTS task_history (
		id                TEXT PRIMARY KEY,
		task_id           TEXT NOT NULL REFERENCES tasks(id),
		actor_id          TEXT NOT NULL,
		action            TEXT NOT NULL,
		incoming_stage_id TEXT,
		outgoing_stage_id TEXT,
		incoming_user_id  TEXT,
		outgoing_user_id  TEXT,
		previous_snapshot TEXT,
		details           TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_task ON task_history(task_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_history_action ON task_history(action);

	CREATE TABLE IF NOT EXISTS attachments (
		id         TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL REFERENCES tasks(id),
		name       TEXT NOT NULL,
		url        TEXT NOT NULL,
		is_link    INTEGER NOT NULL DEFAULT 0,
		added_by   TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attachments_task ON attachments(task_id);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}
