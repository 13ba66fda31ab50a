package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		decision TEXT NOT NULL,
		quanta_count INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		description TEXT NOT NULL,
		status INTEGER NOT NULL,
		owner TEXT,
		checkpoint BLOB,
		reassigned INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_team_id ON tasks(team_id);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		urgent INTEGER NOT NULL DEFAULT 0,
		sent_at DATETIME NOT NULL,
		ack_at DATETIME,
		FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_team_sent ON messages(team_id, sent_at);

	CREATE TABLE IF NOT EXISTS failure_events (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		worker_id TEXT,
		task_id TEXT,
		action TEXT,
		detail TEXT,
		onset DATETIME NOT NULL,
		detected_at DATETIME NOT NULL,
		resolved_at DATETIME,
		FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_failure_events_team ON failure_events(team_id, detected_at);

	CREATE TABLE IF NOT EXISTS outcomes (
		team_id TEXT PRIMARY KEY,
		consolidation_passed INTEGER NOT NULL,
		fix_iterations INTEGER NOT NULL,
		rollback_recommended INTEGER NOT NULL,
		rollback_reason TEXT,
		finished_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
