package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/teamster/internal/quanta"
	"github.com/aristath/teamster/internal/scheduler"
)

// SaveTeam records a team session header. Idempotent.
func (s *SQLiteStore) SaveTeam(ctx context.Context, teamID, description, decisionKind string, quantaCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, description, decision, quanta_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			decision = excluded.decision,
			quanta_count = excluded.quanta_count
	`, teamID, description, decisionKind, quantaCount)
	if err != nil {
		return fmt.Errorf("failed to save team: %w", err)
	}
	return nil
}

// SaveTask saves or updates a task and its dependency edges.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveTask(ctx context.Context, teamID string, task *scheduler.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errorStr := ""
	if task.Error != nil {
		errorStr = task.Error.Error()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, team_id, domain, description, status, owner, checkpoint, reassigned, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			team_id = excluded.team_id,
			domain = excluded.domain,
			description = excluded.description,
			status = excluded.status,
			owner = excluded.owner,
			checkpoint = excluded.checkpoint,
			reassigned = excluded.reassigned,
			result = excluded.result,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`, task.ID, teamID, string(task.Domain), task.Description, task.Status, task.Owner,
		task.Checkpoint, task.Reassigned, task.Result, errorStr)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, task.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	for _, depID := range task.DependsOn {
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, depID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("foreign key constraint failed: dependency task %s does not exist", depID)
		}
		if err != nil {
			return fmt.Errorf("failed to check dependency existence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id)
			VALUES (?, ?)
		`, task.ID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	task := &scheduler.Task{}
	var domain, errorStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain, description, status, owner, checkpoint, reassigned, result, error
		FROM tasks
		WHERE id = ?
	`, taskID).Scan(&task.ID, &domain, &task.Description, &task.Status, &task.Owner,
		&task.Checkpoint, &task.Reassigned, &task.Result, &errorStr)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	task.Domain = quanta.Domain(domain)
	if errorStr != "" {
		task.Error = fmt.Errorf("%s", errorStr)
	}

	deps, err := s.taskDependencies(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task.DependsOn = deps

	return task, nil
}

// ListTasks returns all of a team's tasks with their dependencies.
func (s *SQLiteStore) ListTasks(ctx context.Context, teamID string) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, description, status, owner, checkpoint, reassigned, result, error
		FROM tasks
		WHERE team_id = ?
		ORDER BY id
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*scheduler.Task
	for rows.Next() {
		task := &scheduler.Task{}
		var domain, errorStr string

		err := rows.Scan(&task.ID, &domain, &task.Description, &task.Status, &task.Owner,
			&task.Checkpoint, &task.Reassigned, &task.Result, &errorStr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		task.Domain = quanta.Domain(domain)
		if errorStr != "" {
			task.Error = fmt.Errorf("%s", errorStr)
		}

		deps, err := s.taskDependencies(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		task.DependsOn = deps

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func (s *SQLiteStore) taskDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM task_dependencies
		WHERE task_id = ?
		ORDER BY depends_on_id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies for task %s: %w", taskID, err)
	}
	defer rows.Close()

	deps := []string{}
	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, depID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return deps, nil
}
