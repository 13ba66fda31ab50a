package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/teamster/internal/messaging"
	"github.com/aristath/teamster/internal/monitor"
)

// SaveMessage appends one mailbox log entry. Idempotent on the message ID, so
// re-persisting the full audit log after an ack updates in place.
func (s *SQLiteStore) SaveMessage(ctx context.Context, teamID string, msg messaging.Message) error {
	var ackAt interface{}
	if msg.Acked() {
		ackAt = msg.AckAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, team_id, seq, sender, recipient, kind, payload, urgent, sent_at, ack_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			urgent = excluded.urgent,
			ack_at = excluded.ack_at
	`, msg.ID, teamID, msg.Seq, msg.From, msg.To, string(msg.Kind), msg.Payload, msg.Urgent, msg.SentAt, ackAt)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// ListMessages returns a team's message log in send order.
func (s *SQLiteStore) ListMessages(ctx context.Context, teamID string) ([]messaging.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, sender, recipient, kind, payload, urgent, sent_at, ack_at
		FROM messages
		WHERE team_id = ?
		ORDER BY sent_at, seq
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []messaging.Message
	for rows.Next() {
		var msg messaging.Message
		var kind string
		var ackAt sql.NullTime

		if err := rows.Scan(&msg.ID, &msg.Seq, &msg.From, &msg.To, &kind, &msg.Payload, &msg.Urgent, &msg.SentAt, &ackAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Kind = messaging.Kind(kind)
		if ackAt.Valid {
			msg.AckAt = ackAt.Time
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// SaveFailure records a classified failure event. Idempotent on the event ID
// so resolution updates the stored row.
func (s *SQLiteStore) SaveFailure(ctx context.Context, teamID string, event monitor.FailureEvent) error {
	var resolvedAt interface{}
	if event.Resolved() {
		resolvedAt = event.ResolvedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failure_events (id, team_id, kind, worker_id, task_id, action, detail, onset, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resolved_at = excluded.resolved_at
	`, event.ID, teamID, string(event.Kind), event.WorkerID, event.TaskID, string(event.Action),
		event.Detail, event.Onset, event.DetectedAt, resolvedAt)
	if err != nil {
		return fmt.Errorf("failed to save failure event: %w", err)
	}
	return nil
}

// ListFailures returns a team's failure events in detection order.
func (s *SQLiteStore) ListFailures(ctx context.Context, teamID string) ([]monitor.FailureEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, worker_id, task_id, action, detail, onset, detected_at, resolved_at
		FROM failure_events
		WHERE team_id = ?
		ORDER BY detected_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure events: %w", err)
	}
	defer rows.Close()

	var failures []monitor.FailureEvent
	for rows.Next() {
		var event monitor.FailureEvent
		var kind, action string
		var resolvedAt sql.NullTime

		if err := rows.Scan(&event.ID, &kind, &event.WorkerID, &event.TaskID, &action,
			&event.Detail, &event.Onset, &event.DetectedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure event: %w", err)
		}
		event.Kind = monitor.FailureKind(kind)
		event.Action = monitor.Action(action)
		if resolvedAt.Valid {
			event.ResolvedAt = resolvedAt.Time
		}
		failures = append(failures, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure events: %w", err)
	}

	return failures, nil
}

// SaveOutcome records the end-of-session summary. Idempotent.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, outcome SessionOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (team_id, consolidation_passed, fix_iterations, rollback_recommended, rollback_reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(team_id) DO UPDATE SET
			consolidation_passed = excluded.consolidation_passed,
			fix_iterations = excluded.fix_iterations,
			rollback_recommended = excluded.rollback_recommended,
			rollback_reason = excluded.rollback_reason,
			finished_at = CURRENT_TIMESTAMP
	`, outcome.TeamID, outcome.ConsolidationPassed, outcome.FixIterations,
		outcome.RollbackRecommended, outcome.RollbackReason)
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// GetOutcome retrieves the session summary for a team.
func (s *SQLiteStore) GetOutcome(ctx context.Context, teamID string) (SessionOutcome, error) {
	outcome := SessionOutcome{TeamID: teamID}

	err := s.db.QueryRowContext(ctx, `
		SELECT consolidation_passed, fix_iterations, rollback_recommended, rollback_reason
		FROM outcomes
		WHERE team_id = ?
	`, teamID).Scan(&outcome.ConsolidationPassed, &outcome.FixIterations,
		&outcome.RollbackRecommended, &outcome.RollbackReason)

	if err == sql.ErrNoRows {
		return outcome, fmt.Errorf("outcome not found for team: %s", teamID)
	}
	if err != nil {
		return outcome, fmt.Errorf("failed to query outcome: %w", err)
	}

	return outcome, nil
}
