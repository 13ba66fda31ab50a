// Package persistence stores session state in SQLite: teams, tasks and their
// dependency edges, the mailbox audit log, failure events, and session
// outcomes. A session that crashes can be inspected or resumed from here.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/teamster/internal/messaging"
	"github.com/aristath/teamster/internal/monitor"
	"github.com/aristath/teamster/internal/scheduler"
	_ "modernc.org/sqlite"
)

// SessionOutcome is the persisted end-of-session summary.
type SessionOutcome struct {
	TeamID              string
	ConsolidationPassed bool
	FixIterations       int
	RollbackRecommended bool
	RollbackReason      string
}

// Store defines the persistence interface for teams, tasks, messages, and
// failure events.
type Store interface {
	SaveTeam(ctx context.Context, teamID, description string, decisionKind string, quantaCount int) error

	SaveTask(ctx context.Context, teamID string, task *scheduler.Task) error
	GetTask(ctx context.Context, taskID string) (*scheduler.Task, error)
	ListTasks(ctx context.Context, teamID string) ([]*scheduler.Task, error)

	SaveMessage(ctx context.Context, teamID string, msg messaging.Message) error
	ListMessages(ctx context.Context, teamID string) ([]messaging.Message, error)

	SaveFailure(ctx context.Context, teamID string, event monitor.FailureEvent) error
	ListFailures(ctx context.Context, teamID string) ([]monitor.FailureEvent, error)

	SaveOutcome(ctx context.Context, outcome SessionOutcome) error
	GetOutcome(ctx context.Context, teamID string) (SessionOutcome, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and a
// busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string.
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return initStore(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Uses a shared cache so multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	return initStore(ctx, db)
}

func initStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One connection for primary queries, one for subqueries.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
