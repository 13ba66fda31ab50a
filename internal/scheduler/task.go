package scheduler

import (
	"time"

	"github.com/aristath/teamster/internal/quanta"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending    TaskStatus = iota // Waiting to be claimed
	TaskClaimed                      // Exclusively claimed by a worker
	TaskInProgress                   // Worker is actively executing
	TaskBlocked                      // Waiting on incomplete dependencies
	TaskCompleted                    // Finished successfully
	TaskFailed                       // Finished with error (terminal once reassignment is exhausted)
)

// String returns the status name.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskClaimed:
		return "claimed"
	case TaskInProgress:
		return "in_progress"
	case TaskBlocked:
		return "blocked"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is a unit of work derived from one quantum.
type Task struct {
	ID          string        // Unique identifier
	Domain      quanta.Domain // The quantum this task was derived from
	Description string        // Human-readable work description
	DependsOn   []string      // Task IDs this task depends on
	Status      TaskStatus
	Owner       string // Owning worker ID; empty when unowned
	Checkpoint  []byte // Opaque partial-progress payload, worker-defined
	Reassigned  bool   // True once the task has been handed to a replacement worker
	Result      string // Output from execution (populated after completion)
	Error       error  // Error if failed
	StartedAt   time.Time
	CompletedAt time.Time
}

// cloneTask returns a defensive copy so callers never alias DAG-internal state.
func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Checkpoint != nil {
		cp.Checkpoint = append([]byte(nil), task.Checkpoint...)
	}
	return &cp
}
