package events

import (
	"time"

	"github.com/aristath/teamster/internal/decision"
	"github.com/aristath/teamster/internal/monitor"
)

// Event is the base interface for all session events.
type Event interface {
	EventType() string
	Topic() string
}

// Topic constants
const (
	TopicDecision      = "decision"
	TopicTask          = "task"
	TopicWorker        = "worker"
	TopicFailure       = "failure"
	TopicConsolidation = "consolidation"
)

// Event type constants
const (
	EventTypeDecisionMade         = "decision.made"
	EventTypeTaskClaimed          = "task.claimed"
	EventTypeTaskStarted          = "task.started"
	EventTypeTaskCompleted        = "task.completed"
	EventTypeTaskFailed           = "task.failed"
	EventTypeTaskReassigned       = "task.reassigned"
	EventTypeWorkerSpawned        = "worker.spawned"
	EventTypeWorkerStateChanged   = "worker.state_changed"
	EventTypeWorkerLost           = "worker.lost"
	EventTypeFailureDetected      = "failure.detected"
	EventTypeFailureResolved      = "failure.resolved"
	EventTypeConsolidationStarted = "consolidation.started"
	EventTypeConsolidationResult  = "consolidation.result"
	EventTypeRollbackRecommended  = "consolidation.rollback"
)

// DecisionMadeEvent is published when the team-sizing decision completes.
type DecisionMadeEvent struct {
	Kind      decision.Kind
	N         int
	Timestamp time.Time
}

func (e DecisionMadeEvent) EventType() string { return EventTypeDecisionMade }
func (e DecisionMadeEvent) Topic() string     { return TopicDecision }

// TaskClaimedEvent is published when a worker claims exclusive ownership.
type TaskClaimedEvent struct {
	TaskID    string
	WorkerID  string
	Timestamp time.Time
}

func (e TaskClaimedEvent) EventType() string { return EventTypeTaskClaimed }
func (e TaskClaimedEvent) Topic() string     { return TopicTask }

// TaskStartedEvent is published when a task enters active execution.
type TaskStartedEvent struct {
	TaskID    string
	WorkerID  string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Topic() string     { return TopicTask }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	TaskID    string
	WorkerID  string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Topic() string     { return TopicTask }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	TaskID    string
	WorkerID  string
	Err       error
	Permanent bool // True once reassignment is exhausted
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }

// TaskReassignedEvent is published when a task moves to a replacement worker.
type TaskReassignedEvent struct {
	TaskID         string
	LostWorkerID   string
	NewWorkerID    string
	FromCheckpoint bool
	Timestamp      time.Time
}

func (e TaskReassignedEvent) EventType() string { return EventTypeTaskReassigned }
func (e TaskReassignedEvent) Topic() string     { return TopicTask }

// WorkerSpawnedEvent is published when a worker joins the team.
type WorkerSpawnedEvent struct {
	WorkerID  string
	TaskID    string
	Timestamp time.Time
}

func (e WorkerSpawnedEvent) EventType() string { return EventTypeWorkerSpawned }
func (e WorkerSpawnedEvent) Topic() string     { return TopicWorker }

// WorkerStateChangedEvent is published on execution-circuit transitions.
type WorkerStateChangedEvent struct {
	WorkerID  string
	TaskID    string
	From      string
	To        string
	Timestamp time.Time
}

func (e WorkerStateChangedEvent) EventType() string { return EventTypeWorkerStateChanged }
func (e WorkerStateChangedEvent) Topic() string     { return TopicWorker }

// WorkerLostEvent is published when a worker is declared lost.
type WorkerLostEvent struct {
	WorkerID  string
	TaskID    string
	Timestamp time.Time
}

func (e WorkerLostEvent) EventType() string { return EventTypeWorkerLost }
func (e WorkerLostEvent) Topic() string     { return TopicWorker }

// FailureDetectedEvent is published when the monitor classifies a stall.
type FailureDetectedEvent struct {
	Failure   monitor.FailureEvent
	Timestamp time.Time
}

func (e FailureDetectedEvent) EventType() string { return EventTypeFailureDetected }
func (e FailureDetectedEvent) Topic() string     { return TopicFailure }

// FailureResolvedEvent is published when a detected failure is resolved.
type FailureResolvedEvent struct {
	Failure   monitor.FailureEvent
	Timestamp time.Time
}

func (e FailureResolvedEvent) EventType() string { return EventTypeFailureResolved }
func (e FailureResolvedEvent) Topic() string     { return TopicFailure }

// ConsolidationStartedEvent is published when the join barrier releases.
type ConsolidationStartedEvent struct {
	Timestamp time.Time
}

func (e ConsolidationStartedEvent) EventType() string { return EventTypeConsolidationStarted }
func (e ConsolidationStartedEvent) Topic() string     { return TopicConsolidation }

// ConsolidationResultEvent is published after each consolidation check.
type ConsolidationResultEvent struct {
	Iteration  int
	Passed     bool
	Diagnostic string
	Timestamp  time.Time
}

func (e ConsolidationResultEvent) EventType() string { return EventTypeConsolidationResult }
func (e ConsolidationResultEvent) Topic() string     { return TopicConsolidation }

// RollbackRecommendedEvent is published when the session recommends rollback.
type RollbackRecommendedEvent struct {
	Reason    string
	Timestamp time.Time
}

func (e RollbackRecommendedEvent) EventType() string { return EventTypeRollbackRecommended }
func (e RollbackRecommendedEvent) Topic() string     { return TopicConsolidation }
