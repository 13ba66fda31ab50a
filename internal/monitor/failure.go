// Package monitor watches worker liveness and classifies stalls into the
// timeout taxonomy: idle, task, message, and crash timeouts.
package monitor

import (
	"time"

	"github.com/google/uuid"
)

// FailureKind classifies a detected failure.
type FailureKind string

const (
	FailureIdleTimeout     FailureKind = "idle_timeout"
	FailureTaskTimeout     FailureKind = "task_timeout"
	FailureMessageTimeout  FailureKind = "message_timeout"
	FailureCrash           FailureKind = "crash"
	FailureCycleDetected   FailureKind = "cycle_detected"
	FailureConsolidation   FailureKind = "consolidation_failure"
	FailureInvariant       FailureKind = "invariant_violation"
	FailureLocalValidation FailureKind = "local_validation"
)

// Action is the monitor's suggested response to a classified stall.
// The supervisor decides; the monitor only classifies.
type Action string

const (
	ActionStatusCheck    Action = "status_check"    // Send a status-check message, wait out the grace window
	ActionExtendDeadline Action = "extend_deadline" // Query the worker; extend the task deadline or split
	ActionResendUrgent   Action = "resend_urgent"   // Resend the unacknowledged Critical message marked URGENT
	ActionDeclareLost    Action = "declare_lost"    // Trigger checkpoint and reassignment
)

// FailureEvent records one detected failure and its eventual resolution.
// DetectedAt minus Onset is the detection latency; ResolvedAt minus
// DetectedAt is the resolution time. Both are bounded and logged.
type FailureEvent struct {
	ID         string
	Kind       FailureKind
	WorkerID   string
	TaskID     string
	Action     Action
	Detail     string
	MessageID  string // Set for message timeouts: the unacknowledged message
	Onset      time.Time // When the stall began (last heartbeat, task start, send time)
	DetectedAt time.Time
	ResolvedAt time.Time // Zero until resolved
}

// NewFailureEvent creates an event with a fresh ID.
func NewFailureEvent(kind FailureKind, workerID, taskID string, action Action, onset, detectedAt time.Time, detail string) FailureEvent {
	return FailureEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		WorkerID:   workerID,
		TaskID:     taskID,
		Action:     action,
		Detail:     detail,
		Onset:      onset,
		DetectedAt: detectedAt,
	}
}

// Resolved reports whether the event has been resolved.
func (e FailureEvent) Resolved() bool {
	return !e.ResolvedAt.IsZero()
}

// DetectionLatency is how long the stall existed before the monitor saw it.
func (e FailureEvent) DetectionLatency() time.Duration {
	return e.DetectedAt.Sub(e.Onset)
}

// ResolutionTime is how long resolution took after detection.
// Zero for unresolved events.
func (e FailureEvent) ResolutionTime() time.Duration {
	if !e.Resolved() {
		return 0
	}
	return e.ResolvedAt.Sub(e.DetectedAt)
}
