package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aristath/teamster/internal/messaging"
)

// Config holds the timeout classification table. All thresholds are
// configuration, not code.
type Config struct {
	PollInterval       time.Duration `json:"poll_interval"`        // Heartbeat poll cadence (default 60s)
	IdleTimeout        time.Duration `json:"idle_timeout"`         // No heartbeat while a task is claimed (default 30m)
	IdleGrace          time.Duration `json:"idle_grace"`           // Wait after the status-check message (default 5m)
	TaskTimeout        time.Duration `json:"task_timeout"`         // InProgress without progress messages (default 2h)
	TaskExtension      time.Duration `json:"task_extension"`       // One-time deadline extension (default 1h)
	CriticalAckTimeout time.Duration `json:"critical_ack_timeout"` // Unacknowledged Critical message (default 15m)
	ResendGrace        time.Duration `json:"resend_grace"`         // Wait after the URGENT resend (default 5m)
	CrashTimeout       time.Duration `json:"crash_timeout"`        // Fully unresponsive after status check (default 5m)
}

// DefaultConfig returns the standard timeout table.
func DefaultConfig() Config {
	return Config{
		PollInterval:       60 * time.Second,
		IdleTimeout:        30 * time.Minute,
		IdleGrace:          5 * time.Minute,
		TaskTimeout:        2 * time.Hour,
		TaskExtension:      time.Hour,
		CriticalAckTimeout: 15 * time.Minute,
		ResendGrace:        5 * time.Minute,
		CrashTimeout:       5 * time.Minute,
	}
}

// WorkerView is the liveness snapshot the monitor polls for each worker.
// The monitor only reads snapshots; it never blocks or mutates workers.
type WorkerView struct {
	WorkerID      string
	TaskID        string // Empty when the worker holds no task
	InProgress    bool   // Task has entered active execution
	LastHeartbeat time.Time
	TaskStartedAt time.Time
	LastProgress  time.Time // Last progress message; zero if none yet
	StatusCheckAt time.Time // When a status-check was sent; zero if none pending
	Extended      bool      // Task deadline already extended once
}

// WorkerSource supplies liveness snapshots, typically the supervisor.
type WorkerSource interface {
	WorkerViews() []WorkerView
}

// MessageSource reports unacknowledged Critical messages; satisfied by
// *messaging.Mailbox.
type MessageSource interface {
	UnackedCritical(olderThan time.Duration) []messaging.Message
}

// Monitor polls worker liveness on a fixed timer and classifies stalls.
// Classified events are handed to the sink (the supervisor queue); the
// monitor itself never takes recovery actions.
type Monitor struct {
	cfg      Config
	workers  WorkerSource
	messages MessageSource
	sink     func(FailureEvent)

	// Dedup state so one stall yields one event until it is resolved.
	emitted map[string]bool

	now func() time.Time
}

// New creates a monitor. The sink is invoked synchronously from the poll
// loop; it must be cheap (enqueue and return).
func New(cfg Config, workers WorkerSource, messages MessageSource, sink func(FailureEvent)) *Monitor {
	return &Monitor{
		cfg:      cfg,
		workers:  workers,
		messages: messages,
		sink:     sink,
		emitted:  make(map[string]bool),
		now:      time.Now,
	}
}

// Run polls until the context is cancelled. Runs on its own goroutine,
// independent of worker progress.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll performs one classification pass. Exported so the supervisor and tests
// can drive it deterministically.
func (m *Monitor) Poll() {
	now := m.now()

	for _, view := range m.workers.WorkerViews() {
		m.classifyWorker(view, now)
	}

	for _, msg := range m.messages.UnackedCritical(m.cfg.CriticalAckTimeout) {
		key := "msg/" + msg.ID
		if m.emitted[key] {
			continue
		}
		m.emitted[key] = true

		event := NewFailureEvent(FailureMessageTimeout, msg.To, "", ActionResendUrgent, msg.SentAt, now,
			fmt.Sprintf("critical message %s unacknowledged for %s", msg.ID, now.Sub(msg.SentAt).Round(time.Second)))
		event.MessageID = msg.ID
		m.emit(event)
	}
}

func (m *Monitor) classifyWorker(view WorkerView, now time.Time) {
	if view.TaskID == "" {
		return
	}

	// Crash: fully unresponsive after a status check.
	if !view.StatusCheckAt.IsZero() &&
		now.Sub(view.StatusCheckAt) >= m.cfg.CrashTimeout &&
		view.LastHeartbeat.Before(view.StatusCheckAt) {
		key := "crash/" + view.WorkerID
		if !m.emitted[key] {
			m.emitted[key] = true
			m.emit(NewFailureEvent(FailureCrash, view.WorkerID, view.TaskID, ActionDeclareLost,
				view.StatusCheckAt, now,
				fmt.Sprintf("no response %s after status check", now.Sub(view.StatusCheckAt).Round(time.Second))))
		}
		return
	}

	// Idle: heartbeat silence while the task is still claimed.
	if view.StatusCheckAt.IsZero() && now.Sub(view.LastHeartbeat) >= m.cfg.IdleTimeout {
		key := "idle/" + view.WorkerID
		if !m.emitted[key] {
			m.emitted[key] = true
			m.emit(NewFailureEvent(FailureIdleTimeout, view.WorkerID, view.TaskID, ActionStatusCheck,
				view.LastHeartbeat, now,
				fmt.Sprintf("no heartbeat for %s", now.Sub(view.LastHeartbeat).Round(time.Second))))
		}
	}

	// Task: in progress too long without a progress message. The first stall
	// earns the one-time extension; a task that stalls past the extended
	// deadline escalates to declare-lost.
	if view.InProgress {
		lastSign := view.LastProgress
		if lastSign.IsZero() {
			lastSign = view.TaskStartedAt
		}
		stalled := now.Sub(lastSign)

		deadline := m.cfg.TaskTimeout
		action := ActionExtendDeadline
		if view.Extended {
			deadline = m.cfg.TaskTimeout + m.cfg.TaskExtension
			action = ActionDeclareLost
		}

		if stalled >= deadline {
			key := "task/" + view.TaskID
			if !m.emitted[key] {
				m.emitted[key] = true
				detail := fmt.Sprintf("no progress for %s", stalled.Round(time.Second))
				if view.Extended {
					detail += " despite the deadline extension"
				}
				m.emit(NewFailureEvent(FailureTaskTimeout, view.WorkerID, view.TaskID, action,
					view.TaskStartedAt, now, detail))
			}
		}
	}
}

func (m *Monitor) emit(event FailureEvent) {
	log.Printf("monitor: %s worker=%s task=%s detection latency=%s action=%s",
		event.Kind, event.WorkerID, event.TaskID, event.DetectionLatency().Round(time.Second), event.Action)
	m.sink(event)
}

// Resolve clears the dedup state for a handled event so the same stall can be
// re-detected if it recurs.
func (m *Monitor) Resolve(event FailureEvent) {
	switch event.Kind {
	case FailureCrash:
		delete(m.emitted, "crash/"+event.WorkerID)
		delete(m.emitted, "idle/"+event.WorkerID)
	case FailureIdleTimeout:
		delete(m.emitted, "idle/"+event.WorkerID)
	case FailureTaskTimeout:
		delete(m.emitted, "task/"+event.TaskID)
	case FailureMessageTimeout:
		delete(m.emitted, "msg/"+event.MessageID)
	}
}
