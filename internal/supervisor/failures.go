package supervisor

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aristath/teamster/internal/events"
	"github.com/aristath/teamster/internal/messaging"
	"github.com/aristath/teamster/internal/monitor"
)

// enqueueFailure is the monitor's sink. It never blocks the poll loop.
func (s *Supervisor) enqueueFailure(e monitor.FailureEvent) {
	select {
	case s.failureCh <- e:
	default:
		log.Printf("ERROR: failure queue full, dropping %s for worker %s", e.Kind, e.WorkerID)
	}
}

// failureKey mirrors the monitor's dedup keying so detection and resolution
// pair up.
func failureKey(e monitor.FailureEvent) string {
	switch e.Kind {
	case monitor.FailureTaskTimeout:
		return string(e.Kind) + "/" + e.TaskID
	case monitor.FailureMessageTimeout:
		return string(e.Kind) + "/" + e.MessageID
	default:
		return string(e.Kind) + "/" + e.WorkerID
	}
}

// handleFailure applies the monitor's suggested action. Runs on the control
// loop, so all recovery mutations are serialized with worker requests.
func (s *Supervisor) handleFailure(e monitor.FailureEvent) {
	s.registry.FailureDetected(e.Kind, e.DetectionLatency())
	s.bus.Publish(events.FailureDetectedEvent{Failure: e, Timestamp: s.now()})

	s.mu.Lock()
	s.pendingFailures[failureKey(e)] = e
	s.mu.Unlock()

	switch e.Action {
	case monitor.ActionStatusCheck:
		s.sendStatusCheck(e)
	case monitor.ActionExtendDeadline:
		s.extendDeadline(e)
	case monitor.ActionResendUrgent:
		s.resendUrgent(e)
	case monitor.ActionDeclareLost:
		s.declareLost(e)
	}

	s.checkCascadeBudget()
}

// sendStatusCheck opens the idle-timeout grace window: a Critical message the
// worker must answer (any heartbeat counts) before the crash timeout.
func (s *Supervisor) sendStatusCheck(e monitor.FailureEvent) {
	msg, err := s.mailbox.Send(messaging.Supervisor, e.WorkerID, messaging.Critical,
		fmt.Sprintf("status check: no heartbeat since %s, report progress on %s", e.Onset.Format(time.RFC3339), e.TaskID))
	if err != nil {
		if errors.Is(err, messaging.ErrNotRegistered) {
			// Worker already gone; escalate straight to lost.
			e.Action = monitor.ActionDeclareLost
			s.declareLost(e)
			return
		}
		log.Printf("ERROR: sending status check to %s: %v", e.WorkerID, err)
		return
	}
	s.registry.MessageSent(e.WorkerID)

	now := s.now()
	s.mu.Lock()
	if entry := s.workers[e.WorkerID]; entry != nil {
		entry.statusCheckAt = now
		entry.statusCheckMsg = msg.ID
	}
	s.mu.Unlock()
}

// extendDeadline grants the one-time task deadline extension.
func (s *Supervisor) extendDeadline(e monitor.FailureEvent) {
	s.mu.Lock()
	entry := s.workers[e.WorkerID]
	if entry != nil {
		entry.extended = true
	}
	s.mu.Unlock()

	if entry == nil {
		return
	}

	if _, err := s.mailbox.Send(messaging.Supervisor, e.WorkerID, messaging.Info,
		fmt.Sprintf("deadline extended for %s by %s", e.TaskID, s.cfg.Monitor.TaskExtension)); err != nil {
		log.Printf("WARNING: notifying %s of extension: %v", e.WorkerID, err)
	} else {
		s.registry.MessageSent(e.WorkerID)
	}

	// The extension resolves this event; a stall past the extended deadline
	// is re-detected by the monitor and escalates to declare-lost.
	s.resolvePending(failureKey(e), s.now())
}

// resendUrgent redelivers an unacknowledged Critical message marked URGENT.
// The failure stays open until the message is acknowledged.
func (s *Supervisor) resendUrgent(e monitor.FailureEvent) {
	if _, err := s.mailbox.Resend(e.MessageID); err != nil {
		log.Printf("WARNING: resending message %s to %s: %v", e.MessageID, e.WorkerID, err)
		return
	}
	s.registry.MessageSent(e.WorkerID)
}

// declareLost retires a crashed worker and hands its task to a replacement.
// Cancellation precedes release, so there is never a moment with two live
// owners. Each task gets at most one replacement; a second loss is permanent.
func (s *Supervisor) declareLost(e monitor.FailureEvent) {
	s.mu.Lock()
	entry := s.workers[e.WorkerID]
	if entry == nil || entry.lost || entry.finished {
		s.mu.Unlock()
		return
	}
	entry.lost = true
	cancel := entry.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Void the lost worker's mail before anything else happens on its behalf.
	s.mailbox.Unregister(e.WorkerID)

	now := s.now()
	s.registry.WorkerFinished(e.WorkerID, now)
	s.bus.Publish(events.WorkerLostEvent{WorkerID: e.WorkerID, TaskID: e.TaskID, Timestamp: now})
	log.Printf("worker %s declared lost (task %s)", e.WorkerID, e.TaskID)

	task, ok := s.dag.Get(e.TaskID)
	if !ok || task.Status.Terminal() {
		s.resolvePending(failureKey(e), now)
		s.signalWake()
		return
	}

	if task.Reassigned {
		err := fmt.Errorf("worker %s lost after task was already reassigned once", e.WorkerID)
		if markErr := s.dag.MarkFailed(e.TaskID, err); markErr != nil {
			log.Printf("ERROR: failing twice-lost task %s: %v", e.TaskID, markErr)
		}
		s.bus.Publish(events.TaskFailedEvent{TaskID: e.TaskID, WorkerID: e.WorkerID, Err: err, Permanent: true, Timestamp: now})
	} else {
		if err := s.dag.MarkReassigned(e.TaskID); err != nil {
			log.Printf("ERROR: marking %s reassigned: %v", e.TaskID, err)
		}
		if err := s.dag.ReleaseClaim(e.TaskID); err != nil {
			log.Printf("ERROR: releasing claim on %s: %v", e.TaskID, err)
		}
		s.mu.Lock()
		s.lostBy[e.TaskID] = e.WorkerID
		delete(s.assigned, e.TaskID)
		s.mu.Unlock()
	}

	s.resolvePending(failureKey(e), now)
	s.signalWake()
}

// resolvePending closes out a tracked failure: metrics, event, monitor dedup.
func (s *Supervisor) resolvePending(key string, at time.Time) {
	s.mu.Lock()
	e, ok := s.pendingFailures[key]
	if ok {
		delete(s.pendingFailures, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	e.ResolvedAt = at
	s.registry.FailureResolved(e.Kind, e.ResolutionTime())
	s.bus.Publish(events.FailureResolvedEvent{Failure: e, Timestamp: at})
	s.mon.Resolve(e)
}

// checkCascadeBudget aborts the session once unresolved failures exceed the
// cascade threshold: with independent recovery probability p, k simultaneous
// failures survive with probability p^k, and past the threshold a rollback is
// cheaper than recovery.
func (s *Supervisor) checkCascadeBudget() {
	snap := s.registry.Snapshot(s.now())
	if snap.Unresolved <= s.cfg.CascadeThreshold {
		return
	}

	s.mu.Lock()
	if s.rollback {
		s.mu.Unlock()
		return
	}
	s.rollback = true
	s.rollbackReason = fmt.Sprintf("%d unresolved failures exceed the cascade budget of %d (survival estimate %.6f)",
		snap.Unresolved, s.cfg.CascadeThreshold, snap.CascadeSurvival)
	abort := s.abort
	reason := s.rollbackReason
	s.mu.Unlock()

	log.Printf("ERROR: %s", reason)
	s.bus.Publish(events.RollbackRecommendedEvent{Reason: reason, Timestamp: s.now()})
	if abort != nil {
		abort()
	}
}
