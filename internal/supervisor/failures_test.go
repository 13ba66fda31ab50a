package supervisor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/teamster/internal/events"
	"github.com/aristath/teamster/internal/monitor"
	"github.com/aristath/teamster/internal/quanta"
	"github.com/aristath/teamster/internal/scheduler"
	"github.com/aristath/teamster/internal/worker"
)

func crashEvent(workerID, taskID string) monitor.FailureEvent {
	now := time.Now()
	return monitor.NewFailureEvent(monitor.FailureCrash, workerID, taskID,
		monitor.ActionDeclareLost, now.Add(-6*time.Minute), now, "no response after status check")
}

// seedTask installs a single claimed task and its owning worker entry.
func seedTask(s *Supervisor, taskID, workerID string) context.Context {
	dag := scheduler.NewDAG()
	_ = dag.AddTask(&scheduler.Task{ID: taskID, Domain: quanta.DomainEngine, Status: scheduler.TaskPending})
	_ = dag.Claim(taskID, workerID)
	s.dag = dag

	ctx, cancel := context.WithCancel(context.Background())
	s.workers[workerID] = &workerEntry{id: workerID, taskID: taskID, cancel: cancel}
	s.mailbox.Register(workerID)
	return ctx
}

func TestDeclareLostReassignsOnce(t *testing.T) {
	s, _ := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	wctx := seedTask(s, "task-engine", "w1")
	s.assigned["task-engine"] = "w1"

	s.declareLost(crashEvent("w1", "task-engine"))

	if wctx.Err() == nil {
		t.Error("lost worker's context must be cancelled")
	}

	task, _ := s.dag.Get("task-engine")
	if !task.Reassigned {
		t.Error("task not marked reassigned")
	}
	if task.Owner != "" {
		t.Errorf("owner = %q, want released", task.Owner)
	}
	if task.Status != scheduler.TaskPending {
		t.Errorf("status = %s, want pending for the replacement", task.Status)
	}
	if s.lostBy["task-engine"] != "w1" {
		t.Error("lost worker not recorded for the reassignment event")
	}
	if _, taken := s.assigned["task-engine"]; taken {
		t.Error("assignment not cleared; the pump could never respawn")
	}
}

func TestDeclareLostSecondTimeIsPermanent(t *testing.T) {
	s, bus := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	all := bus.SubscribeAll(256)

	seedTask(s, "task-engine", "w1")
	s.declareLost(crashEvent("w1", "task-engine"))

	// Replacement claims and is lost too.
	if err := s.dag.Claim("task-engine", "w2"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	ctx2, cancel2 := context.WithCancel(context.Background())
	s.workers["w2"] = &workerEntry{id: "w2", taskID: "task-engine", cancel: cancel2}
	s.mailbox.Register("w2")

	s.declareLost(crashEvent("w2", "task-engine"))

	if ctx2.Err() == nil {
		t.Error("second lost worker's context must be cancelled")
	}
	task, _ := s.dag.Get("task-engine")
	if task.Status != scheduler.TaskFailed {
		t.Errorf("status = %s; one replacement max, then permanent failure", task.Status)
	}

	counts := collectEvents(all)
	if counts[events.EventTypeWorkerLost] != 2 {
		t.Errorf("worker.lost events = %d, want 2", counts[events.EventTypeWorkerLost])
	}
	if counts[events.EventTypeTaskFailed] != 1 {
		t.Errorf("task.failed events = %d, want 1", counts[events.EventTypeTaskFailed])
	}
}

func TestDeclareLostIdempotent(t *testing.T) {
	s, _ := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	seedTask(s, "task-engine", "w1")

	e := crashEvent("w1", "task-engine")
	s.declareLost(e)
	s.declareLost(e) // Duplicate classification must not double-retire

	task, _ := s.dag.Get("task-engine")
	if task.Status != scheduler.TaskPending {
		t.Errorf("status = %s; duplicate loss must not fail the task", task.Status)
	}
}

func TestFailTaskExhaustionReassignsBeforePermanence(t *testing.T) {
	s, bus := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	all := bus.SubscribeAll(256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serve(ctx)

	seedTask(s, "task-engine", "w1")
	s.assigned["task-engine"] = "w1"

	// Burn through the attempt budget the way the first worker would have.
	for range 3 {
		s.tracker.Attempt(monitor.FailureLocalValidation, "task-engine")
	}

	cause := &worker.ExhaustedError{Kind: monitor.FailureLocalValidation, Attempts: 3, Diagnostic: "does not build"}
	if err := s.FailTask(ctx, "w1", "task-engine", cause); err != nil {
		t.Fatalf("FailTask: %v", err)
	}

	task, _ := s.dag.Get("task-engine")
	if !task.Reassigned {
		t.Error("first exhaustion must hand the task to a replacement, not fail it")
	}
	if task.Status != scheduler.TaskPending || task.Owner != "" {
		t.Errorf("task = %s owner %q, want pending and released", task.Status, task.Owner)
	}
	if _, taken := s.assigned["task-engine"]; taken {
		t.Error("assignment not cleared; the pump could never respawn")
	}
	if allowed, _, _ := s.tracker.Attempt(monitor.FailureLocalValidation, "task-engine"); !allowed {
		t.Error("replacement should start with a fresh attempt budget")
	}

	// The replacement exhausts its budget too: that one is permanent.
	if err := s.dag.Claim("task-engine", "w2"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	s.workers["w2"] = &workerEntry{id: "w2", taskID: "task-engine"}
	if err := s.FailTask(ctx, "w2", "task-engine", cause); err != nil {
		t.Fatalf("FailTask: %v", err)
	}

	task, _ = s.dag.Get("task-engine")
	if task.Status != scheduler.TaskFailed {
		t.Errorf("status = %s; one replacement max, then permanent failure", task.Status)
	}
	if task.Owner != "" {
		t.Errorf("failed task owner = %q, want released", task.Owner)
	}

	var permanence []bool
drain:
	for {
		select {
		case e := <-all:
			if f, ok := e.(events.TaskFailedEvent); ok {
				permanence = append(permanence, f.Permanent)
			}
		default:
			break drain
		}
	}
	if len(permanence) != 2 || permanence[0] || !permanence[1] {
		t.Errorf("task.failed permanence = %v, want [false true]", permanence)
	}
}

func TestRecoveryMessagesCountedPerWorker(t *testing.T) {
	s, _ := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	seedTask(s, "task-engine", "w1")
	s.registry.WorkerSpawned("w1", time.Now())

	idle := monitor.NewFailureEvent(monitor.FailureIdleTimeout, "w1", "task-engine",
		monitor.ActionStatusCheck, time.Now().Add(-31*time.Minute), time.Now(), "no heartbeat")
	s.handleFailure(idle)

	stall := monitor.NewFailureEvent(monitor.FailureTaskTimeout, "w1", "task-engine",
		monitor.ActionExtendDeadline, time.Now().Add(-3*time.Hour), time.Now(), "no progress")
	s.handleFailure(stall)

	snap := s.registry.Snapshot(time.Now())
	if len(snap.Workers) != 1 {
		t.Fatalf("workers = %+v, want only w1", snap.Workers)
	}
	// Status check plus extension notice, both attributed to the recipient.
	if snap.Workers[0].Messages != 2 {
		t.Errorf("messages = %d, want 2", snap.Workers[0].Messages)
	}
}

func TestStatusCheckOpensGraceWindow(t *testing.T) {
	s, _ := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	seedTask(s, "task-engine", "w1")

	idle := monitor.NewFailureEvent(monitor.FailureIdleTimeout, "w1", "task-engine",
		monitor.ActionStatusCheck, time.Now().Add(-31*time.Minute), time.Now(), "no heartbeat")
	s.handleFailure(idle)

	entry := s.workers["w1"]
	if entry.statusCheckAt.IsZero() || entry.statusCheckMsg == "" {
		t.Fatal("status check not recorded on the worker entry")
	}
	if stale := s.mailbox.UnackedCritical(0); len(stale) != 1 {
		t.Fatalf("expected 1 pending critical message, got %d", len(stale))
	}
}

func TestExtendDeadlineIsOneTime(t *testing.T) {
	s, _ := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	seedTask(s, "task-engine", "w1")

	stall := monitor.NewFailureEvent(monitor.FailureTaskTimeout, "w1", "task-engine",
		monitor.ActionExtendDeadline, time.Now().Add(-3*time.Hour), time.Now(), "no progress")
	s.handleFailure(stall)

	if !s.workers["w1"].extended {
		t.Error("extension not recorded")
	}

	// The extended flag is visible to the monitor, which enforces the
	// extended deadline and escalates a second stall to declare-lost.
	views := s.WorkerViews()
	if len(views) != 1 || !views[0].Extended {
		t.Errorf("views = %+v", views)
	}

	snap := s.registry.Snapshot(time.Now())
	if snap.Unresolved != 0 {
		t.Errorf("extension should resolve the failure, unresolved = %d", snap.Unresolved)
	}
}

func TestCascadeBudgetTriggersRollback(t *testing.T) {
	s, bus := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	all := bus.SubscribeAll(256)

	s.dag = scheduler.NewDAG()
	_, cancel := context.WithCancel(context.Background())
	aborted := false
	s.abort = func() { aborted = true; cancel() }

	// Four unresolved crashes of unknown workers: over the threshold of 3.
	for i := range 4 {
		s.handleFailure(crashEvent(fmt.Sprintf("ghost-%d", i), "task-engine"))
	}

	if !s.rollback {
		t.Fatal("cascade budget exceeded but rollback not set")
	}
	if !aborted {
		t.Error("session not aborted")
	}

	counts := collectEvents(all)
	if counts[events.EventTypeRollbackRecommended] == 0 {
		t.Error("no rollback event published")
	}
}

func TestCascadeBudgetWithinThresholdNoRollback(t *testing.T) {
	s, _ := newTestSupervisor(&mapProducer{}, passingChecker("consolidation"))
	s.dag = scheduler.NewDAG()

	for i := range 3 {
		s.handleFailure(crashEvent(fmt.Sprintf("ghost-%d", i), "task-engine"))
	}

	if s.rollback {
		t.Error("3 unresolved failures are within the cascade budget of 3")
	}
}
