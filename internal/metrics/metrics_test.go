package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/teamster/internal/monitor"
)

func TestWorkerUtilization(t *testing.T) {
	r := NewRegistry(0.95)
	base := time.Now()

	r.WorkerSpawned("w1", base)
	r.WorkerActive("w1", base.Add(1*time.Minute))
	r.WorkerIdle("w1", base.Add(3*time.Minute))
	r.WorkerFinished("w1", base.Add(4*time.Minute))

	snap := r.Snapshot(base.Add(4 * time.Minute))
	if len(snap.Workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(snap.Workers))
	}

	// 2 minutes active over a 4-minute lifetime.
	if got := snap.Workers[0].Utilization; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("utilization = %v, want 0.5", got)
	}
}

func TestWorkerUtilizationStillActive(t *testing.T) {
	r := NewRegistry(0.95)
	base := time.Now()

	r.WorkerSpawned("w1", base)
	r.WorkerActive("w1", base)

	snap := r.Snapshot(base.Add(10 * time.Minute))
	if got := snap.Workers[0].Utilization; math.Abs(got-1.0) > 1e-9 {
		t.Errorf("utilization for continuously active worker = %v, want 1.0", got)
	}
}

func TestMessageCounts(t *testing.T) {
	r := NewRegistry(0.95)
	r.WorkerSpawned("w1", time.Now())

	for range 3 {
		r.MessageSent("w1")
	}

	snap := r.Snapshot(time.Now())
	if snap.Workers[0].Messages != 3 {
		t.Errorf("messages = %d, want 3", snap.Workers[0].Messages)
	}
}

func TestFailureLatencies(t *testing.T) {
	r := NewRegistry(0.95)

	for _, d := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second} {
		r.FailureDetected(monitor.FailureIdleTimeout, d)
		r.FailureResolved(monitor.FailureIdleTimeout, d*10)
	}

	snap := r.Snapshot(time.Now())
	if len(snap.Failures) != 1 {
		t.Fatalf("expected 1 failure kind, got %d", len(snap.Failures))
	}

	f := snap.Failures[0]
	if f.Kind != monitor.FailureIdleTimeout || f.Count != 4 {
		t.Errorf("unexpected failure snapshot %+v", f)
	}
	if f.DetectionP50 != 3*time.Second {
		t.Errorf("DetectionP50 = %v", f.DetectionP50)
	}
	if f.DetectionP95 != 4*time.Second {
		t.Errorf("DetectionP95 = %v", f.DetectionP95)
	}
	if f.RecoveryP95 != 40*time.Second {
		t.Errorf("RecoveryP95 = %v", f.RecoveryP95)
	}
}

func TestCascadeSurvival(t *testing.T) {
	r := NewRegistry(0.95)

	for range 3 {
		r.FailureDetected(monitor.FailureCrash, time.Second)
	}

	snap := r.Snapshot(time.Now())
	if snap.Unresolved != 3 {
		t.Fatalf("unresolved = %d, want 3", snap.Unresolved)
	}

	// 0.95^3 = 0.857375
	if math.Abs(snap.CascadeSurvival-0.857375) > 1e-9 {
		t.Errorf("CascadeSurvival = %v, want 0.857375", snap.CascadeSurvival)
	}

	r.FailureResolved(monitor.FailureCrash, time.Minute)
	snap = r.Snapshot(time.Now())
	if snap.Unresolved != 2 {
		t.Errorf("unresolved after resolution = %d, want 2", snap.Unresolved)
	}
}

func TestIterationCycles(t *testing.T) {
	r := NewRegistry(0.95)
	r.IterationCycle()
	r.IterationCycle()

	if got := r.Snapshot(time.Now()).Iterations; got != 2 {
		t.Errorf("iterations = %d, want 2", got)
	}
}
