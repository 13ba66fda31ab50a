// Package metrics collects the session's observability surface: per-worker
// utilization and message counts, iteration cycles, and per-failure-kind
// detection and recovery latencies.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aristath/teamster/internal/monitor"
)

// Registry accumulates metrics for one team session.
type Registry struct {
	mu sync.Mutex

	recoveryProbability float64

	workers    map[string]*workerStats
	failures   map[monitor.FailureKind]*failureStats
	iterations int
	unresolved int
}

type workerStats struct {
	spawnedAt   time.Time
	finishedAt  time.Time
	activeSince time.Time
	activeTotal time.Duration
	messages    int
}

type failureStats struct {
	count      int
	detection  []time.Duration
	recovery   []time.Duration
	unresolved int
}

// NewRegistry creates a registry. recoveryProbability is the per-event
// independent recovery probability used for the cascade survival estimate
// (default 0.95 if out of range).
func NewRegistry(recoveryProbability float64) *Registry {
	if recoveryProbability <= 0 || recoveryProbability > 1 {
		recoveryProbability = 0.95
	}
	return &Registry{
		recoveryProbability: recoveryProbability,
		workers:             make(map[string]*workerStats),
		failures:            make(map[monitor.FailureKind]*failureStats),
	}
}

// WorkerSpawned records a worker joining the team.
func (r *Registry) WorkerSpawned(workerID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[workerID] = &workerStats{spawnedAt: at}
}

// WorkerActive marks the start of an active stretch for a worker.
func (r *Registry) WorkerActive(workerID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok && w.activeSince.IsZero() {
		w.activeSince = at
	}
}

// WorkerIdle marks the end of an active stretch for a worker.
func (r *Registry) WorkerIdle(workerID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok && !w.activeSince.IsZero() {
		w.activeTotal += at.Sub(w.activeSince)
		w.activeSince = time.Time{}
	}
}

// WorkerFinished records a worker leaving the team.
func (r *Registry) WorkerFinished(workerID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		if !w.activeSince.IsZero() {
			w.activeTotal += at.Sub(w.activeSince)
			w.activeSince = time.Time{}
		}
		w.finishedAt = at
	}
}

// MessageSent counts one message attributed to a worker.
func (r *Registry) MessageSent(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.messages++
	}
}

// IterationCycle counts one consolidation fix-and-retry iteration.
func (r *Registry) IterationCycle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations++
}

// FailureDetected records a classified failure and its detection latency.
func (r *Registry) FailureDetected(kind monitor.FailureKind, detectionLatency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.failureStats(kind)
	f.count++
	f.unresolved++
	f.detection = append(f.detection, detectionLatency)
	r.unresolved++
}

// FailureResolved records a failure's resolution time.
func (r *Registry) FailureResolved(kind monitor.FailureKind, resolutionTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.failureStats(kind)
	if f.unresolved > 0 {
		f.unresolved--
		r.unresolved--
	}
	f.recovery = append(f.recovery, resolutionTime)
}

func (r *Registry) failureStats(kind monitor.FailureKind) *failureStats {
	f, ok := r.failures[kind]
	if !ok {
		f = &failureStats{}
		r.failures[kind] = f
	}
	return f
}

// WorkerSnapshot is the per-worker metrics view.
type WorkerSnapshot struct {
	WorkerID    string
	Utilization float64 // Active time / total lifetime
	Messages    int
}

// FailureSnapshot is the per-failure-kind metrics view.
type FailureSnapshot struct {
	Kind         monitor.FailureKind
	Count        int
	Unresolved   int
	DetectionP50 time.Duration
	DetectionP95 time.Duration
	RecoveryP50  time.Duration
	RecoveryP95  time.Duration
}

// Snapshot is a point-in-time copy of all session metrics.
type Snapshot struct {
	Workers         []WorkerSnapshot
	Failures        []FailureSnapshot
	Iterations      int
	Unresolved      int
	CascadeSurvival float64 // p^k for k currently-unresolved failures
}

// Snapshot returns the current metrics. asOf bounds utilization for workers
// that are still running.
func (r *Registry) Snapshot(asOf time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Iterations:      r.iterations,
		Unresolved:      r.unresolved,
		CascadeSurvival: math.Pow(r.recoveryProbability, float64(r.unresolved)),
	}

	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		w := r.workers[id]

		end := w.finishedAt
		if end.IsZero() {
			end = asOf
		}
		active := w.activeTotal
		if !w.activeSince.IsZero() {
			active += end.Sub(w.activeSince)
		}

		total := end.Sub(w.spawnedAt)
		utilization := 0.0
		if total > 0 {
			utilization = float64(active) / float64(total)
		}

		snap.Workers = append(snap.Workers, WorkerSnapshot{
			WorkerID:    id,
			Utilization: utilization,
			Messages:    w.messages,
		})
	}

	kinds := make([]monitor.FailureKind, 0, len(r.failures))
	for kind := range r.failures {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		f := r.failures[kind]
		snap.Failures = append(snap.Failures, FailureSnapshot{
			Kind:         kind,
			Count:        f.count,
			Unresolved:   f.unresolved,
			DetectionP50: percentile(f.detection, 0.50),
			DetectionP95: percentile(f.detection, 0.95),
			RecoveryP50:  percentile(f.recovery, 0.50),
			RecoveryP95:  percentile(f.recovery, 0.95),
		})
	}

	return snap
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
