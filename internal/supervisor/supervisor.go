// Package supervisor implements the team lead: the single writer over the
// shared task graph. It sizes the team, spawns one worker per quantum, routes
// mutation requests through one serialized loop, reacts to classified
// failures, and runs the consolidation barrier at the end of the session.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/teamster/internal/checker"
	"github.com/aristath/teamster/internal/decision"
	"github.com/aristath/teamster/internal/events"
	"github.com/aristath/teamster/internal/guard"
	"github.com/aristath/teamster/internal/messaging"
	"github.com/aristath/teamster/internal/metrics"
	"github.com/aristath/teamster/internal/monitor"
	"github.com/aristath/teamster/internal/quanta"
	"github.com/aristath/teamster/internal/retry"
	"github.com/aristath/teamster/internal/scheduler"
	"github.com/aristath/teamster/internal/worker"
)

var (
	// ErrTasksFailed marks a session where one or more tasks failed permanently.
	ErrTasksFailed = errors.New("one or more tasks failed permanently")
	// ErrRollbackRecommended marks a session that ended with a rollback
	// recommendation, from consolidation or the cascade budget.
	ErrRollbackRecommended = errors.New("session recommends rollback")
)

// Config collects every tunable of a team session. All thresholds and tables
// are data; the supervisor carries no hardcoded policy.
type Config struct {
	Rules      []quanta.Rule
	Thresholds decision.Thresholds

	// Chains are the domain ordering rules ("schema before engine before
	// integration"); Declared adds explicit task-level dependency edges.
	Chains   [][]quanta.Domain
	Declared map[string][]string

	Monitor  monitor.Config
	Policies retry.Set
	Backoff  retry.BackoffConfig

	Concurrency    int
	MailboxBuffer  int
	HeartbeatEvery time.Duration

	MaxFixIterations    int
	CascadeThreshold    int
	RecoveryProbability float64
}

// DefaultConfig returns the standard session tuning. Rules are left empty;
// they come from the configuration file.
func DefaultConfig() Config {
	return Config{
		Thresholds: decision.DefaultThresholds(),
		Chains: [][]quanta.Domain{
			{quanta.DomainSchema, quanta.DomainEngine, quanta.DomainIntegration},
		},
		Monitor:             monitor.DefaultConfig(),
		Policies:            retry.DefaultSet(),
		Backoff:             retry.DefaultBackoffConfig(),
		Concurrency:         5,
		MailboxBuffer:       64,
		HeartbeatEvery:      5 * time.Minute,
		MaxFixIterations:    2,
		CascadeThreshold:    3,
		RecoveryProbability: 0.95,
	}
}

// Result is the full session report.
type Result struct {
	TeamID   string
	Decision decision.Decision
	Tasks    []*scheduler.Task

	ConsolidationPassed bool
	FixIterations       int

	RollbackRecommended bool
	RollbackReason      string

	Messages []messaging.Message
	Metrics  metrics.Snapshot
}

// mutation is one serialized write request from a worker.
type mutation struct {
	apply func() error
	resp  chan error
}

// workerEntry is the supervisor's liveness record for one worker.
type workerEntry struct {
	id            string
	taskID        string
	state         worker.State
	inProgress    bool
	lastHeartbeat time.Time
	taskStartedAt time.Time
	lastProgress  time.Time

	statusCheckAt  time.Time
	statusCheckMsg string
	extended       bool

	lost     bool
	finished bool
	cancel   context.CancelFunc
}

// Supervisor is the team lead. It is the only writer of task state: workers
// request mutations through the Lead interface and the requests are applied
// one at a time by the control loop.
type Supervisor struct {
	cfg Config

	producer      worker.Producer
	localCheck    checker.Checker
	consolidation checker.Checker
	scanner       *guard.Scanner

	bus      *events.EventBus
	mailbox  *messaging.Mailbox
	registry *metrics.Registry
	breakers *retry.BreakerRegistry
	tracker  *retry.Tracker
	mon      *monitor.Monitor

	dag    *scheduler.DAG
	teamID string

	mutCh     chan mutation
	failureCh chan monitor.FailureEvent
	wake      chan struct{}

	mu              sync.RWMutex
	workers         map[string]*workerEntry
	assigned        map[string]string // taskID -> workerID scheduled for it
	lostBy          map[string]string // taskID -> worker it was reassigned away from
	pendingFailures map[string]monitor.FailureEvent
	rollback        bool
	rollbackReason  string
	abort           context.CancelFunc

	now func() time.Time
}

// New assembles a supervisor. The producer generates task output, localCheck
// validates individual worker output, and consolidation validates the
// combined result at the session barrier.
func New(cfg Config, producer worker.Producer, localCheck, consolidation checker.Checker,
	scanner *guard.Scanner, bus *events.EventBus) *Supervisor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Policies == nil {
		cfg.Policies = retry.DefaultSet()
	}

	s := &Supervisor{
		cfg:             cfg,
		producer:        producer,
		localCheck:      localCheck,
		consolidation:   consolidation,
		scanner:         scanner,
		bus:             bus,
		mailbox:         messaging.New(cfg.MailboxBuffer),
		registry:        metrics.NewRegistry(cfg.RecoveryProbability),
		breakers:        retry.NewBreakerRegistry(),
		tracker:         retry.NewTracker(cfg.Policies),
		mutCh:           make(chan mutation, 16),
		failureCh:       make(chan monitor.FailureEvent, 16),
		wake:            make(chan struct{}, 1),
		workers:         make(map[string]*workerEntry),
		assigned:        make(map[string]string),
		lostBy:          make(map[string]string),
		pendingFailures: make(map[string]monitor.FailureEvent),
		now:             time.Now,
	}
	s.mon = monitor.New(cfg.Monitor, s, s.mailbox, s.enqueueFailure)
	return s
}

// Mailbox exposes the team mailbox for observers and tests.
func (s *Supervisor) Mailbox() *messaging.Mailbox { return s.mailbox }

// Metrics exposes the session metrics registry.
func (s *Supervisor) Metrics() *metrics.Registry { return s.registry }

// Monitor exposes the heartbeat monitor.
func (s *Supervisor) Monitor() *monitor.Monitor { return s.mon }

// TeamID returns the session's team identity, empty before team mode starts.
func (s *Supervisor) TeamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.teamID
}

// Decide runs classification and the sizing decision without executing
// anything. Pure apart from the published decision event.
func (s *Supervisor) Decide(description string) decision.Decision {
	detected := quanta.NewClassifier(s.cfg.Rules).Classify(description)
	d := decision.Decide(detected, s.cfg.Thresholds)
	s.bus.Publish(events.DecisionMadeEvent{Kind: d.Kind, N: d.N, Timestamp: s.now()})
	return d
}

// Run executes one full session: classify, decide, and in team mode validate
// the graph, run the workers to the join barrier, and consolidate. A Result
// is returned even on error so callers can report partial state.
func (s *Supervisor) Run(ctx context.Context, description string) (*Result, error) {
	d := s.Decide(description)
	result := &Result{Decision: d}

	if d.Kind != decision.TeamMode {
		log.Printf("decision: %s (N=%d): %s", d.Kind, d.N, d.Guidance)
		return result, nil
	}

	dag, err := scheduler.BuildDAG(d.Quanta, s.cfg.Chains, s.cfg.Declared)
	if err != nil {
		return result, fmt.Errorf("building task graph: %w", err)
	}

	order, err := dag.Validate()
	if err != nil {
		var cycleErr *scheduler.CycleError
		if errors.As(err, &cycleErr) {
			failure := monitor.NewFailureEvent(monitor.FailureCycleDetected, "", "", "", s.now(), s.now(), cycleErr.Error())
			s.bus.Publish(events.FailureDetectedEvent{Failure: failure, Timestamp: s.now()})
		}
		return result, fmt.Errorf("validating task graph: %w", err)
	}

	s.mu.Lock()
	s.dag = dag
	s.teamID = NewTeamID(quanta.Domains(d.Quanta))
	s.mu.Unlock()

	log.Printf("team %s: %d tasks, execution order %v", s.teamID, len(order), order)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.abort = cancel
	s.mu.Unlock()

	s.mailbox.Register(messaging.Supervisor)
	go s.serve(sctx)
	go s.mon.Run(sctx)

	s.runWorkers(sctx)

	result.TeamID = s.teamID
	result.Tasks = s.dag.Tasks()

	defer func() {
		result.Messages = s.mailbox.Log()
		result.Metrics = s.registry.Snapshot(s.now())
	}()

	s.mu.RLock()
	rolledBack, reason := s.rollback, s.rollbackReason
	s.mu.RUnlock()
	if rolledBack {
		result.RollbackRecommended = true
		result.RollbackReason = reason
		return result, ErrRollbackRecommended
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	if s.dag.AnyFailed() {
		// Fail fast: no consolidation over a graph with permanent failures.
		return result, ErrTasksFailed
	}

	passed, iterations, diagnostic, err := s.consolidate(ctx)
	result.ConsolidationPassed = passed
	result.FixIterations = iterations
	result.Tasks = s.dag.Tasks()
	if err != nil {
		return result, fmt.Errorf("consolidation: %w", err)
	}
	if !passed {
		result.RollbackRecommended = true
		result.RollbackReason = fmt.Sprintf("consolidation failed after %d fix iterations: %s", iterations, diagnostic)
		return result, ErrRollbackRecommended
	}

	return result, nil
}

// runWorkers pumps eligible tasks into workers until every task is terminal
// or the session aborts. Dependency joins are driven by wake signals from
// task completions, not polling.
func (s *Supervisor) runWorkers(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for {
		if ctx.Err() != nil || s.dag.AllTerminal() {
			break
		}

		spawned := false
		for _, task := range s.dag.Eligible() {
			s.mu.Lock()
			if _, taken := s.assigned[task.ID]; taken {
				s.mu.Unlock()
				continue
			}
			workerID := newWorkerID(task.Domain)
			s.assigned[task.ID] = workerID
			s.mu.Unlock()

			s.spawnWorker(gctx, g, task, workerID)
			spawned = true
		}
		if spawned {
			continue
		}

		if s.dag.AnyFailed() && s.runningWorkers() == 0 {
			// A failed task leaves its dependents permanently blocked.
			break
		}

		select {
		case <-gctx.Done():
		case <-s.wake:
			continue
		}
		break
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Printf("WARNING: worker group: %v", err)
	}
}

// spawnWorker registers a worker and launches its execution circuit.
func (s *Supervisor) spawnWorker(ctx context.Context, g *errgroup.Group, task *scheduler.Task, workerID string) {
	now := s.now()
	wctx, cancel := context.WithCancel(ctx)

	entry := &workerEntry{
		id:            workerID,
		taskID:        task.ID,
		lastHeartbeat: now,
		cancel:        cancel,
	}
	s.mu.Lock()
	s.workers[workerID] = entry
	lostWorker := s.lostBy[task.ID]
	delete(s.lostBy, task.ID)
	s.mu.Unlock()

	s.mailbox.Register(workerID)
	s.registry.WorkerSpawned(workerID, now)
	s.bus.Publish(events.WorkerSpawnedEvent{WorkerID: workerID, TaskID: task.ID, Timestamp: now})

	if task.Reassigned && lostWorker != "" {
		s.bus.Publish(events.TaskReassignedEvent{
			TaskID:         task.ID,
			LostWorkerID:   lostWorker,
			NewWorkerID:    workerID,
			FromCheckpoint: len(task.Checkpoint) > 0,
			Timestamp:      now,
		})
		log.Printf("task %s reassigned from %s to %s (checkpoint: %t)", task.ID, lostWorker, workerID, len(task.Checkpoint) > 0)
	}

	circuit := worker.NewCircuit(workerID, task.ID, task.Description, s, s.producer,
		s.localCheck, s.breakers.Get(s.localCheck.Name()), s.cfg.Backoff, s.scanner, s.tracker)
	if s.cfg.HeartbeatEvery > 0 {
		circuit.HeartbeatEvery = s.cfg.HeartbeatEvery
	}
	circuit.Notify = func(wID, tID string, from, to worker.State) {
		s.mu.Lock()
		if e := s.workers[wID]; e != nil {
			e.state = to
		}
		s.mu.Unlock()
		s.bus.Publish(events.WorkerStateChangedEvent{
			WorkerID: wID, TaskID: tID,
			From: from.String(), To: to.String(),
			Timestamp: s.now(),
		})
	}

	checkpoint := append([]byte(nil), task.Checkpoint...)
	g.Go(func() error {
		defer cancel()
		if _, err := circuit.Run(wctx, checkpoint); err != nil && wctx.Err() == nil {
			log.Printf("worker %s: task %s: %v", workerID, task.ID, err)
		}
		s.finishWorker(workerID)
		return nil
	})
}

// finishWorker retires a worker that exited on its own. Workers declared lost
// were already retired by the failure handler.
func (s *Supervisor) finishWorker(workerID string) {
	s.mu.Lock()
	entry := s.workers[workerID]
	if entry == nil || entry.lost || entry.finished {
		s.mu.Unlock()
		return
	}
	entry.finished = true
	s.mu.Unlock()

	s.mailbox.Unregister(workerID)
	s.registry.WorkerFinished(workerID, s.now())
	s.signalWake()
}

func (s *Supervisor) runningWorkers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.workers {
		if !e.lost && !e.finished {
			count++
		}
	}
	return count
}

// serve is the single-writer control loop: worker mutation requests and
// classified failures are applied one at a time.
func (s *Supervisor) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.mutCh:
			m.resp <- m.apply()
		case f := <-s.failureCh:
			s.handleFailure(f)
		}
	}
}

// request submits a mutation to the control loop and waits for the verdict.
func (s *Supervisor) request(ctx context.Context, apply func() error) error {
	resp := make(chan error, 1)
	select {
	case s.mutCh <- mutation{apply: apply, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ClaimTask implements worker.Lead: exclusive ownership or nothing.
func (s *Supervisor) ClaimTask(ctx context.Context, workerID, taskID string) error {
	return s.request(ctx, func() error {
		if err := s.dag.Claim(taskID, workerID); err != nil {
			return err
		}
		s.mu.Lock()
		if e := s.workers[workerID]; e != nil {
			e.taskID = taskID
		}
		s.mu.Unlock()

		s.registry.WorkerActive(workerID, s.now())
		s.bus.Publish(events.TaskClaimedEvent{TaskID: taskID, WorkerID: workerID, Timestamp: s.now()})
		return nil
	})
}

// StartTask implements worker.Lead: claimed -> in progress, dependencies
// permitting.
func (s *Supervisor) StartTask(ctx context.Context, workerID, taskID string) error {
	return s.request(ctx, func() error {
		if err := s.ownerCheck(taskID, workerID); err != nil {
			return err
		}
		if err := s.dag.MarkInProgress(taskID); err != nil {
			return err
		}
		now := s.now()
		s.mu.Lock()
		if e := s.workers[workerID]; e != nil {
			e.inProgress = true
			e.taskStartedAt = now
		}
		s.mu.Unlock()

		s.bus.Publish(events.TaskStartedEvent{TaskID: taskID, WorkerID: workerID, Timestamp: now})
		return nil
	})
}

// CompleteTask implements worker.Lead.
func (s *Supervisor) CompleteTask(ctx context.Context, workerID, taskID, result string) error {
	return s.request(ctx, func() error {
		if err := s.ownerCheck(taskID, workerID); err != nil {
			return err
		}

		task, _ := s.dag.Get(taskID)
		if err := s.dag.MarkCompleted(taskID, result); err != nil {
			return err
		}

		now := s.now()
		var duration time.Duration
		if task != nil && !task.StartedAt.IsZero() {
			duration = now.Sub(task.StartedAt)
		}

		s.mu.Lock()
		if e := s.workers[workerID]; e != nil {
			e.inProgress = false
		}
		s.mu.Unlock()

		s.registry.WorkerIdle(workerID, now)
		s.bus.Publish(events.TaskCompletedEvent{TaskID: taskID, WorkerID: workerID, Duration: duration, Timestamp: now})
		s.signalWake()
		return nil
	})
}

// FailTask implements worker.Lead. Guard and invariant violations are
// permanent. Exhausted retry budgets behave like a lost worker: the first
// exhaustion hands the task (and its checkpoint) to a replacement, and only
// a failure on the replacement is permanent.
func (s *Supervisor) FailTask(ctx context.Context, workerID, taskID string, taskErr error) error {
	return s.request(ctx, func() error {
		if err := s.ownerCheck(taskID, workerID); err != nil {
			// A claim that never succeeded must not fail the owner's task.
			log.Printf("WARNING: ignoring failure report from %s for %s: %v", workerID, taskID, err)
			return nil
		}

		now := s.now()
		s.mu.Lock()
		if e := s.workers[workerID]; e != nil {
			e.inProgress = false
		}
		s.mu.Unlock()
		s.registry.WorkerIdle(workerID, now)

		var exhausted *worker.ExhaustedError
		if errors.As(taskErr, &exhausted) {
			if task, ok := s.dag.Get(taskID); ok && !task.Reassigned {
				return s.reassignExhausted(workerID, taskID, exhausted, now)
			}
		}

		if err := s.dag.MarkFailed(taskID, taskErr); err != nil {
			return err
		}
		s.bus.Publish(events.TaskFailedEvent{TaskID: taskID, WorkerID: workerID, Err: taskErr, Permanent: true, Timestamp: now})
		s.signalWake()
		return nil
	})
}

// reassignExhausted converts a first retry exhaustion into the same cycle a
// lost worker triggers: release the claim, keep the checkpoint, and let the
// pump spawn a replacement. The attempt counter is reset so the replacement
// gets a full budget instead of failing on its first check.
func (s *Supervisor) reassignExhausted(workerID, taskID string, cause *worker.ExhaustedError, now time.Time) error {
	if err := s.dag.MarkReassigned(taskID); err != nil {
		return err
	}
	if err := s.dag.ReleaseClaim(taskID); err != nil {
		return err
	}
	s.tracker.Reset(cause.Kind, taskID)

	s.mu.Lock()
	s.lostBy[taskID] = workerID
	delete(s.assigned, taskID)
	s.mu.Unlock()

	log.Printf("worker %s: %v; handing task %s to a replacement", workerID, cause, taskID)
	s.bus.Publish(events.TaskFailedEvent{TaskID: taskID, WorkerID: workerID, Err: cause, Permanent: false, Timestamp: now})
	s.signalWake()
	return nil
}

// ownerCheck enforces that only the current owner mutates a task.
func (s *Supervisor) ownerCheck(taskID, workerID string) error {
	task, ok := s.dag.Get(taskID)
	if !ok {
		return fmt.Errorf("task %q not found", taskID)
	}
	if task.Owner != workerID {
		return fmt.Errorf("worker %q does not own task %q (owner %q)", workerID, taskID, task.Owner)
	}
	return nil
}

// Heartbeat implements worker.Lead. A heartbeat after a status check counts
// as the worker's answer and resolves the pending idle timeout.
func (s *Supervisor) Heartbeat(workerID string) {
	now := s.now()

	s.mu.Lock()
	entry := s.workers[workerID]
	if entry == nil {
		s.mu.Unlock()
		return
	}
	entry.lastHeartbeat = now

	var ackMsg string
	if !entry.statusCheckAt.IsZero() {
		ackMsg = entry.statusCheckMsg
		entry.statusCheckAt = time.Time{}
		entry.statusCheckMsg = ""
	}
	s.mu.Unlock()

	if ackMsg == "" {
		return
	}
	if err := s.mailbox.Ack(ackMsg); err != nil && !errors.Is(err, messaging.ErrUnknownMessage) {
		log.Printf("WARNING: acking status check %s: %v", ackMsg, err)
	}
	s.resolvePending(string(monitor.FailureIdleTimeout)+"/"+workerID, now)
	s.resolvePending(string(monitor.FailureMessageTimeout)+"/"+ackMsg, now)
}

// Progress implements worker.Lead: checkpoint storage plus liveness.
func (s *Supervisor) Progress(workerID, taskID string, checkpoint []byte) {
	if err := s.dag.SetCheckpoint(taskID, checkpoint); err != nil {
		log.Printf("WARNING: storing checkpoint for %s: %v", taskID, err)
		return
	}

	now := s.now()
	s.mu.Lock()
	if e := s.workers[workerID]; e != nil {
		e.lastProgress = now
		e.lastHeartbeat = now
	}
	s.mu.Unlock()
}

// WorkerViews implements monitor.WorkerSource.
func (s *Supervisor) WorkerViews() []monitor.WorkerView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]monitor.WorkerView, 0, len(s.workers))
	for _, e := range s.workers {
		if e.lost || e.finished {
			continue
		}
		views = append(views, monitor.WorkerView{
			WorkerID:      e.id,
			TaskID:        e.taskID,
			InProgress:    e.inProgress,
			LastHeartbeat: e.lastHeartbeat,
			TaskStartedAt: e.taskStartedAt,
			LastProgress:  e.lastProgress,
			StatusCheckAt: e.statusCheckAt,
			Extended:      e.extended,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].WorkerID < views[j].WorkerID })
	return views
}
