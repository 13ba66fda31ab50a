// Package scheduler holds the shared task graph: task model, dependency
// validation, and the status transitions the supervisor applies.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// CycleError reports a dependency cycle. Path holds the minimal cycle as a
// task ID sequence whose last element repeats the first.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// ErrAlreadyClaimed is returned when a worker tries to claim a task that
// another worker owns.
var ErrAlreadyClaimed = errors.New("task already claimed by another worker")

// DAG represents the directed acyclic graph of tasks for one team session.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	dependents map[string][]string // Maps taskID -> tasks that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// AddTask adds a task to the DAG. Returns an error if the task ID already exists.
func (d *DAG) AddTask(task *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	d.tasks[task.ID] = task

	for _, depID := range task.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], task.ID)
	}

	return nil
}

// Validate performs the pre-flight acyclicity check. It verifies every
// declared dependency exists, runs a depth-first three-colour traversal to
// detect cycles (returning the minimal cycle path in a *CycleError), and
// finally returns a topological execution order. Must pass before any worker
// is spawned.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for taskID, task := range d.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := d.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", taskID, depID)
			}
		}
	}

	if cycle := d.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	return d.topoOrder()
}

// findCycle runs DFS with unvisited/in-progress/done marking. Revisiting an
// in-progress node means a cycle; the stack slice from that node onward is the
// minimal cycle path. Roots are visited in sorted order so the reported path
// is deterministic.
func (d *DAG) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(d.tasks))
	var stack []string

	roots := make([]string, 0, len(d.tasks))
	for id := range d.tasks {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = inStack
		stack = append(stack, id)

		deps := append([]string(nil), d.tasks[id].DependsOn...)
		sort.Strings(deps)

		for _, depID := range deps {
			switch state[depID] {
			case inStack:
				// Cycle: slice the stack from the first occurrence of depID.
				for i, sid := range stack {
					if sid == depID {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, depID)
					}
				}
			case unvisited:
				if cycle := visit(depID); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range roots {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoOrder produces a topological execution order via gammazero/toposort.
// Callers must hold at least a read lock.
func (d *DAG) topoOrder() ([]string, error) {
	var edges []toposort.Edge
	for taskID, task := range d.tasks {
		if len(task.DependsOn) == 0 {
			// Edge from nil keeps dependency-free tasks in the result.
			edges = append(edges, toposort.Edge{nil, taskID})
		} else {
			for _, depID := range task.DependsOn {
				edges = append(edges, toposort.Edge{depID, taskID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("topological sort failed: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.tasks) {
		missing := []string{}
		found := make(map[string]bool)
		for _, id := range order {
			found[id] = true
		}
		for taskID := range d.tasks {
			if !found[taskID] {
				missing = append(missing, taskID)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Eligible returns all unowned pending tasks whose dependencies are ALL completed.
func (d *DAG) Eligible() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	eligible := []*Task{}

	for _, task := range d.tasks {
		if task.Status != TaskPending {
			continue
		}

		allCompleted := true
		for _, depID := range task.DependsOn {
			dep, exists := d.tasks[depID]
			if !exists || dep.Status != TaskCompleted {
				allCompleted = false
				break
			}
		}

		if allCompleted {
			eligible = append(eligible, cloneTask(task))
		}
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return eligible
}

// Claim assigns exclusive ownership of a task to a worker. A task has at most
// one non-nil owner at a time; claiming an owned task fails with
// ErrAlreadyClaimed.
func (d *DAG) Claim(taskID, workerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if task.Owner != "" && task.Owner != workerID {
		return fmt.Errorf("claiming task %q for %q: %w (owner %q)", taskID, workerID, ErrAlreadyClaimed, task.Owner)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %q is terminal (%s)", taskID, task.Status)
	}

	task.Owner = workerID
	task.Status = TaskClaimed
	return nil
}

// ReleaseClaim voids a worker's ownership, returning the task to pending.
// Used when an owner is declared lost before reassignment.
func (d *DAG) ReleaseClaim(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Owner = ""
	if !task.Status.Terminal() {
		task.Status = TaskPending
	}
	return nil
}

// MarkInProgress moves a claimed task into active execution. A dependent task
// cannot enter InProgress while any of its dependencies is not completed.
func (d *DAG) MarkInProgress(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if task.Status != TaskClaimed {
		return fmt.Errorf("task %q must be claimed before starting (status %s)", taskID, task.Status)
	}

	for _, depID := range task.DependsOn {
		dep, ok := d.tasks[depID]
		if !ok || dep.Status != TaskCompleted {
			task.Status = TaskBlocked
			return fmt.Errorf("task %q blocked on incomplete dependency %q", taskID, depID)
		}
	}

	task.Status = TaskInProgress
	task.StartedAt = time.Now()
	return nil
}

// MarkCompleted sets task status to completed and stores the result.
func (d *DAG) MarkCompleted(taskID string, result string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Status = TaskCompleted
	task.Result = result
	task.CompletedAt = time.Now()
	return nil
}

// MarkFailed sets task status to failed and stores the error. The owner is
// released: the worker of a permanently failed task is retired, and the
// audit record should not show a ghost owner.
func (d *DAG) MarkFailed(taskID string, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Status = TaskFailed
	task.Error = err
	task.Owner = ""
	task.CompletedAt = time.Now()
	return nil
}

// SetCheckpoint stores the task's last-known partial-progress payload.
// The payload is opaque to the scheduler.
func (d *DAG) SetCheckpoint(taskID string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Checkpoint = append([]byte(nil), payload...)
	return nil
}

// MarkReassigned flags that the task has been handed to a replacement worker.
func (d *DAG) MarkReassigned(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Reassigned = true
	return nil
}

// Get returns a copy of the task by ID.
func (d *DAG) Get(taskID string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks, sorted by ID for stable iteration.
func (d *DAG) Tasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tasks := make([]*Task, 0, len(d.tasks))
	for _, task := range d.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Dependents returns the IDs of tasks that directly depend on the given task.
func (d *DAG) Dependents(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]string(nil), d.dependents[taskID]...)
}

// AllTerminal reports whether every task has reached a terminal state.
// This is the consolidation barrier condition.
func (d *DAG) AllTerminal() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, task := range d.tasks {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any task is permanently failed.
func (d *DAG) AnyFailed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, task := range d.tasks {
		if task.Status == TaskFailed {
			return true
		}
	}
	return false
}
