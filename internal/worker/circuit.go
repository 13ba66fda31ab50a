package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/teamster/internal/checker"
	"github.com/aristath/teamster/internal/guard"
	"github.com/aristath/teamster/internal/monitor"
	"github.com/aristath/teamster/internal/retry"
)

// Lead is the supervisor surface a worker drives its task through. Workers
// never mutate shared state directly; every transition is requested here and
// serialized by the lead's control loop.
type Lead interface {
	ClaimTask(ctx context.Context, workerID, taskID string) error
	StartTask(ctx context.Context, workerID, taskID string) error
	CompleteTask(ctx context.Context, workerID, taskID, result string) error
	FailTask(ctx context.Context, workerID, taskID string, taskErr error) error
	Heartbeat(workerID string)
	Progress(workerID, taskID string, checkpoint []byte)
}

// Producer generates the actual work product for a task. The content of the
// work is opaque to the circuit; only its validation is modeled here.
type Producer interface {
	Produce(ctx context.Context, taskID, description string) (string, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, taskID, description string) (string, error)

func (f ProducerFunc) Produce(ctx context.Context, taskID, description string) (string, error) {
	return f(ctx, taskID, description)
}

// Checkpoint is the partial-progress payload a worker reports to the lead.
// It records the circuit state it was taken in, so a replacement worker
// re-enters the right stage instead of starting over.
type Checkpoint struct {
	State   string    `json:"state"`
	Output  string    `json:"output"`
	Attempt int       `json:"attempt"`
	TakenAt time.Time `json:"taken_at"`
}

// Encode serializes the checkpoint for storage on the task.
func (c Checkpoint) Encode() []byte {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return data
}

// DecodeCheckpoint parses a stored checkpoint payload. A nil or malformed
// payload yields a zero checkpoint, which restarts the circuit at Discovery.
func DecodeCheckpoint(data []byte) Checkpoint {
	var c Checkpoint
	if len(data) == 0 {
		return c
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}
	}
	return c
}

// ExhaustedError reports that a retryable stage ran out of attempts. The
// lead treats the first exhaustion on a task like a lost worker: checkpoint
// kept, claim released, replacement spawned with a fresh attempt budget.
type ExhaustedError struct {
	Kind       monitor.FailureKind
	Attempts   int
	Diagnostic string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %s", e.Kind, e.Attempts, e.Diagnostic)
}

// GuardError reports forbidden-pattern violations found in worker output.
type GuardError struct {
	Violations []guard.Violation
}

func (e *GuardError) Error() string {
	patterns := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		patterns[i] = fmt.Sprintf("%s (line %d)", v.Pattern, v.Line)
	}
	return "forbidden patterns in output: " + strings.Join(patterns, ", ")
}

// Circuit runs one worker through the execution stages for a single task.
type Circuit struct {
	ID          string // Worker ID
	TaskID      string
	Description string

	lead     Lead
	producer Producer

	localCheck checker.Checker
	breaker    *gobreaker.CircuitBreaker
	backoff    retry.BackoffConfig

	scanner *guard.Scanner
	retries *retry.Tracker

	// Optional observer for state transitions; the supervisor wires this to
	// the event bus.
	Notify func(workerID, taskID string, from, to State)

	HeartbeatEvery time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewCircuit assembles a circuit for one worker and task.
func NewCircuit(workerID, taskID, description string, lead Lead, producer Producer,
	localCheck checker.Checker, breaker *gobreaker.CircuitBreaker, backoff retry.BackoffConfig,
	scanner *guard.Scanner, retries *retry.Tracker) *Circuit {
	return &Circuit{
		ID:             workerID,
		TaskID:         taskID,
		Description:    description,
		lead:           lead,
		producer:       producer,
		localCheck:     localCheck,
		breaker:        breaker,
		backoff:        backoff,
		scanner:        scanner,
		retries:        retries,
		HeartbeatEvery: 5 * time.Minute,
		sleep:          sleepCtx,
		now:            time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives the circuit to a terminal state, resuming from the checkpoint if
// one is present. It reports completion or failure to the lead before
// returning; the returned error carries the failure cause.
func (c *Circuit) Run(ctx context.Context, resume []byte) (State, error) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(hbCtx)
	}()
	defer func() {
		stopHeartbeat()
		wg.Wait()
	}()

	cp := DecodeCheckpoint(resume)

	state := Discovery
	output := ""
	var runErr error

	for !state.Terminal() {
		if err := ctx.Err(); err != nil {
			return Failed, err
		}

		var next State
		switch state {
		case Discovery:
			if err := c.lead.ClaimTask(ctx, c.ID, c.TaskID); err != nil {
				next, runErr = Failed, err
				break
			}
			if err := c.lead.StartTask(ctx, c.ID, c.TaskID); err != nil {
				next, runErr = Failed, err
				break
			}
			next = LocalValidation

			// A checkpoint lets us re-enter a later stage with the saved output.
			if resumed := ParseState(cp.State); cp.Output != "" && !resumed.Terminal() && resumed >= LocalValidation {
				log.Printf("worker %s: resuming task %s from checkpoint state %s", c.ID, c.TaskID, resumed)
				output = cp.Output
				next = resumed
			}

		case LocalValidation:
			next, output, runErr = c.validate(ctx, output)

		case GuardCheck:
			if violations := c.scanner.Scan(output); len(violations) > 0 {
				next, runErr = Failed, &GuardError{Violations: violations}
				break
			}
			c.saveCheckpoint(GuardCheck, output, 0)
			next = InvariantCheck

		case InvariantCheck:
			if err := c.scanner.CheckImplemented(output); err != nil {
				next, runErr = Failed, err
				break
			}
			c.saveCheckpoint(InvariantCheck, output, 0)
			next = Completed
		}

		c.transition(state, next)
		state = next
	}

	if state == Completed {
		if err := c.lead.CompleteTask(ctx, c.ID, c.TaskID, output); err != nil {
			return Failed, err
		}
		return Completed, nil
	}

	if err := c.lead.FailTask(ctx, c.ID, c.TaskID, runErr); err != nil {
		log.Printf("WARNING: worker %s: reporting failure for task %s: %v", c.ID, c.TaskID, err)
	}
	return Failed, runErr
}

// validate produces output (unless resuming with one in hand) and runs the
// external local check against it, retrying per the local-validation policy.
func (c *Circuit) validate(ctx context.Context, output string) (State, string, error) {
	for {
		if output == "" {
			produced, err := c.producer.Produce(ctx, c.TaskID, c.Description)
			if err != nil {
				return Failed, "", fmt.Errorf("producing output for %s: %w", c.TaskID, err)
			}
			output = produced
		}

		report, err := retry.RunCheck(ctx, c.localCheck, c.breaker, c.backoff)
		if err != nil {
			return Failed, output, fmt.Errorf("running local validation: %w", err)
		}
		if report.Passed {
			c.saveCheckpoint(LocalValidation, output, 0)
			return GuardCheck, output, nil
		}

		allowed, attempt, delay := c.retries.Attempt(monitor.FailureLocalValidation, c.TaskID)
		if !allowed {
			return Failed, output, &ExhaustedError{
				Kind:       monitor.FailureLocalValidation,
				Attempts:   attempt,
				Diagnostic: report.Diagnostic,
			}
		}

		log.Printf("worker %s: local validation failed for %s (attempt %d), retrying in %s: %s",
			c.ID, c.TaskID, attempt+1, delay, report.Diagnostic)
		c.saveCheckpoint(LocalValidation, output, attempt+1)

		if err := c.sleep(ctx, delay); err != nil {
			return Failed, output, err
		}
		output = "" // Rework the output before checking again
	}
}

func (c *Circuit) saveCheckpoint(state State, output string, attempt int) {
	cp := Checkpoint{
		State:   state.String(),
		Output:  output,
		Attempt: attempt,
		TakenAt: c.now(),
	}
	c.lead.Progress(c.ID, c.TaskID, cp.Encode())
}

func (c *Circuit) transition(from, to State) {
	if from == to {
		return
	}
	if c.Notify != nil {
		c.Notify(c.ID, c.TaskID, from, to)
	}
}

func (c *Circuit) heartbeatLoop(ctx context.Context) {
	c.lead.Heartbeat(c.ID)

	ticker := time.NewTicker(c.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.lead.Heartbeat(c.ID)
		}
	}
}
