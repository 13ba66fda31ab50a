package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/teamster/internal/checker"
)

// scriptedChecker is a mock collaborator returning a scripted sequence of
// reports and errors.
type scriptedChecker struct {
	mu        sync.Mutex
	name      string
	responses []any // Each entry is either checker.Report or error
	callCount int
}

func (c *scriptedChecker) Name() string { return c.name }

func (c *scriptedChecker) Check(ctx context.Context) (checker.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.callCount >= len(c.responses) {
		return checker.Report{}, fmt.Errorf("unexpected call %d (only %d responses configured)", c.callCount+1, len(c.responses))
	}

	resp := c.responses[c.callCount]
	c.callCount++

	switch v := resp.(type) {
	case checker.Report:
		return v, nil
	case error:
		return checker.Report{}, v
	default:
		return checker.Report{}, fmt.Errorf("invalid response type: %T", v)
	}
}

func (c *scriptedChecker) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount
}

func fastBackoff() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         50 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// TestRunCheck_TransientThenSuccess verifies invocation errors are retried.
func TestRunCheck_TransientThenSuccess(t *testing.T) {
	c := &scriptedChecker{
		name: "build",
		responses: []any{
			fmt.Errorf("collaborator busy 1"),
			fmt.Errorf("collaborator busy 2"),
			checker.Report{Passed: true},
		},
	}

	cb := NewBreakerRegistry().Get("build")
	report, err := RunCheck(context.Background(), c, cb, fastBackoff())
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if !report.Passed {
		t.Error("expected passing report")
	}
	if c.CallCount() != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", c.CallCount())
	}
}

// TestRunCheck_FailedReportNotRetried verifies a clean run that reports
// failure is returned immediately; semantic retries are the caller's Policy.
func TestRunCheck_FailedReportNotRetried(t *testing.T) {
	c := &scriptedChecker{
		name: "guard",
		responses: []any{
			checker.Report{Passed: false, Diagnostic: "forbidden pattern: TODO-placeholder"},
		},
	}

	cb := NewBreakerRegistry().Get("guard")
	report, err := RunCheck(context.Background(), c, cb, fastBackoff())
	if err != nil {
		t.Fatalf("RunCheck: %v", err)
	}
	if report.Passed {
		t.Error("expected failing report")
	}
	if c.CallCount() != 1 {
		t.Errorf("failing report must not be retried at this layer, got %d calls", c.CallCount())
	}
}

// TestRunCheck_CircuitOpens verifies the breaker opens after consecutive
// invocation failures.
func TestRunCheck_CircuitOpens(t *testing.T) {
	c := &scriptedChecker{name: "flaky", responses: make([]any, 30)}
	for i := range c.responses {
		c.responses[i] = fmt.Errorf("persistent error %d", i+1)
	}

	cfg := fastBackoff()
	cfg.MaxElapsedTime = 300 * time.Millisecond

	cb := NewBreakerRegistry().Get("flaky")

	for i := range 7 {
		_, err := RunCheck(context.Background(), c, cb, cfg)
		if err == nil {
			t.Errorf("call %d: expected error", i+1)
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			return // Circuit opened, as expected
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Errorf("expected open circuit, got %v", cb.State())
	}
}

// TestRunCheck_ContextCancelled verifies cancellation stops retries promptly.
func TestRunCheck_ContextCancelled(t *testing.T) {
	c := &scriptedChecker{name: "slow", responses: make([]any, 100)}
	for i := range c.responses {
		c.responses[i] = fmt.Errorf("error %d", i+1)
	}

	cfg := fastBackoff()
	cfg.InitialInterval = 50 * time.Millisecond
	cfg.MaxElapsedTime = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cb := NewBreakerRegistry().Get("slow")
	start := time.Now()
	_, err := RunCheck(ctx, c, cb, cfg)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("RunCheck took %v after cancellation, expected prompt return", elapsed)
	}
}

func TestBreakerRegistryPerChecker(t *testing.T) {
	registry := NewBreakerRegistry()

	a1 := registry.Get("build")
	a2 := registry.Get("build")
	b := registry.Get("consolidation")

	if a1 != a2 {
		t.Error("expected same breaker instance for same checker name")
	}
	if a1 == b {
		t.Error("expected distinct breakers per checker name")
	}
	if a1.Name() != "build" {
		t.Errorf("breaker name = %q, want %q", a1.Name(), "build")
	}
}
