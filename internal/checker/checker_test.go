package checker

import (
	"context"
	"testing"
	"time"
)

func TestCommandCheckerPass(t *testing.T) {
	c := NewCommandChecker("noop", "true", nil, "")

	report, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !report.Passed {
		t.Error("expected pass from exit 0")
	}
}

func TestCommandCheckerFail(t *testing.T) {
	c := NewCommandChecker("fail", "sh", []string{"-c", "echo broken invariant; exit 1"}, "")

	report, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.Passed {
		t.Error("expected failure from exit 1")
	}
	if report.Diagnostic != "broken invariant" {
		t.Errorf("diagnostic = %q, want command output", report.Diagnostic)
	}
}

func TestCommandCheckerInvocationError(t *testing.T) {
	c := NewCommandChecker("missing", "definitely-not-a-real-binary-4571", nil, "")

	_, err := c.Check(context.Background())
	if err == nil {
		t.Fatal("expected invocation error for missing binary")
	}
}

func TestCommandCheckerContextCancel(t *testing.T) {
	c := NewCommandChecker("slow", "sleep", []string{"10"}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	report, err := c.Check(ctx)
	elapsed := time.Since(start)

	// Context kill surfaces as a non-zero exit; either path is acceptable as
	// long as the check does not pass and returns promptly.
	if err == nil && report.Passed {
		t.Error("cancelled check must not pass")
	}
	if elapsed > 2*time.Second {
		t.Errorf("check did not respect context cancellation, took %v", elapsed)
	}
}
