package producer

import (
	"context"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestCommandProducesStdout(t *testing.T) {
	p := NewCommand("sh", []string{"-c", "cat"}, "", nil)

	out, err := p.Produce(context.Background(), "task-schema", "extend the schema")
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if out != "extend the schema" {
		t.Errorf("output = %q", out)
	}
}

func TestCommandExposesTaskID(t *testing.T) {
	p := NewCommand("sh", []string{"-c", "printf %s \"$TEAMSTER_TASK_ID\""}, "", nil)

	out, err := p.Produce(context.Background(), "task-engine", "fix the deadlock")
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if out != "task-engine" {
		t.Errorf("output = %q", out)
	}
}

func TestCommandFailureIncludesStderr(t *testing.T) {
	p := NewCommand("sh", []string{"-c", "echo broken >&2; exit 1"}, "", nil)

	_, err := p.Produce(context.Background(), "task-engine", "anything")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error = %v, want stderr included", err)
	}
}

func TestCommandCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := NewCommand("sleep", []string{"60"}, "", nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Produce(ctx, "task-engine", "")
		done <- err
	}()

	// Give the command time to start, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Produce did not return after cancellation")
	}
}

func TestProcessManagerKillAll(t *testing.T) {
	pm := NewProcessManager()

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting subprocess: %v", err)
	}

	pm.Track(cmd)
	if count := pm.Count(); count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}

	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected non-zero exit after kill")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("process did not terminate after KillAll")
	}

	pm.Untrack(cmd)
	if count := pm.Count(); count != 0 {
		t.Errorf("Count = %d after Untrack, want 0", count)
	}
}

func TestProcessManagerIgnoresUnstarted(t *testing.T) {
	pm := NewProcessManager()

	cmd := exec.Command("sleep", "60")
	pm.Track(cmd) // never started, no PID
	if count := pm.Count(); count != 0 {
		t.Errorf("Count = %d, want 0 for unstarted command", count)
	}
}
