// Package checker models the external validation collaborator: an opaque
// pass/fail check the core invokes during guard checks, invariant checks, and
// consolidation. Its internals (compilers, linters, test runners) are out of
// scope; the core sees only a verdict and optional diagnostic text.
package checker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Report is the outcome of one external check invocation.
type Report struct {
	Passed     bool
	Diagnostic string // Optional diagnostic text from the collaborator
}

// Checker is the external validation collaborator.
// Check returns a non-nil error only for invocation failures (the collaborator
// could not run); a clean run that finds problems returns Passed=false.
type Checker interface {
	Name() string
	Check(ctx context.Context) (Report, error)
}

// CommandChecker runs a shell command and maps its exit code to a verdict:
// zero passes, non-zero fails with the combined output as diagnostic.
type CommandChecker struct {
	name    string
	command string
	args    []string
	dir     string
}

// NewCommandChecker creates a command-backed checker.
// dir may be empty to run in the current directory.
func NewCommandChecker(name, command string, args []string, dir string) *CommandChecker {
	return &CommandChecker{name: name, command: command, args: args, dir: dir}
}

// Name returns the checker's configured name.
func (c *CommandChecker) Name() string { return c.name }

// Check runs the command and interprets its exit status.
func (c *CommandChecker) Check(ctx context.Context) (Report, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Dir = c.dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return Report{Passed: true}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Report{
			Passed:     false,
			Diagnostic: strings.TrimSpace(output.String()),
		}, nil
	}

	// The command could not be started at all.
	return Report{}, fmt.Errorf("running checker %q: %w", c.name, err)
}
