// Package producer runs the external collaborator command that generates
// task output. The command receives the task description on stdin and the
// task ID in its environment; its stdout becomes the worker's output, which
// then passes through local validation, the guard scan, and the invariant
// check like any other produced result.
package producer

import (
	"context"
	"fmt"
	"strings"
)

// Command invokes a configured external command once per production attempt.
// It implements the worker Producer contract.
type Command struct {
	command string
	args    []string
	dir     string
	pm      *ProcessManager
}

// NewCommand creates a command-backed producer. dir may be empty to run in
// the current directory; pm may be nil to skip process tracking.
func NewCommand(command string, args []string, dir string, pm *ProcessManager) *Command {
	return &Command{command: command, args: args, dir: dir, pm: pm}
}

// Produce runs the collaborator for one task and returns its stdout.
// Cancelling the context kills the command's process group.
func (c *Command) Produce(ctx context.Context, taskID, description string) (string, error) {
	cmd := newCommand(ctx, c.command, c.args...)
	cmd.Dir = c.dir
	cmd.Stdin = strings.NewReader(description)
	cmd.Env = append(cmd.Environ(), "TEAMSTER_TASK_ID="+taskID)

	stdout, _, err := runCommand(ctx, cmd, c.pm)
	if err != nil {
		return "", fmt.Errorf("producing output for %s: %w", taskID, err)
	}

	return string(stdout), nil
}
