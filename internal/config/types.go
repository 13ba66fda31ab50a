// Package config loads, merges, and persists the session configuration:
// keyword rules, decision thresholds, ordering chains, timeout tables, retry
// policies, guard patterns, and checker commands. Every threshold the system
// uses lives here as data.
package config

import (
	"time"

	"github.com/aristath/teamster/internal/decision"
	"github.com/aristath/teamster/internal/monitor"
	"github.com/aristath/teamster/internal/quanta"
	"github.com/aristath/teamster/internal/retry"
)

// CheckerConfig defines one external validation command. Exit code zero
// passes; anything else fails with the combined output as diagnostic.
type CheckerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// GuardConfig holds the output policy pattern lists.
type GuardConfig struct {
	Forbidden    []string `json:"forbidden,omitempty"`    // Patterns that must never appear in output
	Placeholders []string `json:"placeholders,omitempty"` // Patterns that mark unimplemented work
}

// SessionConfig tunes the team session runtime.
type SessionConfig struct {
	Concurrency         int           `json:"concurrency"`
	MailboxBuffer       int           `json:"mailbox_buffer"`
	HeartbeatEvery      time.Duration `json:"heartbeat_every"`
	MaxFixIterations    int           `json:"max_fix_iterations"`
	CascadeThreshold    int           `json:"cascade_threshold"`
	RecoveryProbability float64       `json:"recovery_probability"`
}

// Config is the top-level configuration.
type Config struct {
	Rules      []quanta.Rule       `json:"rules,omitempty"`
	Thresholds decision.Thresholds `json:"thresholds"`

	// Chains order domains ("schema before engine before integration");
	// Dependencies adds explicit task-level edges.
	Chains       [][]quanta.Domain   `json:"chains,omitempty"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`

	Timeouts monitor.Config `json:"timeouts"`
	Retries  []retry.Policy `json:"retries,omitempty"`

	Guard    GuardConfig              `json:"guard"`
	Checkers map[string]CheckerConfig `json:"checkers,omitempty"`

	// Producer is the collaborator command that generates task output.
	// Required for full session runs; decisions alone don't need it.
	Producer CheckerConfig `json:"producer,omitempty"`

	Session SessionConfig `json:"session"`

	// Persistence is the SQLite database path; empty disables persistence.
	Persistence string `json:"persistence,omitempty"`
}

// RetrySet converts the configured policy list into the lookup set workers use.
func (c *Config) RetrySet() retry.Set {
	if len(c.Retries) == 0 {
		return retry.DefaultSet()
	}
	set := make(retry.Set, len(c.Retries))
	for _, p := range c.Retries {
		set[p.Kind] = p
	}
	return set
}
