package config

import (
	"github.com/aristath/teamster/internal/checker"
	"github.com/aristath/teamster/internal/guard"
	"github.com/aristath/teamster/internal/producer"
	"github.com/aristath/teamster/internal/retry"
	"github.com/aristath/teamster/internal/supervisor"
	"github.com/aristath/teamster/internal/worker"
)

// SupervisorConfig maps the loaded configuration onto the session tuning the
// supervisor consumes.
func (c *Config) SupervisorConfig() supervisor.Config {
	cfg := supervisor.DefaultConfig()
	cfg.Rules = c.Rules
	cfg.Thresholds = c.Thresholds
	if c.Chains != nil {
		cfg.Chains = c.Chains
	}
	cfg.Declared = c.Dependencies
	cfg.Monitor = c.Timeouts
	cfg.Policies = c.RetrySet()
	cfg.Backoff = retry.DefaultBackoffConfig()

	if c.Session.Concurrency > 0 {
		cfg.Concurrency = c.Session.Concurrency
	}
	if c.Session.MailboxBuffer > 0 {
		cfg.MailboxBuffer = c.Session.MailboxBuffer
	}
	if c.Session.HeartbeatEvery > 0 {
		cfg.HeartbeatEvery = c.Session.HeartbeatEvery
	}
	if c.Session.MaxFixIterations > 0 {
		cfg.MaxFixIterations = c.Session.MaxFixIterations
	}
	if c.Session.CascadeThreshold > 0 {
		cfg.CascadeThreshold = c.Session.CascadeThreshold
	}
	if c.Session.RecoveryProbability > 0 {
		cfg.RecoveryProbability = c.Session.RecoveryProbability
	}
	return cfg
}

// Scanner builds the output policy scanner from the guard pattern lists.
func (c *Config) Scanner() *guard.Scanner {
	return guard.NewScanner(c.Guard.Forbidden, c.Guard.Placeholders)
}

// ProducerCommand builds the collaborator producer, or nil if not configured.
func (c *Config) ProducerCommand(pm *producer.ProcessManager) worker.Producer {
	if c.Producer.Command == "" {
		return nil
	}
	return producer.NewCommand(c.Producer.Command, c.Producer.Args, c.Producer.Dir, pm)
}

// Checker builds the named external checker, or nil if not configured.
func (c *Config) Checker(name string) checker.Checker {
	cc, ok := c.Checkers[name]
	if !ok || cc.Command == "" {
		return nil
	}
	return checker.NewCommandChecker(name, cc.Command, cc.Args, cc.Dir)
}
