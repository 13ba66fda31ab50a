package config

import (
	"sort"
	"time"

	"github.com/aristath/teamster/internal/decision"
	"github.com/aristath/teamster/internal/monitor"
	"github.com/aristath/teamster/internal/quanta"
	"github.com/aristath/teamster/internal/retry"
)

// DefaultRules returns the built-in domain keyword table.
func DefaultRules() []quanta.Rule {
	return []quanta.Rule{
		{Domain: quanta.DomainEngine, Keywords: []string{"deadlock", "engine", "runner", "tostring", "performance", "scheduler"}},
		{Domain: quanta.DomainSchema, Keywords: []string{"schema", "data model", "migration", "column", "table definition"}},
		{Domain: quanta.DomainIntegration, Keywords: []string{"health-check", "endpoint", "integration", "api", "webhook"}},
		{Domain: quanta.DomainResourcing, Keywords: []string{"resourcing", "allocation", "capacity", "quota"}},
		{Domain: quanta.DomainTesting, Keywords: []string{"tests", "test coverage", "testing", "regression"}},
		{Domain: quanta.DomainSecurity, Keywords: []string{"security", "auth", "injection", "vulnerability"}},
		{Domain: quanta.DomainStateless, Keywords: []string{"documentation", "docs", "readme", "changelog"}},
	}
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	policies := retry.DefaultSet()
	retries := make([]retry.Policy, 0, len(policies))
	for _, p := range policies {
		retries = append(retries, p)
	}
	sort.Slice(retries, func(i, j int) bool { return retries[i].Kind < retries[j].Kind })

	return &Config{
		Rules:      DefaultRules(),
		Thresholds: decision.DefaultThresholds(),
		Chains: [][]quanta.Domain{
			{quanta.DomainSchema, quanta.DomainEngine, quanta.DomainIntegration},
		},
		Timeouts: monitor.DefaultConfig(),
		Retries:  retries,
		Guard: GuardConfig{
			Forbidden:    []string{"panic(", "os.Exit(", "DROP TABLE", "rm -rf"},
			Placeholders: []string{"TODO", "FIXME", "not implemented", "stub", "placeholder"},
		},
		Checkers: map[string]CheckerConfig{
			"local":         {Command: "go", Args: []string{"build", "./..."}},
			"consolidation": {Command: "go", Args: []string{"test", "./..."}},
		},
		Session: SessionConfig{
			Concurrency:         5,
			MailboxBuffer:       64,
			HeartbeatEvery:      5 * time.Minute,
			MaxFixIterations:    2,
			CascadeThreshold:    3,
			RecoveryProbability: 0.95,
		},
	}
}
