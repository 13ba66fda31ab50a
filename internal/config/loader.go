package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/teamster/internal/monitor"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.teamster/config.json
// Project: .teamster/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".teamster", "config.json")
	projectPath := filepath.Join(".teamster", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Sections present in the file replace the base section wholesale;
// absent sections keep their current values. Missing files are silently
// skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Rules != nil {
		base.Rules = loaded.Rules
	}
	if loaded.Thresholds.MinTeam > 0 {
		base.Thresholds.MinTeam = loaded.Thresholds.MinTeam
	}
	if loaded.Thresholds.MaxTeam > 0 {
		base.Thresholds.MaxTeam = loaded.Thresholds.MaxTeam
	}
	if loaded.Chains != nil {
		base.Chains = loaded.Chains
	}
	if loaded.Dependencies != nil {
		base.Dependencies = loaded.Dependencies
	}
	mergeTimeouts(&base.Timeouts, loaded.Timeouts)
	if loaded.Retries != nil {
		base.Retries = loaded.Retries
	}
	if loaded.Guard.Forbidden != nil {
		base.Guard.Forbidden = loaded.Guard.Forbidden
	}
	if loaded.Guard.Placeholders != nil {
		base.Guard.Placeholders = loaded.Guard.Placeholders
	}
	for name, checker := range loaded.Checkers {
		base.Checkers[name] = checker
	}
	if loaded.Producer.Command != "" {
		base.Producer = loaded.Producer
	}
	mergeSession(&base.Session, loaded.Session)
	if loaded.Persistence != "" {
		base.Persistence = loaded.Persistence
	}

	return nil
}

func mergeTimeouts(base *monitor.Config, loaded monitor.Config) {
	if loaded.PollInterval > 0 {
		base.PollInterval = loaded.PollInterval
	}
	if loaded.IdleTimeout > 0 {
		base.IdleTimeout = loaded.IdleTimeout
	}
	if loaded.IdleGrace > 0 {
		base.IdleGrace = loaded.IdleGrace
	}
	if loaded.TaskTimeout > 0 {
		base.TaskTimeout = loaded.TaskTimeout
	}
	if loaded.TaskExtension > 0 {
		base.TaskExtension = loaded.TaskExtension
	}
	if loaded.CriticalAckTimeout > 0 {
		base.CriticalAckTimeout = loaded.CriticalAckTimeout
	}
	if loaded.ResendGrace > 0 {
		base.ResendGrace = loaded.ResendGrace
	}
	if loaded.CrashTimeout > 0 {
		base.CrashTimeout = loaded.CrashTimeout
	}
}

func mergeSession(base *SessionConfig, loaded SessionConfig) {
	if loaded.Concurrency > 0 {
		base.Concurrency = loaded.Concurrency
	}
	if loaded.MailboxBuffer > 0 {
		base.MailboxBuffer = loaded.MailboxBuffer
	}
	if loaded.HeartbeatEvery > 0 {
		base.HeartbeatEvery = loaded.HeartbeatEvery
	}
	if loaded.MaxFixIterations > 0 {
		base.MaxFixIterations = loaded.MaxFixIterations
	}
	if loaded.CascadeThreshold > 0 {
		base.CascadeThreshold = loaded.CascadeThreshold
	}
	if loaded.RecoveryProbability > 0 {
		base.RecoveryProbability = loaded.RecoveryProbability
	}
}
