package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/teamster/internal/monitor"
	"github.com/aristath/teamster/internal/quanta"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadNoFilesReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("missing files must not error: %v", err)
	}

	if len(cfg.Rules) != 7 {
		t.Errorf("rules = %d, want 7 default domains", len(cfg.Rules))
	}
	if cfg.Thresholds.MinTeam != 2 || cfg.Thresholds.MaxTeam != 5 {
		t.Errorf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Timeouts.IdleTimeout != 30*time.Minute {
		t.Errorf("idle timeout = %v", cfg.Timeouts.IdleTimeout)
	}
	if cfg.Session.CascadeThreshold != 3 {
		t.Errorf("cascade threshold = %d", cfg.Session.CascadeThreshold)
	}
}

func TestLoadGlobalOverridesThresholds(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := writeConfig(t, tmpDir, "global.json", `{"thresholds": {"min_team": 2, "max_team": 4}}`)

	cfg, err := Load(globalPath, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Thresholds.MaxTeam != 4 {
		t.Errorf("max team = %d, want 4", cfg.Thresholds.MaxTeam)
	}
	// Untouched sections keep their defaults.
	if len(cfg.Rules) != 7 {
		t.Errorf("rules = %d, want defaults preserved", len(cfg.Rules))
	}
}

func TestLoadProjectWinsOverGlobal(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := writeConfig(t, tmpDir, "global.json", `{"session": {"concurrency": 3}}`)
	projectPath := writeConfig(t, tmpDir, "project.json", `{"session": {"concurrency": 2}}`)

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Concurrency != 2 {
		t.Errorf("concurrency = %d, want project value 2", cfg.Session.Concurrency)
	}
}

func TestLoadRulesReplaceWholesale(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, "project.json",
		`{"rules": [{"domain": "engine", "keywords": ["turbine"]}]}`)

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Domain != quanta.DomainEngine {
		t.Errorf("rules = %+v", cfg.Rules)
	}
	if cfg.Rules[0].Keywords[0] != "turbine" {
		t.Errorf("keywords = %v", cfg.Rules[0].Keywords)
	}
}

func TestLoadCheckersMergeByName(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, "project.json",
		`{"checkers": {"local": {"command": "make", "args": ["check"]}}}`)

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Checkers["local"].Command != "make" {
		t.Errorf("local checker = %+v", cfg.Checkers["local"])
	}
	if _, ok := cfg.Checkers["consolidation"]; !ok {
		t.Error("default consolidation checker lost in merge")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, "broken.json", "{invalid json")

	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Session.Concurrency = 2
	cfg.Timeouts.CrashTimeout = 7 * time.Minute

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Session.Concurrency != 2 {
		t.Errorf("concurrency = %d", loaded.Session.Concurrency)
	}
	if loaded.Timeouts.CrashTimeout != 7*time.Minute {
		t.Errorf("crash timeout = %v", loaded.Timeouts.CrashTimeout)
	}
}

func TestSupervisorConfigBridge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.Concurrency = 4
	cfg.Timeouts = monitor.Config{IdleTimeout: 10 * time.Minute, PollInterval: 30 * time.Second}

	sup := cfg.SupervisorConfig()
	if sup.Concurrency != 4 {
		t.Errorf("concurrency = %d", sup.Concurrency)
	}
	if sup.Monitor.IdleTimeout != 10*time.Minute {
		t.Errorf("idle timeout = %v", sup.Monitor.IdleTimeout)
	}
	if len(sup.Rules) != len(cfg.Rules) {
		t.Error("rules not carried over")
	}
	if sup.Policies == nil {
		t.Error("retry policies not carried over")
	}
}

func TestCheckerConstruction(t *testing.T) {
	cfg := DefaultConfig()

	if c := cfg.Checker("local"); c == nil || c.Name() != "local" {
		t.Errorf("local checker = %v", c)
	}
	if c := cfg.Checker("unknown"); c != nil {
		t.Errorf("unknown checker should be nil, got %v", c)
	}
}
