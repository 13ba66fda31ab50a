package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/teamster/internal/config"
	"github.com/aristath/teamster/internal/decision"
	"github.com/aristath/teamster/internal/events"
	"github.com/aristath/teamster/internal/monitor"
	"github.com/aristath/teamster/internal/persistence"
	"github.com/aristath/teamster/internal/producer"
	"github.com/aristath/teamster/internal/quanta"
	"github.com/aristath/teamster/internal/supervisor"
	"github.com/aristath/teamster/internal/tui"
)

func main() {
	runSession := flag.Bool("run", false, "execute a full supervised session, not just the decision")
	withTUI := flag.Bool("monitor", false, "show the live session view (implies -run)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	description, err := readDescription(flag.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading task description: %v\n", err)
		os.Exit(1)
	}

	detected := quanta.NewClassifier(cfg.Rules).Classify(description)
	d := decision.Decide(detected, cfg.Thresholds)
	printDecision(os.Stdout, d)

	if !*runSession && !*withTUI {
		os.Exit(exitCode(d.Kind))
	}

	// Only team mode has a session to run; the decision report already told
	// the caller what to do instead.
	if d.Kind != decision.TeamMode {
		os.Exit(exitCode(d.Kind))
	}

	if err := execute(ctx, cfg, description, *withTUI); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// readDescription takes the task description from the arguments, or from
// stdin when no arguments are given or the single argument is "-".
func readDescription(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// exitCode maps the decision to the documented exit codes: 0 for team mode
// and ambiguous (ask the user), 2 for single-worker, 3 for over-limit.
func exitCode(kind decision.Kind) int {
	switch kind {
	case decision.RejectSingle:
		return 2
	case decision.RejectOverLimit:
		return 3
	default:
		return 0
	}
}

func printDecision(w io.Writer, d decision.Decision) {
	fmt.Fprintf(w, "Decision: %s\n", d.Kind)
	fmt.Fprintf(w, "Quanta:   %d\n", d.N)
	for _, q := range d.Quanta {
		fmt.Fprintf(w, "  - %s (keyword: %q)\n", q.Domain, q.Keyword)
	}
	if len(d.Phases) > 0 {
		fmt.Fprintln(w, "Suggested phases:")
		for i, phase := range d.Phases {
			domains := make([]string, len(phase))
			for j, q := range phase {
				domains[j] = string(q.Domain)
			}
			fmt.Fprintf(w, "  %d. %s\n", i+1, strings.Join(domains, ", "))
		}
	}
	fmt.Fprintf(w, "Guidance: %s\n", d.Guidance)
}

// execute runs a full supervised session, optionally under the live TUI.
func execute(ctx context.Context, cfg *config.Config, description string, withTUI bool) error {
	pm := producer.NewProcessManager()

	prod := cfg.ProducerCommand(pm)
	if prod == nil {
		return fmt.Errorf("no producer command configured; set \"producer\" in the config")
	}

	bus := events.NewEventBus()
	defer bus.Close()

	// The failure log only lives in events, so capture the topic for the
	// store. Resolution re-publishes the same event ID, and the store upsert
	// turns that into an update.
	var failureSub <-chan events.Event
	if cfg.Persistence != "" {
		failureSub = bus.Subscribe(events.TopicFailure, 256)
	}

	sup := supervisor.New(cfg.SupervisorConfig(), prod,
		cfg.Checker("local"), cfg.Checker("consolidation"), cfg.Scanner(), bus)

	var program *tea.Program
	tuiDone := make(chan error, 1)
	if withTUI {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		globalPath := filepath.Join(homeDir, ".teamster", "config.json")
		projectPath := filepath.Join(".teamster", "config.json")

		program = tea.NewProgram(tui.New(bus, cfg, globalPath, projectPath), tea.WithAltScreen())
		go func() {
			_, err := program.Run()
			tuiDone <- err
		}()
	}

	// On shutdown signals, kill every tracked collaborator process: worker
	// contexts die with ctx, the manager covers commands mid-flight.
	go func() {
		<-ctx.Done()
		if err := pm.KillAll(); err != nil {
			log.Printf("WARNING: killing collaborator processes: %v", err)
		}
	}()

	result, runErr := sup.Run(ctx, description)

	if withTUI {
		program.Quit()
		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case err := <-tuiDone:
			if err != nil {
				log.Printf("WARNING: session view exit: %v", err)
			}
		case <-waitCtx.Done():
			log.Println("WARNING: session view did not exit in time")
		}
	}

	if result != nil {
		printSessionReport(os.Stdout, result)
		if cfg.Persistence != "" {
			// Fresh context: a signal-cancelled session should still be
			// recorded for the audit trail.
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := persistResult(saveCtx, cfg.Persistence, description, result, drainFailures(failureSub)); err != nil {
				log.Printf("WARNING: persisting session: %v", err)
			}
		}
	}

	return runErr
}

func printSessionReport(w io.Writer, result *supervisor.Result) {
	fmt.Fprintf(w, "\nTeam: %s\n", result.TeamID)
	for _, task := range result.Tasks {
		fmt.Fprintf(w, "  %-30s %s\n", task.ID, task.Status)
	}

	if result.ConsolidationPassed {
		fmt.Fprintf(w, "Consolidation: passed after %d fix iteration(s)\n", result.FixIterations)
	} else {
		fmt.Fprintln(w, "Consolidation: did not pass")
	}
	if result.RollbackRecommended {
		fmt.Fprintf(w, "ROLLBACK RECOMMENDED: %s\n", result.RollbackReason)
	}

	snap := result.Metrics
	fmt.Fprintf(w, "Metrics: %d workers, %d fix iterations, %d unresolved failures, cascade survival %.2f\n",
		len(snap.Workers), snap.Iterations, snap.Unresolved, snap.CascadeSurvival)
	for _, ws := range snap.Workers {
		fmt.Fprintf(w, "  %-30s utilization %.0f%%, %d messages\n", ws.WorkerID, ws.Utilization*100, ws.Messages)
	}
	for _, fs := range snap.Failures {
		fmt.Fprintf(w, "  %-20s count %d, detection p95 %v, recovery p95 %v\n",
			fs.Kind, fs.Count, fs.DetectionP95, fs.RecoveryP95)
	}
}

// drainFailures reads every failure event already delivered to the
// subscription. The session is over, so nothing new arrives.
func drainFailures(sub <-chan events.Event) []monitor.FailureEvent {
	var failures []monitor.FailureEvent
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return failures
			}
			switch e := e.(type) {
			case events.FailureDetectedEvent:
				failures = append(failures, e.Failure)
			case events.FailureResolvedEvent:
				failures = append(failures, e.Failure)
			}
		default:
			return failures
		}
	}
}

// persistResult writes the finished session to the configured sqlite store.
func persistResult(ctx context.Context, dbPath, description string, result *supervisor.Result, failures []monitor.FailureEvent) error {
	store, err := persistence.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveTeam(ctx, result.TeamID, description, result.Decision.Kind.String(), result.Decision.N); err != nil {
		return err
	}
	// Tasks come in ID order, not dependency order, so insert every row
	// before wiring the dependency edges.
	for _, task := range result.Tasks {
		shallow := *task
		shallow.DependsOn = nil
		if err := store.SaveTask(ctx, result.TeamID, &shallow); err != nil {
			return err
		}
	}
	for _, task := range result.Tasks {
		if len(task.DependsOn) == 0 {
			continue
		}
		if err := store.SaveTask(ctx, result.TeamID, task); err != nil {
			return err
		}
	}
	for _, msg := range result.Messages {
		if err := store.SaveMessage(ctx, result.TeamID, msg); err != nil {
			return err
		}
	}
	for _, f := range failures {
		if err := store.SaveFailure(ctx, result.TeamID, f); err != nil {
			return err
		}
	}
	return store.SaveOutcome(ctx, persistence.SessionOutcome{
		TeamID:              result.TeamID,
		ConsolidationPassed: result.ConsolidationPassed,
		FixIterations:       result.FixIterations,
		RollbackRecommended: result.RollbackRecommended,
		RollbackReason:      result.RollbackReason,
	})
}
