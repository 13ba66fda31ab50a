package supervisor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/aristath/teamster/internal/events"
	"github.com/aristath/teamster/internal/retry"
	"github.com/aristath/teamster/internal/scheduler"
)

// consolidate runs the join-barrier validation over the combined result.
// On failure it identifies a likely culprit task, reworks it, and re-checks,
// up to MaxFixIterations times; exhausting the budget yields a rollback
// recommendation instead of an unbounded fix loop.
func (s *Supervisor) consolidate(ctx context.Context) (passed bool, iterations int, diagnostic string, err error) {
	s.bus.Publish(events.ConsolidationStartedEvent{Timestamp: s.now()})
	log.Printf("consolidation: all %d tasks completed, running combined validation", len(s.dag.Tasks()))

	for attempt := 0; ; attempt++ {
		report, err := retry.RunCheck(ctx, s.consolidation, s.breakers.Get(s.consolidation.Name()), s.cfg.Backoff)
		if err != nil {
			return false, attempt, "", fmt.Errorf("running consolidation check: %w", err)
		}

		s.bus.Publish(events.ConsolidationResultEvent{
			Iteration:  attempt,
			Passed:     report.Passed,
			Diagnostic: report.Diagnostic,
			Timestamp:  s.now(),
		})

		if report.Passed {
			return true, attempt, "", nil
		}

		log.Printf("consolidation failed (iteration %d): %s", attempt, report.Diagnostic)
		if attempt >= s.cfg.MaxFixIterations {
			s.bus.Publish(events.RollbackRecommendedEvent{
				Reason:    fmt.Sprintf("consolidation failed after %d fix iterations", attempt),
				Timestamp: s.now(),
			})
			return false, attempt, report.Diagnostic, nil
		}

		s.registry.IterationCycle()
		if err := s.applyFix(ctx, report.Diagnostic); err != nil {
			return false, attempt, report.Diagnostic, fmt.Errorf("fix iteration %d: %w", attempt+1, err)
		}
	}
}

// applyFix reworks the most likely culprit task against the consolidation
// diagnostic and replaces its result.
func (s *Supervisor) applyFix(ctx context.Context, diagnostic string) error {
	culprit := s.culpritTask(diagnostic)
	if culprit == nil {
		return fmt.Errorf("no completed task to rework")
	}

	log.Printf("consolidation: reworking %s against diagnostic", culprit.ID)
	output, err := s.producer.Produce(ctx, culprit.ID,
		fmt.Sprintf("rework %s to address consolidation failure: %s", culprit.Description, diagnostic))
	if err != nil {
		return fmt.Errorf("reworking %s: %w", culprit.ID, err)
	}

	if violations := s.scanner.Scan(output); len(violations) > 0 {
		return fmt.Errorf("rework of %s violates guard policy: %s", culprit.ID, violations[0].Pattern)
	}
	if err := s.scanner.CheckImplemented(output); err != nil {
		return fmt.Errorf("rework of %s: %w", culprit.ID, err)
	}

	return s.dag.MarkCompleted(culprit.ID, output)
}

// culpritTask picks the completed task most likely responsible for a
// consolidation failure: tasks whose domain is named in the diagnostic rank
// first, then the most recently completed, on the heuristic that late merges
// break integrations.
func (s *Supervisor) culpritTask(diagnostic string) *scheduler.Task {
	lower := strings.ToLower(diagnostic)

	var candidates []*scheduler.Task
	for _, task := range s.dag.Tasks() {
		if task.Status == scheduler.TaskCompleted {
			candidates = append(candidates, task)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		mi := strings.Contains(lower, string(candidates[i].Domain))
		mj := strings.Contains(lower, string(candidates[j].Domain))
		if mi != mj {
			return mi
		}
		return candidates[i].CompletedAt.After(candidates[j].CompletedAt)
	})
	return candidates[0]
}
