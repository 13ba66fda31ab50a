package scheduler

import (
	"fmt"

	"github.com/aristath/teamster/internal/quanta"
)

// BuildDAG derives one task per quantum and wires dependencies from the
// configured domain ordering chains plus any caller-declared edges.
//
// Ordering chains express rules like "schema before engine before
// integration": within each chain, a task whose domain appears later depends
// on the nearest earlier chain domain that is present in this team.
// Declared edges map taskID -> additional dependency task IDs.
//
// The returned DAG has been populated but NOT validated; callers must run
// Validate before spawning workers.
func BuildDAG(detected []quanta.Quantum, chains [][]quanta.Domain, declared map[string][]string) (*DAG, error) {
	dag := NewDAG()

	byDomain := make(map[quanta.Domain]*Task, len(detected))
	for _, q := range detected {
		task := &Task{
			ID:          TaskID(q.Domain),
			Domain:      q.Domain,
			Description: fmt.Sprintf("%s work (triggered by %q)", q.Domain, q.Keyword),
			Status:      TaskPending,
		}
		byDomain[q.Domain] = task
	}

	for _, chain := range chains {
		var prev *Task
		for _, domain := range chain {
			task, present := byDomain[domain]
			if !present {
				continue
			}
			if prev != nil {
				task.DependsOn = appendUnique(task.DependsOn, prev.ID)
			}
			prev = task
		}
	}

	for _, q := range detected {
		task := byDomain[q.Domain]
		for _, depID := range declared[task.ID] {
			task.DependsOn = appendUnique(task.DependsOn, depID)
		}
		if err := dag.AddTask(task); err != nil {
			return nil, err
		}
	}

	return dag, nil
}

// TaskID returns the stable task identifier for a domain.
func TaskID(domain quanta.Domain) string {
	return fmt.Sprintf("task-%s", domain)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
