package scheduler

import (
	"errors"
	"strings"
	"testing"
)

// TestDAGValidate tests cycle detection with various graph structures.
func TestDAGValidate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() *DAG
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&Task{ID: "A"})
				dag.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				dag.AddTask(&Task{ID: "C", DependsOn: []string{"B"}})
				return dag
			},
			wantErr: false,
		},
		{
			name: "diamond converging branches is not a cycle",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&Task{ID: "A"})
				dag.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				dag.AddTask(&Task{ID: "C", DependsOn: []string{"A"}})
				dag.AddTask(&Task{ID: "D", DependsOn: []string{"B", "C"}})
				return dag
			},
			wantErr: false,
		},
		{
			name: "self-loop",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&Task{ID: "A", DependsOn: []string{"A"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "two-node mutual cycle",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&Task{ID: "A", DependsOn: []string{"B"}})
				dag.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "n-node chain cycle",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&Task{ID: "A", DependsOn: []string{"D"}})
				dag.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				dag.AddTask(&Task{ID: "C", DependsOn: []string{"B"}})
				dag.AddTask(&Task{ID: "D", DependsOn: []string{"C"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "missing dependency",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&Task{ID: "A", DependsOn: []string{"nonexistent"}})
				return dag
			},
			wantErr:     true,
			errContains: "nonexistent",
		},
		{
			name: "disconnected acyclic components",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&Task{ID: "A"})
				dag.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				dag.AddTask(&Task{ID: "C"})
				dag.AddTask(&Task{ID: "D", DependsOn: []string{"C"}})
				return dag
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := tt.setup()
			order, err := dag.Validate()

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
			if len(order) != len(dag.Tasks()) {
				t.Errorf("order has %d entries, want %d", len(order), len(dag.Tasks()))
			}
			assertTopological(t, dag, order)
		})
	}
}

// assertTopological verifies every task appears after all of its dependencies.
func assertTopological(t *testing.T, dag *DAG, order []string) {
	t.Helper()

	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	for _, task := range dag.Tasks() {
		for _, depID := range task.DependsOn {
			if position[depID] > position[task.ID] {
				t.Errorf("order violates dependency: %s at %d before %s at %d", task.ID, position[task.ID], depID, position[depID])
			}
		}
	}
}

// TestDAGValidateCyclePath verifies the minimal cycle path is reported.
func TestDAGValidateCyclePath(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&Task{ID: "A"})
	dag.AddTask(&Task{ID: "B", DependsOn: []string{"A", "D"}})
	dag.AddTask(&Task{ID: "C", DependsOn: []string{"B"}})
	dag.AddTask(&Task{ID: "D", DependsOn: []string{"C"}})

	_, err := dag.Validate()
	if err == nil {
		t.Fatal("expected cycle error")
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}

	// The cycle is B -> D -> C -> B (3 participants); the path closes on its
	// starting node.
	if len(cycleErr.Path) != 4 {
		t.Fatalf("expected cycle path of length 4, got %v", cycleErr.Path)
	}
	if cycleErr.Path[0] != cycleErr.Path[len(cycleErr.Path)-1] {
		t.Errorf("cycle path %v does not close on its start", cycleErr.Path)
	}
	for _, id := range cycleErr.Path {
		if id == "A" {
			t.Errorf("acyclic task A reported in cycle path %v", cycleErr.Path)
		}
	}
}

func TestDAGEligible(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&Task{ID: "A"})
	dag.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
	dag.AddTask(&Task{ID: "C"})

	eligible := dag.Eligible()
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible tasks, got %d", len(eligible))
	}
	if eligible[0].ID != "A" || eligible[1].ID != "C" {
		t.Errorf("expected [A C], got [%s %s]", eligible[0].ID, eligible[1].ID)
	}

	// Completing A unlocks B.
	if err := dag.Claim("A", "w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := dag.MarkInProgress("A"); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	if err := dag.MarkCompleted("A", "done"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	eligible = dag.Eligible()
	found := false
	for _, task := range eligible {
		if task.ID == "B" {
			found = true
		}
	}
	if !found {
		t.Errorf("B should be eligible after A completes, got %v", eligible)
	}
}

// TestDAGClaimExclusive verifies a task has at most one owner at a time.
func TestDAGClaimExclusive(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&Task{ID: "A"})

	if err := dag.Claim("A", "w1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	err := dag.Claim("A", "w2")
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	// Claiming again by the same owner is idempotent.
	if err := dag.Claim("A", "w1"); err != nil {
		t.Errorf("re-claim by owner failed: %v", err)
	}

	// After release a new worker can claim.
	if err := dag.ReleaseClaim("A"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := dag.Claim("A", "w2"); err != nil {
		t.Errorf("claim after release failed: %v", err)
	}
}

// TestDAGDependencyOrderEnforced verifies a dependent task cannot enter
// InProgress while a dependency is incomplete.
func TestDAGDependencyOrderEnforced(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&Task{ID: "A"})
	dag.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})

	if err := dag.Claim("B", "w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := dag.MarkInProgress("B")
	if err == nil {
		t.Fatal("expected error starting B before A completes")
	}

	got, _ := dag.Get("B")
	if got.Status != TaskBlocked {
		t.Errorf("B should be blocked, got %s", got.Status)
	}
}

func TestDAGTerminalQueries(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&Task{ID: "A"})
	dag.AddTask(&Task{ID: "B"})

	if dag.AllTerminal() {
		t.Error("AllTerminal should be false with pending tasks")
	}

	dag.Claim("A", "w1")
	dag.MarkInProgress("A")
	dag.MarkCompleted("A", "ok")
	dag.MarkFailed("B", errors.New("boom"))

	if !dag.AllTerminal() {
		t.Error("AllTerminal should be true once every task is terminal")
	}
	if !dag.AnyFailed() {
		t.Error("AnyFailed should be true with a failed task")
	}
}

func TestDAGMarkFailedReleasesOwner(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&Task{ID: "A"})
	dag.Claim("A", "w1")
	dag.MarkInProgress("A")

	if err := dag.MarkFailed("A", errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := dag.Get("A")
	if got.Status != TaskFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Owner != "" {
		t.Errorf("owner = %q; a failed task's worker is retired", got.Owner)
	}
}

func TestDAGCheckpoint(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&Task{ID: "A"})

	payload := []byte(`{"phase":"local_validation","progress":0.4}`)
	if err := dag.SetCheckpoint("A", payload); err != nil {
		t.Fatalf("set checkpoint: %v", err)
	}

	got, _ := dag.Get("A")
	if string(got.Checkpoint) != string(payload) {
		t.Errorf("checkpoint round-trip mismatch: %s", got.Checkpoint)
	}

	// Mutating the caller's slice must not affect stored state.
	payload[0] = 'X'
	got, _ = dag.Get("A")
	if got.Checkpoint[0] == 'X' {
		t.Error("checkpoint aliases caller memory")
	}
}
