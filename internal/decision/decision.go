// Package decision maps a detected quanta count to a team-sizing decision.
// The mapping is a pure, table-driven function: thresholds come from
// configuration, never from code.
package decision

import (
	"fmt"

	"github.com/aristath/teamster/internal/quanta"
)

// Kind is the outcome of the team-sizing decision.
type Kind int

const (
	// Ambiguous means no clear quanta were detected; the caller should ask
	// the user for clarification. This is not an error.
	Ambiguous Kind = iota
	// RejectSingle means exactly one quantum was detected; a single worker
	// should handle it, team overhead is not justified.
	RejectSingle
	// TeamMode means the task splits cleanly across a bounded team.
	TeamMode
	// RejectOverLimit means too many quanta were detected; the work should be
	// partitioned into consecutive phases instead.
	RejectOverLimit
)

// String returns the decision kind name.
func (k Kind) String() string {
	switch k {
	case Ambiguous:
		return "AMBIGUOUS"
	case RejectSingle:
		return "REJECT_SINGLE"
	case TeamMode:
		return "TEAM_MODE"
	case RejectOverLimit:
		return "REJECT_OVERLIMIT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Thresholds configures the decision boundaries.
type Thresholds struct {
	// MinTeam is the smallest quanta count that justifies a team (default 2).
	MinTeam int `json:"min_team"`
	// MaxTeam is the largest quanta count one team may carry (default 5).
	MaxTeam int `json:"max_team"`
}

// DefaultThresholds returns the standard 2..5 team window.
func DefaultThresholds() Thresholds {
	return Thresholds{MinTeam: 2, MaxTeam: 5}
}

// Decision is the full decision report for one task description.
type Decision struct {
	Kind     Kind
	N        int
	Quanta   []quanta.Quantum
	Guidance string
	// Phases is populated only for RejectOverLimit: a suggested partition of
	// the detected quanta into consecutive phases of at most MaxTeam each,
	// preserving detection order.
	Phases [][]quanta.Quantum
}

// Decide maps the detected quanta to a decision. Deterministic and total:
// every N >= 0 produces exactly one Kind.
func Decide(detected []quanta.Quantum, th Thresholds) Decision {
	if th.MinTeam <= 0 {
		th.MinTeam = 2
	}
	if th.MaxTeam < th.MinTeam {
		th.MaxTeam = th.MinTeam
	}

	n := len(detected)
	d := Decision{N: n, Quanta: detected}

	switch {
	case n == 0:
		d.Kind = Ambiguous
		d.Guidance = "could not detect clear quanta; ask the user to clarify the task"
	case n < th.MinTeam:
		d.Kind = RejectSingle
		d.Guidance = "use a single worker; team overhead is not justified for one quantum"
	case n <= th.MaxTeam:
		d.Kind = TeamMode
		d.Guidance = fmt.Sprintf("form a team of %d workers, one per quantum", n)
	default:
		d.Kind = RejectOverLimit
		d.Phases = splitPhases(detected, th.MaxTeam)
		d.Guidance = fmt.Sprintf("%d quanta exceed the team limit of %d; split into %d consecutive phases", n, th.MaxTeam, len(d.Phases))
	}

	return d
}

// splitPhases partitions quanta into consecutive chunks of at most size each,
// preserving detection order.
func splitPhases(detected []quanta.Quantum, size int) [][]quanta.Quantum {
	var phases [][]quanta.Quantum
	for start := 0; start < len(detected); start += size {
		end := min(start+size, len(detected))
		phases = append(phases, detected[start:end])
	}
	return phases
}
