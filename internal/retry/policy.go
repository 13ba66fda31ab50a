// Package retry encodes the per-failure-kind retry policies and the
// backoff-protected invocation of the external validation collaborator.
// Retry behavior is always an explicit Policy value, never an inline
// sleep-and-loop.
package retry

import (
	"math"
	"sync"
	"time"

	"github.com/aristath/teamster/internal/monitor"
)

// Policy bounds retries for one failure kind.
type Policy struct {
	Kind           monitor.FailureKind `json:"kind"`
	MaxAttempts    int                 `json:"max_attempts"`
	InitialBackoff time.Duration       `json:"initial_backoff"`
	Multiplier     float64             `json:"multiplier"`
	// Transient policies may be retried automatically. Non-transient kinds
	// (permanent validation errors) always yield a failed task and an
	// operator-visible event instead.
	Transient bool `json:"transient"`
}

// Delay returns the backoff before attempt k (0-indexed):
// initial * multiplier^k, exactly.
func (p Policy) Delay(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	return time.Duration(float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(k)))
}

// Set maps failure kinds to their policies.
type Set map[monitor.FailureKind]Policy

// DefaultSet returns the standard policy table.
func DefaultSet() Set {
	return Set{
		monitor.FailureLocalValidation: {
			Kind:           monitor.FailureLocalValidation,
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			Multiplier:     2.0,
			Transient:      true,
		},
		monitor.FailureIdleTimeout: {
			Kind:           monitor.FailureIdleTimeout,
			MaxAttempts:    2,
			InitialBackoff: 5 * time.Second,
			Multiplier:     2.0,
			Transient:      true,
		},
		monitor.FailureTaskTimeout: {
			Kind:           monitor.FailureTaskTimeout,
			MaxAttempts:    2,
			InitialBackoff: 10 * time.Second,
			Multiplier:     2.0,
			Transient:      true,
		},
		monitor.FailureMessageTimeout: {
			Kind:           monitor.FailureMessageTimeout,
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			Multiplier:     2.0,
			Transient:      true,
		},
		monitor.FailureCrash: {
			Kind:        monitor.FailureCrash,
			MaxAttempts: 1,
			Transient:   false,
		},
		monitor.FailureInvariant: {
			Kind:        monitor.FailureInvariant,
			MaxAttempts: 1,
			Transient:   false,
		},
		monitor.FailureConsolidation: {
			Kind:           monitor.FailureConsolidation,
			MaxAttempts:    2,
			InitialBackoff: time.Second,
			Multiplier:     2.0,
			Transient:      true,
		},
	}
}

// For returns the policy for a kind, or a conservative single-attempt
// non-transient policy if the kind is unknown.
func (s Set) For(kind monitor.FailureKind) Policy {
	if p, ok := s[kind]; ok {
		return p
	}
	return Policy{Kind: kind, MaxAttempts: 1, Transient: false}
}

// Tracker counts attempts per (kind, subject) so that retries for a given
// failure never exceed the policy's MaxAttempts.
type Tracker struct {
	mu       sync.Mutex
	policies Set
	counts   map[string]int
}

// NewTracker creates a tracker over the given policy set.
func NewTracker(policies Set) *Tracker {
	return &Tracker{
		policies: policies,
		counts:   make(map[string]int),
	}
}

// Attempt records one attempt for the kind and subject (typically a task or
// worker ID). It returns whether the attempt is allowed, the 0-indexed
// attempt number, and the delay to wait before it. Non-transient kinds allow
// only the first attempt. Once attempts are exhausted, allowed is false and
// the caller converts the failure into a crash/reassignment cycle instead of
// retrying indefinitely.
func (t *Tracker) Attempt(kind monitor.FailureKind, subject string) (allowed bool, attempt int, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	policy := t.policies.For(kind)
	key := string(kind) + "/" + subject
	attempt = t.counts[key]

	if attempt >= policy.MaxAttempts {
		return false, attempt, 0
	}
	if attempt > 0 && !policy.Transient {
		return false, attempt, 0
	}

	t.counts[key] = attempt + 1
	return true, attempt, policy.Delay(attempt)
}

// Reset clears the attempt count for the kind and subject, used when the
// underlying condition has been resolved.
func (t *Tracker) Reset(kind monitor.FailureKind, subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, string(kind)+"/"+subject)
}
