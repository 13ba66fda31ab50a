package supervisor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aristath/teamster/internal/quanta"
)

// NewTeamID derives the session's team identity from its quanta domains,
// e.g. "τ-schema+engine-3fa85f64".
func NewTeamID(domains []quanta.Domain) string {
	parts := make([]string, len(domains))
	for i, d := range domains {
		parts[i] = string(d)
	}
	return fmt.Sprintf("τ-%s-%s", strings.Join(parts, "+"), uuid.NewString()[:8])
}

// newWorkerID mints a unique worker identity tied to its domain.
func newWorkerID(domain quanta.Domain) string {
	return fmt.Sprintf("w-%s-%s", domain, uuid.NewString()[:8])
}
