// Package quanta detects independent work domains ("quanta") in a free-text
// task description using a data-driven domain -> keyword table.
package quanta

import "strings"

// Domain identifies one independently-assignable work domain.
type Domain string

// Built-in domains. Configuration may define additional ones.
const (
	DomainEngine      Domain = "engine"
	DomainSchema      Domain = "schema"
	DomainIntegration Domain = "integration"
	DomainResourcing  Domain = "resourcing"
	DomainTesting     Domain = "testing"
	DomainSecurity    Domain = "security"
	DomainStateless   Domain = "stateless"
)

// Quantum is a detected work domain plus the keyword that triggered the match.
type Quantum struct {
	Domain  Domain
	Keyword string
}

// Rule maps one domain to its ordered keyword list.
// Matching is case-insensitive substring; the first keyword that matches wins
// and is recorded as the trigger.
type Rule struct {
	Domain   Domain   `json:"domain"`
	Keywords []string `json:"keywords"`
}

// Classifier extracts quanta from task descriptions.
// It is a pure function over its rule table: no state, no side effects.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier with the given ordered rule table.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the deduplicated set of quanta detected in the description,
// in rule-table order. A domain registers at most once regardless of how many
// of its keywords appear. Empty or whitespace-only input yields no quanta.
func (c *Classifier) Classify(description string) []Quantum {
	text := strings.ToLower(strings.TrimSpace(description))
	if text == "" {
		return nil
	}

	var detected []Quantum
	seen := make(map[Domain]bool)

	for _, rule := range c.rules {
		if seen[rule.Domain] {
			continue
		}
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(kw)) {
				detected = append(detected, Quantum{Domain: rule.Domain, Keyword: kw})
				seen[rule.Domain] = true
				break
			}
		}
	}

	return detected
}

// Domains returns just the domain tags of the given quanta, preserving order.
func Domains(quanta []Quantum) []Domain {
	domains := make([]Domain, 0, len(quanta))
	for _, q := range quanta {
		domains = append(domains, q.Domain)
	}
	return domains
}
