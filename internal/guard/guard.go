// Package guard scans worker output for forbidden patterns and silent
// placeholders. The pattern lists are caller-supplied data, not code.
package guard

import (
	"errors"
	"strings"
)

// ErrSilentPlaceholder marks output that is neither a real implementation nor
// an explicit "not supported" signal.
var ErrSilentPlaceholder = errors.New("output is a silent placeholder")

// NotSupportedMarker is the explicit signal a worker emits when it determines
// the requested work cannot be supported. Output carrying this marker passes
// the invariant check.
const NotSupportedMarker = "NOT SUPPORTED:"

// Violation is one forbidden-pattern hit in scanned output.
type Violation struct {
	Pattern string // The forbidden pattern that matched
	Line    int    // 1-based line number of the first hit
	Excerpt string // The offending line, trimmed
}

// Scanner checks worker output against policy.
type Scanner struct {
	forbidden    []string
	placeholders []string
}

// NewScanner creates a scanner. forbidden are patterns that must never appear
// in output (any hit fails the guard check); placeholders are patterns that,
// when they make up the substance of the output, indicate unimplemented work.
// Both match case-insensitively as substrings.
func NewScanner(forbidden, placeholders []string) *Scanner {
	return &Scanner{forbidden: forbidden, placeholders: placeholders}
}

// Scan returns every forbidden-pattern violation in the output.
// Zero violations means the guard check passes.
func (s *Scanner) Scan(output string) []Violation {
	var violations []Violation

	lines := strings.Split(output, "\n")
	for _, pattern := range s.forbidden {
		if pattern == "" {
			continue
		}
		needle := strings.ToLower(pattern)
		for i, line := range lines {
			if strings.Contains(strings.ToLower(line), needle) {
				violations = append(violations, Violation{
					Pattern: pattern,
					Line:    i + 1,
					Excerpt: strings.TrimSpace(line),
				})
				break // One violation per pattern is enough for diagnostics
			}
		}
	}

	return violations
}

// CheckImplemented enforces the completion invariant: output must be a real
// implementation or carry the explicit NotSupportedMarker. Empty output, or
// output whose only substance is placeholder patterns, fails with
// ErrSilentPlaceholder.
func (s *Scanner) CheckImplemented(output string) error {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return ErrSilentPlaceholder
	}

	if strings.Contains(strings.ToUpper(trimmed), NotSupportedMarker) {
		return nil // Explicit signal, not a silent placeholder
	}

	// Placeholder-only output: every non-empty line matches a placeholder pattern.
	lines := strings.Split(trimmed, "\n")
	substantive := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !s.isPlaceholderLine(line) {
			substantive = true
			break
		}
	}
	if !substantive {
		return ErrSilentPlaceholder
	}

	return nil
}

func (s *Scanner) isPlaceholderLine(line string) bool {
	lower := strings.ToLower(line)
	for _, pattern := range s.placeholders {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
