package secrets

import (
	"sort"
	"strings"
)

// Result contains the scrubbing result.
type Result struct {
	Scrubbed string
	Findings []Finding

	// ByRule maps rule IDs to finding counts.
	ByRule map[string]int
}

// Finding locates a detected secret without carrying its value.
type Finding struct {
	RuleID     string
	StartIndex int
	EndIndex   int
	Line       int
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the sorted unique rule IDs that matched.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary returns a brief summary of findings.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}
	return "secrets redacted: " + strings.Join(r.RuleIDs(), ",")
}
