package secrets

import (
	"sort"
	"strings"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	Scrub(content string) *Result
	IsEnabled() bool
}

type scrubber struct {
	config *Config
}

type span struct {
	start, end int
}

// New creates a Scrubber. If cfg is nil, DefaultConfig() is used.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return &scrubber{config: cfg}, nil
}

// Scrub redacts every match of every applicable rule.
// Overlapping matches collapse into a single redaction.
func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: map[string]int{}}

	var spans []span
	for _, rule := range s.config.compiledRules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[m[0]:m[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:     rule.ID,
				StartIndex: m[0],
				EndIndex:   m[1],
				Line:       strings.Count(content[:m[0]], "\n") + 1,
			})
			result.ByRule[rule.ID]++
			spans = append(spans, span{m[0], m[1]})
		}
	}

	if len(spans) == 0 {
		return result
	}

	result.Scrubbed = redactSpans(content, spans, s.config.RedactionString)
	return result
}

func (s *scrubber) IsEnabled() bool {
	return true
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans by start and merges overlapping or adjacent ones.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := []span{spans[0]}
	for _, curr := range spans[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

// redactSpans replaces every span of content with redaction.
func redactSpans(content string, spans []span, redaction string) string {
	var b strings.Builder
	last := 0
	for _, sp := range mergeSpans(spans) {
		b.WriteString(content[last:sp.start])
		b.WriteString(redaction)
		last = sp.end
	}
	b.WriteString(content[last:])
	return b.String()
}

// Noop is a Scrubber that returns content unchanged.
type Noop struct{}

func (Noop) Scrub(content string) *Result {
	return &Result{Scrubbed: content, ByRule: map[string]int{}}
}

func (Noop) IsEnabled() bool {
	return false
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Noop{}
)
