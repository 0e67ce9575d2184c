package secrets

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// GitleaksOptions configures the gitleaks-backed scanner.
type GitleaksOptions struct {
	// AllowlistPath is a gitleaks-style TOML file. A missing file is ignored.
	AllowlistPath string

	// RedactionString replaces each detected secret (default: "[REDACTED]")
	RedactionString string
}

// gitleaksScrubber runs the full gitleaks default rule set. It catches far
// more credential formats than DefaultRules at a higher per-call cost.
type gitleaksScrubber struct {
	mu        sync.Mutex
	detector  *detect.Detector
	redaction string
}

// NewGitleaks creates a Scrubber backed by the gitleaks detector.
func NewGitleaks(opts GitleaksOptions) (Scrubber, error) {
	allowlist, err := LoadAllowlist(opts.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	applyAllowlist(&detector.Config, allowlist)

	redaction := opts.RedactionString
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	return &gitleaksScrubber{detector: detector, redaction: redaction}, nil
}

// Scrub redacts every occurrence of each secret gitleaks reports.
func (g *gitleaksScrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: map[string]int{}}

	g.mu.Lock()
	findings := g.detector.DetectString(content)
	g.mu.Unlock()

	var spans []span
	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		if f.Secret == "" || seen[f.Secret] {
			continue
		}
		seen[f.Secret] = true

		for from := 0; ; {
			i := strings.Index(content[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(f.Secret)
			result.Findings = append(result.Findings, Finding{
				RuleID:     f.RuleID,
				StartIndex: start,
				EndIndex:   end,
				Line:       strings.Count(content[:start], "\n") + 1,
			})
			result.ByRule[f.RuleID]++
			spans = append(spans, span{start, end})
			from = end
		}
	}

	if len(spans) == 0 {
		return result
	}
	result.Scrubbed = redactSpans(content, spans, g.redaction)
	return result
}

func (g *gitleaksScrubber) IsEnabled() bool {
	return true
}

// applyAllowlist appends allowlist as a global gitleaks allowlist entry.
// Patterns were validated by LoadAllowlist.
func applyAllowlist(cfg *gitleaksconfig.Config, allowlist *Allowlist) {
	if len(allowlist.Regexes) == 0 && len(allowlist.StopWords) == 0 {
		return
	}

	global := &gitleaksconfig.Allowlist{Description: "dashscope-mcp allowlist"}
	for _, pattern := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(regexp.MustCompile(pattern)))
	}
	global.StopWords = append(global.StopWords, allowlist.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

var _ Scrubber = (*gitleaksScrubber)(nil)
