// Package redact strips credentials from free text before it is sent to a
// model or written to memory.
package redact

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Secret string
}

// Redactor replaces secrets found by the gitleaks default rule set with
// [REDACTED:<rule>] markers.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// New loads the gitleaks default configuration. It is slow; build one
// Redactor per process.
func New(logger *zap.Logger) (*Redactor, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redactor{detector: d, logger: logger}, nil
}

// Detect returns the secrets found in content.
func (r *Redactor) Detect(content string) []Finding {
	r.mu.Lock()
	raw := r.detector.DetectString(content)
	r.mu.Unlock()

	out := make([]Finding, 0, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Secret: f.Secret})
	}
	return out
}

// Redact returns content with every detected secret replaced.
func (r *Redactor) Redact(content string) string {
	findings := r.Detect(content)
	if len(findings) == 0 {
		return content
	}

	// Longest first so a secret that contains another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})
	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
		rules = append(rules, f.RuleID)
	}

	r.logger.Warn("secrets redacted from text", zap.Strings("rules", rules))
	return content
}
