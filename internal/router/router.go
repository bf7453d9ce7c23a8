// Package router selects which specialists a query needs.
package router

import (
	"strings"

	"github.com/fyrsmithlabs/council/internal/specialist"
)

// Classifier maps a natural-language query to an ordered, non-empty set of
// specialists. Implementations must be deterministic and side-effect free.
type Classifier interface {
	Route(query string) []specialist.Kind
}

// keywordRule pairs a specialist with the phrases that select it.
type keywordRule struct {
	kind     specialist.Kind
	keywords []string
}

// KeywordClassifier routes by case-insensitive substring matching.
//
// Rules are evaluated in specialist declaration order so the result order
// never depends on where a keyword appears in the query. A query that
// contains any strategic trigger is routed to the core team regardless of
// other matches; a query that matches nothing falls back to the default
// specialist.
type KeywordClassifier struct {
	rules    []keywordRule
	triggers []string
	coreTeam []specialist.Kind
	fallback specialist.Kind
}

// NewKeywordClassifier creates a classifier with the built-in keyword lists.
func NewKeywordClassifier() *KeywordClassifier {
	rules := make([]keywordRule, 0, len(specialist.All()))
	for _, k := range specialist.All() {
		rules = append(rules, keywordRule{
			kind:     k,
			keywords: specialist.ProfileOf(k).Keywords,
		})
	}
	return &KeywordClassifier{
		rules:    rules,
		triggers: specialist.StrategicTriggers(),
		coreTeam: specialist.CoreTeam(),
		fallback: specialist.Default,
	}
}

// Route implements Classifier.
func (c *KeywordClassifier) Route(query string) []specialist.Kind {
	q := strings.ToLower(query)

	if containsAny(q, c.triggers) {
		out := make([]specialist.Kind, len(c.coreTeam))
		copy(out, c.coreTeam)
		return out
	}

	var out []specialist.Kind
	for _, r := range c.rules {
		if containsAny(q, r.keywords) {
			out = append(out, r.kind)
		}
	}

	if len(out) == 0 {
		return []specialist.Kind{c.fallback}
	}
	return out
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
