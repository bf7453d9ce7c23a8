package memory

import (
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Scoring weights and limits.
const (
	// MaxKeywords is the number of query tokens kept for matching.
	MaxKeywords = 10

	// MinKeywordLength excludes short tokens; a token must be longer than this.
	MinKeywordLength = 4

	tagMatchWeight       = 0.3
	situationMatchWeight = 0.2
	recencyWeight        = 0.3
	effectivenessWeight  = 0.2

	// RecencyWindow is the age at which the recency contribution reaches zero.
	RecencyWindow = 30 * 24 * time.Hour
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "from": {},
	"what": {}, "which": {}, "should": {}, "would": {}, "could": {}, "about": {},
	"there": {}, "their": {}, "have": {}, "been": {}, "into": {}, "more": {}, "most": {},
	"some": {}, "when": {}, "where": {}, "while": {}, "will": {}, "your": {}, "our": {},
	"corp": {}, "corporation": {}, "please": {}, "need": {}, "want": {}, "help": {},
	"best": {}, "make": {}, "does": {}, "doing": {},
}

// Keywords extracts matching tokens from a query: lower-cased, punctuation
// stripped, split on whitespace, short and stop words dropped, duplicates
// removed, at most MaxKeywords kept in query order.
func Keywords(query string) []string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, query)

	seen := make(map[string]struct{})
	out := make([]string, 0, MaxKeywords)
	for _, tok := range strings.Fields(stripped) {
		if utf8.RuneCountInString(tok) <= MinKeywordLength {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

// Score computes the relevance of an experience to a keyword set at time
// now. The result is in [0, 1].
func Score(e *Experience, keywords []string, now time.Time) float64 {
	var score float64

	score += tagMatchWeight * float64(matchingTags(e.Tags, keywords))
	score += situationMatchWeight * float64(situationMatches(e.Situation, keywords))
	score += recencyWeight * recencyFactor(e.Timestamp, now)
	if e.Effectiveness != nil {
		score += effectivenessWeight * float64(*e.Effectiveness) / 10
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// recencyFactor decays linearly from 1 at age zero to 0 at RecencyWindow.
func recencyFactor(ts, now time.Time) float64 {
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	f := float64(RecencyWindow-age) / float64(RecencyWindow)
	if f < 0 {
		return 0
	}
	return f
}

func matchingTags(tags, keywords []string) int {
	n := 0
	for _, t := range tags {
		t = strings.ToLower(t)
		for _, k := range keywords {
			if t == k {
				n++
				break
			}
		}
	}
	return n
}

func situationMatches(situation string, keywords []string) int {
	s := strings.ToLower(situation)
	n := 0
	for _, k := range keywords {
		if strings.Contains(s, k) {
			n++
		}
	}
	return n
}

// Matches reports whether an experience passes the keyword candidate
// predicate: a tag equals a keyword or the situation contains one.
func Matches(e *Experience, keywords []string) bool {
	return matchingTags(e.Tags, keywords) > 0 || situationMatches(e.Situation, keywords) > 0
}

// ScoredExperience pairs an experience with its relevance score.
type ScoredExperience struct {
	Experience *Experience
	Score      float64
}

// Rank scores candidates and returns the top limit, highest score first.
// Ties go to the newer experience.
func Rank(candidates []*Experience, keywords []string, now time.Time, limit int) []ScoredExperience {
	scored := make([]ScoredExperience, 0, len(candidates))
	for _, e := range candidates {
		scored = append(scored, ScoredExperience{Experience: e, Score: Score(e, keywords, now)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Experience.Timestamp.After(scored[j].Experience.Timestamp)
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// normalizeTags lower-cases, trims and de-duplicates tags.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
