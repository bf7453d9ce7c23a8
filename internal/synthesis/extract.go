package synthesis

import (
	"strings"
	"unicode"
)

// decisionVerbs mark a sentence as the actual recommendation.
var decisionVerbs = []string{"recommend", "should"}

// minFallbackSentence is the length a sentence must exceed to be used when
// no sentence carries a decision verb.
const minFallbackSentence = 20

// ExtractFinalDecision picks the short decision sentence out of a synthesis
// text: the first sentence containing a decision verb, else the first
// sentence longer than 20 characters, else the whole trimmed text.
func ExtractFinalDecision(text string) string {
	sentences := splitSentences(text)
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, verb := range decisionVerbs {
			if strings.Contains(lower, verb) {
				return s
			}
		}
	}
	for _, s := range sentences {
		if len(s) > minFallbackSentence {
			return s
		}
	}
	return strings.TrimSpace(text)
}

// splitSentences splits on terminal punctuation followed by whitespace or
// end of text, and on line breaks. Markdown list and heading markers are
// trimmed.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		s := strings.TrimSpace(cur.String())
		s = strings.TrimLeft(s, "#*-> \t")
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return out
}
