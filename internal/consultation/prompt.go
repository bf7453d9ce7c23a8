package consultation

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/council/internal/completion"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

// buildRequest assembles the completion request for one branch: role
// instructions, the situation, prior experience and the output schema.
func buildRequest(kind specialist.Kind, query, domain string, past []*memory.Experience) completion.Request {
	var b strings.Builder

	b.WriteString("Situation:\n")
	b.WriteString(query)
	b.WriteString("\n")

	if domain != "" {
		b.WriteString("\nCurrent corporation data:\n")
		b.WriteString(domain)
		b.WriteString("\n")
	}

	if len(past) > 0 {
		b.WriteString("\nRelevant past experience:\n")
		for i, e := range past {
			fmt.Fprintf(&b, "%d. Situation: %s\n   Recommendation: %s\n", i+1, e.Situation, e.Recommendation)
			if e.Effectiveness != nil {
				fmt.Fprintf(&b, "   Effectiveness: %d/10", *e.Effectiveness)
				if e.Outcome != "" {
					fmt.Fprintf(&b, " (%s)", e.Outcome)
				}
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(completion.AnalysisSchema)

	return completion.Request{
		System:      specialist.ProfileOf(kind).Instructions,
		Prompt:      b.String(),
		JSON:        true,
		Temperature: 0.3,
	}
}
