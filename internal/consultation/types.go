package consultation

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

// Response is one specialist's answer in a round. A degraded response has
// zero confidence, no recommendations and the failure cause in Reasoning.
type Response struct {
	AgentType        specialist.Kind `json:"agent_type"`
	Analysis         string          `json:"analysis"`
	Recommendations  []string        `json:"recommendations"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	RelevantMemories []string        `json:"relevant_memories,omitempty"`
	Elapsed          time.Duration   `json:"elapsed"`
	Degraded         bool            `json:"degraded"`
}

// Request describes one consultation round.
type Request struct {
	Query         string
	CorporationID string

	// Specialists is the routed set, in routing order.
	Specialists []specialist.Kind

	// DomainContext holds pre-fetched game data per specialist. Kinds present
	// here skip the provider.
	DomainContext map[specialist.Kind]string
}

// MemoryFetcher returns the experiences most relevant to a query.
type MemoryFetcher interface {
	FetchRelevant(ctx context.Context, agent specialist.Kind, query, corporationID string, limit int) ([]*memory.Experience, error)
}

// OverallConfidence averages the per-specialist confidences and adds 0.1
// when more than one specialist answered, capped at 1.0.
func OverallConfidence(responses []Response) float64 {
	if len(responses) == 0 {
		return 0
	}
	var sum float64
	for _, r := range responses {
		sum += r.Confidence
	}
	avg := sum / float64(len(responses))
	if len(responses) > 1 {
		avg += 0.1
	}
	if avg > 1.0 {
		avg = 1.0
	}
	return avg
}

// AllDegraded reports whether no specialist produced a usable answer.
func AllDegraded(responses []Response) bool {
	for _, r := range responses {
		if !r.Degraded {
			return false
		}
	}
	return true
}

func degraded(kind specialist.Kind, cause error, elapsed time.Duration) Response {
	return Response{
		AgentType:       kind,
		Recommendations: []string{},
		Confidence:      0,
		Reasoning:       "consultation failed: " + cause.Error(),
		Elapsed:         elapsed,
		Degraded:        true,
	}
}
