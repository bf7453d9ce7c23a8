// Package synthesis merges specialist responses into one strategic
// decision and writes the round back to memory.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/completion"
	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

const synthesisInstructions = "You are the corporation's chief strategist. You receive analyses from " +
	"specialist advisors and must merge them into one unified, prioritized recommendation. " +
	"Resolve disagreements explicitly, weigh each advisor by their confidence, and state the " +
	"single most important action first."

const fallbackInstructions = "You are the corporation's chief strategist. No specialist analysis is " +
	"available for this question. Give a brief, cautious recommendation."

// DecisionSource supplies prior decisions for context.
type DecisionSource interface {
	RecentDecisions(ctx context.Context, corporationID string, limit int) ([]*memory.StrategicDecision, error)
}

// Input is one round to synthesize.
type Input struct {
	Query         string
	CorporationID string
	SessionID     string
	Responses     []consultation.Response

	// DecisionID pins the decision ID. A random one is used when empty.
	DecisionID string
}

// Synthesizer produces StrategicDecisions.
type Synthesizer struct {
	client      completion.Client
	decisions   DecisionSource
	contextSize int
	metrics     *Metrics
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithDecisionContext sets how many prior decisions are shown.
func WithDecisionContext(n int) Option {
	return func(s *Synthesizer) {
		if n >= 0 {
			s.contextSize = n
		}
	}
}

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) {
		s.now = now
	}
}

// NewSynthesizer creates a Synthesizer. decisions may be nil.
func NewSynthesizer(client completion.Client, decisions DecisionSource, logger *zap.Logger, opts ...Option) (*Synthesizer, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synthesizer{
		client:      client,
		decisions:   decisions,
		contextSize: memory.DefaultDecisionContext,
		metrics:     NewMetrics(),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Synthesize always returns a decision. Completion failures fall back to a
// deterministic summary of the responses.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) *memory.StrategicDecision {
	id := in.DecisionID
	if id == "" {
		id = uuid.New().String()
	}
	d := &memory.StrategicDecision{
		ID:                   id,
		Timestamp:            s.now().UTC(),
		SessionID:            in.SessionID,
		DecisionContext:      in.Query,
		AgentsConsulted:      make([]specialist.Kind, 0, len(in.Responses)),
		AgentRecommendations: make(map[specialist.Kind]memory.AgentRecommendation, len(in.Responses)),
		CorporationID:        in.CorporationID,
	}
	for _, r := range in.Responses {
		d.AgentsConsulted = append(d.AgentsConsulted, r.AgentType)
		d.AgentRecommendations[r.AgentType] = memory.AgentRecommendation{
			Recommendation: strings.Join(r.Recommendations, "; "),
			Confidence:     r.Confidence,
			Reasoning:      r.Reasoning,
		}
	}

	if len(in.Responses) == 0 {
		d.Synthesis = s.fallback(ctx, in)
	} else {
		d.Synthesis = s.merge(ctx, in)
	}
	d.FinalDecision = ExtractFinalDecision(d.Synthesis)
	return d
}

func (s *Synthesizer) fallback(ctx context.Context, in Input) string {
	s.metrics.FallbacksTotal.WithLabelValues("no_responses").Inc()

	out, err := s.client.Complete(ctx, completion.Request{
		System:      fallbackInstructions,
		Prompt:      in.Query,
		Temperature: 0.3,
	})
	if err != nil || strings.TrimSpace(out) == "" {
		s.logger.Warn("fallback synthesis failed",
			zap.String("corporation_id", in.CorporationID),
			zap.Error(err))
		return fmt.Sprintf("No specialist analysis was available for: %s", in.Query)
	}
	return strings.TrimSpace(out)
}

func (s *Synthesizer) merge(ctx context.Context, in Input) string {
	var prior []*memory.StrategicDecision
	if s.decisions != nil && s.contextSize > 0 {
		var err error
		prior, err = s.decisions.RecentDecisions(ctx, in.CorporationID, s.contextSize)
		if err != nil {
			s.logger.Warn("loading prior decisions failed",
				zap.String("corporation_id", in.CorporationID),
				zap.Error(err))
			prior = nil
		}
		if len(prior) > s.contextSize {
			prior = prior[:s.contextSize]
		}
	}

	out, err := s.client.Complete(ctx, completion.Request{
		System:      synthesisInstructions,
		Prompt:      buildPrompt(in, prior),
		Temperature: 0.4,
	})
	if err == nil && strings.TrimSpace(out) != "" {
		return strings.TrimSpace(out)
	}

	s.metrics.FallbacksTotal.WithLabelValues("completion_failed").Inc()
	s.logger.Warn("synthesis completion failed, using summary",
		zap.String("corporation_id", in.CorporationID),
		zap.Error(err))
	return Summarize(in.Responses)
}

// buildPrompt lists each specialist's view and the prior decisions.
func buildPrompt(in Input, prior []*memory.StrategicDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSpecialist analyses:\n", in.Query)
	for _, r := range in.Responses {
		title := specialist.ProfileOf(r.AgentType).Title
		if r.Degraded {
			fmt.Fprintf(&b, "\n## %s (unavailable)\n%s\n", title, r.Reasoning)
			continue
		}
		fmt.Fprintf(&b, "\n## %s (confidence %.2f)\n%s\n", title, r.Confidence, r.Analysis)
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	if len(prior) > 0 {
		b.WriteString("\nRecent decisions:\n")
		for _, d := range prior {
			fmt.Fprintf(&b, "- %s: %s -> %s\n", d.Timestamp.Format(time.DateOnly), d.DecisionContext, d.FinalDecision)
		}
	}

	b.WriteString("\nGive a unified, prioritized recommendation. Start with the single most important action.")
	return b.String()
}

// Summarize concatenates the usable responses in order. It is the
// synthesis text when the completion service is unavailable.
func Summarize(responses []consultation.Response) string {
	var parts []string
	for _, r := range responses {
		if r.Degraded {
			continue
		}
		title := specialist.ProfileOf(r.AgentType).Title
		part := fmt.Sprintf("%s (confidence %.2f): %s", title, r.Confidence, strings.TrimSpace(r.Analysis))
		if len(r.Recommendations) > 0 {
			part += " Recommended actions: " + strings.Join(r.Recommendations, "; ") + "."
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "No specialist produced a usable analysis."
	}
	return strings.Join(parts, "\n")
}
