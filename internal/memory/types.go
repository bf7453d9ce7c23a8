package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/council/internal/specialist"
)

// Common errors for memory operations.
var (
	ErrEmptyCorporationID      = errors.New("corporation ID cannot be empty")
	ErrEmptySessionID          = errors.New("session ID cannot be empty")
	ErrEmptySituation          = errors.New("situation cannot be empty")
	ErrEmptyRecommendation     = errors.New("recommendation cannot be empty")
	ErrInvalidAgentType        = errors.New("invalid agent type")
	ErrInvalidEffectiveness    = errors.New("effectiveness must be between 1 and 10")
	ErrSessionNotFound         = errors.New("no experiences recorded for session")
	ErrFeedbackAlreadyRecorded = errors.New("feedback already recorded for session")
	ErrPatternNotFound         = errors.New("pattern not found")
	ErrEmptyDecisionContext    = errors.New("decision context cannot be empty")
)

// Experience is one specialist's contribution to one consultation round.
//
// Situation, Recommendation and Timestamp never change after the record is
// written. Outcome and Effectiveness start empty and are set exactly once by
// a later feedback event.
type Experience struct {
	ID             string          `json:"id" bson:"_id"`
	AgentType      specialist.Kind `json:"agent_type" bson:"agentType"`
	Timestamp      time.Time       `json:"timestamp" bson:"timestamp"`
	SessionID      string          `json:"session_id" bson:"sessionId"`
	CorporationID  string          `json:"corporation_id" bson:"corporationId"`
	Situation      string          `json:"situation" bson:"situation"`
	Recommendation string          `json:"recommendation" bson:"recommendation"`
	Outcome        string          `json:"outcome,omitempty" bson:"outcome,omitempty"`
	Effectiveness  *int            `json:"effectiveness,omitempty" bson:"effectiveness,omitempty"`
	Tags           []string        `json:"tags,omitempty" bson:"tags"`
}

// NewExperience creates an experience with a generated ID and the current time.
func NewExperience(corporationID, sessionID string, agent specialist.Kind, situation, recommendation string, tags []string) (*Experience, error) {
	e := &Experience{
		ID:             uuid.New().String(),
		AgentType:      agent,
		Timestamp:      time.Now().UTC(),
		SessionID:      sessionID,
		CorporationID:  corporationID,
		Situation:      situation,
		Recommendation: recommendation,
		Tags:           normalizeTags(tags),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks required fields.
func (e *Experience) Validate() error {
	if e.CorporationID == "" {
		return ErrEmptyCorporationID
	}
	if e.SessionID == "" {
		return ErrEmptySessionID
	}
	if !e.AgentType.Valid() {
		return ErrInvalidAgentType
	}
	if e.Situation == "" {
		return ErrEmptySituation
	}
	if e.Recommendation == "" {
		return ErrEmptyRecommendation
	}
	if e.Effectiveness != nil {
		if err := ValidateEffectiveness(*e.Effectiveness); err != nil {
			return err
		}
	}
	return nil
}

// HasFeedback reports whether the write-once feedback fields are set.
func (e *Experience) HasFeedback() bool {
	return e.Effectiveness != nil
}

// ValidateEffectiveness checks the 1-10 rating range.
func ValidateEffectiveness(v int) error {
	if v < 1 || v > 10 {
		return ErrInvalidEffectiveness
	}
	return nil
}

// AgentRecommendation is one specialist's contribution as captured on a decision.
type AgentRecommendation struct {
	Recommendation string  `json:"recommendation" bson:"recommendation"`
	Confidence     float64 `json:"confidence" bson:"confidence"`
	Reasoning      string  `json:"reasoning" bson:"reasoning"`
}

// StrategicDecision is the synthesized outcome of one consultation round.
// AgentsConsulted follows routing order, never completion order.
type StrategicDecision struct {
	ID                   string                                  `json:"id" bson:"_id"`
	Timestamp            time.Time                               `json:"timestamp" bson:"timestamp"`
	SessionID            string                                  `json:"session_id" bson:"sessionId"`
	DecisionContext      string                                  `json:"decision_context" bson:"decisionContext"`
	AgentsConsulted      []specialist.Kind                       `json:"agents_consulted" bson:"agentsConsulted"`
	AgentRecommendations map[specialist.Kind]AgentRecommendation `json:"agent_recommendations" bson:"agentRecommendations"`
	Synthesis            string                                  `json:"synthesis" bson:"synthesis"`
	FinalDecision        string                                  `json:"final_decision" bson:"finalDecision"`
	CorporationID        string                                  `json:"corporation_id" bson:"corporationId"`
}

// Validate checks required fields.
func (d *StrategicDecision) Validate() error {
	if d.CorporationID == "" {
		return ErrEmptyCorporationID
	}
	if d.DecisionContext == "" {
		return ErrEmptyDecisionContext
	}
	for _, k := range d.AgentsConsulted {
		if !k.Valid() {
			return ErrInvalidAgentType
		}
	}
	return nil
}

// MemoryPattern is a recurring theme shared by several specialists.
// SourceExperiences holds experience IDs; it is a lookup reference, not
// ownership.
type MemoryPattern struct {
	Pattern           string            `json:"pattern" bson:"pattern"`
	SourceExperiences []string          `json:"source_experiences" bson:"sourceExperiences"`
	ApplicableAgents  []specialist.Kind `json:"applicable_agents" bson:"applicableAgents"`
	Confidence        float64           `json:"confidence" bson:"confidence"`
	Applications      int               `json:"applications" bson:"applications"`
	CorporationID     string            `json:"corporation_id" bson:"corporationId"`
	UpdatedAt         time.Time         `json:"updated_at" bson:"updatedAt"`
}

// ExperienceQuery selects candidate experiences for relevance scoring.
//
// CorporationID and AgentType are always required. An experience matches
// when any tag equals a keyword or the situation contains a keyword
// (case-insensitive). A non-empty IDs further restricts matches to those
// IDs. No keywords matches nothing.
type ExperienceQuery struct {
	CorporationID string
	AgentType     specialist.Kind
	Keywords      []string
	IDs           []string
	Limit         int
}

// TagGroup is the aggregation of experiences sharing one tag.
type TagGroup struct {
	Tag           string
	ExperienceIDs []string
	AgentTypes    []specialist.Kind
}

// Feedback carries the write-once fields for every experience of a session.
type Feedback struct {
	CorporationID string
	SessionID     string
	Effectiveness int
	Outcome       string
}

// Store persists and queries memory records.
//
// Every method is scoped by corporation; implementations never read across
// tenants.
type Store interface {
	// InsertExperiences and InsertDecision skip records whose ID is
	// already stored.
	InsertExperiences(ctx context.Context, exps []*Experience) error
	FindExperiences(ctx context.Context, q ExperienceQuery) ([]*Experience, error)
	ExperiencesBySession(ctx context.Context, corporationID, sessionID string) ([]*Experience, error)

	// SetFeedback writes outcome and effectiveness on the session's
	// experiences that have none yet and returns how many were updated.
	SetFeedback(ctx context.Context, fb Feedback) (int, error)

	// GroupByTag aggregates experiences by tag, keeping groups of at least
	// minSize members.
	GroupByTag(ctx context.Context, corporationID string, minSize int) ([]TagGroup, error)

	InsertDecision(ctx context.Context, d *StrategicDecision) error
	RecentDecisions(ctx context.Context, corporationID string, limit int) ([]*StrategicDecision, error)

	// UpsertPattern stores a pattern keyed by (corporation, pattern),
	// preserving the applications counter of an existing record.
	UpsertPattern(ctx context.Context, p *MemoryPattern) error
	ListPatterns(ctx context.Context, corporationID string) ([]*MemoryPattern, error)
	IncrementApplications(ctx context.Context, corporationID, pattern string) (*MemoryPattern, error)
}
