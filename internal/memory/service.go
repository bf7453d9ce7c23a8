package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/specialist"
)

const (
	// DefaultFetchLimit is the number of experiences returned per specialist.
	DefaultFetchLimit = 5

	// DefaultCandidateLimit bounds how many candidates are scored.
	DefaultCandidateLimit = 200

	// DefaultDecisionContext is the number of prior decisions given to synthesis.
	DefaultDecisionContext = 3
)

// CandidateFilter is an optional high-recall pre-filter, typically backed by
// a similarity search service. It returns experience IDs scoped to one
// corporation and specialist.
type CandidateFilter interface {
	Candidates(ctx context.Context, corporationID string, agent specialist.Kind, query string, limit int) ([]string, error)
	Index(ctx context.Context, exps []*Experience) error
}

// Service provides the memory operations used by consultation, synthesis
// and pattern mining.
type Service struct {
	store          Store
	filter         CandidateFilter
	candidateLimit int
	now            func() time.Time
	logger         *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCandidateFilter enables similarity pre-filtering of candidates.
func WithCandidateFilter(f CandidateFilter) Option {
	return func(s *Service) {
		s.filter = f
	}
}

// WithCandidateLimit sets how many candidates are scored per fetch.
func WithCandidateLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.candidateLimit = n
		}
	}
}

// WithClock overrides the time source used for recency scoring.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a memory service.
func NewService(store Store, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:          store,
		candidateLimit: DefaultCandidateLimit,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchRelevant returns the experiences of one specialist most relevant to
// query, most relevant first.
func (s *Service) FetchRelevant(ctx context.Context, agent specialist.Kind, query, corporationID string, limit int) ([]*Experience, error) {
	scored, err := s.FetchScored(ctx, agent, query, corporationID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Experience, 0, len(scored))
	for _, se := range scored {
		out = append(out, se.Experience)
	}
	return out, nil
}

// FetchScored is FetchRelevant with the relevance score attached.
func (s *Service) FetchScored(ctx context.Context, agent specialist.Kind, query, corporationID string, limit int) ([]ScoredExperience, error) {
	if corporationID == "" {
		return nil, ErrEmptyCorporationID
	}
	if !agent.Valid() {
		return nil, ErrInvalidAgentType
	}
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	keywords := Keywords(query)
	if len(keywords) == 0 {
		return []ScoredExperience{}, nil
	}
	q := ExperienceQuery{
		CorporationID: corporationID,
		AgentType:     agent,
		Keywords:      keywords,
		Limit:         s.candidateLimit,
	}

	candidates, err := s.findCandidates(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("finding experiences: %w", err)
	}

	ranked := Rank(candidates, keywords, s.now(), limit)

	s.logger.Debug("memories fetched",
		zap.String("corporation_id", corporationID),
		zap.String("agent_type", string(agent)),
		zap.Strings("keywords", keywords),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(ranked)))

	return ranked, nil
}

// findCandidates runs the keyword query, narrowed to the filter's hits when
// a filter is configured. Candidates always match a keyword. A narrowed set
// smaller than limit is topped up from the plain keyword query.
func (s *Service) findCandidates(ctx context.Context, q ExperienceQuery, query string, limit int) ([]*Experience, error) {
	if s.filter == nil {
		return s.store.FindExperiences(ctx, q)
	}

	ids, err := s.filter.Candidates(ctx, q.CorporationID, q.AgentType, query, s.candidateLimit)
	if err != nil {
		s.logger.Warn("candidate filter failed, using keyword match",
			zap.String("corporation_id", q.CorporationID),
			zap.String("agent_type", string(q.AgentType)),
			zap.Error(err))
		return s.store.FindExperiences(ctx, q)
	}
	if len(ids) == 0 {
		return s.store.FindExperiences(ctx, q)
	}

	narrowed := q
	narrowed.IDs = ids
	hits, err := s.store.FindExperiences(ctx, narrowed)
	if err != nil {
		return nil, err
	}
	if len(hits) >= limit {
		return hits, nil
	}

	rest, err := s.store.FindExperiences(ctx, q)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(hits))
	for _, e := range hits {
		seen[e.ID] = struct{}{}
	}
	for _, e := range rest {
		if _, ok := seen[e.ID]; !ok {
			hits = append(hits, e)
		}
	}
	return hits, nil
}

// RecordExperiences validates and appends experiences. Missing IDs and
// timestamps are filled in; feedback fields must be empty.
func (s *Service) RecordExperiences(ctx context.Context, exps []*Experience) error {
	if len(exps) == 0 {
		return nil
	}
	now := s.now().UTC()
	for _, e := range exps {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		e.Tags = normalizeTags(e.Tags)
		if e.HasFeedback() || e.Outcome != "" {
			return fmt.Errorf("experience %s: feedback can only be set by a feedback event", e.ID)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("validating experience: %w", err)
		}
	}

	if err := s.store.InsertExperiences(ctx, exps); err != nil {
		return fmt.Errorf("storing experiences: %w", err)
	}

	if s.filter != nil {
		if err := s.filter.Index(ctx, exps); err != nil {
			s.logger.Warn("indexing experiences for similarity search failed",
				zap.Int("count", len(exps)),
				zap.Error(err))
		}
	}

	s.logger.Debug("experiences recorded",
		zap.String("corporation_id", exps[0].CorporationID),
		zap.String("session_id", exps[0].SessionID),
		zap.Int("count", len(exps)))
	return nil
}

// RecordDecision appends a strategic decision.
func (s *Service) RecordDecision(ctx context.Context, d *StrategicDecision) error {
	if d == nil {
		return fmt.Errorf("decision cannot be nil")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = s.now().UTC()
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("validating decision: %w", err)
	}
	if err := s.store.InsertDecision(ctx, d); err != nil {
		return fmt.Errorf("storing decision: %w", err)
	}

	s.logger.Info("decision recorded",
		zap.String("id", d.ID),
		zap.String("corporation_id", d.CorporationID),
		zap.Int("agents", len(d.AgentsConsulted)))
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *Service) RecentDecisions(ctx context.Context, corporationID string, limit int) ([]*StrategicDecision, error) {
	if corporationID == "" {
		return nil, ErrEmptyCorporationID
	}
	if limit <= 0 {
		limit = DefaultDecisionContext
	}
	ds, err := s.store.RecentDecisions(ctx, corporationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	return ds, nil
}

// RecordFeedback sets outcome and effectiveness on every experience of a
// session that has none yet. It is the only update path for those fields.
func (s *Service) RecordFeedback(ctx context.Context, fb Feedback) (int, error) {
	if fb.CorporationID == "" {
		return 0, ErrEmptyCorporationID
	}
	if fb.SessionID == "" {
		return 0, ErrEmptySessionID
	}
	if err := ValidateEffectiveness(fb.Effectiveness); err != nil {
		return 0, err
	}

	existing, err := s.store.ExperiencesBySession(ctx, fb.CorporationID, fb.SessionID)
	if err != nil {
		return 0, fmt.Errorf("loading session experiences: %w", err)
	}
	if len(existing) == 0 {
		return 0, ErrSessionNotFound
	}

	updated, err := s.store.SetFeedback(ctx, fb)
	if err != nil {
		return 0, fmt.Errorf("recording feedback: %w", err)
	}
	if updated == 0 {
		return 0, ErrFeedbackAlreadyRecorded
	}

	s.logger.Info("feedback recorded",
		zap.String("corporation_id", fb.CorporationID),
		zap.String("session_id", fb.SessionID),
		zap.Int("effectiveness", fb.Effectiveness),
		zap.Int("updated", updated))
	return updated, nil
}

// Mine surfaces cross-specialist patterns for a corporation and stores
// them. Existing application counters are preserved.
func (s *Service) Mine(ctx context.Context, corporationID string) ([]*MemoryPattern, error) {
	if corporationID == "" {
		return nil, ErrEmptyCorporationID
	}

	groups, err := s.store.GroupByTag(ctx, corporationID, MinPatternSupport)
	if err != nil {
		return nil, fmt.Errorf("grouping experiences: %w", err)
	}

	patterns := MinePatterns(corporationID, groups, s.now().UTC())
	for _, p := range patterns {
		if err := s.store.UpsertPattern(ctx, p); err != nil {
			return nil, fmt.Errorf("storing pattern %q: %w", p.Pattern, err)
		}
	}

	s.logger.Info("patterns mined",
		zap.String("corporation_id", corporationID),
		zap.Int("groups", len(groups)),
		zap.Int("patterns", len(patterns)))
	return patterns, nil
}

// ListPatterns returns the stored patterns of a corporation.
func (s *Service) ListPatterns(ctx context.Context, corporationID string) ([]*MemoryPattern, error) {
	if corporationID == "" {
		return nil, ErrEmptyCorporationID
	}
	return s.store.ListPatterns(ctx, corporationID)
}

// ApplyPattern records that a pattern was consulted.
func (s *Service) ApplyPattern(ctx context.Context, corporationID, pattern string) (*MemoryPattern, error) {
	if corporationID == "" {
		return nil, ErrEmptyCorporationID
	}
	p, err := s.store.IncrementApplications(ctx, corporationID, pattern)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("pattern applied",
		zap.String("corporation_id", corporationID),
		zap.String("pattern", pattern),
		zap.Int("applications", p.Applications))
	return p, nil
}
