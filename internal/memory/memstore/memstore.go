// Package memstore provides an in-memory implementation of the memory and
// cycle stores. It backs tests and single-process deployments without a
// document database.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/memory"
)

// Store keeps every collection in maps guarded by one RWMutex. Values are
// copied on the way in and out so callers never share state with the store.
type Store struct {
	mu          sync.RWMutex
	experiences []*memory.Experience
	decisions   []*memory.StrategicDecision
	patterns    map[patternKey]*memory.MemoryPattern
	configs     map[string]*cycle.Configuration
	statuses    map[statusKey]*cycle.Status
}

type patternKey struct {
	corporationID string
	pattern       string
}

type statusKey struct {
	corporationID string
	cycle         string
}

var (
	_ memory.Store = (*Store)(nil)
	_ cycle.Store  = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		patterns: make(map[patternKey]*memory.MemoryPattern),
		configs:  make(map[string]*cycle.Configuration),
		statuses: make(map[statusKey]*cycle.Status),
	}
}

// InsertExperiences implements memory.Store.
func (s *Store) InsertExperiences(_ context.Context, exps []*memory.Experience) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range exps {
		if s.hasExperience(e.ID) {
			continue
		}
		s.experiences = append(s.experiences, copyExperience(e))
	}
	return nil
}

// FindExperiences implements memory.Store. Results are newest first.
func (s *Store) FindExperiences(_ context.Context, q memory.ExperienceQuery) ([]*memory.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[string]struct{}
	if len(q.IDs) > 0 {
		ids = make(map[string]struct{}, len(q.IDs))
		for _, id := range q.IDs {
			ids[id] = struct{}{}
		}
	}

	var out []*memory.Experience
	for _, e := range s.experiences {
		if e.CorporationID != q.CorporationID {
			continue
		}
		if q.AgentType != "" && e.AgentType != q.AgentType {
			continue
		}
		if ids != nil {
			if _, ok := ids[e.ID]; !ok {
				continue
			}
		}
		if !memory.Matches(e, q.Keywords) {
			continue
		}
		out = append(out, copyExperience(e))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ExperiencesBySession implements memory.Store.
func (s *Store) ExperiencesBySession(_ context.Context, corporationID, sessionID string) ([]*memory.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Experience
	for _, e := range s.experiences {
		if e.CorporationID == corporationID && e.SessionID == sessionID {
			out = append(out, copyExperience(e))
		}
	}
	return out, nil
}

// SetFeedback implements memory.Store.
func (s *Store) SetFeedback(_ context.Context, fb memory.Feedback) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.experiences {
		if e.CorporationID != fb.CorporationID || e.SessionID != fb.SessionID || e.HasFeedback() {
			continue
		}
		eff := fb.Effectiveness
		e.Effectiveness = &eff
		e.Outcome = fb.Outcome
		n++
	}
	return n, nil
}

// GroupByTag implements memory.Store.
func (s *Store) GroupByTag(_ context.Context, corporationID string, minSize int) ([]memory.TagGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scoped []*memory.Experience
	for _, e := range s.experiences {
		if e.CorporationID == corporationID {
			scoped = append(scoped, e)
		}
	}
	return memory.GroupExperiences(scoped, minSize), nil
}

// InsertDecision implements memory.Store.
func (s *Store) InsertDecision(_ context.Context, d *memory.StrategicDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.decisions {
		if existing.ID == d.ID {
			return nil
		}
	}
	s.decisions = append(s.decisions, copyDecision(d))
	return nil
}

// RecentDecisions implements memory.Store.
func (s *Store) RecentDecisions(_ context.Context, corporationID string, limit int) ([]*memory.StrategicDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.StrategicDecision
	for _, d := range s.decisions {
		if d.CorporationID == corporationID {
			out = append(out, copyDecision(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsertPattern implements memory.Store.
func (s *Store) UpsertPattern(_ context.Context, p *memory.MemoryPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := patternKey{p.CorporationID, p.Pattern}
	cp := copyPattern(p)
	if existing, ok := s.patterns[key]; ok {
		cp.Applications = existing.Applications
	}
	s.patterns[key] = cp
	p.Applications = cp.Applications
	return nil
}

// ListPatterns implements memory.Store. Highest confidence first.
func (s *Store) ListPatterns(_ context.Context, corporationID string) ([]*memory.MemoryPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.MemoryPattern
	for key, p := range s.patterns {
		if key.corporationID == corporationID {
			out = append(out, copyPattern(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out, nil
}

// IncrementApplications implements memory.Store.
func (s *Store) IncrementApplications(_ context.Context, corporationID, pattern string) (*memory.MemoryPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[patternKey{corporationID, pattern}]
	if !ok {
		return nil, memory.ErrPatternNotFound
	}
	p.Applications++
	return copyPattern(p), nil
}

// GetConfiguration implements cycle.Store.
func (s *Store) GetConfiguration(_ context.Context, corporationID string) (*cycle.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[corporationID]
	if !ok {
		return nil, cycle.ErrConfigurationNotFound
	}
	cp := *cfg
	return &cp, nil
}

// UpsertConfiguration implements cycle.Store.
func (s *Store) UpsertConfiguration(_ context.Context, cfg *cycle.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.configs[cfg.CorporationID] = &cp
	return nil
}

// ListEnabledConfigurations implements cycle.Store.
func (s *Store) ListEnabledConfigurations(_ context.Context) ([]*cycle.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*cycle.Configuration
	for _, cfg := range s.configs {
		if cfg.Enabled {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CorporationID < out[j].CorporationID
	})
	return out, nil
}

// GetStatus implements cycle.Store.
func (s *Store) GetStatus(_ context.Context, corporationID, cycleLabel string) (*cycle.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[statusKey{corporationID, cycleLabel}]
	if !ok {
		return nil, cycle.ErrStatusNotFound
	}
	cp := *st
	return &cp, nil
}

// CreateStatus implements cycle.Store.
func (s *Store) CreateStatus(_ context.Context, st *cycle.Status) (*cycle.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statusKey{st.CorporationID, st.CurrentCycle}
	if existing, ok := s.statuses[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *st
	s.statuses[key] = &cp
	out := cp
	return &out, nil
}

// MarkPhase implements cycle.Store.
func (s *Store) MarkPhase(_ context.Context, corporationID, cycleLabel string, phase cycle.Phase) (*cycle.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[statusKey{corporationID, cycleLabel}]
	if !ok {
		return nil, cycle.ErrStatusNotFound
	}
	st.Progress = st.Progress.With(phase)
	st.UpdatedAt = time.Now().UTC()
	cp := *st
	return &cp, nil
}

// SetState implements cycle.Store.
func (s *Store) SetState(_ context.Context, corporationID, cycleLabel string, state cycle.State, reason string) (*cycle.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[statusKey{corporationID, cycleLabel}]
	if !ok {
		return nil, cycle.ErrStatusNotFound
	}
	if !st.State.Terminal() {
		st.State = state
		st.Error = reason
		st.UpdatedAt = time.Now().UTC()
	}
	cp := *st
	return &cp, nil
}

func copyExperience(e *memory.Experience) *memory.Experience {
	cp := *e
	cp.Tags = append([]string(nil), e.Tags...)
	if e.Effectiveness != nil {
		v := *e.Effectiveness
		cp.Effectiveness = &v
	}
	return &cp
}

func (s *Store) hasExperience(id string) bool {
	for _, e := range s.experiences {
		if e.ID == id {
			return true
		}
	}
	return false
}

func copyDecision(d *memory.StrategicDecision) *memory.StrategicDecision {
	cp := *d
	cp.AgentsConsulted = slices.Clone(d.AgentsConsulted)
	cp.AgentRecommendations = maps.Clone(d.AgentRecommendations)
	return &cp
}

func copyPattern(p *memory.MemoryPattern) *memory.MemoryPattern {
	cp := *p
	cp.SourceExperiences = append([]string(nil), p.SourceExperiences...)
	cp.ApplicableAgents = append(cp.ApplicableAgents[:0:0], p.ApplicableAgents...)
	return &cp
}
