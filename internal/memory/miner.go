package memory

import (
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/council/internal/specialist"
)

const (
	// MinPatternSupport is the minimum number of experiences sharing a tag.
	MinPatternSupport = 3

	// MinPatternAgents is the minimum number of distinct specialists in a group.
	MinPatternAgents = 2

	// MaxPatterns caps one mining run.
	MaxPatterns = 10

	// MaxPatternConfidence caps pattern confidence regardless of support.
	MaxPatternConfidence = 0.9
)

// PatternConfidence is min(0.9, support/10).
func PatternConfidence(support int) float64 {
	return math.Min(MaxPatternConfidence, float64(support)/10)
}

// MinePatterns turns tag groups into cross-specialist patterns.
//
// Groups smaller than MinPatternSupport or spanning fewer than
// MinPatternAgents specialists are dropped. Survivors are ordered by size
// (largest first, then tag) and capped at MaxPatterns.
func MinePatterns(corporationID string, groups []TagGroup, now time.Time) []*MemoryPattern {
	kept := make([]TagGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.ExperienceIDs) < MinPatternSupport {
			continue
		}
		if len(distinctAgents(g.AgentTypes)) < MinPatternAgents {
			continue
		}
		kept = append(kept, g)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if len(kept[i].ExperienceIDs) != len(kept[j].ExperienceIDs) {
			return len(kept[i].ExperienceIDs) > len(kept[j].ExperienceIDs)
		}
		return kept[i].Tag < kept[j].Tag
	})
	if len(kept) > MaxPatterns {
		kept = kept[:MaxPatterns]
	}

	patterns := make([]*MemoryPattern, 0, len(kept))
	for _, g := range kept {
		ids := make([]string, len(g.ExperienceIDs))
		copy(ids, g.ExperienceIDs)
		patterns = append(patterns, &MemoryPattern{
			Pattern:           g.Tag,
			SourceExperiences: ids,
			ApplicableAgents:  distinctAgents(g.AgentTypes),
			Confidence:        PatternConfidence(len(g.ExperienceIDs)),
			CorporationID:     corporationID,
			UpdatedAt:         now,
		})
	}
	return patterns
}

// GroupExperiences builds tag groups in memory. Store implementations
// without a native aggregation use it.
func GroupExperiences(exps []*Experience, minSize int) []TagGroup {
	index := make(map[string]*TagGroup)
	var order []string
	for _, e := range exps {
		for _, tag := range e.Tags {
			g, ok := index[tag]
			if !ok {
				g = &TagGroup{Tag: tag}
				index[tag] = g
				order = append(order, tag)
			}
			g.ExperienceIDs = append(g.ExperienceIDs, e.ID)
			g.AgentTypes = append(g.AgentTypes, e.AgentType)
		}
	}

	out := make([]TagGroup, 0, len(order))
	for _, tag := range order {
		g := index[tag]
		if len(g.ExperienceIDs) >= minSize {
			out = append(out, *g)
		}
	}
	return out
}

// distinctAgents de-duplicates kinds and returns them in declaration order.
func distinctAgents(kinds []specialist.Kind) []specialist.Kind {
	seen := make(map[specialist.Kind]bool, len(kinds))
	for _, k := range kinds {
		seen[k] = true
	}
	out := make([]specialist.Kind, 0, len(seen))
	for _, k := range specialist.All() {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out
}
