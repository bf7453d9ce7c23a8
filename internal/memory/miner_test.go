package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/council/internal/specialist"
)

func exp(id string, agent specialist.Kind, tags ...string) *Experience {
	return &Experience{ID: id, AgentType: agent, Tags: tags}
}

func TestPatternConfidence(t *testing.T) {
	assert.InDelta(t, 0.3, PatternConfidence(3), 1e-9)
	assert.InDelta(t, 0.5, PatternConfidence(5), 1e-9)
	assert.InDelta(t, 0.9, PatternConfidence(9), 1e-9)
	assert.InDelta(t, 0.9, PatternConfidence(40), 1e-9)
}

func TestMinePatterns_BelowSupport(t *testing.T) {
	groups := GroupExperiences([]*Experience{
		exp("a", specialist.Mining, "moon"),
		exp("b", specialist.Mining, "moon"),
	}, 1)

	assert.Empty(t, MinePatterns("corp-1", groups, time.Now()))
}

func TestMinePatterns_SingleSpecialist(t *testing.T) {
	groups := GroupExperiences([]*Experience{
		exp("a", specialist.Mining, "moon"),
		exp("b", specialist.Mining, "moon"),
		exp("c", specialist.Mining, "moon"),
	}, MinPatternSupport)

	assert.Empty(t, MinePatterns("corp-1", groups, time.Now()))
}

func TestMinePatterns_CrossSpecialist(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	groups := GroupExperiences([]*Experience{
		exp("a", specialist.Market, "moon"),
		exp("b", specialist.Mining, "moon"),
		exp("c", specialist.Mining, "moon", "ore"),
	}, MinPatternSupport)

	got := MinePatterns("corp-1", groups, now)
	require.Len(t, got, 1)

	p := got[0]
	assert.Equal(t, "moon", p.Pattern)
	assert.Equal(t, "corp-1", p.CorporationID)
	assert.Equal(t, []string{"a", "b", "c"}, p.SourceExperiences)
	assert.Equal(t, []specialist.Kind{specialist.Market, specialist.Mining}, p.ApplicableAgents)
	assert.InDelta(t, 0.3, p.Confidence, 1e-9)
	assert.Zero(t, p.Applications)
	assert.Equal(t, now, p.UpdatedAt)
}

func TestMinePatterns_OrderAndCap(t *testing.T) {
	var exps []*Experience
	for i := 0; i < 12; i++ {
		tag := fmt.Sprintf("tag%02d", i)
		size := 3 + i%4
		for j := 0; j < size; j++ {
			agent := specialist.Economic
			if j%2 == 1 {
				agent = specialist.Mission
			}
			exps = append(exps, exp(fmt.Sprintf("%s-%d", tag, j), agent, tag))
		}
	}

	got := MinePatterns("corp-1", GroupExperiences(exps, MinPatternSupport), time.Now())
	require.Len(t, got, MaxPatterns)

	for i := 1; i < len(got); i++ {
		prev, cur := len(got[i-1].SourceExperiences), len(got[i].SourceExperiences)
		assert.GreaterOrEqual(t, prev, cur)
		if prev == cur {
			assert.Less(t, got[i-1].Pattern, got[i].Pattern)
		}
	}
	assert.Equal(t, "tag03", got[0].Pattern)
}

func TestGroupExperiences(t *testing.T) {
	groups := GroupExperiences([]*Experience{
		exp("a", specialist.Market, "ore", "moon"),
		exp("b", specialist.Mining, "moon"),
	}, 2)

	require.Len(t, groups, 1)
	assert.Equal(t, "moon", groups[0].Tag)
	assert.Equal(t, []string{"a", "b"}, groups[0].ExperienceIDs)
	assert.Equal(t, []specialist.Kind{specialist.Market, specialist.Mining}, groups[0].AgentTypes)
}
