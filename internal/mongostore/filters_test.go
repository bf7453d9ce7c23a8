package mongostore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

func TestExperienceFilter(t *testing.T) {
	t.Run("keywords match tags or situation", func(t *testing.T) {
		f, ok := experienceFilter(memory.ExperienceQuery{
			CorporationID: "corp-1",
			AgentType:     specialist.Market,
			Keywords:      []string{"jita", "c++"},
		})
		require.True(t, ok)
		assert.Equal(t, "corp-1", f["corporationId"])
		assert.Equal(t, specialist.Market, f["agentType"])

		or, ok := f["$or"].(bson.A)
		require.True(t, ok)
		require.Len(t, or, 3)
		assert.Equal(t, bson.M{"tags": bson.M{"$in": []string{"jita", "c++"}}}, or[0])
		assert.Equal(t, bson.M{"situation": primitive.Regex{Pattern: `c\+\+`, Options: "i"}}, or[2])
	})

	t.Run("ids narrow the keyword match", func(t *testing.T) {
		f, ok := experienceFilter(memory.ExperienceQuery{
			CorporationID: "corp-1",
			AgentType:     specialist.Economic,
			Keywords:      []string{"wallet"},
			IDs:           []string{"a", "b"},
		})
		require.True(t, ok)
		assert.Equal(t, bson.M{"$in": []string{"a", "b"}}, f["_id"])
		or, ok := f["$or"].(bson.A)
		require.True(t, ok)
		assert.Len(t, or, 2)
	})

	t.Run("no keywords matches nothing", func(t *testing.T) {
		_, ok := experienceFilter(memory.ExperienceQuery{CorporationID: "corp-1", AgentType: specialist.Economic})
		assert.False(t, ok)
	})

	t.Run("ids without keywords match nothing", func(t *testing.T) {
		_, ok := experienceFilter(memory.ExperienceQuery{
			CorporationID: "corp-1",
			AgentType:     specialist.Economic,
			IDs:           []string{"a"},
		})
		assert.False(t, ok)
	})
}

func TestProgressField(t *testing.T) {
	for _, phase := range cycle.Phases() {
		field, err := progressField(phase)
		require.NoError(t, err, phase)
		assert.Contains(t, field, "progress.")
	}
	_, err := progressField("bogus")
	assert.ErrorIs(t, err, cycle.ErrUnknownPhase)
}

func TestToTagGroups(t *testing.T) {
	groups := toTagGroups([]tagGroupDoc{{
		Tag:    "mining",
		IDs:    []string{"e1", "e2"},
		Agents: []string{"economic", "mining"},
	}})
	require.Len(t, groups, 1)
	assert.Equal(t, "mining", groups[0].Tag)
	assert.Equal(t, []specialist.Kind{specialist.Economic, specialist.Mining}, groups[0].AgentTypes)
}

func TestTagPipeline(t *testing.T) {
	p := tagPipeline("corp-1", 3)
	require.Len(t, p, 6)
	assert.Equal(t, "$match", p[0][0].Key)
	assert.Equal(t, bson.M{"count": bson.M{"$gte": 3}}, p[4][0].Value)
}

func TestDuplicatesOnly(t *testing.T) {
	dup := mongo.WriteError{Code: codeDuplicateKey, Message: "E11000 duplicate key error"}
	other := mongo.WriteError{Code: 121, Message: "document failed validation"}

	assert.True(t, duplicatesOnly(mongo.WriteException{WriteErrors: mongo.WriteErrors{dup}}))
	assert.True(t, duplicatesOnly(fmt.Errorf("insert: %w", mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{{WriteError: dup}, {WriteError: dup}},
	})))

	assert.False(t, duplicatesOnly(mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{{WriteError: dup}, {WriteError: other}},
	}))
	assert.False(t, duplicatesOnly(mongo.WriteException{
		WriteErrors:       mongo.WriteErrors{dup},
		WriteConcernError: &mongo.WriteConcernError{Code: 64},
	}))
	assert.False(t, duplicatesOnly(mongo.WriteException{}))
	assert.False(t, duplicatesOnly(errors.New("connection reset")))
}
