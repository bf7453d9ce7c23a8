package mongostore

import (
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

// experienceFilter translates q. It reports false when q can match
// nothing, which saves a round trip.
func experienceFilter(q memory.ExperienceQuery) (bson.M, bool) {
	filter := bson.M{"corporationId": q.CorporationID}
	if q.AgentType != "" {
		filter["agentType"] = q.AgentType
	}

	if len(q.Keywords) == 0 {
		return nil, false
	}
	if len(q.IDs) > 0 {
		filter["_id"] = bson.M{"$in": q.IDs}
	}

	or := bson.A{bson.M{"tags": bson.M{"$in": q.Keywords}}}
	for _, kw := range q.Keywords {
		or = append(or, bson.M{"situation": primitive.Regex{Pattern: regexp.QuoteMeta(kw), Options: "i"}})
	}
	filter["$or"] = or
	return filter, true
}

// tagPipeline groups a corporation's experiences by tag. Groups come back
// sorted by tag so results are stable.
func tagPipeline(corporationID string, minSize int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"corporationId": corporationID}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: 1}}}},
		{{Key: "$unwind", Value: "$tags"}},
		{{Key: "$group", Value: bson.M{
			"_id":    "$tags",
			"ids":    bson.M{"$push": "$_id"},
			"agents": bson.M{"$push": "$agentType"},
			"count":  bson.M{"$sum": 1},
		}}},
		{{Key: "$match", Value: bson.M{"count": bson.M{"$gte": minSize}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

func toTagGroups(rows []tagGroupDoc) []memory.TagGroup {
	out := make([]memory.TagGroup, 0, len(rows))
	for _, r := range rows {
		agents := make([]specialist.Kind, len(r.Agents))
		for i, a := range r.Agents {
			agents[i] = specialist.Kind(a)
		}
		out = append(out, memory.TagGroup{Tag: r.Tag, ExperienceIDs: r.IDs, AgentTypes: agents})
	}
	return out
}

func statusKey(corporationID, cycleLabel string) bson.M {
	return bson.M{"corporationId": corporationID, "currentCycle": cycleLabel}
}

// progressField maps a phase to its document path.
func progressField(phase cycle.Phase) (string, error) {
	switch phase {
	case cycle.PhaseDataCollection:
		return "progress.esiCollected", nil
	case cycle.PhaseSpecialistAnalysis:
		return "progress.specialistAnalysisComplete", nil
	case cycle.PhaseSynthesis:
		return "progress.synthesisComplete", nil
	case cycle.PhaseReport:
		return "progress.reportGenerated", nil
	}
	return "", fmt.Errorf("%w: %s", cycle.ErrUnknownPhase, phase)
}

const codeDuplicateKey = 11000

// duplicatesOnly reports whether err carries write errors and every one of
// them is a duplicate key error.
func duplicatesOnly(err error) bool {
	var codes []int
	var we mongo.WriteException
	var bwe mongo.BulkWriteException
	switch {
	case errors.As(err, &we):
		if we.WriteConcernError != nil {
			return false
		}
		for _, e := range we.WriteErrors {
			codes = append(codes, e.Code)
		}
	case errors.As(err, &bwe):
		if bwe.WriteConcernError != nil {
			return false
		}
		for _, e := range bwe.WriteErrors {
			codes = append(codes, e.Code)
		}
	}
	if len(codes) == 0 {
		return false
	}
	for _, c := range codes {
		if c != codeDuplicateKey {
			return false
		}
	}
	return true
}
