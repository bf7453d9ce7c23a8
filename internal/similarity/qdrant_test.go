package similarity

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

type fakeEmbedder struct {
	err   error
	texts []string
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeQdrant struct {
	exists  bool
	created *qdrant.CreateCollection
	upserts []*qdrant.UpsertPoints
	queries []*qdrant.QueryPoints
	result  []*qdrant.ScoredPoint
	err     error
}

func (q *fakeQdrant) CollectionExists(context.Context, string) (bool, error) {
	return q.exists, q.err
}

func (q *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	q.created = req
	return q.err
}

func (q *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	q.upserts = append(q.upserts, req)
	return &qdrant.UpdateResult{}, q.err
}

func (q *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	q.queries = append(q.queries, req)
	return q.result, q.err
}

func testConfig() Config {
	cfg := Config{VectorSize: 3}
	cfg.ApplyDefaults()
	return cfg
}

func newTestFilter(t *testing.T, q *fakeQdrant, e *fakeEmbedder) *Filter {
	t.Helper()
	f, err := newFilter(q, e, testConfig(), zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestConfig(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.Collection = "Bad-Name"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.VectorSize = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestEmbedderConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, EmbedderConfig{}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, EmbedderConfig{BaseURL: "http://localhost:8080/v1"}.Validate(), ErrInvalidConfig)
	assert.NoError(t, EmbedderConfig{BaseURL: "http://localhost:8080/v1", Model: "bge-small"}.Validate())
}

func TestEnsureCollection(t *testing.T) {
	q := &fakeQdrant{}
	f := newTestFilter(t, q, &fakeEmbedder{})

	require.NoError(t, f.EnsureCollection(context.Background()))
	require.NotNil(t, q.created)
	assert.Equal(t, "council_experiences", q.created.CollectionName)

	q2 := &fakeQdrant{exists: true}
	f2 := newTestFilter(t, q2, &fakeEmbedder{})
	require.NoError(t, f2.EnsureCollection(context.Background()))
	assert.Nil(t, q2.created)
}

func TestIndex(t *testing.T) {
	q := &fakeQdrant{}
	e := &fakeEmbedder{}
	f := newTestFilter(t, q, e)

	exps := []*memory.Experience{{
		ID:             "9b2f6c1e-8f43-4a39-9d8e-2a6d1f0c7b11",
		CorporationID:  "corp-1",
		AgentType:      specialist.Mining,
		Situation:      "Moon pulls are late",
		Recommendation: "Add a second refinery",
	}}
	require.NoError(t, f.Index(context.Background(), exps))

	require.Len(t, q.upserts, 1)
	points := q.upserts[0].Points
	require.Len(t, points, 1)
	assert.Equal(t, "corp-1", points[0].Payload[payloadCorporationID].GetStringValue())
	assert.Equal(t, "mining", points[0].Payload[payloadAgentType].GetStringValue())
	assert.Equal(t, exps[0].ID, points[0].Payload[payloadExperienceID].GetStringValue())
	assert.Equal(t, []string{"Moon pulls are late\nAdd a second refinery"}, e.texts)

	assert.NoError(t, f.Index(context.Background(), nil))
	assert.Len(t, q.upserts, 1)
}

func TestIndex_EmbedError(t *testing.T) {
	q := &fakeQdrant{}
	f := newTestFilter(t, q, &fakeEmbedder{err: errors.New("model offline")})

	err := f.Index(context.Background(), []*memory.Experience{{ID: "x", CorporationID: "c", AgentType: specialist.Market}})
	assert.Error(t, err)
	assert.Empty(t, q.upserts)
}

func TestCandidates(t *testing.T) {
	q := &fakeQdrant{result: []*qdrant.ScoredPoint{
		{Score: 0.9, Payload: map[string]*qdrant.Value{payloadExperienceID: stringValue("e1")}},
		{Score: 0.8, Payload: map[string]*qdrant.Value{}},
		{Score: 0.7, Payload: map[string]*qdrant.Value{payloadExperienceID: stringValue("e2")}},
	}}
	f := newTestFilter(t, q, &fakeEmbedder{})

	ids, err := f.Candidates(context.Background(), "corp-1", specialist.Market, "jita prices", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, ids)

	require.Len(t, q.queries, 1)
	req := q.queries[0]
	assert.Equal(t, uint64(50), req.GetLimit())
	must := req.GetFilter().GetMust()
	require.Len(t, must, 2)
	assert.Equal(t, "corp-1", must[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, "market", must[1].GetField().GetMatch().GetKeyword())
}

func TestCandidates_EmptyQuery(t *testing.T) {
	q := &fakeQdrant{}
	f := newTestFilter(t, q, &fakeEmbedder{})

	ids, err := f.Candidates(context.Background(), "corp-1", specialist.Market, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, q.queries)
}

func TestCandidates_QueryError(t *testing.T) {
	q := &fakeQdrant{err: errors.New("unavailable")}
	f := newTestFilter(t, q, &fakeEmbedder{})

	_, err := f.Candidates(context.Background(), "corp-1", specialist.Market, "jita prices", 10)
	assert.Error(t, err)
}

func TestNewFilter_NilDeps(t *testing.T) {
	_, err := newFilter(nil, &fakeEmbedder{}, testConfig(), nil)
	assert.Error(t, err)
	_, err = newFilter(&fakeQdrant{}, nil, testConfig(), nil)
	assert.Error(t, err)
}
