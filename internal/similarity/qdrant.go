package similarity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/council/internal/similarity")

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Payload keys stored on every point.
const (
	payloadExperienceID  = "experience_id"
	payloadCorporationID = "corporation_id"
	payloadAgentType     = "agent_type"
)

// Config holds the Qdrant gRPC settings.
type Config struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string

	// VectorSize must match the embedder's output.
	VectorSize uint64

	// MaxMessageSize caps gRPC messages. Default: 16MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "council_experiences"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: invalid collection name %q", ErrInvalidConfig, c.Collection)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// pointClient is the part of *qdrant.Client the filter uses.
type pointClient interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Filter implements memory.CandidateFilter on Qdrant.
type Filter struct {
	client   pointClient
	embedder embeddings.Embedder
	config   Config
	closer   func() error
	logger   *zap.Logger
}

var _ memory.CandidateFilter = (*Filter)(nil)

// NewQdrantFilter dials Qdrant over gRPC and makes sure the collection
// exists.
func NewQdrantFilter(ctx context.Context, cfg Config, embedder embeddings.Embedder, logger *zap.Logger) (*Filter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	f, err := newFilter(client, embedder, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	f.closer = client.Close

	if err := f.EnsureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return f, nil
}

func newFilter(client pointClient, embedder embeddings.Embedder, cfg Config, logger *zap.Logger) (*Filter, error) {
	if client == nil {
		return nil, fmt.Errorf("qdrant client cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{client: client, embedder: embedder, config: cfg, logger: logger}, nil
}

// Close releases the gRPC connection.
func (f *Filter) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}

// EnsureCollection creates the collection when missing.
func (f *Filter) EnsureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "similarity.EnsureCollection")
	defer span.End()

	exists, err := f.client.CollectionExists(ctx, f.config.Collection)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", f.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = f.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: f.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     f.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating collection %s: %w", f.config.Collection, err)
	}
	f.logger.Info("qdrant collection created", zap.String("collection", f.config.Collection))
	return nil
}

// Candidates returns the IDs of the experiences nearest to query for one
// corporation and specialist.
func (f *Filter) Candidates(ctx context.Context, corporationID string, agent specialist.Kind, query string, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "similarity.Candidates")
	defer span.End()
	span.SetAttributes(
		attribute.String("corporation_id", corporationID),
		attribute.String("agent_type", string(agent)),
		attribute.Int("limit", limit),
	)

	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	vector, err := f.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	points, err := f.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: f.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			keywordCondition(payloadCorporationID, corporationID),
			keywordCondition(payloadAgentType, string(agent)),
		}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("querying %s: %w", f.config.Collection, err)
	}

	ids := make([]string, 0, len(points))
	for _, p := range points {
		if v, ok := p.GetPayload()[payloadExperienceID]; ok {
			if id := v.GetStringValue(); id != "" {
				ids = append(ids, id)
			}
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(ids)))
	return ids, nil
}

// Index embeds and stores experiences. The point ID is the experience ID,
// so indexing the same experience twice overwrites it.
func (f *Filter) Index(ctx context.Context, exps []*memory.Experience) error {
	if len(exps) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "similarity.Index")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(exps)))

	texts := make([]string, len(exps))
	for i, e := range exps {
		texts[i] = indexText(e)
	}
	vectors, err := f.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("embedding experiences: %w", err)
	}
	if len(vectors) != len(exps) {
		return errors.New("embedder returned a different number of vectors")
	}

	points := make([]*qdrant.PointStruct, len(exps))
	for i, e := range exps {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(e.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: map[string]*qdrant.Value{
				payloadExperienceID:  stringValue(e.ID),
				payloadCorporationID: stringValue(e.CorporationID),
				payloadAgentType:     stringValue(string(e.AgentType)),
			},
		}
	}

	_, err = f.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: f.config.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

// indexText is what gets embedded for an experience.
func indexText(e *memory.Experience) string {
	return e.Situation + "\n" + e.Recommendation
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
