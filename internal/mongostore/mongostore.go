// Package mongostore persists memory records and cycle state in MongoDB.
//
// Collections:
//
//	experiences          one document per specialist contribution
//	decisions            synthesized decisions
//	patterns             mined patterns, unique per (corporationId, pattern)
//	cycle_configurations one document per corporation
//	cycle_statuses       unique per (corporationId, currentCycle)
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/memory"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/council/internal/mongostore")

const (
	collExperiences = "experiences"
	collDecisions   = "decisions"
	collPatterns    = "patterns"
	collConfigs     = "cycle_configurations"
	collStatuses    = "cycle_statuses"
)

// Config holds the MongoDB connection settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Database == "" {
		c.Database = "council"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongo URI required")
	}
	return nil
}

// Store implements memory.Store and cycle.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ memory.Store = (*Store)(nil)
	_ cycle.Store  = (*Store)(nil)
)

// Connect dials MongoDB, pings it and ensures indexes.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("mongo store connected", zap.String("database", cfg.Database))
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop deletes the whole database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// EnsureIndexes creates the indexes every query relies on. Safe to repeat.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "mongostore.EnsureIndexes")
	defer span.End()

	specs := map[string][]mongo.IndexModel{
		collExperiences: {
			{Keys: bson.D{{Key: "corporationId", Value: 1}, {Key: "agentType", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "corporationId", Value: 1}, {Key: "sessionId", Value: 1}}},
			{Keys: bson.D{{Key: "corporationId", Value: 1}, {Key: "tags", Value: 1}}},
		},
		collDecisions: {
			{Keys: bson.D{{Key: "corporationId", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
		collPatterns: {
			{
				Keys:    bson.D{{Key: "corporationId", Value: 1}, {Key: "pattern", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collConfigs: {
			{Keys: bson.D{{Key: "corporationId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "enabled", Value: 1}}},
		},
		collStatuses: {
			{
				Keys:    bson.D{{Key: "corporationId", Value: 1}, {Key: "currentCycle", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			span.RecordError(err)
			return fmt.Errorf("creating indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// InsertExperiences implements memory.Store.
func (s *Store) InsertExperiences(ctx context.Context, exps []*memory.Experience) error {
	if len(exps) == 0 {
		return nil
	}
	docs := make([]any, len(exps))
	for i, e := range exps {
		docs[i] = e
	}
	opts := options.InsertMany().SetOrdered(false)
	if _, err := s.db.Collection(collExperiences).InsertMany(ctx, docs, opts); err != nil && !duplicatesOnly(err) {
		return fmt.Errorf("inserting experiences: %w", err)
	}
	return nil
}

// FindExperiences implements memory.Store. Results are newest first.
func (s *Store) FindExperiences(ctx context.Context, q memory.ExperienceQuery) ([]*memory.Experience, error) {
	ctx, span := tracer.Start(ctx, "mongostore.FindExperiences")
	defer span.End()

	filter, ok := experienceFilter(q)
	if !ok {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	var out []*memory.Experience
	if err := s.findAll(ctx, collExperiences, filter, opts, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("finding experiences: %w", err)
	}
	return out, nil
}

// ExperiencesBySession implements memory.Store.
func (s *Store) ExperiencesBySession(ctx context.Context, corporationID, sessionID string) ([]*memory.Experience, error) {
	var out []*memory.Experience
	filter := bson.M{"corporationId": corporationID, "sessionId": sessionID}
	if err := s.findAll(ctx, collExperiences, filter, options.Find(), &out); err != nil {
		return nil, fmt.Errorf("finding session experiences: %w", err)
	}
	return out, nil
}

// SetFeedback implements memory.Store. Only experiences without feedback
// are touched.
func (s *Store) SetFeedback(ctx context.Context, fb memory.Feedback) (int, error) {
	res, err := s.db.Collection(collExperiences).UpdateMany(ctx,
		bson.M{
			"corporationId": fb.CorporationID,
			"sessionId":     fb.SessionID,
			"effectiveness": bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{
			"effectiveness": fb.Effectiveness,
			"outcome":       fb.Outcome,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("recording feedback: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// tagGroupDoc is one row of the GroupByTag aggregation.
type tagGroupDoc struct {
	Tag    string   `bson:"_id"`
	IDs    []string `bson:"ids"`
	Agents []string `bson:"agents"`
}

// GroupByTag implements memory.Store with a server-side aggregation.
func (s *Store) GroupByTag(ctx context.Context, corporationID string, minSize int) ([]memory.TagGroup, error) {
	ctx, span := tracer.Start(ctx, "mongostore.GroupByTag")
	defer span.End()

	cur, err := s.db.Collection(collExperiences).Aggregate(ctx, tagPipeline(corporationID, minSize))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("aggregating tags: %w", err)
	}
	var rows []tagGroupDoc
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding tag groups: %w", err)
	}
	return toTagGroups(rows), nil
}

// InsertDecision implements memory.Store.
func (s *Store) InsertDecision(ctx context.Context, d *memory.StrategicDecision) error {
	if _, err := s.db.Collection(collDecisions).InsertOne(ctx, d); err != nil && !duplicatesOnly(err) {
		return fmt.Errorf("inserting decision: %w", err)
	}
	return nil
}

// RecentDecisions implements memory.Store.
func (s *Store) RecentDecisions(ctx context.Context, corporationID string, limit int) ([]*memory.StrategicDecision, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	var out []*memory.StrategicDecision
	if err := s.findAll(ctx, collDecisions, bson.M{"corporationId": corporationID}, opts, &out); err != nil {
		return nil, fmt.Errorf("finding decisions: %w", err)
	}
	return out, nil
}

// UpsertPattern implements memory.Store. The stored applications counter
// is kept and copied back into p.
func (s *Store) UpsertPattern(ctx context.Context, p *memory.MemoryPattern) error {
	update := bson.M{
		"$set": bson.M{
			"sourceExperiences": p.SourceExperiences,
			"applicableAgents":  p.ApplicableAgents,
			"confidence":        p.Confidence,
			"updatedAt":         p.UpdatedAt,
		},
		"$setOnInsert": bson.M{"applications": 0},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored memory.MemoryPattern
	err := s.db.Collection(collPatterns).FindOneAndUpdate(ctx,
		bson.M{"corporationId": p.CorporationID, "pattern": p.Pattern}, update, opts).Decode(&stored)
	if err != nil {
		return fmt.Errorf("upserting pattern %q: %w", p.Pattern, err)
	}
	p.Applications = stored.Applications
	return nil
}

// ListPatterns implements memory.Store. Highest confidence first.
func (s *Store) ListPatterns(ctx context.Context, corporationID string) ([]*memory.MemoryPattern, error) {
	opts := options.Find().SetSort(bson.D{{Key: "confidence", Value: -1}, {Key: "pattern", Value: 1}})
	var out []*memory.MemoryPattern
	if err := s.findAll(ctx, collPatterns, bson.M{"corporationId": corporationID}, opts, &out); err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	return out, nil
}

// IncrementApplications implements memory.Store.
func (s *Store) IncrementApplications(ctx context.Context, corporationID, pattern string) (*memory.MemoryPattern, error) {
	var out memory.MemoryPattern
	err := s.db.Collection(collPatterns).FindOneAndUpdate(ctx,
		bson.M{"corporationId": corporationID, "pattern": pattern},
		bson.M{"$inc": bson.M{"applications": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, memory.ErrPatternNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("incrementing pattern applications: %w", err)
	}
	return &out, nil
}

// GetConfiguration implements cycle.Store.
func (s *Store) GetConfiguration(ctx context.Context, corporationID string) (*cycle.Configuration, error) {
	var cfg cycle.Configuration
	err := s.db.Collection(collConfigs).FindOne(ctx, bson.M{"corporationId": corporationID}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, cycle.ErrConfigurationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding cycle configuration: %w", err)
	}
	return &cfg, nil
}

// UpsertConfiguration implements cycle.Store.
func (s *Store) UpsertConfiguration(ctx context.Context, cfg *cycle.Configuration) error {
	_, err := s.db.Collection(collConfigs).ReplaceOne(ctx,
		bson.M{"corporationId": cfg.CorporationID}, cfg, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting cycle configuration: %w", err)
	}
	return nil
}

// ListEnabledConfigurations implements cycle.Store.
func (s *Store) ListEnabledConfigurations(ctx context.Context) ([]*cycle.Configuration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "corporationId", Value: 1}})
	var out []*cycle.Configuration
	if err := s.findAll(ctx, collConfigs, bson.M{"enabled": true}, opts, &out); err != nil {
		return nil, fmt.Errorf("listing enabled configurations: %w", err)
	}
	return out, nil
}

// GetStatus implements cycle.Store.
func (s *Store) GetStatus(ctx context.Context, corporationID, cycleLabel string) (*cycle.Status, error) {
	var st cycle.Status
	err := s.db.Collection(collStatuses).FindOne(ctx, statusKey(corporationID, cycleLabel)).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, cycle.ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding cycle status: %w", err)
	}
	return &st, nil
}

// CreateStatus implements cycle.Store as an insert-if-absent upsert, so
// concurrent callers converge on one record.
func (s *Store) CreateStatus(ctx context.Context, st *cycle.Status) (*cycle.Status, error) {
	var stored cycle.Status
	err := s.db.Collection(collStatuses).FindOneAndUpdate(ctx,
		statusKey(st.CorporationID, st.CurrentCycle),
		bson.M{"$setOnInsert": st},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		return nil, fmt.Errorf("creating cycle status: %w", err)
	}
	return &stored, nil
}

// MarkPhase implements cycle.Store.
func (s *Store) MarkPhase(ctx context.Context, corporationID, cycleLabel string, phase cycle.Phase) (*cycle.Status, error) {
	field, err := progressField(phase)
	if err != nil {
		return nil, err
	}
	var st cycle.Status
	err = s.db.Collection(collStatuses).FindOneAndUpdate(ctx,
		statusKey(corporationID, cycleLabel),
		bson.M{"$set": bson.M{field: true, "updatedAt": s.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, cycle.ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("marking phase %s: %w", phase, err)
	}
	return &st, nil
}

// SetState implements cycle.Store. The filter excludes terminal states so
// the check and the write are one atomic operation.
func (s *Store) SetState(ctx context.Context, corporationID, cycleLabel string, state cycle.State, reason string) (*cycle.Status, error) {
	filter := statusKey(corporationID, cycleLabel)
	filter["status"] = bson.M{"$nin": bson.A{cycle.StateComplete, cycle.StateError}}

	var st cycle.Status
	err := s.db.Collection(collStatuses).FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"status": state, "error": reason, "updatedAt": s.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.GetStatus(ctx, corporationID, cycleLabel)
	}
	if err != nil {
		return nil, fmt.Errorf("setting cycle state: %w", err)
	}
	return &st, nil
}

func (s *Store) findAll(ctx context.Context, coll string, filter any, opts *options.FindOptions, out any) error {
	cur, err := s.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}
