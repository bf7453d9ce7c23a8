// Package config loads councild configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, and COUNCIL_-prefixed environment variables. The variable name
// after the prefix is SECTION_FIELD, so COUNCIL_SERVER_HTTP_PORT sets
// server.http_port.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Config is the complete daemon configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Completion    CompletionConfig    `koanf:"completion"`
	Consultation  ConsultationConfig  `koanf:"consultation"`
	GameData      GameDataConfig      `koanf:"gamedata"`
	Cycle         CycleConfig         `koanf:"cycle"`
	NATS          NATSConfig          `koanf:"nats"`
	Similarity    SimilarityConfig    `koanf:"similarity"`
	Redaction     RedactionConfig     `koanf:"redaction"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Backend        string `koanf:"backend"`
	MongoURI       Secret `koanf:"mongo_uri"`
	Database       string `koanf:"database"`
	CandidateLimit int    `koanf:"candidate_limit"`
}

// CompletionConfig configures the model endpoint.
type CompletionConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Model      string        `koanf:"model"`
	APIKey     Secret        `koanf:"api_key"`
	Timeout    time.Duration `koanf:"timeout"`
	RateLimit  float64       `koanf:"rate_limit"`
	MaxRetries int           `koanf:"max_retries"`
}

// ConsultationConfig tunes the specialist fan-out.
type ConsultationConfig struct {
	BranchTimeout time.Duration `koanf:"branch_timeout"`
	// MemoryTimeout bounds each memory lookup. Zero means a quarter of
	// BranchTimeout.
	MemoryTimeout time.Duration `koanf:"memory_timeout"`
	// RoundDeadline bounds a whole round. Zero disables it.
	RoundDeadline   time.Duration `koanf:"round_deadline"`
	MaxParallel     int           `koanf:"max_parallel"`
	MemoryLimit     int           `koanf:"memory_limit"`
	DecisionContext int           `koanf:"decision_context"`
	PersistTimeout  time.Duration `koanf:"persist_timeout"`
}

// GameDataConfig configures the corporation data API.
type GameDataConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
}

// CycleConfig configures the monthly review scheduler.
type CycleConfig struct {
	Enabled           bool          `koanf:"enabled"`
	CheckInterval     time.Duration `koanf:"check_interval"`
	RunTimeout        time.Duration `koanf:"run_timeout"`
	TemporalEnabled   bool          `koanf:"temporal_enabled"`
	TemporalHost      string        `koanf:"temporal_host"`
	TemporalNamespace string        `koanf:"temporal_namespace"`
	TaskQueue         string        `koanf:"task_queue"`
}

// NATSConfig configures event publication.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// SimilarityConfig configures the optional Qdrant candidate filter.
type SimilarityConfig struct {
	Enabled        bool   `koanf:"enabled"`
	QdrantHost     string `koanf:"qdrant_host"`
	QdrantPort     int    `koanf:"qdrant_port"`
	QdrantTLS      bool   `koanf:"qdrant_tls"`
	QdrantAPIKey   Secret `koanf:"qdrant_api_key"`
	Collection     string `koanf:"collection"`
	VectorSize     uint64 `koanf:"vector_size"`
	EmbeddingURL   string `koanf:"embedding_url"`
	EmbeddingModel string `koanf:"embedding_model"`
	EmbeddingKey   Secret `koanf:"embedding_key"`
}

// RedactionConfig toggles secret scanning of incoming queries.
type RedactionConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ObservabilityConfig configures OTLP export.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPProtocol    string  `koanf:"otlp_protocol"`
	OTLPInsecure    bool    `koanf:"otlp_insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in configuration: in-memory store, no
// optional integrations, scheduler on with the in-process runner.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			RequestTimeout:  2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:        BackendMemory,
			Database:       "council",
			CandidateLimit: 200,
		},
		Completion: CompletionConfig{
			BaseURL:    "http://localhost:11434/v1",
			Model:      "gpt-4o-mini",
			Timeout:    60 * time.Second,
			RateLimit:  2,
			MaxRetries: 2,
		},
		Consultation: ConsultationConfig{
			BranchTimeout:   45 * time.Second,
			MaxParallel:     5,
			MemoryLimit:     5,
			DecisionContext: 3,
			PersistTimeout:  30 * time.Second,
		},
		GameData: GameDataConfig{
			Timeout:   10 * time.Second,
			RateLimit: 5,
		},
		Cycle: CycleConfig{
			Enabled:           true,
			CheckInterval:     time.Hour,
			RunTimeout:        30 * time.Minute,
			TemporalHost:      "localhost:7233",
			TemporalNamespace: "default",
			TaskQueue:         "council-cycle-queue",
		},
		NATS: NATSConfig{URL: "nats://localhost:4222"},
		Similarity: SimilarityConfig{
			QdrantHost:     "localhost",
			QdrantPort:     6334,
			Collection:     "council_experiences",
			VectorSize:     384,
			EmbeddingURL:   "http://localhost:8080/v1",
			EmbeddingModel: "BAAI/bge-small-en-v1.5",
		},
		Redaction: RedactionConfig{Enabled: true},
		Observability: ObservabilityConfig{
			ServiceName:  "council",
			OTLPEndpoint: "localhost:4317",
			OTLPProtocol: "grpc",
			OTLPInsecure: true,
			SampleRate:   1,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if !c.Store.MongoURI.IsSet() {
			errs = append(errs, errors.New("store.mongo_uri is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendMongo, c.Store.Backend))
	}

	if _, err := url.ParseRequestURI(c.Completion.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("completion.base_url: %w", err))
	}
	if c.Consultation.BranchTimeout <= 0 {
		errs = append(errs, errors.New("consultation.branch_timeout must be positive"))
	}
	if c.Consultation.MemoryTimeout < 0 {
		errs = append(errs, errors.New("consultation.memory_timeout cannot be negative"))
	}
	if c.Consultation.RoundDeadline < 0 {
		errs = append(errs, errors.New("consultation.round_deadline cannot be negative"))
	}
	if c.Consultation.MaxParallel < 1 {
		errs = append(errs, errors.New("consultation.max_parallel must be at least 1"))
	}

	if c.GameData.Enabled && c.GameData.BaseURL == "" {
		errs = append(errs, errors.New("gamedata.base_url is required when game data is enabled"))
	}
	if c.Cycle.Enabled && c.Cycle.CheckInterval <= 0 {
		errs = append(errs, errors.New("cycle.check_interval must be positive"))
	}
	if c.Cycle.TemporalEnabled && c.Cycle.TemporalHost == "" {
		errs = append(errs, errors.New("cycle.temporal_host is required when temporal is enabled"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if c.Similarity.Enabled && c.Similarity.VectorSize == 0 {
		errs = append(errs, errors.New("similarity.vector_size is required when similarity is enabled"))
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		errs = append(errs, errors.New("observability.service_name is required when telemetry is enabled"))
	}
	return errors.Join(errs...)
}
