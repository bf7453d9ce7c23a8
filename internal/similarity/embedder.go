// Package similarity narrows memory candidates with vector search.
//
// Experiences are embedded when recorded and stored as Qdrant points keyed
// by experience ID. At fetch time the query is embedded and the nearest
// points of the same corporation and specialist become the candidate set
// that relevance scoring ranks. The keyword path in package memory remains
// the fallback whenever this one fails.
package similarity

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// EmbedderConfig configures the embedding endpoint. Any OpenAI-compatible
// server works, including a local TEI instance.
type EmbedderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Validate validates the configuration.
func (c EmbedderConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: embedding base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: embedding model required", ErrInvalidConfig)
	}
	return nil
}

// NewEmbedder creates a langchaingo embedder for cfg.
func NewEmbedder(cfg EmbedderConfig) (embeddings.Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// langchaingo requires a token even for servers that ignore it.
	token := cfg.APIKey
	if token == "" {
		token = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	e, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return e, nil
}
