package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
	defaultRateLimit   = 5.0
	defaultBurst       = 5
	defaultMaxRetries  = 2
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxTokens   = 1500
)

// ErrEmptyResponse is returned when the service answers with no content.
var ErrEmptyResponse = errors.New("empty completion response")

// Request is one completion call.
type Request struct {
	// System carries the role instructions.
	System string

	// Prompt is the user-visible content.
	Prompt string

	// JSON asks the service for a JSON object response.
	JSON bool

	MaxTokens   int
	Temperature float64
}

// Client issues completion requests.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config configures an LLM client.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64
	MaxRetries int
}

// LLM is a Client backed by a langchaingo model.
type LLM struct {
	model      llms.Model
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewLLM creates a client for an OpenAI-compatible endpoint.
func NewLLM(cfg Config, logger *zap.Logger) (*LLM, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	opts := []openai.Option{openai.WithModel(model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	} else {
		// langchaingo requires a token even for local endpoints.
		opts = append(opts, openai.WithToken("placeholder"))
	}

	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating completion client: %w", err)
	}
	return NewLLMWithModel(m, cfg, logger), nil
}

// NewLLMWithModel wraps an existing langchaingo model.
func NewLLMWithModel(m llms.Model, cfg Config, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}

	return &LLM{
		model:      m,
		limiter:    rate.NewLimiter(rate.Limit(limit), defaultBurst),
		timeout:    timeout,
		maxRetries: retries,
		backoff:    defaultBaseBackoff,
		logger:     logger,
	}
}

// Complete implements Client. Transient failures are retried with
// exponential backoff; context cancellation is not.
func (c *LLM) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	opts := []llms.CallOption{
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(req.Temperature),
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := c.generate(ctx, messages, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrEmptyResponse) {
			return "", err
		}
		c.logger.Debug("completion attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *LLM) generate(ctx context.Context, messages []llms.MessageContent, opts []llms.CallOption) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
