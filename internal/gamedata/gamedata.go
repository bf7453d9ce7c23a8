// Package gamedata fetches live corporation data that gives a specialist
// something concrete to reason about. It is a weak dependency: callers
// treat any error as "no context".
package gamedata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/council/internal/specialist"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 10.0
	defaultMaxBytes  = 8 << 10

	maxResponseBytes = 1 << 20
)

// ErrUnavailable is returned for non-success responses.
var ErrUnavailable = errors.New("game data unavailable")

// Provider returns a text summary of corporation data relevant to one
// specialist. An empty string means nothing is available.
type Provider interface {
	Fetch(ctx context.Context, corporationID string, kind specialist.Kind) (string, error)
}

// Nop never has data.
type Nop struct{}

// Fetch implements Provider.
func (Nop) Fetch(context.Context, string, specialist.Kind) (string, error) { return "", nil }

// sections maps each specialist to the API section it reads.
var sections = map[specialist.Kind]string{
	specialist.Economic:   "wallet",
	specialist.Market:     "orders",
	specialist.Mining:     "mining",
	specialist.Recruiting: "members",
	specialist.Mission:    "standings",
}

// Section returns the API section read for kind.
func Section(kind specialist.Kind) string {
	return sections[kind]
}

// Config configures an HTTP provider.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	MaxBytes  int
}

// HTTP reads corporation data from a JSON API laid out as
// {base}/corporations/{id}/{section}.
type HTTP struct {
	base     *url.URL
	client   *http.Client
	limiter  *rate.Limiter
	maxBytes int
	logger   *zap.Logger
}

// NewHTTP creates an HTTP provider.
func NewHTTP(cfg Config, logger *zap.Logger) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("game data base URL required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing game data URL: %w", err)
	}
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
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &HTTP{
		base:     base,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		maxBytes: maxBytes,
		logger:   logger,
	}, nil
}

// Fetch implements Provider. The response is compacted JSON, cut at
// MaxBytes.
func (h *HTTP) Fetch(ctx context.Context, corporationID string, kind specialist.Kind) (string, error) {
	section, ok := sections[kind]
	if !ok {
		return "", fmt.Errorf("no game data section for %q", kind)
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := h.base.JoinPath("corporations", corporationID, section)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting %s: %w", section, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %d", ErrUnavailable, section, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", section, err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return "", fmt.Errorf("decoding %s: %w", section, err)
	}

	text := compact.String()
	if len(text) > h.maxBytes {
		text = text[:h.maxBytes]
	}

	h.logger.Debug("game data fetched",
		zap.String("corporation_id", corporationID),
		zap.String("section", section),
		zap.Int("bytes", len(text)))
	return text, nil
}
