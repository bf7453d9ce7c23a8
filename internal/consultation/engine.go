// Package consultation runs one round of specialist consultations.
//
// Every routed specialist is consulted concurrently. A branch that fails for
// any reason (timeout, transport error, malformed output, panic) becomes a
// degraded Response; it never cancels its siblings. Results come back in
// routing order regardless of which branch finished first.
package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/council/internal/completion"
	"github.com/fyrsmithlabs/council/internal/gamedata"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

const instrumentationName = "github.com/fyrsmithlabs/council/internal/consultation"

const (
	DefaultBranchTimeout = 45 * time.Second
	DefaultMaxParallel   = 5
	DefaultMemoryLimit   = memory.DefaultFetchLimit

	// memoryShare is the fraction of the branch timeout a memory lookup
	// may use when no memory timeout is set.
	memoryShare = 4
)

// ErrBranchTimeout is the cause recorded for branches cut off by their
// timeout or the round deadline.
var ErrBranchTimeout = errors.New("timed out")

// Engine fans a query out to specialists and collects their answers.
type Engine struct {
	memory        MemoryFetcher
	client        completion.Client
	gamedata      gamedata.Provider
	branchTimeout time.Duration
	memoryTimeout time.Duration
	roundDeadline time.Duration
	maxParallel   int
	memoryLimit   int
	metrics       *Metrics
	tracer        trace.Tracer
	logger        *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGameData sets the domain context provider. Defaults to gamedata.Nop.
func WithGameData(p gamedata.Provider) Option {
	return func(e *Engine) {
		if p != nil {
			e.gamedata = p
		}
	}
}

// WithBranchTimeout bounds each specialist branch.
func WithBranchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.branchTimeout = d
		}
	}
}

// WithMemoryTimeout bounds the memory lookup of each branch. A lookup that
// runs out of time leaves the branch without memories. Defaults to a
// quarter of the branch timeout.
func WithMemoryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.memoryTimeout = d
		}
	}
}

// WithRoundDeadline bounds the whole round. Branches still running at the
// deadline degrade like timeouts. Zero disables it.
func WithRoundDeadline(d time.Duration) Option {
	return func(e *Engine) {
		e.roundDeadline = d
	}
}

// WithMaxParallel bounds concurrent branches.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithMemoryLimit sets how many past experiences each branch sees.
func WithMemoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.memoryLimit = n
		}
	}
}

// NewEngine creates a consultation engine.
func NewEngine(mem MemoryFetcher, client completion.Client, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if mem == nil {
		return nil, fmt.Errorf("memory fetcher cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("completion client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		memory:        mem,
		client:        client,
		gamedata:      gamedata.Nop{},
		branchTimeout: DefaultBranchTimeout,
		maxParallel:   DefaultMaxParallel,
		memoryLimit:   DefaultMemoryLimit,
		metrics:       NewMetrics(),
		tracer:        otel.Tracer(instrumentationName),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.memoryTimeout <= 0 {
		e.memoryTimeout = e.branchTimeout / memoryShare
	}
	return e, nil
}

// Consult runs every branch and returns one Response per requested
// specialist, in request order. It waits for all branches.
func (e *Engine) Consult(ctx context.Context, req Request) []Response {
	results := make([]Response, len(req.Specialists))
	if len(req.Specialists) == 0 {
		return results
	}

	roundCtx := ctx
	if e.roundDeadline > 0 {
		var cancel context.CancelFunc
		roundCtx, cancel = context.WithTimeout(ctx, e.roundDeadline)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(e.maxParallel)
	for i, kind := range req.Specialists {
		g.Go(func() error {
			results[i] = e.branch(roundCtx, kind, req)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

type branchResult struct {
	resp Response
	err  error
}

// branch runs one specialist under its timeout. The work runs in its own
// goroutine so a call that ignores cancellation cannot hold the round past
// the timeout.
func (e *Engine) branch(ctx context.Context, kind specialist.Kind, req Request) Response {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "consultation.branch")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent_type", string(kind)),
		attribute.String("corporation_id", req.CorporationID),
	)

	ctx, cancel := context.WithTimeout(ctx, e.branchTimeout)
	defer cancel()

	done := make(chan branchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("specialist branch panicked",
					zap.String("agent_type", string(kind)),
					zap.Any("panic", r),
					zap.Stack("stack"))
				done <- branchResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		resp, err := e.consultOne(ctx, kind, req)
		done <- branchResult{resp: resp, err: err}
	}()

	var res branchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = branchResult{err: ErrBranchTimeout}
	}
	if res.err != nil && ctx.Err() != nil && !errors.Is(res.err, ErrBranchTimeout) {
		res.err = fmt.Errorf("%w: %v", ErrBranchTimeout, res.err)
	}

	elapsed := time.Since(start)
	e.metrics.BranchDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	if res.err != nil {
		result := "degraded"
		if errors.Is(res.err, ErrBranchTimeout) {
			result = "timeout"
		}
		e.metrics.BranchesTotal.WithLabelValues(string(kind), result).Inc()
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())

		e.logger.Warn("specialist consultation failed",
			zap.String("agent_type", string(kind)),
			zap.String("corporation_id", req.CorporationID),
			zap.Duration("elapsed", elapsed),
			zap.Error(res.err))
		return degraded(kind, res.err, elapsed)
	}

	e.metrics.BranchesTotal.WithLabelValues(string(kind), "ok").Inc()
	res.resp.Elapsed = elapsed
	return res.resp
}

// consultOne does the branch work: memory, domain context, completion and
// parsing. Memory and domain context failures only lose context.
func (e *Engine) consultOne(ctx context.Context, kind specialist.Kind, req Request) (Response, error) {
	past := e.fetchMemories(ctx, kind, req)

	domain, ok := req.DomainContext[kind]
	if !ok {
		var err error
		domain, err = e.gamedata.Fetch(ctx, req.CorporationID, kind)
		if err != nil {
			e.logger.Debug("game data unavailable",
				zap.String("agent_type", string(kind)),
				zap.Error(err))
			domain = ""
		}
	}

	raw, err := e.client.Complete(ctx, buildRequest(kind, req.Query, domain, past))
	if err != nil {
		return Response{}, err
	}
	a, err := completion.ParseAnalysis(raw)
	if err != nil {
		return Response{}, err
	}

	ids := make([]string, 0, len(past))
	for _, p := range past {
		ids = append(ids, p.ID)
	}

	return Response{
		AgentType:        kind,
		Analysis:         a.Analysis,
		Recommendations:  a.Recommendations,
		Confidence:       a.Confidence,
		Reasoning:        a.Reasoning,
		RelevantMemories: ids,
	}, nil
}

// fetchMemories looks up past experiences under the memory timeout. Errors
// and timeouts yield no memories.
func (e *Engine) fetchMemories(ctx context.Context, kind specialist.Kind, req Request) []*memory.Experience {
	ctx, cancel := context.WithTimeout(ctx, e.memoryTimeout)
	defer cancel()

	past, err := e.memory.FetchRelevant(ctx, kind, req.Query, req.CorporationID, e.memoryLimit)
	if err != nil {
		e.metrics.MemoryFailures.WithLabelValues(string(kind)).Inc()
		e.logger.Warn("memory fetch failed, continuing without memories",
			zap.String("agent_type", string(kind)),
			zap.String("corporation_id", req.CorporationID),
			zap.Duration("memory_timeout", e.memoryTimeout),
			zap.Error(err))
		return nil
	}
	return past
}
