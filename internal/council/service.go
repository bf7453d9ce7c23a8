// Package council runs a full advisory round: route the question, consult
// the specialists, synthesize a decision and write it back to memory.
package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/logging"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/router"
	"github.com/fyrsmithlabs/council/internal/specialist"
	"github.com/fyrsmithlabs/council/internal/synthesis"
)

const instrumentationName = "github.com/fyrsmithlabs/council/internal/council"

// MaxQueryLength bounds the query in characters.
const MaxQueryLength = 4000

var (
	ErrEmptyQuery         = errors.New("query cannot be empty")
	ErrQueryTooLong       = fmt.Errorf("query exceeds %d characters", MaxQueryLength)
	ErrEmptyCorporationID = errors.New("corporation ID cannot be empty")

	// ErrRoundFailed means no specialist produced a usable answer. Nothing
	// is written to memory.
	ErrRoundFailed = errors.New("consultation round failed")
)

// Consulter runs the specialist fan-out.
type Consulter interface {
	Consult(ctx context.Context, req consultation.Request) []consultation.Response
}

// FeedbackRecorder applies feedback to a session's experiences.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, fb memory.Feedback) (int, error)
}

// AskRequest is one user question.
type AskRequest struct {
	Query         string `json:"query"`
	CorporationID string `json:"corporation_id"`
	SessionID     string `json:"session_id,omitempty"`

	// DomainContext carries pre-fetched game data. Optional.
	DomainContext map[specialist.Kind]string `json:"-"`
}

// Answer is the result of a round.
type Answer struct {
	SessionID  string                    `json:"session_id"`
	Decision   *memory.StrategicDecision `json:"decision"`
	Responses  []consultation.Response   `json:"responses"`
	Confidence float64                   `json:"confidence"`
	Elapsed    time.Duration             `json:"elapsed"`
	Persist    *synthesis.PersistTask    `json:"-"`
}

// Redactor strips secrets from a query before it leaves the process.
type Redactor interface {
	Redact(content string) string
}

// Service orchestrates rounds.
type Service struct {
	redactor    Redactor
	router      router.Classifier
	consulter   Consulter
	synthesizer *synthesis.Synthesizer
	persister   *synthesis.Persister
	feedback    FeedbackRecorder
	metrics     *Metrics
	tracer      trace.Tracer
	logger      *zap.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Router      router.Classifier
	Consulter   Consulter
	Synthesizer *synthesis.Synthesizer
	Persister   *synthesis.Persister
	Feedback    FeedbackRecorder

	// Redactor is optional.
	Redactor Redactor
}

// NewService creates a Service. Every dependency except Redactor is
// required.
func NewService(deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Router == nil:
		return nil, fmt.Errorf("router cannot be nil")
	case deps.Consulter == nil:
		return nil, fmt.Errorf("consulter cannot be nil")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("synthesizer cannot be nil")
	case deps.Persister == nil:
		return nil, fmt.Errorf("persister cannot be nil")
	case deps.Feedback == nil:
		return nil, fmt.Errorf("feedback recorder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		redactor:    deps.Redactor,
		router:      deps.Router,
		consulter:   deps.Consulter,
		synthesizer: deps.Synthesizer,
		persister:   deps.Persister,
		feedback:    deps.Feedback,
		metrics:     NewMetrics(),
		tracer:      otel.Tracer(instrumentationName),
		logger:      logger,
	}, nil
}

// Ask runs one round. The decision is persisted in the background; the
// returned Answer carries a handle on that write.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, ErrQueryTooLong
	}
	if req.CorporationID == "" {
		return nil, ErrEmptyCorporationID
	}
	if s.redactor != nil {
		query = s.redactor.Redact(query)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	ctx, span := s.tracer.Start(ctx, "council.ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("corporation_id", req.CorporationID),
		attribute.String("session_id", sessionID),
	)

	ctx = logging.WithSessionID(logging.WithCorporationID(ctx, req.CorporationID), sessionID)
	logger := logging.For(ctx, s.logger)

	kinds, err := s.route(query)
	if err != nil {
		s.fail(span, "route", err)
		logger.Error("routing failed", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("specialists", len(kinds)))

	responses := s.consulter.Consult(ctx, consultation.Request{
		Query:         query,
		CorporationID: req.CorporationID,
		Specialists:   kinds,
		DomainContext: req.DomainContext,
	})
	if consultation.AllDegraded(responses) {
		err := fmt.Errorf("%w: all %d specialists failed", ErrRoundFailed, len(responses))
		s.fail(span, "consult", err)
		logger.Warn("every specialist failed", zap.Int("specialists", len(responses)))
		return nil, err
	}

	decision := s.synthesizer.Synthesize(ctx, synthesis.Input{
		Query:         query,
		CorporationID: req.CorporationID,
		SessionID:     sessionID,
		Responses:     responses,
	})

	task := s.persister.Persist(ctx, decision, responses)
	s.metrics.RoundsTotal.WithLabelValues("ok").Inc()

	answer := &Answer{
		SessionID:  sessionID,
		Decision:   decision,
		Responses:  responses,
		Confidence: consultation.OverallConfidence(responses),
		Elapsed:    time.Since(start),
		Persist:    task,
	}

	logger.Info("round complete",
		zap.Strings("specialists", kindStrings(kinds)),
		zap.Float64("confidence", answer.Confidence),
		zap.Duration("elapsed", answer.Elapsed))
	return answer, nil
}

// route classifies the query, turning a classifier panic into
// ErrRoundFailed.
func (s *Service) route(query string) (kinds []specialist.Kind, err error) {
	defer func() {
		if r := recover(); r != nil {
			kinds = nil
			err = fmt.Errorf("%w: router panic: %v", ErrRoundFailed, r)
		}
	}()
	kinds = s.router.Route(query)
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: no specialists routed", ErrRoundFailed)
	}
	return kinds, nil
}

func (s *Service) fail(span trace.Span, stage string, err error) {
	s.metrics.RoundsTotal.WithLabelValues("failed").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, stage+": "+err.Error())
}

// Feedback records the user's rating of a session's advice.
func (s *Service) Feedback(ctx context.Context, fb memory.Feedback) (int, error) {
	return s.feedback.RecordFeedback(ctx, fb)
}

// WaitForWrites blocks until background persistence has drained.
func (s *Service) WaitForWrites() {
	s.persister.Wait()
}

func kindStrings(kinds []specialist.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
