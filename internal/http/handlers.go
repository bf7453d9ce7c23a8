package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/council"
	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/memory"
)

const maxDecisionsLimit = 50

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleConsult runs one advisory round.
func (s *Server) handleConsult(c echo.Context) error {
	var req ConsultRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid consult request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	answer, err := s.advisor.Ask(c.Request().Context(), council.AskRequest{
		Query:         req.Query,
		CorporationID: req.CorporationID,
		SessionID:     req.SessionID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ConsultResponse{
		SessionID:     answer.SessionID,
		Decision:      answer.Decision,
		Responses:     answer.Responses,
		Confidence:    answer.Confidence,
		ElapsedMillis: answer.Elapsed.Milliseconds(),
	})
}

// handleFeedback records the rating of a past session.
func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	n, err := s.advisor.Feedback(c.Request().Context(), memory.Feedback{
		CorporationID: req.CorporationID,
		SessionID:     req.SessionID,
		Effectiveness: req.Effectiveness,
		Outcome:       req.Outcome,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, FeedbackResponse{Updated: n})
}

func (s *Server) handleGetCycleConfig(c echo.Context) error {
	cfg, err := s.cycles.GetConfiguration(c.Request().Context(), c.Param("corp"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handlePutCycleConfig(c echo.Context) error {
	var cfg cycle.Configuration
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// The path wins over any corporation_id in the body.
	cfg.CorporationID = c.Param("corp")

	stored, err := s.cycles.SetConfiguration(c.Request().Context(), &cfg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stored)
}

func (s *Server) handleCycleStatus(c echo.Context) error {
	st, err := s.cycles.CurrentStatus(c.Request().Context(), c.Param("corp"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleDecisions(c echo.Context) error {
	limit := memory.DefaultDecisionContext
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxDecisionsLimit)
	}

	ds, err := s.memory.RecentDecisions(c.Request().Context(), c.Param("corp"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DecisionsResponse{Decisions: nonNil(ds)})
}

func (s *Server) handleListPatterns(c echo.Context) error {
	ps, err := s.memory.ListPatterns(c.Request().Context(), c.Param("corp"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PatternsResponse{Patterns: nonNil(ps)})
}

func (s *Server) handleMinePatterns(c echo.Context) error {
	start := time.Now()
	ps, err := s.memory.Mine(c.Request().Context(), c.Param("corp"))
	if err != nil {
		return err
	}
	s.logger.Info("patterns mined",
		zap.String("corporation_id", c.Param("corp")),
		zap.Int("patterns", len(ps)),
		zap.Duration("duration", time.Since(start)))
	return c.JSON(http.StatusOK, PatternsResponse{Patterns: nonNil(ps)})
}

func (s *Server) handleApplyPattern(c echo.Context) error {
	p, err := s.memory.ApplyPattern(c.Request().Context(), c.Param("corp"), c.Param("pattern"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, council.ErrEmptyQuery),
		errors.Is(err, council.ErrQueryTooLong),
		errors.Is(err, council.ErrEmptyCorporationID),
		errors.Is(err, memory.ErrEmptyCorporationID),
		errors.Is(err, memory.ErrEmptySessionID),
		errors.Is(err, memory.ErrInvalidEffectiveness),
		errors.Is(err, cycle.ErrEmptyCorporationID),
		errors.Is(err, cycle.ErrInvalidStartDay),
		errors.Is(err, cycle.ErrInvalidTimezone):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrSessionNotFound),
		errors.Is(err, memory.ErrPatternNotFound),
		errors.Is(err, cycle.ErrStatusNotFound):
		return http.StatusNotFound
	case errors.Is(err, memory.ErrFeedbackAlreadyRecorded):
		return http.StatusConflict
	case errors.Is(err, council.ErrRoundFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorHandler renders every error as ErrorResponse.
func errorHandler(e *echo.Echo, logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		} else {
			code = statusFor(err)
			if code != http.StatusInternalServerError {
				msg = err.Error()
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorResponse{Error: msg})
		}
		if err != nil {
			e.Logger.Error(err)
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
