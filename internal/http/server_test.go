package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/council"
	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

type fakeAdvisor struct {
	askErr      error
	feedbackErr error
	lastAsk     council.AskRequest
	lastFB      memory.Feedback
}

func (a *fakeAdvisor) Ask(_ context.Context, req council.AskRequest) (*council.Answer, error) {
	a.lastAsk = req
	if a.askErr != nil {
		return nil, a.askErr
	}
	sid := req.SessionID
	if sid == "" {
		sid = "generated-session"
	}
	return &council.Answer{
		SessionID: sid,
		Decision: &memory.StrategicDecision{
			ID:              "d1",
			SessionID:       sid,
			CorporationID:   req.CorporationID,
			DecisionContext: req.Query,
			FinalDecision:   "Hold the course.",
		},
		Responses: []consultation.Response{
			{AgentType: specialist.Economic, Analysis: "stable", Confidence: 0.7},
		},
		Confidence: 0.7,
		Elapsed:    1500 * time.Millisecond,
	}, nil
}

func (a *fakeAdvisor) Feedback(_ context.Context, fb memory.Feedback) (int, error) {
	a.lastFB = fb
	if a.feedbackErr != nil {
		return 0, a.feedbackErr
	}
	return 3, nil
}

type fakeCycles struct {
	configs map[string]*cycle.Configuration
	status  *cycle.Status
}

func (c *fakeCycles) GetConfiguration(_ context.Context, corp string) (*cycle.Configuration, error) {
	if cfg, ok := c.configs[corp]; ok {
		return cfg, nil
	}
	return cycle.DefaultConfiguration(corp), nil
}

func (c *fakeCycles) SetConfiguration(_ context.Context, cfg *cycle.Configuration) (*cycle.Configuration, error) {
	if cfg.CycleStartDay < 1 || cfg.CycleStartDay > 28 {
		return nil, fmt.Errorf("%w: got %d", cycle.ErrInvalidStartDay, cfg.CycleStartDay)
	}
	if c.configs == nil {
		c.configs = map[string]*cycle.Configuration{}
	}
	c.configs[cfg.CorporationID] = cfg
	return cfg, nil
}

func (c *fakeCycles) CurrentStatus(_ context.Context, _ string) (*cycle.Status, error) {
	if c.status == nil {
		return nil, cycle.ErrStatusNotFound
	}
	return c.status, nil
}

type fakeMemory struct {
	patterns  []*memory.MemoryPattern
	decisions []*memory.StrategicDecision
	lastLimit int
}

func (m *fakeMemory) Mine(context.Context, string) ([]*memory.MemoryPattern, error) {
	return m.patterns, nil
}

func (m *fakeMemory) ListPatterns(context.Context, string) ([]*memory.MemoryPattern, error) {
	return m.patterns, nil
}

func (m *fakeMemory) ApplyPattern(_ context.Context, _, pattern string) (*memory.MemoryPattern, error) {
	for _, p := range m.patterns {
		if p.Pattern == pattern {
			p.Applications++
			return p, nil
		}
	}
	return nil, memory.ErrPatternNotFound
}

func (m *fakeMemory) RecentDecisions(_ context.Context, _ string, limit int) ([]*memory.StrategicDecision, error) {
	m.lastLimit = limit
	return m.decisions, nil
}

type testServer struct {
	*Server
	advisor *fakeAdvisor
	cycles  *fakeCycles
	memory  *fakeMemory
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{advisor: &fakeAdvisor{}, cycles: &fakeCycles{}, memory: &fakeMemory{}}
	s, err := NewServer(Deps{Advisor: ts.advisor, Cycles: ts.cycles, Memory: ts.memory}, zap.NewNop(), nil)
	require.NoError(t, err)
	ts.Server = s
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		ts := setupTestServer(t)
		assert.Equal(t, "localhost", ts.config.Host)
		assert.Equal(t, 9090, ts.config.Port)
		assert.Equal(t, 2*time.Minute, ts.config.RequestTimeout)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Advisor: &fakeAdvisor{}, Cycles: &fakeCycles{}, Memory: &fakeMemory{}}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when a service is missing", func(t *testing.T) {
		_, err := NewServer(Deps{Cycles: &fakeCycles{}, Memory: &fakeMemory{}}, zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewServer(Deps{Advisor: &fakeAdvisor{}, Memory: &fakeMemory{}}, zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewServer(Deps{Advisor: &fakeAdvisor{}, Cycles: &fakeCycles{}}, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestHandleConsult(t *testing.T) {
	t.Run("returns the decision", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(t, http.MethodPost, "/api/v1/consult", ConsultRequest{
			Query:         "Should we expand into null-sec?",
			CorporationID: "corp-1",
			SessionID:     "s-1",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[ConsultResponse](t, rec)
		assert.Equal(t, "s-1", resp.SessionID)
		assert.Equal(t, "Hold the course.", resp.Decision.FinalDecision)
		assert.Len(t, resp.Responses, 1)
		assert.InDelta(t, 0.7, resp.Confidence, 1e-9)
		assert.Equal(t, int64(1500), resp.ElapsedMillis)
		assert.Equal(t, "corp-1", ts.advisor.lastAsk.CorporationID)
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := setupTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/consult", bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		ts.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid request body", decode[ErrorResponse](t, rec).Error)
	})

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"empty query", council.ErrEmptyQuery, http.StatusBadRequest},
		{"query too long", council.ErrQueryTooLong, http.StatusBadRequest},
		{"missing corporation", council.ErrEmptyCorporationID, http.StatusBadRequest},
		{"round failed", fmt.Errorf("%w: all 3 specialists failed", council.ErrRoundFailed), http.StatusBadGateway},
		{"unexpected", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			ts.advisor.askErr = tt.err

			rec := ts.do(t, http.MethodPost, "/api/v1/consult", ConsultRequest{Query: "q", CorporationID: "corp-1"})
			assert.Equal(t, tt.code, rec.Code)
			msg := decode[ErrorResponse](t, rec).Error
			if tt.code == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", msg)
			} else {
				assert.Equal(t, tt.err.Error(), msg)
			}
		})
	}
}

func TestHandleFeedback(t *testing.T) {
	t.Run("records feedback", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(t, http.MethodPost, "/api/v1/feedback", FeedbackRequest{
			CorporationID: "corp-1",
			SessionID:     "s-1",
			Effectiveness: 8,
			Outcome:       "ISK up 20%",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 3, decode[FeedbackResponse](t, rec).Updated)
		assert.Equal(t, 8, ts.advisor.lastFB.Effectiveness)
		assert.Equal(t, "ISK up 20%", ts.advisor.lastFB.Outcome)
	})

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"out of range", memory.ErrInvalidEffectiveness, http.StatusBadRequest},
		{"unknown session", memory.ErrSessionNotFound, http.StatusNotFound},
		{"already rated", memory.ErrFeedbackAlreadyRecorded, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			ts.advisor.feedbackErr = tt.err

			rec := ts.do(t, http.MethodPost, "/api/v1/feedback", FeedbackRequest{CorporationID: "corp-1", SessionID: "s-1", Effectiveness: 5})
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestCycleConfig(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/corporations/corp-1/cycle/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[cycle.Configuration](t, rec)
	assert.Equal(t, "corp-1", got.CorporationID)
	assert.False(t, got.Enabled)

	rec = ts.do(t, http.MethodPut, "/api/v1/corporations/corp-1/cycle/config", cycle.Configuration{
		CorporationID: "someone-else",
		CycleStartDay: 15,
		Timezone:      "UTC",
		Enabled:       true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[cycle.Configuration](t, rec)
	assert.Equal(t, "corp-1", got.CorporationID)
	assert.Equal(t, 15, got.CycleStartDay)
	assert.Contains(t, ts.cycles.configs, "corp-1")
	assert.NotContains(t, ts.cycles.configs, "someone-else")

	rec = ts.do(t, http.MethodPut, "/api/v1/corporations/corp-1/cycle/config", cycle.Configuration{CycleStartDay: 31})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCycleStatus(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/corporations/corp-1/cycle/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.cycles.status = &cycle.Status{CorporationID: "corp-1", CurrentCycle: "2025-07", State: cycle.StateAnalyzing}
	rec = ts.do(t, http.MethodGet, "/api/v1/corporations/corp-1/cycle/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[cycle.Status](t, rec)
	assert.Equal(t, "2025-07", st.CurrentCycle)
	assert.Equal(t, cycle.StateAnalyzing, st.State)
}

func TestDecisions(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/corporations/corp-1/decisions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"decisions":[]}`, string(bytes.TrimSpace(rec.Body.Bytes())))
	assert.Equal(t, memory.DefaultDecisionContext, ts.memory.lastLimit)

	ts.memory.decisions = []*memory.StrategicDecision{{ID: "d2"}, {ID: "d1"}}
	rec = ts.do(t, http.MethodGet, "/api/v1/corporations/corp-1/decisions?limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[DecisionsResponse](t, rec).Decisions, 2)
	assert.Equal(t, maxDecisionsLimit, ts.memory.lastLimit)

	rec = ts.do(t, http.MethodGet, "/api/v1/corporations/corp-1/decisions?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatterns(t *testing.T) {
	ts := setupTestServer(t)
	ts.memory.patterns = []*memory.MemoryPattern{{
		Pattern:          "Recurring market situations",
		ApplicableAgents: []specialist.Kind{specialist.Market},
		Confidence:       0.8,
		CorporationID:    "corp-1",
	}}

	rec := ts.do(t, http.MethodPost, "/api/v1/corporations/corp-1/patterns/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[PatternsResponse](t, rec).Patterns, 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/corporations/corp-1/patterns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[PatternsResponse](t, rec).Patterns, 1)

	rec = ts.do(t, http.MethodPost, "/api/v1/corporations/corp-1/patterns/Recurring%20market%20situations/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[memory.MemoryPattern](t, rec).Applications)

	rec = ts.do(t, http.MethodPost, "/api/v1/corporations/corp-1/patterns/nope/apply", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
}
