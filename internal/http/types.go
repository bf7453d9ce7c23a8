package http

import (
	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/memory"
)

// ConsultRequest is the request body for POST /api/v1/consult.
type ConsultRequest struct {
	Query         string `json:"query"`
	CorporationID string `json:"corporation_id"`
	SessionID     string `json:"session_id,omitempty"`
}

// ConsultResponse is the response body for POST /api/v1/consult.
type ConsultResponse struct {
	SessionID     string                    `json:"session_id"`
	Decision      *memory.StrategicDecision `json:"decision"`
	Responses     []consultation.Response   `json:"responses"`
	Confidence    float64                   `json:"confidence"`
	ElapsedMillis int64                     `json:"elapsed_ms"`
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
type FeedbackRequest struct {
	CorporationID string `json:"corporation_id"`
	SessionID     string `json:"session_id"`
	Effectiveness int    `json:"effectiveness"`
	Outcome       string `json:"outcome"`
}

// FeedbackResponse reports how many experiences were updated.
type FeedbackResponse struct {
	Updated int `json:"updated"`
}

// PatternsResponse lists patterns.
type PatternsResponse struct {
	Patterns []*memory.MemoryPattern `json:"patterns"`
}

// DecisionsResponse lists recent decisions, newest first.
type DecisionsResponse struct {
	Decisions []*memory.StrategicDecision `json:"decisions"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
}
