// Package events publishes domain events to NATS.
//
// Subjects are scoped per corporation:
//
//	council.{corporation_id}.decision.recorded
//	council.{corporation_id}.cycle.{phase}
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

// SubjectPrefix is the root of every subject.
const SubjectPrefix = "council"

// Publisher emits domain events. Publishing is best effort; callers log
// errors and carry on.
type Publisher interface {
	DecisionRecorded(ctx context.Context, d *memory.StrategicDecision) error
	CyclePhase(ctx context.Context, ev CycleEvent) error
}

// DecisionEvent is the payload of decision.recorded.
type DecisionEvent struct {
	ID              string            `json:"id"`
	CorporationID   string            `json:"corporation_id"`
	SessionID       string            `json:"session_id"`
	FinalDecision   string            `json:"final_decision"`
	AgentsConsulted []specialist.Kind `json:"agents_consulted"`
	Timestamp       time.Time         `json:"timestamp"`
}

// CycleEvent is the payload of cycle.{phase}.
type CycleEvent struct {
	CorporationID string    `json:"corporation_id"`
	Cycle         string    `json:"cycle"`
	Phase         string    `json:"phase"`
	State         string    `json:"state"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// DecisionSubject returns the subject for a corporation's decisions.
func DecisionSubject(corporationID string) string {
	return fmt.Sprintf("%s.%s.decision.recorded", SubjectPrefix, token(corporationID))
}

// CycleSubject returns the subject for a cycle phase.
func CycleSubject(corporationID, phase string) string {
	return fmt.Sprintf("%s.%s.cycle.%s", SubjectPrefix, token(corporationID), token(phase))
}

// token makes s safe as a single subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// NATS publishes events on a NATS connection.
type NATS struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATS wraps an established connection.
func NewNATS(nc *nats.Conn, logger *zap.Logger) (*NATS, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS{nc: nc, logger: logger}, nil
}

// Connect dials url with reconnect settings suitable for a daemon.
func Connect(url string, logger *zap.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("councild"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return NewNATS(nc, logger)
}

// DecisionRecorded implements Publisher.
func (n *NATS) DecisionRecorded(_ context.Context, d *memory.StrategicDecision) error {
	return n.publish(DecisionSubject(d.CorporationID), DecisionEvent{
		ID:              d.ID,
		CorporationID:   d.CorporationID,
		SessionID:       d.SessionID,
		FinalDecision:   d.FinalDecision,
		AgentsConsulted: d.AgentsConsulted,
		Timestamp:       d.Timestamp,
	})
}

// CyclePhase implements Publisher.
func (n *NATS) CyclePhase(_ context.Context, ev CycleEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return n.publish(CycleSubject(ev.CorporationID, ev.Phase), ev)
}

func (n *NATS) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	n.logger.Debug("event published", zap.String("subject", subject))
	return nil
}

// Close drains the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}

// Nop discards events.
type Nop struct{}

// DecisionRecorded implements Publisher.
func (Nop) DecisionRecorded(context.Context, *memory.StrategicDecision) error { return nil }

// CyclePhase implements Publisher.
func (Nop) CyclePhase(context.Context, CycleEvent) error { return nil }
