package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "council.98000001.decision.recorded", DecisionSubject("98000001"))
	assert.Equal(t, "council.my_corp.cycle.esi_collected", CycleSubject("my.corp", "esi_collected"))
	assert.Equal(t, "council.a_b_.cycle.x", CycleSubject("a*b>", "x"))
}

func TestNewNATS_NilConn(t *testing.T) {
	_, err := NewNATS(nil, nil)
	assert.Error(t, err)
}

func TestNATS_DecisionRecorded(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("council.*.decision.recorded")
	require.NoError(t, err)

	pub, err := NewNATS(nc, zap.NewNop())
	require.NoError(t, err)

	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	err = pub.DecisionRecorded(context.Background(), &memory.StrategicDecision{
		ID:              "d-1",
		CorporationID:   "corp-1",
		SessionID:       "s-1",
		FinalDecision:   "We should expand mining.",
		AgentsConsulted: []specialist.Kind{specialist.Mining, specialist.Market},
		Timestamp:       ts,
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "council.corp-1.decision.recorded", msg.Subject)

	var ev DecisionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "d-1", ev.ID)
	assert.Equal(t, "We should expand mining.", ev.FinalDecision)
	assert.Equal(t, []specialist.Kind{specialist.Mining, specialist.Market}, ev.AgentsConsulted)
	assert.True(t, ts.Equal(ev.Timestamp))
}

func TestNATS_CyclePhase(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("council.corp-1.cycle.>")
	require.NoError(t, err)

	pub, err := NewNATS(nc, nil)
	require.NoError(t, err)

	require.NoError(t, pub.CyclePhase(context.Background(), CycleEvent{
		CorporationID: "corp-1",
		Cycle:         "2025-05",
		Phase:         "synthesis_complete",
		State:         "analyzing",
	}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "council.corp-1.cycle.synthesis_complete", msg.Subject)

	var ev CycleEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "2025-05", ev.Cycle)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.DecisionRecorded(context.Background(), &memory.StrategicDecision{}))
	assert.NoError(t, p.CyclePhase(context.Background(), CycleEvent{}))
}
