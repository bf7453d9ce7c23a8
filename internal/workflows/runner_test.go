package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/council/internal/completion"
	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/events"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/memory/memstore"
	"github.com/fyrsmithlabs/council/internal/specialist"
	"github.com/fyrsmithlabs/council/internal/synthesis"
)

var cycleNow = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

type fakeClient struct {
	failSpecialists bool
}

func (c *fakeClient) Complete(_ context.Context, req completion.Request) (string, error) {
	if req.JSON {
		if c.failSpecialists {
			return "", errors.New("upstream unavailable")
		}
		return `{"analysis":"steady month","recommendations":["keep mining ops running"],"confidence":0.6,"reasoning":"wallet trend"}`, nil
	}
	return "The corporation had a steady month. We recommend keeping mining operations running.", nil
}

type fakeGameData struct {
	mu    sync.Mutex
	kinds []specialist.Kind
}

func (g *fakeGameData) Fetch(_ context.Context, _ string, kind specialist.Kind) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kinds = append(g.kinds, kind)
	if kind == specialist.Economic {
		return `{"balance":1200000000}`, nil
	}
	return "", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	phases []string
}

func (p *recordingPublisher) DecisionRecorded(context.Context, *memory.StrategicDecision) error {
	return nil
}

func (p *recordingPublisher) CyclePhase(_ context.Context, ev events.CycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, ev.Phase)
	return nil
}

func (p *recordingPublisher) Phases() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.phases...)
}

type harness struct {
	store      *memstore.Store
	cycles     *cycle.Service
	activities *Activities
	gamedata   *fakeGameData
	publisher  *recordingPublisher
}

// flakyPhases fails the first MarkPhase of one phase.
type flakyPhases struct {
	*memstore.Store
	phase cycle.Phase

	mu     sync.Mutex
	failed bool
}

func (f *flakyPhases) MarkPhase(ctx context.Context, corporationID, label string, phase cycle.Phase) (*cycle.Status, error) {
	f.mu.Lock()
	fail := phase == f.phase && !f.failed
	f.failed = f.failed || fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("write conflict")
	}
	return f.Store.MarkPhase(ctx, corporationID, label, phase)
}

func newHarness(t *testing.T, client completion.Client, autoReport bool) *harness {
	t.Helper()
	store := memstore.New()
	return newHarnessWithCycles(t, client, autoReport, store, store)
}

func newHarnessWithCycles(t *testing.T, client completion.Client, autoReport bool, store *memstore.Store, cycleStore cycle.Store) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cycles, err := cycle.NewService(cycleStore, logger, cycle.WithClock(func() time.Time { return cycleNow }))
	require.NoError(t, err)
	_, err = cycles.SetConfiguration(context.Background(), &cycle.Configuration{
		CorporationID:        "98000001",
		CycleStartDay:        1,
		Timezone:             "UTC",
		Enabled:              true,
		AutoReportGeneration: autoReport,
	})
	require.NoError(t, err)

	mem, err := memory.NewService(store, logger)
	require.NoError(t, err)
	engine, err := consultation.NewEngine(mem, client, logger)
	require.NoError(t, err)
	synth, err := synthesis.NewSynthesizer(client, mem, logger)
	require.NoError(t, err)
	persister, err := synthesis.NewPersister(mem, logger)
	require.NoError(t, err)

	gd := &fakeGameData{}
	pub := &recordingPublisher{}
	a, err := NewActivities(ActivityDeps{
		Cycles:      cycles,
		Consulter:   engine,
		Synthesizer: synth,
		Persister:   persister,
		GameData:    gd,
		Publisher:   pub,
	}, logger)
	require.NoError(t, err)

	return &harness{store: store, cycles: cycles, activities: a, gamedata: gd, publisher: pub}
}

func (h *harness) input(autoReport bool) CycleInput {
	return CycleInput{
		CorporationID: "98000001",
		Period:        cycle.CalculatePeriod(1, cycleNow),
		AutoReport:    autoReport,
	}
}

func TestNewActivities_MissingDeps(t *testing.T) {
	_, err := NewActivities(ActivityDeps{}, nil)
	assert.Error(t, err)
}

func TestRunLocal_FullCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{}, true)

	res, err := RunLocal(ctx, h.activities, h.input(true))
	require.NoError(t, err)
	assert.Equal(t, cycle.StateComplete, res.State)
	assert.NotEmpty(t, res.DecisionID)
	assert.Contains(t, res.FinalDecision, "recommend")
	assert.Empty(t, res.Skipped)
	assert.ElementsMatch(t, specialist.All(), h.gamedata.kinds)

	st, err := h.cycles.Status(ctx, "98000001", "2025-07")
	require.NoError(t, err)
	assert.Equal(t, cycle.StateComplete, st.State)
	assert.True(t, st.Progress.ESICollected)
	assert.True(t, st.Progress.SpecialistAnalysisComplete)
	assert.True(t, st.Progress.SynthesisComplete)
	assert.True(t, st.Progress.ReportGenerated)

	assert.Equal(t, []string{
		string(cycle.PhaseDataCollection),
		string(cycle.PhaseSpecialistAnalysis),
		string(cycle.PhaseSynthesis),
		string(cycle.PhaseReport),
	}, h.publisher.Phases())

	decisions, err := h.store.RecentDecisions(ctx, "98000001", 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, res.DecisionID, decisions[0].ID)
	assert.Equal(t, WorkflowID("98000001", "2025-07"), decisions[0].SessionID)

	// A second run of the same period is a no-op.
	again, err := RunLocal(ctx, h.activities, h.input(true))
	require.NoError(t, err)
	assert.Equal(t, cycle.StateComplete, again.State)
	assert.Empty(t, again.DecisionID)

	decisions, err = h.store.RecentDecisions(ctx, "98000001", 10)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestRunLocal_NoAutoReport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{}, false)

	res, err := RunLocal(ctx, h.activities, h.input(false))
	require.NoError(t, err)
	assert.Equal(t, cycle.StateComplete, res.State)

	st, err := h.cycles.Status(ctx, "98000001", "2025-07")
	require.NoError(t, err)
	assert.Equal(t, cycle.StateComplete, st.State)
	assert.False(t, st.Progress.ReportGenerated)
	assert.NotContains(t, h.publisher.Phases(), string(cycle.PhaseReport))
}

func TestRunLocal_AllSpecialistsFail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{failSpecialists: true}, true)

	res, err := RunLocal(ctx, h.activities, h.input(true))
	require.Error(t, err)
	assert.Equal(t, cycle.StateError, res.State)

	st, err := h.cycles.Status(ctx, "98000001", "2025-07")
	require.NoError(t, err)
	assert.Equal(t, cycle.StateError, st.State)
	assert.Contains(t, st.Error, "analyze")
	assert.True(t, st.Progress.ESICollected)
	assert.False(t, st.Progress.SpecialistAnalysisComplete)
	assert.Contains(t, h.publisher.Phases(), "failed")

	// An errored cycle is not restarted.
	again, err := RunLocal(ctx, h.activities, h.input(true))
	require.NoError(t, err)
	assert.Equal(t, cycle.StateError, again.State)
}

func TestRunLocal_ResumesAfterPartialProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{}, true)
	in := h.input(true)

	_, err := h.cycles.Begin(ctx, in.CorporationID, in.Period)
	require.NoError(t, err)
	_, err = h.cycles.CompletePhase(ctx, in.CorporationID, in.Period.Label, cycle.PhaseDataCollection)
	require.NoError(t, err)

	res, err := RunLocal(ctx, h.activities, in)
	require.NoError(t, err)
	assert.Equal(t, cycle.StateComplete, res.State)
	assert.Equal(t, []string{string(cycle.PhaseDataCollection)}, res.Skipped)
	assert.Empty(t, h.gamedata.kinds)
}

func TestSynthesize_RetryAfterStoredDecision(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	h := newHarnessWithCycles(t, &fakeClient{}, true, store, &flakyPhases{Store: store, phase: cycle.PhaseSynthesis})
	in := h.input(true)
	label := in.Period.Label

	_, err := h.activities.Begin(ctx, in)
	require.NoError(t, err)
	collected, err := h.activities.Collect(ctx, CollectInput{CorporationID: in.CorporationID, Cycle: label})
	require.NoError(t, err)
	analyzed, err := h.activities.Analyze(ctx, AnalyzeInput{CorporationID: in.CorporationID, Cycle: label, Data: collected.Data})
	require.NoError(t, err)
	require.NotEmpty(t, analyzed.Responses)

	synthIn := SynthesizeInput{CorporationID: in.CorporationID, Cycle: label, Responses: analyzed.Responses}
	_, err = h.activities.Synthesize(ctx, synthIn)
	require.Error(t, err)

	decisions, err := h.store.RecentDecisions(ctx, in.CorporationID, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1, "decision is stored before the phase write fails")

	res, err := h.activities.Synthesize(ctx, synthIn)
	require.NoError(t, err)
	assert.Equal(t, DecisionID(in.CorporationID, label), res.DecisionID)

	decisions, err = h.store.RecentDecisions(ctx, in.CorporationID, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, res.DecisionID, decisions[0].ID)

	exps, err := h.store.ExperiencesBySession(ctx, in.CorporationID, WorkflowID(in.CorporationID, label))
	require.NoError(t, err)
	assert.Len(t, exps, len(analyzed.Responses))

	st, err := h.cycles.Status(ctx, in.CorporationID, label)
	require.NoError(t, err)
	assert.True(t, st.Progress.SynthesisComplete)
}

func TestDecisionID(t *testing.T) {
	id := DecisionID("98000001", "2025-07")
	assert.Equal(t, id, DecisionID("98000001", "2025-07"))
	assert.NotEqual(t, id, DecisionID("98000001", "2025-08"))
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestLocalRunner_Run(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{}, true)

	r, err := NewLocalRunner(h.activities, h.cycles, time.Minute, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx, "98000001", cycle.CalculatePeriod(1, cycleNow)))
	r.Wait()

	st, err := h.cycles.Status(ctx, "98000001", "2025-07")
	require.NoError(t, err)
	assert.Equal(t, cycle.StateComplete, st.State)
}

func TestNewLocalRunner_NilDeps(t *testing.T) {
	_, err := NewLocalRunner(nil, nil, 0, nil)
	assert.Error(t, err)
}

func TestTemporalRunner_Run(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{}, false)
	period := cycle.CalculatePeriod(1, cycleNow)

	t.Run("starts the workflow with a deterministic id", func(t *testing.T) {
		c := &mocks.Client{}
		run := &mocks.WorkflowRun{}
		run.On("GetID").Return("cycle-98000001-2025-07")
		run.On("GetRunID").Return("run-1")

		c.On("ExecuteWorkflow", mock.Anything,
			mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
				return o.ID == "cycle-98000001-2025-07" &&
					o.TaskQueue == CycleTaskQueue &&
					o.WorkflowIDReusePolicy == enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE
			}),
			mock.Anything,
			mock.MatchedBy(func(in CycleInput) bool {
				return in.CorporationID == "98000001" && in.Period.Label == "2025-07" && !in.AutoReport
			}),
		).Return(run, nil).Once()

		r, err := NewTemporalRunner(c, "", h.cycles, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, r.Run(ctx, "98000001", period))
		c.AssertExpectations(t)
	})

	t.Run("treats a duplicate start as success", func(t *testing.T) {
		c := &mocks.Client{}
		c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "req-1", "run-1"))

		r, err := NewTemporalRunner(c, "", h.cycles, zap.NewNop())
		require.NoError(t, err)
		assert.NoError(t, r.Run(ctx, "98000001", period))
	})

	t.Run("reports other start errors", func(t *testing.T) {
		c := &mocks.Client{}
		c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("frontend unavailable"))

		r, err := NewTemporalRunner(c, "", h.cycles, zap.NewNop())
		require.NoError(t, err)
		assert.Error(t, r.Run(ctx, "98000001", period))
	})
}
