package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/events"
	"github.com/fyrsmithlabs/council/internal/gamedata"
	"github.com/fyrsmithlabs/council/internal/specialist"
	"github.com/fyrsmithlabs/council/internal/synthesis"
)

// MonthlyReviewQuery is the question every specialist answers during a
// cycle's analysis phase.
const MonthlyReviewQuery = "Review the corporation's performance over the last cycle and " +
	"recommend the most important strategic priorities for the next one."

const errTypeInvalidTransition = "InvalidTransition"

// Consulter runs a specialist round.
type Consulter interface {
	Consult(ctx context.Context, req consultation.Request) []consultation.Response
}

// Activities holds the collaborators of the cycle phases. Register a
// pointer with a worker; every exported method is an activity.
type Activities struct {
	cycles      *cycle.Service
	consulter   Consulter
	synthesizer *synthesis.Synthesizer
	persister   *synthesis.Persister
	gamedata    gamedata.Provider
	publisher   events.Publisher
	logger      *zap.Logger
}

// ActivityDeps groups the collaborators of Activities.
type ActivityDeps struct {
	Cycles      *cycle.Service
	Consulter   Consulter
	Synthesizer *synthesis.Synthesizer
	Persister   *synthesis.Persister

	// GameData and Publisher are optional.
	GameData  gamedata.Provider
	Publisher events.Publisher
}

// NewActivities validates deps and builds the activity set.
func NewActivities(deps ActivityDeps, logger *zap.Logger) (*Activities, error) {
	switch {
	case deps.Cycles == nil:
		return nil, fmt.Errorf("cycle service cannot be nil")
	case deps.Consulter == nil:
		return nil, fmt.Errorf("consulter cannot be nil")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("synthesizer cannot be nil")
	case deps.Persister == nil:
		return nil, fmt.Errorf("persister cannot be nil")
	}
	if deps.GameData == nil {
		deps.GameData = gamedata.Nop{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		cycles:      deps.Cycles,
		consulter:   deps.Consulter,
		synthesizer: deps.Synthesizer,
		persister:   deps.Persister,
		gamedata:    deps.GameData,
		publisher:   deps.Publisher,
		logger:      logger,
	}, nil
}

// Begin ensures the cycle record exists and moves it to collecting. A
// finished cycle is returned as is so the workflow can stop.
func (a *Activities) Begin(ctx context.Context, in CycleInput) (st *cycle.Status, err error) {
	defer observe(ctx, "begin", time.Now(), &err)

	st, err = a.cycles.Begin(ctx, in.CorporationID, in.Period)
	if errors.Is(err, cycle.ErrInvalidTransition) && st != nil {
		return st, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return st, nil
}

// Collect snapshots game data for every specialist. Sections that fail to
// load are left out; the analysis phase fetches them again on demand.
func (a *Activities) Collect(ctx context.Context, in CollectInput) (res *CollectResult, err error) {
	defer observe(ctx, "collect", time.Now(), &err)

	st, err := a.cycles.Status(ctx, in.CorporationID, in.Cycle)
	if err != nil {
		return nil, classify(err)
	}
	if st.Progress.ESICollected {
		return &CollectResult{Skipped: true}, nil
	}

	data := make(map[specialist.Kind]string, len(specialist.All()))
	for _, kind := range specialist.All() {
		payload, ferr := a.gamedata.Fetch(ctx, in.CorporationID, kind)
		if ferr != nil {
			a.logger.Warn("game data unavailable",
				zap.String("corporation_id", in.CorporationID),
				zap.String("agent_type", string(kind)),
				zap.Error(ferr))
			continue
		}
		if payload != "" {
			data[kind] = payload
		}
	}

	if err := a.complete(ctx, in.CorporationID, in.Cycle, cycle.PhaseDataCollection, ""); err != nil {
		return nil, err
	}
	return &CollectResult{Data: data}, nil
}

// Analyze consults every specialist with the monthly review question. It
// runs again on retries unless synthesis already finished, because the
// responses are only held by the workflow.
func (a *Activities) Analyze(ctx context.Context, in AnalyzeInput) (res *AnalyzeResult, err error) {
	defer observe(ctx, "analyze", time.Now(), &err)

	st, err := a.cycles.Status(ctx, in.CorporationID, in.Cycle)
	if err != nil {
		return nil, classify(err)
	}
	if st.Progress.SynthesisComplete {
		return &AnalyzeResult{Skipped: true}, nil
	}

	responses := a.consulter.Consult(ctx, consultation.Request{
		Query:         MonthlyReviewQuery,
		CorporationID: in.CorporationID,
		Specialists:   specialist.All(),
		DomainContext: in.Data,
	})
	if consultation.AllDegraded(responses) {
		return nil, fmt.Errorf("all %d specialists failed", len(responses))
	}

	if err := a.complete(ctx, in.CorporationID, in.Cycle, cycle.PhaseSpecialistAnalysis, ""); err != nil {
		return nil, err
	}
	return &AnalyzeResult{Responses: responses}, nil
}

// Synthesize merges the analysis into a decision and waits for it to be
// stored. The decision and experience IDs are fixed per cycle, so a retry
// after a stored decision rewrites nothing.
func (a *Activities) Synthesize(ctx context.Context, in SynthesizeInput) (res *SynthesizeResult, err error) {
	defer observe(ctx, "synthesize", time.Now(), &err)

	st, err := a.cycles.Status(ctx, in.CorporationID, in.Cycle)
	if err != nil {
		return nil, classify(err)
	}
	if st.Progress.SynthesisComplete {
		return &SynthesizeResult{Skipped: true}, nil
	}

	decision := a.synthesizer.Synthesize(ctx, synthesis.Input{
		Query:         MonthlyReviewQuery,
		CorporationID: in.CorporationID,
		SessionID:     WorkflowID(in.CorporationID, in.Cycle),
		DecisionID:    DecisionID(in.CorporationID, in.Cycle),
		Responses:     in.Responses,
	})
	written := a.persister.Persist(ctx, decision, in.Responses).Wait()
	if written.DecisionErr != nil {
		return nil, fmt.Errorf("storing decision: %w", written.DecisionErr)
	}

	if err := a.complete(ctx, in.CorporationID, in.Cycle, cycle.PhaseSynthesis, decision.FinalDecision); err != nil {
		return nil, err
	}
	return &SynthesizeResult{DecisionID: decision.ID, FinalDecision: decision.FinalDecision}, nil
}

// Report publishes the cycle summary.
func (a *Activities) Report(ctx context.Context, in ReportInput) (res *ReportResult, err error) {
	defer observe(ctx, "report", time.Now(), &err)

	st, err := a.cycles.Status(ctx, in.CorporationID, in.Cycle)
	if err != nil {
		return nil, classify(err)
	}
	if st.Progress.ReportGenerated {
		return &ReportResult{Skipped: true}, nil
	}

	if err := a.complete(ctx, in.CorporationID, in.Cycle, cycle.PhaseReport, in.FinalDecision); err != nil {
		return nil, err
	}
	return &ReportResult{}, nil
}

// Fail marks the cycle as errored.
func (a *Activities) Fail(ctx context.Context, in FailInput) (err error) {
	defer observe(ctx, "fail", time.Now(), &err)

	st, err := a.cycles.Fail(ctx, in.CorporationID, in.Cycle, in.Reason)
	if err != nil {
		return classify(err)
	}
	a.publish(ctx, st, "failed", in.Reason)
	return nil
}

// complete records phase and announces it.
func (a *Activities) complete(ctx context.Context, corporationID, label string, phase cycle.Phase, detail string) error {
	st, err := a.cycles.CompletePhase(ctx, corporationID, label, phase)
	if err != nil {
		return classify(err)
	}
	a.publish(ctx, st, string(phase), detail)
	return nil
}

func (a *Activities) publish(ctx context.Context, st *cycle.Status, phase, detail string) {
	if st == nil {
		return
	}
	ev := events.CycleEvent{
		CorporationID: st.CorporationID,
		Cycle:         st.CurrentCycle,
		Phase:         phase,
		State:         string(st.State),
		Detail:        detail,
		Timestamp:     time.Now().UTC(),
	}
	if err := a.publisher.CyclePhase(ctx, ev); err != nil {
		a.logger.Warn("publishing cycle event failed",
			zap.String("corporation_id", st.CorporationID),
			zap.String("cycle", st.CurrentCycle),
			zap.String("phase", phase),
			zap.Error(err))
	}
}

// classify turns state machine violations into non-retryable errors.
func classify(err error) error {
	if errors.Is(err, cycle.ErrInvalidTransition) || errors.Is(err, cycle.ErrStatusNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeInvalidTransition, err)
	}
	return err
}
