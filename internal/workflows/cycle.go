// Package workflows runs the monthly corporation cycle as a Temporal
// workflow, or in-process when Temporal is not configured.
package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/specialist"
)

// CycleTaskQueue is the default task queue for cycle workers.
const CycleTaskQueue = "council-cycle-queue"

// CycleInput identifies one cycle run.
type CycleInput struct {
	CorporationID string       `json:"corporation_id"`
	Period        cycle.Period `json:"period"`

	// AutoReport controls the report phase. When false the cycle completes
	// after synthesis.
	AutoReport bool `json:"auto_report"`
}

// CycleResult summarizes a finished run.
type CycleResult struct {
	CorporationID string      `json:"corporation_id"`
	Cycle         string      `json:"cycle"`
	DecisionID    string      `json:"decision_id,omitempty"`
	FinalDecision string      `json:"final_decision,omitempty"`
	Skipped       []string    `json:"skipped,omitempty"`
	State         cycle.State `json:"state"`
}

// CollectInput is the input of the Collect activity.
type CollectInput struct {
	CorporationID string `json:"corporation_id"`
	Cycle         string `json:"cycle"`
}

// CollectResult carries the game data snapshot per specialist.
type CollectResult struct {
	Skipped bool                       `json:"skipped"`
	Data    map[specialist.Kind]string `json:"data,omitempty"`
}

// AnalyzeInput is the input of the Analyze activity.
type AnalyzeInput struct {
	CorporationID string                     `json:"corporation_id"`
	Cycle         string                     `json:"cycle"`
	Data          map[specialist.Kind]string `json:"data,omitempty"`
}

// AnalyzeResult carries every specialist's answer.
type AnalyzeResult struct {
	Skipped   bool                    `json:"skipped"`
	Responses []consultation.Response `json:"responses,omitempty"`
}

// SynthesizeInput is the input of the Synthesize activity.
type SynthesizeInput struct {
	CorporationID string                  `json:"corporation_id"`
	Cycle         string                  `json:"cycle"`
	Responses     []consultation.Response `json:"responses,omitempty"`
}

// SynthesizeResult identifies the stored decision.
type SynthesizeResult struct {
	Skipped       bool   `json:"skipped"`
	DecisionID    string `json:"decision_id,omitempty"`
	FinalDecision string `json:"final_decision,omitempty"`
}

// ReportInput is the input of the Report activity.
type ReportInput struct {
	CorporationID string `json:"corporation_id"`
	Cycle         string `json:"cycle"`
	FinalDecision string `json:"final_decision,omitempty"`
}

// ReportResult reports whether the report phase ran.
type ReportResult struct {
	Skipped bool `json:"skipped"`
}

// FailInput is the input of the Fail activity.
type FailInput struct {
	CorporationID string `json:"corporation_id"`
	Cycle         string `json:"cycle"`
	Reason        string `json:"reason"`
}

// WorkflowID is the deterministic ID of a cycle run. Starting the same
// corporation and period twice maps to one execution.
func WorkflowID(corporationID, label string) string {
	return fmt.Sprintf("cycle-%s-%s", corporationID, label)
}

// DecisionID is the ID of the decision a cycle run stores. Retried
// synthesis attempts write under the same ID.
func DecisionID(corporationID, label string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(WorkflowID(corporationID, label))).String()
}

// CycleWorkflow drives one corporation through a cycle:
// Begin, Collect, Analyze, Synthesize and, with AutoReport, Report.
// Any phase failure marks the cycle as errored.
func CycleWorkflow(ctx workflow.Context, in CycleInput) (*CycleResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting cycle",
		"corporation_id", in.CorporationID,
		"cycle", in.Period.Label)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{errTypeInvalidTransition},
		},
	})

	var a *Activities
	result := &CycleResult{CorporationID: in.CorporationID, Cycle: in.Period.Label}

	var status cycle.Status
	if err := workflow.ExecuteActivity(ctx, a.Begin, in).Get(ctx, &status); err != nil {
		logger.Error("Begin failed", "error", err)
		return result, err
	}
	if status.State.Terminal() {
		logger.Info("Cycle already finished", "state", string(status.State))
		result.State = status.State
		return result, nil
	}

	fail := func(phase string, err error) (*CycleResult, error) {
		logger.Error("Cycle phase failed", "phase", phase, "error", err)
		reason := fmt.Sprintf("%s: %v", phase, err)
		if ferr := workflow.ExecuteActivity(ctx, a.Fail, FailInput{
			CorporationID: in.CorporationID,
			Cycle:         in.Period.Label,
			Reason:        reason,
		}).Get(ctx, nil); ferr != nil {
			logger.Error("Marking cycle failed did not succeed", "error", ferr)
		}
		result.State = cycle.StateError
		return result, err
	}

	var collected CollectResult
	if err := workflow.ExecuteActivity(ctx, a.Collect, CollectInput{
		CorporationID: in.CorporationID,
		Cycle:         in.Period.Label,
	}).Get(ctx, &collected); err != nil {
		return fail("collect", err)
	}
	if collected.Skipped {
		result.Skipped = append(result.Skipped, string(cycle.PhaseDataCollection))
	}

	var analyzed AnalyzeResult
	if err := workflow.ExecuteActivity(ctx, a.Analyze, AnalyzeInput{
		CorporationID: in.CorporationID,
		Cycle:         in.Period.Label,
		Data:          collected.Data,
	}).Get(ctx, &analyzed); err != nil {
		return fail("analyze", err)
	}
	if analyzed.Skipped {
		result.Skipped = append(result.Skipped, string(cycle.PhaseSpecialistAnalysis))
	}

	var synthesized SynthesizeResult
	if err := workflow.ExecuteActivity(ctx, a.Synthesize, SynthesizeInput{
		CorporationID: in.CorporationID,
		Cycle:         in.Period.Label,
		Responses:     analyzed.Responses,
	}).Get(ctx, &synthesized); err != nil {
		return fail("synthesize", err)
	}
	if synthesized.Skipped {
		result.Skipped = append(result.Skipped, string(cycle.PhaseSynthesis))
	}
	result.DecisionID = synthesized.DecisionID
	result.FinalDecision = synthesized.FinalDecision

	if in.AutoReport {
		var reported ReportResult
		if err := workflow.ExecuteActivity(ctx, a.Report, ReportInput{
			CorporationID: in.CorporationID,
			Cycle:         in.Period.Label,
			FinalDecision: synthesized.FinalDecision,
		}).Get(ctx, &reported); err != nil {
			return fail("report", err)
		}
		if reported.Skipped {
			result.Skipped = append(result.Skipped, string(cycle.PhaseReport))
		}
	} else {
		logger.Info("Auto report disabled, skipping report phase")
	}

	result.State = cycle.StateComplete
	logger.Info("Cycle complete",
		"corporation_id", in.CorporationID,
		"cycle", in.Period.Label,
		"skipped", len(result.Skipped))
	return result, nil
}
