package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/cycle"
)

// ConfigSource supplies the cycle configuration of a corporation.
type ConfigSource interface {
	GetConfiguration(ctx context.Context, corporationID string) (*cycle.Configuration, error)
}

// TemporalRunner starts CycleWorkflow executions. It implements
// cycle.Runner.
type TemporalRunner struct {
	client    client.Client
	taskQueue string
	configs   ConfigSource
	logger    *zap.Logger
}

// NewTemporalRunner creates a runner that starts workflows on taskQueue.
func NewTemporalRunner(c client.Client, taskQueue string, configs ConfigSource, logger *zap.Logger) (*TemporalRunner, error) {
	if c == nil {
		return nil, fmt.Errorf("temporal client cannot be nil")
	}
	if configs == nil {
		return nil, fmt.Errorf("config source cannot be nil")
	}
	if taskQueue == "" {
		taskQueue = CycleTaskQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalRunner{client: c, taskQueue: taskQueue, configs: configs, logger: logger}, nil
}

// Run starts the cycle workflow. Starting a period that already has an
// execution, running or closed, succeeds without starting another.
func (r *TemporalRunner) Run(ctx context.Context, corporationID string, period cycle.Period) error {
	cfg, err := r.configs.GetConfiguration(ctx, corporationID)
	if err != nil {
		return fmt.Errorf("loading cycle configuration: %w", err)
	}

	id := WorkflowID(corporationID, period.Label)
	run, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                r.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, CycleWorkflow, CycleInput{
		CorporationID: corporationID,
		Period:        period,
		AutoReport:    cfg.AutoReportGeneration,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			r.logger.Info("cycle workflow already started", zap.String("workflow_id", id))
			countRun(ctx, "temporal", "duplicate")
			return nil
		}
		countRun(ctx, "temporal", "error")
		return fmt.Errorf("starting cycle workflow: %w", err)
	}

	countRun(ctx, "temporal", "started")
	r.logger.Info("cycle workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()))
	return nil
}

// NewWorker creates a worker for the cycle workflow and its activities.
func NewWorker(c client.Client, taskQueue string, a *Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = CycleTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(CycleWorkflow)
	w.RegisterActivity(a)
	return w
}

// LocalRunner runs the cycle phases in-process. Each run happens in the
// background; a period already in flight is not started twice.
type LocalRunner struct {
	activities *Activities
	configs    ConfigSource
	timeout    time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewLocalRunner creates a LocalRunner. timeout bounds each run; zero
// means 30 minutes.
func NewLocalRunner(a *Activities, configs ConfigSource, timeout time.Duration, logger *zap.Logger) (*LocalRunner, error) {
	if a == nil {
		return nil, fmt.Errorf("activities cannot be nil")
	}
	if configs == nil {
		return nil, fmt.Errorf("config source cannot be nil")
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalRunner{
		activities: a,
		configs:    configs,
		timeout:    timeout,
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}, nil
}

// Run starts the phases for one period and returns without waiting.
func (r *LocalRunner) Run(ctx context.Context, corporationID string, period cycle.Period) error {
	cfg, err := r.configs.GetConfiguration(ctx, corporationID)
	if err != nil {
		return fmt.Errorf("loading cycle configuration: %w", err)
	}

	id := WorkflowID(corporationID, period.Label)
	r.mu.Lock()
	if _, ok := r.inflight[id]; ok {
		r.mu.Unlock()
		countRun(ctx, "local", "duplicate")
		return nil
	}
	r.inflight[id] = struct{}{}
	r.mu.Unlock()

	in := CycleInput{CorporationID: corporationID, Period: period, AutoReport: cfg.AutoReportGeneration}
	countRun(ctx, "local", "started")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, id)
			r.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("cycle run panicked",
					zap.String("workflow_id", id),
					zap.Any("panic", p),
					zap.Stack("stack"))
			}
		}()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		res, err := RunLocal(rctx, r.activities, in)
		if err != nil {
			r.logger.Error("cycle run failed", zap.String("workflow_id", id), zap.Error(err))
			return
		}
		r.logger.Info("cycle run finished",
			zap.String("workflow_id", id),
			zap.String("state", string(res.State)),
			zap.Strings("skipped", res.Skipped))
	}()
	return nil
}

// Wait blocks until every started run has finished.
func (r *LocalRunner) Wait() {
	r.wg.Wait()
}

// RunLocal executes the cycle phases in order on the calling goroutine,
// mirroring CycleWorkflow without retries.
func RunLocal(ctx context.Context, a *Activities, in CycleInput) (*CycleResult, error) {
	result := &CycleResult{CorporationID: in.CorporationID, Cycle: in.Period.Label}

	status, err := a.Begin(ctx, in)
	if err != nil {
		return result, err
	}
	if status.State.Terminal() {
		result.State = status.State
		return result, nil
	}

	fail := func(phase string, err error) (*CycleResult, error) {
		reason := fmt.Sprintf("%s: %v", phase, err)
		if ferr := a.Fail(ctx, FailInput{
			CorporationID: in.CorporationID,
			Cycle:         in.Period.Label,
			Reason:        reason,
		}); ferr != nil {
			a.logger.Error("marking cycle failed did not succeed", zap.Error(ferr))
		}
		result.State = cycle.StateError
		return result, err
	}

	collected, err := a.Collect(ctx, CollectInput{CorporationID: in.CorporationID, Cycle: in.Period.Label})
	if err != nil {
		return fail("collect", err)
	}
	if collected.Skipped {
		result.Skipped = append(result.Skipped, string(cycle.PhaseDataCollection))
	}

	analyzed, err := a.Analyze(ctx, AnalyzeInput{
		CorporationID: in.CorporationID,
		Cycle:         in.Period.Label,
		Data:          collected.Data,
	})
	if err != nil {
		return fail("analyze", err)
	}
	if analyzed.Skipped {
		result.Skipped = append(result.Skipped, string(cycle.PhaseSpecialistAnalysis))
	}

	synthesized, err := a.Synthesize(ctx, SynthesizeInput{
		CorporationID: in.CorporationID,
		Cycle:         in.Period.Label,
		Responses:     analyzed.Responses,
	})
	if err != nil {
		return fail("synthesize", err)
	}
	if synthesized.Skipped {
		result.Skipped = append(result.Skipped, string(cycle.PhaseSynthesis))
	}
	result.DecisionID = synthesized.DecisionID
	result.FinalDecision = synthesized.FinalDecision

	if in.AutoReport {
		reported, err := a.Report(ctx, ReportInput{
			CorporationID: in.CorporationID,
			Cycle:         in.Period.Label,
			FinalDecision: synthesized.FinalDecision,
		})
		if err != nil {
			return fail("report", err)
		}
		if reported.Skipped {
			result.Skipped = append(result.Skipped, string(cycle.PhaseReport))
		}
	}

	result.State = cycle.StateComplete
	return result, nil
}
