package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service manages cycle configurations and the status state machine.
type Service struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a cycle service.
func NewService(store Store, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetConfiguration returns the stored configuration or the disabled default.
func (s *Service) GetConfiguration(ctx context.Context, corporationID string) (*Configuration, error) {
	if corporationID == "" {
		return nil, ErrEmptyCorporationID
	}
	cfg, err := s.store.GetConfiguration(ctx, corporationID)
	if errors.Is(err, ErrConfigurationNotFound) {
		return DefaultConfiguration(corporationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading cycle configuration: %w", err)
	}
	return cfg, nil
}

// SetConfiguration validates and stores cfg.
func (s *Service) SetConfiguration(ctx context.Context, cfg *Configuration) (*Configuration, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	cfg.UpdatedAt = s.now().UTC()

	if err := s.store.UpsertConfiguration(ctx, cfg); err != nil {
		return nil, fmt.Errorf("storing cycle configuration: %w", err)
	}

	s.logger.Info("cycle configuration updated",
		zap.String("corporation_id", cfg.CorporationID),
		zap.Int("cycle_start_day", cfg.CycleStartDay),
		zap.String("timezone", cfg.Timezone),
		zap.Bool("enabled", cfg.Enabled),
	)
	return cfg, nil
}

// EnabledConfigurations lists configurations the scheduler should check.
func (s *Service) EnabledConfigurations(ctx context.Context) ([]*Configuration, error) {
	return s.store.ListEnabledConfigurations(ctx)
}

// CurrentPeriod returns the period active now for the corporation.
func (s *Service) CurrentPeriod(ctx context.Context, corporationID string) (*Configuration, Period, error) {
	cfg, err := s.GetConfiguration(ctx, corporationID)
	if err != nil {
		return nil, Period{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, Period{}, err
	}
	return cfg, CalculatePeriod(cfg.CycleStartDay, s.now().In(loc)), nil
}

// CurrentStatus returns the status of the active cycle, creating a pending
// record on first access.
func (s *Service) CurrentStatus(ctx context.Context, corporationID string) (*Status, error) {
	_, period, err := s.CurrentPeriod(ctx, corporationID)
	if err != nil {
		return nil, err
	}
	return s.Ensure(ctx, corporationID, period)
}

// Ensure returns the status for period, inserting a pending one if absent.
func (s *Service) Ensure(ctx context.Context, corporationID string, period Period) (*Status, error) {
	st, err := s.store.GetStatus(ctx, corporationID, period.Label)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrStatusNotFound) {
		return nil, fmt.Errorf("loading cycle status: %w", err)
	}

	now := s.now().UTC()
	st, err = s.store.CreateStatus(ctx, &Status{
		CorporationID:  corporationID,
		CurrentCycle:   period.Label,
		CycleStartDate: period.Start,
		CycleEndDate:   period.End,
		State:          StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cycle status: %w", err)
	}
	return st, nil
}

// Status returns the stored status for a cycle label.
func (s *Service) Status(ctx context.Context, corporationID, cycle string) (*Status, error) {
	if corporationID == "" {
		return nil, ErrEmptyCorporationID
	}
	return s.store.GetStatus(ctx, corporationID, cycle)
}

// Begin marks the start of a job run: pending moves to collecting.
func (s *Service) Begin(ctx context.Context, corporationID string, period Period) (*Status, error) {
	st, err := s.Ensure(ctx, corporationID, period)
	if err != nil {
		return nil, err
	}
	if st.State.Terminal() {
		return st, ErrInvalidTransition
	}
	if rank[st.State] >= rank[StateCollecting] {
		return st, nil
	}
	return s.store.SetState(ctx, corporationID, period.Label, StateCollecting, "")
}

// CompletePhase records a finished job phase and advances the state.
// Recording the same phase twice is a no-op.
func (s *Service) CompletePhase(ctx context.Context, corporationID, cycle string, phase Phase) (*Status, error) {
	if !ValidPhase(phase) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}

	st, err := s.store.GetStatus(ctx, corporationID, cycle)
	if err != nil {
		return nil, err
	}
	if st.State == StateError {
		return st, ErrInvalidTransition
	}

	if !st.Progress.Done(phase) {
		st, err = s.store.MarkPhase(ctx, corporationID, cycle, phase)
		if err != nil {
			return nil, fmt.Errorf("recording phase %s: %w", phase, err)
		}
	}
	if st.State.Terminal() {
		return st, nil
	}

	cfg, err := s.GetConfiguration(ctx, corporationID)
	if err != nil {
		return nil, err
	}

	target := deriveState(st.Progress, cfg.AutoReportGeneration)
	if rank[target] <= rank[st.State] {
		return st, nil
	}

	s.logger.Info("cycle advanced",
		zap.String("corporation_id", corporationID),
		zap.String("cycle", cycle),
		zap.String("phase", string(phase)),
		zap.String("from", string(st.State)),
		zap.String("to", string(target)),
	)
	return s.store.SetState(ctx, corporationID, cycle, target, "")
}

// Fail moves a non-terminal cycle to error with reason.
func (s *Service) Fail(ctx context.Context, corporationID, cycle, reason string) (*Status, error) {
	st, err := s.store.GetStatus(ctx, corporationID, cycle)
	if err != nil {
		return nil, err
	}
	if st.State.Terminal() {
		return st, nil
	}

	s.logger.Warn("cycle failed",
		zap.String("corporation_id", corporationID),
		zap.String("cycle", cycle),
		zap.String("reason", reason),
	)
	return s.store.SetState(ctx, corporationID, cycle, StateError, reason)
}

// deriveState maps progress flags to the state they imply. Once data is
// collected the cycle is analyzing; it completes after synthesis plus the
// report when reports are enabled.
func deriveState(p Progress, autoReport bool) State {
	switch {
	case p.SynthesisComplete && (p.ReportGenerated || !autoReport):
		return StateComplete
	case p.ESICollected || p.SpecialistAnalysisComplete || p.SynthesisComplete:
		return StateAnalyzing
	default:
		return StatePending
	}
}
