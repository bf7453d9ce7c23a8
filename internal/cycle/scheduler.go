package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner executes the cycle job for one corporation and period. Runs are
// at-least-once; implementations must tolerate repeats.
type Runner interface {
	Run(ctx context.Context, corporationID string, period Period) error
}

// Scheduler checks enabled configurations on an interval and starts the
// cycle job for every corporation whose start day is today.
//
// Each corporation is started at most once per local calendar day.
type Scheduler struct {
	service  *Service
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	lastRun map[string]string

	logger *zap.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the check interval. Defaults to one hour.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// WithRunTimeout bounds a single job start.
func WithRunTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.timeout = timeout
	}
}

// WithSchedulerClock overrides the time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler. Call Start to begin checking.
func NewScheduler(service *Service, runner Runner, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Scheduler{
		service:  service,
		runner:   runner,
		interval: time.Hour,
		timeout:  30 * time.Minute,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		lastRun:  make(map[string]string),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the background loop. It errors if already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info("cycle scheduler started", zap.Duration("interval", s.interval))

	go s.run(s.stopCh, s.doneCh)
	return nil
}

// Stop signals the loop to exit and waits for it. Safe to call twice.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("cycle scheduler stopped")
	return nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle scheduler panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeCheck()
		case <-stopCh:
			return
		}
	}
}

func (s *Scheduler) safeCheck() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle check panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.Check(ctx)
}

// Check runs one pass over enabled configurations and returns the number
// of jobs started.
func (s *Scheduler) Check(ctx context.Context) int {
	configs, err := s.service.EnabledConfigurations(ctx)
	if err != nil {
		s.logger.Error("listing cycle configurations failed", zap.Error(err))
		return 0
	}

	now := s.now()
	started := 0
	for _, cfg := range configs {
		if !IsDue(cfg, now) {
			continue
		}
		loc, err := cfg.Location()
		if err != nil {
			s.logger.Warn("skipping configuration with bad timezone",
				zap.String("corporation_id", cfg.CorporationID),
				zap.Error(err),
			)
			continue
		}

		local := now.In(loc)
		day := local.Format(time.DateOnly)
		if !s.claim(cfg.CorporationID, day) {
			continue
		}

		period := CalculatePeriod(cfg.CycleStartDay, local)
		if err := s.runner.Run(ctx, cfg.CorporationID, period); err != nil {
			s.logger.Error("starting cycle job failed",
				zap.String("corporation_id", cfg.CorporationID),
				zap.String("cycle", period.Label),
				zap.Error(err),
			)
			s.release(cfg.CorporationID, day)
			continue
		}

		started++
		s.logger.Info("cycle job started",
			zap.String("corporation_id", cfg.CorporationID),
			zap.String("cycle", period.Label),
		)
	}
	return started
}

func (s *Scheduler) claim(corporationID, day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun[corporationID] == day {
		return false
	}
	s.lastRun[corporationID] = day
	return true
}

func (s *Scheduler) release(corporationID, day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun[corporationID] == day {
		delete(s.lastRun, corporationID)
	}
}
