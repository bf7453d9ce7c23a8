package cycle

import (
	"context"
	"errors"
	"time"
)

// Common errors for cycle operations.
var (
	ErrEmptyCorporationID    = errors.New("corporation ID cannot be empty")
	ErrInvalidStartDay       = errors.New("cycle start day must be between 1 and 28")
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrConfigurationNotFound = errors.New("cycle configuration not found")
	ErrStatusNotFound        = errors.New("cycle status not found")
	ErrInvalidTransition     = errors.New("cycle is in a terminal state")
	ErrUnknownPhase          = errors.New("unknown cycle phase")
)

const (
	// MinStartDay and MaxStartDay bound CycleStartDay. Days above 28 do not
	// exist in every month.
	MinStartDay = 1
	MaxStartDay = 28

	// LabelLayout formats the cycle label from the start month.
	LabelLayout = "2006-01"
)

// Configuration holds the recurring-period settings of one corporation.
type Configuration struct {
	CorporationID        string    `json:"corporation_id" bson:"corporationId"`
	CycleStartDay        int       `json:"cycle_start_day" bson:"cycleStartDay"`
	Timezone             string    `json:"timezone" bson:"timezone"`
	Enabled              bool      `json:"enabled" bson:"enabled"`
	AutoReportGeneration bool      `json:"auto_report_generation" bson:"autoReportGeneration"`
	NotificationEmail    string    `json:"notification_email,omitempty" bson:"notificationEmail,omitempty"`
	UpdatedAt            time.Time `json:"updated_at" bson:"updatedAt"`
}

// DefaultConfiguration is returned for corporations that never configured
// a cycle. It is disabled.
func DefaultConfiguration(corporationID string) *Configuration {
	return &Configuration{
		CorporationID:        corporationID,
		CycleStartDay:        MinStartDay,
		Timezone:             "UTC",
		Enabled:              false,
		AutoReportGeneration: true,
	}
}

// Validate checks the configuration. Invalid values are rejected, never
// coerced.
func (c *Configuration) Validate() error {
	if c.CorporationID == "" {
		return ErrEmptyCorporationID
	}
	if c.CycleStartDay < MinStartDay || c.CycleStartDay > MaxStartDay {
		return ErrInvalidStartDay
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. An empty timezone means UTC.
func (c *Configuration) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Join(ErrInvalidTimezone, err)
	}
	return loc, nil
}

// State is the lifecycle state of one cycle instance.
type State string

const (
	StatePending    State = "pending"
	StateCollecting State = "collecting"
	StateAnalyzing  State = "analyzing"
	StateComplete   State = "complete"
	StateError      State = "error"
)

// rank orders the forward states. Error is handled separately.
var rank = map[State]int{
	StatePending:    0,
	StateCollecting: 1,
	StateAnalyzing:  2,
	StateComplete:   3,
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Phase names one job step whose completion is tracked in Progress.
type Phase string

const (
	PhaseDataCollection     Phase = "esi_collected"
	PhaseSpecialistAnalysis Phase = "specialist_analysis_complete"
	PhaseSynthesis          Phase = "synthesis_complete"
	PhaseReport             Phase = "report_generated"
)

// Phases returns the job phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseDataCollection, PhaseSpecialistAnalysis, PhaseSynthesis, PhaseReport}
}

// Progress flags are monotonic: once true they are never reset.
type Progress struct {
	ESICollected               bool `json:"esi_collected" bson:"esiCollected"`
	SpecialistAnalysisComplete bool `json:"specialist_analysis_complete" bson:"specialistAnalysisComplete"`
	SynthesisComplete          bool `json:"synthesis_complete" bson:"synthesisComplete"`
	ReportGenerated            bool `json:"report_generated" bson:"reportGenerated"`
}

// Done reports whether phase is already recorded.
func (p Progress) Done(phase Phase) bool {
	switch phase {
	case PhaseDataCollection:
		return p.ESICollected
	case PhaseSpecialistAnalysis:
		return p.SpecialistAnalysisComplete
	case PhaseSynthesis:
		return p.SynthesisComplete
	case PhaseReport:
		return p.ReportGenerated
	}
	return false
}

// With returns a copy with phase set. It never clears a flag.
func (p Progress) With(phase Phase) Progress {
	switch phase {
	case PhaseDataCollection:
		p.ESICollected = true
	case PhaseSpecialistAnalysis:
		p.SpecialistAnalysisComplete = true
	case PhaseSynthesis:
		p.SynthesisComplete = true
	case PhaseReport:
		p.ReportGenerated = true
	}
	return p
}

// Merge ORs two progress values.
func (p Progress) Merge(o Progress) Progress {
	return Progress{
		ESICollected:               p.ESICollected || o.ESICollected,
		SpecialistAnalysisComplete: p.SpecialistAnalysisComplete || o.SpecialistAnalysisComplete,
		SynthesisComplete:          p.SynthesisComplete || o.SynthesisComplete,
		ReportGenerated:            p.ReportGenerated || o.ReportGenerated,
	}
}

// ValidPhase reports whether phase is known.
func ValidPhase(phase Phase) bool {
	for _, p := range Phases() {
		if p == phase {
			return true
		}
	}
	return false
}

// Status is one concrete cycle instance, unique per corporation and label.
type Status struct {
	CorporationID  string    `json:"corporation_id" bson:"corporationId"`
	CurrentCycle   string    `json:"current_cycle" bson:"currentCycle"`
	CycleStartDate time.Time `json:"cycle_start_date" bson:"cycleStartDate"`
	CycleEndDate   time.Time `json:"cycle_end_date" bson:"cycleEndDate"`
	State          State     `json:"status" bson:"status"`
	Progress       Progress  `json:"progress" bson:"progress"`
	Error          string    `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updated_at" bson:"updatedAt"`
}

// Store persists cycle configurations and statuses.
type Store interface {
	GetConfiguration(ctx context.Context, corporationID string) (*Configuration, error)
	UpsertConfiguration(ctx context.Context, cfg *Configuration) error
	ListEnabledConfigurations(ctx context.Context) ([]*Configuration, error)

	GetStatus(ctx context.Context, corporationID, cycle string) (*Status, error)

	// CreateStatus inserts st unless a status with the same key exists,
	// and returns whichever record is stored.
	CreateStatus(ctx context.Context, st *Status) (*Status, error)

	// MarkPhase sets one progress flag to true and returns the result.
	MarkPhase(ctx context.Context, corporationID, cycle string, phase Phase) (*Status, error)

	// SetState moves a non-terminal status to state. Terminal statuses are
	// left unchanged and returned as stored.
	SetState(ctx context.Context, corporationID, cycle string, state State, reason string) (*Status, error)
}
