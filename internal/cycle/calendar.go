package cycle

import (
	"time"
)

// Period is the time span of one cycle instance.
type Period struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalculatePeriod returns the cycle active at ref for a cycle starting on
// startDay of each month, in ref's location.
//
// Before startDay the active cycle started in the previous month. End is
// one millisecond before the next cycle starts. time.Date normalises month
// overflow, which handles year rollover in both directions.
func CalculatePeriod(startDay int, ref time.Time) Period {
	loc := ref.Location()
	year, month, day := ref.Date()
	if day < startDay {
		month--
	}

	start := time.Date(year, month, startDay, 0, 0, 0, 0, loc)
	next := time.Date(start.Year(), start.Month()+1, startDay, 0, 0, 0, 0, loc)

	return Period{
		Label: start.Format(LabelLayout),
		Start: start,
		End:   next.Add(-time.Millisecond),
	}
}

// IsDue reports whether a new cycle starts on date for cfg. The check is
// meant to run once per day.
func IsDue(cfg *Configuration, date time.Time) bool {
	if cfg == nil || !cfg.Enabled {
		return false
	}
	loc, err := cfg.Location()
	if err != nil {
		return false
	}
	return date.In(loc).Day() == cfg.CycleStartDay
}

// ParseLabel returns the period identified by label for startDay in loc.
func ParseLabel(label string, startDay int, loc *time.Location) (Period, error) {
	t, err := time.ParseInLocation(LabelLayout, label, loc)
	if err != nil {
		return Period{}, err
	}
	return CalculatePeriod(startDay, time.Date(t.Year(), t.Month(), startDay, 0, 0, 0, 0, loc)), nil
}
