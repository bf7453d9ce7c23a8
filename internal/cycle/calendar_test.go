package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatePeriod(t *testing.T) {
	tests := []struct {
		name      string
		startDay  int
		ref       time.Time
		wantLabel string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "before start day uses previous month",
			startDay:  15,
			ref:       time.Date(2025, 11, 10, 9, 30, 0, 0, time.UTC),
			wantLabel: "2025-10",
			wantStart: time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 11, 14, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		},
		{
			name:      "after start day uses current month",
			startDay:  15,
			ref:       time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
			wantLabel: "2025-11",
			wantStart: time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 12, 14, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		},
		{
			name:      "on start day",
			startDay:  1,
			ref:       time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			wantLabel: "2025-02",
			wantStart: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 28, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		},
		{
			name:      "january rolls back to december",
			startDay:  10,
			ref:       time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			wantLabel: "2025-12",
			wantStart: time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 1, 9, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		},
		{
			name:      "december rolls forward into january",
			startDay:  28,
			ref:       time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC),
			wantLabel: "2025-12",
			wantStart: time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 1, 27, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := CalculatePeriod(tt.startDay, tt.ref)
			assert.Equal(t, tt.wantLabel, p.Label)
			assert.True(t, tt.wantStart.Equal(p.Start), "start %s", p.Start)
			assert.True(t, tt.wantEnd.Equal(p.End), "end %s", p.End)
		})
	}
}

func TestCalculatePeriod_Location(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	ref := time.Date(2025, 6, 15, 1, 0, 0, 0, time.UTC).In(loc) // 14th locally
	p := CalculatePeriod(15, ref)
	assert.Equal(t, "2025-05", p.Label)
	assert.Equal(t, loc, p.Start.Location())
}

func TestIsDue(t *testing.T) {
	cfg := &Configuration{CorporationID: "c", CycleStartDay: 15, Timezone: "UTC", Enabled: true}

	assert.True(t, IsDue(cfg, time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)))
	assert.False(t, IsDue(cfg, time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)))

	cfg.Enabled = false
	assert.False(t, IsDue(cfg, time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)))
	assert.False(t, IsDue(nil, time.Now()))
}

func TestParseLabel(t *testing.T) {
	p, err := ParseLabel("2025-10", 15, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2025-10", p.Label)
	assert.True(t, time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC).Equal(p.Start))

	_, err = ParseLabel("october", 15, time.UTC)
	assert.Error(t, err)
}

func TestConfiguration_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Configuration
		want error
	}{
		{"valid", Configuration{CorporationID: "c", CycleStartDay: 28, Timezone: "Europe/London"}, nil},
		{"empty timezone means utc", Configuration{CorporationID: "c", CycleStartDay: 1}, nil},
		{"day zero", Configuration{CorporationID: "c", CycleStartDay: 0}, ErrInvalidStartDay},
		{"day twenty nine", Configuration{CorporationID: "c", CycleStartDay: 29}, ErrInvalidStartDay},
		{"bad timezone", Configuration{CorporationID: "c", CycleStartDay: 1, Timezone: "Mars/Olympus"}, ErrInvalidTimezone},
		{"no corporation", Configuration{CycleStartDay: 1}, ErrEmptyCorporationID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProgress_Monotonic(t *testing.T) {
	p := Progress{}.With(PhaseDataCollection).With(PhaseSynthesis)
	assert.True(t, p.Done(PhaseDataCollection))
	assert.False(t, p.Done(PhaseSpecialistAnalysis))

	merged := p.Merge(Progress{ReportGenerated: true})
	assert.True(t, merged.ESICollected)
	assert.True(t, merged.ReportGenerated)
}
