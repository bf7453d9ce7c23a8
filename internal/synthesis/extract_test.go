package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFinalDecision(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "first decision verb sentence",
			text: "Income fell 12% this month. We recommend raising the tax rate to 10%. Mining should continue.",
			want: "We recommend raising the tax rate to 10%.",
		},
		{
			name: "should counts",
			text: "Short intro. The corporation should move hauling to Amarr!",
			want: "The corporation should move hauling to Amarr!",
		},
		{
			name: "case insensitive",
			text: "RECOMMENDATION: consolidate moons.",
			want: "RECOMMENDATION: consolidate moons.",
		},
		{
			name: "falls back to first long sentence",
			text: "Okay. Consolidate all mining into one system. Done.",
			want: "Consolidate all mining into one system.",
		},
		{
			name: "markdown lines",
			text: "## Summary\n- Keep ratting in the home region\n- Prices are stable",
			want: "Keep ratting in the home region",
		},
		{
			name: "decimal numbers do not split",
			text: "Raise taxes to 7.5 percent and we should be fine.",
			want: "Raise taxes to 7.5 percent and we should be fine.",
		},
		{
			name: "nothing long enough",
			text: "  Hold.  ",
			want: "Hold.",
		},
		{
			name: "empty",
			text: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFinalDecision(tt.text))
		})
	}
}
