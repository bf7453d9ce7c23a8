package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysis(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		a, err := ParseAnalysis(`{"analysis":"Moon output is down","recommendations":["refine locally"],"confidence":0.7,"reasoning":"yield logs"}`)
		require.NoError(t, err)
		assert.Equal(t, "Moon output is down", a.Analysis)
		assert.Equal(t, []string{"refine locally"}, a.Recommendations)
		assert.InDelta(t, 0.7, a.Confidence, 1e-9)
		assert.Equal(t, "yield logs", a.Reasoning)
	})

	t.Run("fenced", func(t *testing.T) {
		a, err := ParseAnalysis("```json\n{\"analysis\":\"ok\",\"confidence\":0.5}\n```")
		require.NoError(t, err)
		assert.Equal(t, "ok", a.Analysis)
		assert.Empty(t, a.Recommendations)
		assert.NotNil(t, a.Recommendations)
	})

	malformed := map[string]string{
		"empty":              "  ",
		"prose":              "I think you should sell.",
		"missing analysis":   `{"confidence":0.5}`,
		"confidence too big": `{"analysis":"x","confidence":1.5}`,
		"negative":           `{"analysis":"x","confidence":-0.1}`,
		"wrong type":         `{"analysis":"x","recommendations":"sell","confidence":0.5}`,
		"trailing text":      `{"analysis":"x","confidence":0.5} and more`,
		"trailing brace":     `{"analysis":"x","confidence":0.5} }`,
		"trailing bracket":   `{"analysis":"x","confidence":0.5}]`,
		"second object":      `{"analysis":"x","confidence":0.5}{"analysis":"y","confidence":0.5}`,
		"unterminated fence": "```",
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAnalysis(raw)
			assert.ErrorIs(t, err, ErrMalformedOutput)
		})
	}
}
