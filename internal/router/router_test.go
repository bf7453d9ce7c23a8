package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/council/internal/specialist"
)

func TestKeywordClassifier_Route(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		name  string
		query string
		want  []specialist.Kind
	}{
		{
			name:  "single specialist",
			query: "Which moon should we drill next?",
			want:  []specialist.Kind{specialist.Mining},
		},
		{
			name:  "declaration order not match order",
			query: "Recruit more pilots for mining, and watch market prices",
			want:  []specialist.Kind{specialist.Market, specialist.Mining, specialist.Recruiting},
		},
		{
			name:  "case insensitive",
			query: "WALLET is draining",
			want:  []specialist.Kind{specialist.Economic},
		},
		{
			name:  "strategic override wins over matches",
			query: "What is our mining strategy for incursions?",
			want:  specialist.CoreTeam(),
		},
		{
			name:  "fallback to default",
			query: "hello there",
			want:  []specialist.Kind{specialist.Default},
		},
		{
			name:  "empty query falls back",
			query: "",
			want:  []specialist.Kind{specialist.Default},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Route(tt.query))
		})
	}
}

func TestKeywordClassifier_Deterministic(t *testing.T) {
	c := NewKeywordClassifier()
	q := "Should we sell ore on the market or reprocess it?"

	first := c.Route(q)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, c.Route(q))
	}
	assert.Equal(t, []specialist.Kind{specialist.Market, specialist.Mining}, first)
}

func TestKeywordClassifier_NeverEmpty(t *testing.T) {
	c := NewKeywordClassifier()
	for _, q := range []string{"", "   ", "?!", "zzzz"} {
		assert.NotEmpty(t, c.Route(q), "query %q", q)
	}
}

func TestKeywordClassifier_ResultIsCopy(t *testing.T) {
	c := NewKeywordClassifier()
	got := c.Route("long-term plan")
	got[0] = specialist.Mission

	assert.Equal(t, specialist.CoreTeam(), c.Route("long-term plan"))
}

func TestKeywordClassifier_ImplementsClassifier(t *testing.T) {
	var _ Classifier = NewKeywordClassifier()
}
