// Package specialist defines the fixed set of domain specialists a
// corporation can consult, in the order the rest of the system relies on.
package specialist

import (
	"fmt"
)

// Kind identifies one specialist role.
type Kind string

const (
	// Economic covers wallet, taxes, income and budgeting.
	Economic Kind = "economic"

	// Market covers trading, pricing and logistics.
	Market Kind = "market"

	// Mining covers ore, moons and industrial yield.
	Mining Kind = "mining"

	// Recruiting covers membership, retention and activity.
	Recruiting Kind = "recruiting"

	// Mission covers PvE activity, standings and bounties.
	Mission Kind = "mission"
)

// declared is the canonical ordering. Routing results, fan-in results and
// audit records all follow it.
var declared = []Kind{Economic, Market, Mining, Recruiting, Mission}

// All returns every kind in declaration order.
func All() []Kind {
	out := make([]Kind, len(declared))
	copy(out, declared)
	return out
}

// Default is consulted when nothing else matches.
const Default = Economic

// CoreTeam is the committee consulted for broad strategic questions.
func CoreTeam() []Kind {
	return []Kind{Economic, Market, Recruiting}
}

// Index returns the declaration position of k, or -1 if k is unknown.
func Index(k Kind) int {
	for i, d := range declared {
		if d == k {
			return i
		}
	}
	return -1
}

// Valid reports whether k is a declared kind.
func (k Kind) Valid() bool {
	return Index(k) >= 0
}

// Parse converts a string into a Kind.
func Parse(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown specialist %q", s)
	}
	return k, nil
}

// Profile describes how a specialist is recognised and instructed.
type Profile struct {
	Kind         Kind
	Title        string
	Keywords     []string
	Instructions string
}

var profiles = map[Kind]Profile{
	Economic: {
		Kind:     Economic,
		Title:    "Economic Advisor",
		Keywords: []string{"isk", "wallet", "income", "tax", "budget", "profit", "revenue", "finance", "economy", "expense"},
		Instructions: "You are the corporation's economic advisor. Assess income streams, tax policy, " +
			"expenses and reserves. Ground every recommendation in cash-flow impact.",
	},
	Market: {
		Kind:     Market,
		Title:    "Market Analyst",
		Keywords: []string{"market", "trade", "price", "sell", "buy", "order", "hauling", "arbitrage", "station trading"},
		Instructions: "You are the corporation's market analyst. Assess trade hubs, price trends, " +
			"order competition and logistics cost. Prefer recommendations with measurable margins.",
	},
	Mining: {
		Kind:     Mining,
		Title:    "Mining Director",
		Keywords: []string{"mining", "ore", "moon", "ice", "refine", "reprocess", "asteroid", "yield", "fleet mining"},
		Instructions: "You are the corporation's mining director. Assess ore and moon yield, fleet " +
			"composition, refining efficiency and exposure to hostile activity.",
	},
	Recruiting: {
		Kind:     Recruiting,
		Title:    "Recruitment Officer",
		Keywords: []string{"recruit", "member", "pilot", "retention", "onboarding", "newbro", "applicant", "activity", "morale"},
		Instructions: "You are the corporation's recruitment officer. Assess membership growth, " +
			"retention, activity levels and onboarding quality.",
	},
	Mission: {
		Kind:     Mission,
		Title:    "Mission Coordinator",
		Keywords: []string{"mission", "ratting", "anomal", "combat site", "pve", "bounty", "standing", "incursion", "abyssal"},
		Instructions: "You are the corporation's mission coordinator. Assess PvE income, standings " +
			"progression, fleet readiness and risk.",
	},
}

// ProfileOf returns the profile for k. Unknown kinds get an empty profile
// carrying only the kind.
func ProfileOf(k Kind) Profile {
	if p, ok := profiles[k]; ok {
		return p
	}
	return Profile{Kind: k, Title: string(k)}
}

// StrategicTriggers are phrases that route a query to the core team.
func StrategicTriggers() []string {
	return []string{
		"strategy", "strategic", "plan", "planning", "optimize", "optimization",
		"roadmap", "long-term", "long term", "priorit",
	}
}
