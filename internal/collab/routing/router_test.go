package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nebo/internal/collaberr"
)

func TestFromKeywordsPriorityOrder(t *testing.T) {
	// "security" and "performance" both appear; Security has higher priority.
	assert.Equal(t, DomainSecurity, FromKeywords("check this for security and performance issues"))
	assert.Equal(t, DomainGeneral, FromKeywords("say hello"))
}

// S4 — Specialist routing: two profiles, both available and unloaded.
func TestScenarioS4BestMatch(t *testing.T) {
	r := NewRouter()
	r.Register(Profile{
		AgentID: "p1", Available: true,
		Expertise: map[TaskDomain]float64{DomainCodeGeneration: 0.95},
	})
	r.Register(Profile{
		AgentID: "p2", Available: true,
		Expertise: map[TaskDomain]float64{DomainCodeGeneration: 0.70},
	})

	domain := FromKeywords("implement a new function")
	assert.Equal(t, DomainCodeGeneration, domain)

	sel, err := r.Select(domain, BestMatch)
	require.NoError(t, err)
	assert.Equal(t, "p1", sel.AgentID)
	assert.Equal(t, 0.95, sel.Score)
	require.Len(t, sel.Alternatives, 1)
	assert.Equal(t, "p2", sel.Alternatives[0].AgentID)
	assert.Equal(t, 0.70, sel.Alternatives[0].Score)
}

// S5 — Least-loaded override.
func TestScenarioS5LeastLoaded(t *testing.T) {
	r := NewRouter()
	r.Register(Profile{
		AgentID: "p1", Available: true, Load: 0.8,
		Expertise: map[TaskDomain]float64{DomainCodeGeneration: 0.90},
	})
	r.Register(Profile{
		AgentID: "p2", Available: true, Load: 0.2,
		Expertise: map[TaskDomain]float64{DomainCodeGeneration: 0.85},
	})

	sel, err := r.Select(DomainCodeGeneration, LeastLoaded)
	require.NoError(t, err)
	assert.Equal(t, "p2", sel.AgentID)
}

func TestSelectFailsWhenNoneAvailable(t *testing.T) {
	r := NewRouter()
	r.Register(Profile{AgentID: "p1", Available: false})

	_, err := r.Select(DomainGeneral, BestMatch)
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.AgentUnavailable))
}

func TestEffectiveScoreDefaultsAndBounds(t *testing.T) {
	p := Profile{Load: 0}
	assert.Equal(t, 0.5, p.EffectiveScore(DomainSecurity))

	p2 := Profile{Load: 2.0, Expertise: map[TaskDomain]float64{DomainSecurity: 0.1}}
	score := p2.EffectiveScore(DomainSecurity)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
	assert.Equal(t, 0.0, score) // 0.1 - 0.3*1.0(clamped) < 0 -> clamps to 0
}

func TestRoundRobinSkipsIndexZeroFirstCall(t *testing.T) {
	r := NewRouter()
	r.Register(Profile{AgentID: "a", Available: true})
	r.Register(Profile{AgentID: "b", Available: true})
	r.Register(Profile{AgentID: "c", Available: true})

	sel1, err := r.Select(DomainGeneral, RoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "b", sel1.AgentID) // cursor incremented from 0 to 1 before indexing

	sel2, err := r.Select(DomainGeneral, RoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "c", sel2.AgentID)
}

func TestRandomSelectsAnAvailableProfile(t *testing.T) {
	r := NewRouter()
	r.Register(Profile{AgentID: "a", Available: true})
	r.Register(Profile{AgentID: "b", Available: true})

	sel, err := r.Select(DomainGeneral, Random)
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, sel.AgentID)
}
