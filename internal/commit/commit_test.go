package commit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	return Params{
		Outcomes:       []string{"Yes", "No"},
		RealityOutcome: 0,
		LiquidityB:     1000,
		DecayPerHour:   0.5,
		ResolutionRefs: []string{"doc://criteria/42"},
	}
}

func TestCommitDeterministic(t *testing.T) {
	a, err := Commit(validParams())
	require.NoError(t, err)

	// An independently constructed but logically identical set hashes the same.
	p := Params{}
	p.ResolutionRefs = append(p.ResolutionRefs, "doc://criteria/42")
	p.DecayPerHour = 0.5
	p.LiquidityB = 1000
	p.Outcomes = []string{"Yes", "No"}
	b, err := Commit(p)
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.Canonical, b.Canonical)
	assert.Len(t, a.Hash, 64)
}

func TestCommitDistinguishesParams(t *testing.T) {
	base, err := Commit(validParams())
	require.NoError(t, err)

	p := validParams()
	p.LiquidityB = 1001
	changed, err := Commit(p)
	require.NoError(t, err)
	assert.NotEqual(t, base.Hash, changed.Hash)

	// Boundary ambiguity: ["ab","c"] must not collide with ["a","bc"].
	p1 := validParams()
	p1.Outcomes = []string{"ab", "c"}
	p2 := validParams()
	p2.Outcomes = []string{"a", "bc"}
	r1, err := Commit(p1)
	require.NoError(t, err)
	r2, err := Commit(p2)
	require.NoError(t, err)
	assert.NotEqual(t, r1.Hash, r2.Hash)
}

func TestCommitRejectsMalformed(t *testing.T) {
	cases := map[string]func(*Params){
		"one outcome":        func(p *Params) { p.Outcomes = []string{"Yes"} },
		"empty outcome":      func(p *Params) { p.Outcomes = []string{"Yes", " "} },
		"duplicate outcome":  func(p *Params) { p.Outcomes = []string{"Yes", "Yes"} },
		"reality out of range": func(p *Params) { p.RealityOutcome = 2 },
		"nan liquidity":      func(p *Params) { p.LiquidityB = math.NaN() },
		"inf liquidity":      func(p *Params) { p.LiquidityB = math.Inf(1) },
		"zero liquidity":     func(p *Params) { p.LiquidityB = 0 },
		"negative decay":     func(p *Params) { p.DecayPerHour = -1 },
		"nan decay":          func(p *Params) { p.DecayPerHour = math.NaN() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := validParams()
			mutate(&p)
			_, err := Commit(p)
			assert.Error(t, err)
		})
	}
}

func TestVerify(t *testing.T) {
	p := validParams()
	r, err := Commit(p)
	require.NoError(t, err)

	assert.True(t, Verify(p, r.Hash))

	tampered := p
	tampered.DecayPerHour = 99
	assert.False(t, Verify(tampered, r.Hash))

	assert.False(t, Verify(p, "not-hex"))
	assert.False(t, Verify(Params{}, r.Hash))
}
