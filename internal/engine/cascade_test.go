package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
)

func TestCascadeBelowThresholdIsSilent(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	a := rig.createTimeline(t, CreateSpec{Title: "a", InitialStability: 50})
	b := rig.createTimeline(t, CreateSpec{Title: "b", InitialStability: 50})
	rig.topics.link(a.ID, b.ID)

	// Shield delta is capped at 5; threshold is 5, so |5| >= 5 ripples but a
	// 0.01*300=3 sabotage does not.
	_, err := rig.engine.SubmitAction(ctx, a.ID, Action{
		Kind: domain.FlapSabotage, ActorID: "mallory", Stake: 300,
	})
	require.NoError(t, err)

	flaps, err := rig.engine.GetLedger(ctx, b.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, flaps)
}

func TestCascadeAtThresholdRipples(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	a := rig.createTimeline(t, CreateSpec{Title: "a", InitialStability: 50})
	b := rig.createTimeline(t, CreateSpec{Title: "b", InitialStability: 50})
	rig.topics.link(a.ID, b.ID)

	origin, err := rig.engine.SubmitAction(ctx, a.ID, Action{
		Kind: domain.FlapShield, ActorID: "bob", Strength: 5,
	})
	require.NoError(t, err)

	flaps, err := rig.engine.GetLedger(ctx, b.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, flaps, 1)
	assert.Equal(t, domain.FlapRipple, flaps[0].Kind)
	assert.InDelta(t, 1.25, flaps[0].StabilityDelta, 1e-12)
	p, ok := flaps[0].Payload.(domain.RipplePayload)
	require.True(t, ok)
	assert.Equal(t, a.ID, p.OriginTimelineID)
	assert.Equal(t, origin.ID, p.OriginFlapID)
	assert.Equal(t, 0.25, p.Fraction)

	state, _, err := rig.engine.GetState(ctx, b.ID)
	require.NoError(t, err)
	assert.InDelta(t, 51.25, state.Stability, 1e-12)
}

func TestCascadeDepthIsOne(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.CascadeThreshold = 1
	cfg.CascadeFraction = 0.5
	rig := newTestRig(t, cfg)
	ctx := context.Background()

	a := rig.createTimeline(t, CreateSpec{Title: "a", InitialStability: 50})
	b := rig.createTimeline(t, CreateSpec{Title: "b", InitialStability: 50})
	c := rig.createTimeline(t, CreateSpec{Title: "c", InitialStability: 50})
	// Cyclic graph: a <-> b, plus b -> c. Depth 1 must stop the -4 ripple on
	// b from echoing to c or back to a even though |-4| clears the threshold.
	rig.topics.link(a.ID, b.ID)
	rig.topics.link(b.ID, a.ID, c.ID)

	_, err := rig.engine.SubmitAction(ctx, a.ID, Action{
		Kind: domain.FlapSabotage, ActorID: "mallory", Stake: 800,
	})
	require.NoError(t, err)

	bFlaps, err := rig.engine.GetLedger(ctx, b.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, bFlaps, 1)
	assert.Equal(t, domain.FlapRipple, bFlaps[0].Kind)
	assert.InDelta(t, -4.0, bFlaps[0].StabilityDelta, 1e-12)

	cFlaps, err := rig.engine.GetLedger(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, cFlaps)

	aFlaps, err := rig.engine.GetLedger(ctx, a.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, aFlaps, 1) // the originating sabotage only
}

func TestCascadeSkipsSelfAndUnknownTargets(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	a := rig.createTimeline(t, CreateSpec{Title: "a", InitialStability: 50})
	rig.topics.link(a.ID, a.ID, "not-hosted-here")

	_, err := rig.engine.SubmitAction(ctx, a.ID, Action{
		Kind: domain.FlapShield, ActorID: "bob", Strength: 5,
	})
	require.NoError(t, err)

	flaps, err := rig.engine.GetLedger(ctx, a.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, flaps, 1) // no self-ripple
}

func TestCascadeDegradesWhenTopicIndexFails(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	a := rig.createTimeline(t, CreateSpec{Title: "a", InitialStability: 50})
	b := rig.createTimeline(t, CreateSpec{Title: "b", InitialStability: 50})
	rig.topics.link(a.ID, b.ID)
	rig.topics.err = errors.New("index unavailable")

	_, err := rig.engine.SubmitAction(ctx, a.ID, Action{
		Kind: domain.FlapShield, ActorID: "bob", Strength: 5,
	})
	require.NoError(t, err) // the origin flap still lands

	flaps, err := rig.engine.GetLedger(ctx, b.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, flaps)
}
