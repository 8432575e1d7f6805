package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
)

// buildHistory drives a timeline through trades, shields, sabotage, a full
// paradox cycle, and several ticks, returning the live end state.
func buildHistory(t *testing.T, rig *testRig) (domain.Timeline, domain.TimelineState) {
	t.Helper()
	ctx := context.Background()
	meta := rig.createTimeline(t, CreateSpec{
		Title:            "history",
		DecayPerHour:     60,
		InitialStability: 60,
	})
	rig.alignment.set(meta.ID, 0.5)

	for i, act := range []Action{
		{Kind: domain.FlapTrade, ActorID: "alice", Side: domain.TradeBuy, Outcome: 0, Quantity: 300},
		{Kind: domain.FlapShield, ActorID: "bob", Strength: 4},
		{Kind: domain.FlapTrade, ActorID: "alice", Side: domain.TradeSell, Outcome: 0, Quantity: 100},
		{Kind: domain.FlapSabotage, ActorID: "mallory", Stake: 450},
		{Kind: domain.FlapTrade, ActorID: "dave", Side: domain.TradeBuy, Outcome: 1, Quantity: 200},
	} {
		_, err := rig.engine.SubmitAction(ctx, meta.ID, act)
		require.NoError(t, err, "action %d", i)
	}

	require.NoError(t, rig.engine.Tick(ctx, meta.ID))

	// Force a paradox cycle into the ledger.
	rig.alignment.set(meta.ID, 0.97)
	rig.clock.Advance(time.Minute)
	require.NoError(t, rig.engine.Tick(ctx, meta.ID))
	rig.clock.Advance(5 * time.Minute)
	_, _, err := rig.engine.Extract(ctx, meta.ID, "carol")
	require.NoError(t, err)

	rig.alignment.set(meta.ID, 0.5)
	rig.clock.Advance(time.Minute)
	require.NoError(t, rig.engine.Tick(ctx, meta.ID))

	live, _, err := rig.engine.GetState(ctx, meta.ID)
	require.NoError(t, err)
	return meta, live
}

func TestReplayReproducesLiveState(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	meta, live := buildHistory(t, rig)

	replayed, err := rig.engine.ReplayState(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.True(t, statesEqual(live, replayed),
		"replay diverged:\nlive:     %+v\nreplayed: %+v", live, replayed)
}

func TestReplayIsIndependentOfBatchSize(t *testing.T) {
	// More flaps than one replay batch, to exercise the batched fold.
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	meta := rig.createTimeline(t, CreateSpec{Title: "long ledger", InitialStability: 50})

	for i := 0; i < replayBatch+25; i++ {
		kind := domain.FlapShield
		act := Action{Kind: kind, ActorID: "bob", Strength: 0.01}
		if i%2 == 1 {
			act = Action{Kind: domain.FlapSabotage, ActorID: "mallory", Stake: 1}
		}
		_, err := rig.engine.SubmitAction(ctx, meta.ID, act)
		require.NoError(t, err)
	}

	live, _, err := rig.engine.GetState(ctx, meta.ID)
	require.NoError(t, err)
	require.Equal(t, int64(replayBatch+25), live.LastSeq)

	replayed, err := rig.engine.ReplayState(ctx, meta.ID)
	require.NoError(t, err)
	assert.True(t, statesEqual(live, replayed))
}

func TestVerifyPassesOnHealthyState(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	meta, _ := buildHistory(t, rig)
	require.NoError(t, rig.engine.Verify(context.Background(), meta.ID))
}

func TestVerifyDetectsAndHealsCorruption(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	meta, live := buildHistory(t, rig)
	ctx := context.Background()

	// Corrupt the live copy behind the ledger's back.
	tl, err := rig.engine.lookup(meta.ID)
	require.NoError(t, err)
	tl.mu.Lock()
	tl.state.Stability += 7
	tl.mu.Unlock()

	err = rig.engine.Verify(ctx, meta.ID)
	require.ErrorIs(t, err, domain.ErrInvariant)

	// The ledger won: live state was reloaded from the replay.
	healed, _, err := rig.engine.GetState(ctx, meta.ID)
	require.NoError(t, err)
	assert.True(t, statesEqual(live, healed))

	// A second audit is clean.
	require.NoError(t, rig.engine.Verify(ctx, meta.ID))
}

func TestVerifyAllJoinsFailures(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	good := rig.createTimeline(t, CreateSpec{Title: "good", InitialStability: 50})
	bad := rig.createTimeline(t, CreateSpec{Title: "bad", InitialStability: 50})
	_ = good

	tl, err := rig.engine.lookup(bad.ID)
	require.NoError(t, err)
	tl.mu.Lock()
	tl.state.Stability = 1
	tl.mu.Unlock()

	err = rig.engine.VerifyAll(ctx)
	require.ErrorIs(t, err, domain.ErrInvariant)
	require.NoError(t, rig.engine.VerifyAll(ctx))
}

func TestReplayRejectsSequenceGap(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	meta := rig.createTimeline(t, CreateSpec{Title: "gap", InitialStability: 50})

	_, err := rig.engine.SubmitAction(ctx, meta.ID, Action{
		Kind: domain.FlapShield, ActorID: "bob", Strength: 2,
	})
	require.NoError(t, err)

	// Inject an out-of-order entry directly into the store.
	require.NoError(t, memFlapStore{rig.stores}.Append(ctx, domain.Flap{
		ID:             "rogue",
		Seq:            5,
		TimelineID:     meta.ID,
		Kind:           domain.FlapShield,
		Payload:        domain.ShieldPayload{Strength: 1},
		StabilityDelta: 1,
		CreatedAt:      rig.clock.Now(),
	}))

	_, err = rig.engine.ReplayState(ctx, meta.ID)
	require.ErrorIs(t, err, domain.ErrInvariant)
}
