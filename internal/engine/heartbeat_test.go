package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
)

func TestTickAppliesBaselineDecay(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	meta := rig.createTimeline(t, CreateSpec{
		Title:            "decay",
		DecayPerHour:     30,
		InitialStability: 80,
	})
	rig.alignment.set(meta.ID, 0.5)

	// 30/hour over a 60s interval is half a point.
	require.NoError(t, rig.engine.Tick(ctx, meta.ID))

	state, _, err := rig.engine.GetState(ctx, meta.ID)
	require.NoError(t, err)
	assert.InDelta(t, 79.5, state.Stability, 1e-9)
	assert.InDelta(t, 0.0, state.Divergence, 1e-9)
	assert.Equal(t, int64(1), state.LastSeq)

	flaps, err := rig.engine.GetLedger(ctx, meta.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, flaps, 1)
	assert.Equal(t, domain.FlapEntropy, flaps[0].Kind)
	p, ok := flaps[0].Payload.(domain.EntropyPayload)
	require.True(t, ok)
	assert.InDelta(t, 0.5, p.Decay, 1e-9)
	assert.InDelta(t, 0.5, p.Alignment, 1e-12)
}

func TestTickCollaboratorOutageSkipsApply(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	meta := rig.createTimeline(t, CreateSpec{Title: "outage", InitialStability: 70})
	rig.alignment.fail(errors.New("feed unreachable"))

	err := rig.engine.Tick(ctx, meta.ID)
	require.ErrorIs(t, err, domain.ErrCollaborator)

	// Nothing was appended and nothing decayed; the next interval retries.
	state, _, err := rig.engine.GetState(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, state.Stability)
	assert.Equal(t, int64(0), state.LastSeq)

	rig.alignment.fail(nil)
	rig.alignment.set(meta.ID, 0.5)
	require.NoError(t, rig.engine.Tick(ctx, meta.ID))
}

func TestTickRejectsOutOfRangeScore(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	meta := rig.createTimeline(t, CreateSpec{Title: "range"})
	rig.alignment.set(meta.ID, 1.5)

	err := rig.engine.Tick(ctx, meta.ID)
	require.ErrorIs(t, err, domain.ErrCollaborator)

	state, _, err := rig.engine.GetState(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.LastSeq)
}

func TestTickSkipsArchivedTimeline(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()
	meta := rig.createTimeline(t, CreateSpec{Title: "archived tick"})
	rig.alignment.set(meta.ID, 0.5)

	tl, err := rig.engine.lookup(meta.ID)
	require.NoError(t, err)
	tl.mu.Lock()
	tl.meta.Status = domain.TimelineStatusArchived
	tl.mu.Unlock()

	require.NoError(t, rig.engine.Tick(ctx, meta.ID))
	state, _, err := rig.engine.GetState(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.LastSeq)
}

func TestTickAllIsolatesFailures(t *testing.T) {
	rig := newTestRig(t, defaultTestConfig())
	ctx := context.Background()

	healthy := rig.createTimeline(t, CreateSpec{Title: "healthy", DecayPerHour: 60})
	broken := rig.createTimeline(t, CreateSpec{Title: "broken", DecayPerHour: 60})
	rig.alignment.set(healthy.ID, 0.5)
	// broken has no alignment reading: its tick fails every round.
	_ = broken

	hb := NewHeartbeat(rig.engine, discardLogger())
	hb.TickAll(ctx)
	hb.TickAll(ctx)

	state, _, err := rig.engine.GetState(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.LastSeq)
	assert.InDelta(t, 98.0, state.Stability, 1e-9)

	brokenState, _, err := rig.engine.GetState(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), brokenState.LastSeq)
}

func TestHeartbeatRunStopsOnCancel(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.TickInterval = 5 * time.Millisecond
	rig := newTestRig(t, cfg)
	meta := rig.createTimeline(t, CreateSpec{Title: "run", DecayPerHour: 60})
	rig.alignment.set(meta.ID, 0.5)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	hb := NewHeartbeat(rig.engine, discardLogger())
	err := hb.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	state, _, err := rig.engine.GetState(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.Greater(t, state.LastSeq, int64(0))
}
