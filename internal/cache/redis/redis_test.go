package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
)

func testClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestStateCacheRoundTrip(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()
	sc := NewStateCache(c, 0)

	state := domain.TimelineState{
		TimelineID:      "tl-1",
		Stability:       71.5,
		Quantities:      []float64{120, 30},
		Prices:          []float64{0.52, 0.48},
		Divergence:      12.5,
		Alignment:       0.4,
		DecayMultiplier: 1.5,
		LastSeq:         42,
		UpdatedAt:       time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sc.Set(ctx, state))

	got, err := sc.Get(ctx, "tl-1")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	require.NoError(t, sc.Invalidate(ctx, "tl-1"))
	_, err = sc.Get(ctx, "tl-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStateCacheExpiry(t *testing.T) {
	c, mr := testClient(t)
	ctx := context.Background()
	sc := NewStateCache(c, 0)

	require.NoError(t, sc.Set(ctx, domain.TimelineState{TimelineID: "tl-exp"}))
	mr.FastForward(defaultStateTTL + time.Second)

	_, err := sc.Get(ctx, "tl-exp")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopicIndexRelated(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()
	ti := NewTopicIndex(c)

	require.NoError(t, ti.SetTopics(ctx, "tl-a", []string{"energy", "politics"}))
	require.NoError(t, ti.SetTopics(ctx, "tl-b", []string{"energy"}))
	require.NoError(t, ti.SetTopics(ctx, "tl-c", []string{"politics", "science"}))
	require.NoError(t, ti.SetTopics(ctx, "tl-d", []string{"sports"}))

	related, err := ti.Related(ctx, "tl-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"tl-b", "tl-c"}, related)

	// No shared topics, no relations.
	related, err = ti.Related(ctx, "tl-d")
	require.NoError(t, err)
	assert.Empty(t, related)

	// Retagging drops stale reverse-index entries.
	require.NoError(t, ti.SetTopics(ctx, "tl-b", []string{"sports"}))
	related, err = ti.Related(ctx, "tl-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"tl-c"}, related)

	tags, err := ti.Topics(ctx, "tl-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"energy", "politics"}, tags)
}

func TestTopicIndexUnknownTimeline(t *testing.T) {
	c, _ := testClient(t)
	related, err := NewTopicIndex(c).Related(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestLockManagerMutualExclusion(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "tl-1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "tl-1", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock() // idempotent

	unlock2, err := lm.Acquire(ctx, "tl-1", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockManagerTTLExpiry(t *testing.T) {
	c, mr := testClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	_, err := lm.Acquire(ctx, "tl-ttl", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	unlock, err := lm.Acquire(ctx, "tl-ttl", time.Second)
	require.NoError(t, err)
	unlock()
}

func TestSignalBusStream(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)

	require.NoError(t, sb.StreamAppend(ctx, "flaps", []byte(`{"seq":1}`)))
	require.NoError(t, sb.StreamAppend(ctx, "flaps", []byte(`{"seq":2}`)))

	msgs, err := sb.StreamRead(ctx, "flaps", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"seq":1}`, string(msgs[0].Payload))
	assert.JSONEq(t, `{"seq":2}`, string(msgs[1].Payload))

	// Resume after the first ID.
	tail, err := sb.StreamRead(ctx, "flaps", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, msgs[1].ID, tail[0].ID)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "actor", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}

	ok, err := rl.Allow(ctx, "actor", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different key has its own window.
	ok, err = rl.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
