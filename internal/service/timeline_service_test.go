package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/engine"
)

type fakeEngine struct {
	state      domain.TimelineState
	stateErr   error
	stateCalls int
	submitted  []engine.Action
	archived   []string
}

func (f *fakeEngine) CreateTimeline(ctx context.Context, spec engine.CreateSpec) (domain.Timeline, error) {
	return domain.Timeline{ID: "tl-new", Title: spec.Title}, nil
}

func (f *fakeEngine) SubmitAction(ctx context.Context, timelineID string, act engine.Action) (domain.Flap, error) {
	f.submitted = append(f.submitted, act)
	return domain.Flap{ID: "f1", TimelineID: timelineID, Kind: act.Kind}, nil
}

func (f *fakeEngine) Extract(ctx context.Context, timelineID, actorID string) (domain.ParadoxIncident, float64, error) {
	return domain.ParadoxIncident{ID: "p1", Carrier: actorID, Status: domain.ParadoxStatusResolved}, 75, nil
}

func (f *fakeEngine) GetState(ctx context.Context, timelineID string) (domain.TimelineState, *domain.ParadoxIncident, error) {
	f.stateCalls++
	return f.state, nil, f.stateErr
}

func (f *fakeEngine) GetLedger(ctx context.Context, timelineID string, sinceSeq int64, limit int) ([]domain.Flap, error) {
	return []domain.Flap{{ID: "f1", Seq: 1}}, nil
}

func (f *fakeEngine) SetStatus(ctx context.Context, timelineID string, status domain.TimelineStatus) error {
	f.archived = append(f.archived, timelineID)
	return nil
}

type fakeStateCache struct {
	states map[string]domain.TimelineState
	sets   int
}

func (c *fakeStateCache) Set(ctx context.Context, state domain.TimelineState) error {
	c.sets++
	c.states[state.TimelineID] = state
	return nil
}

func (c *fakeStateCache) Get(ctx context.Context, timelineID string) (domain.TimelineState, error) {
	s, ok := c.states[timelineID]
	if !ok {
		return domain.TimelineState{}, domain.ErrNotFound
	}
	return s, nil
}

func (c *fakeStateCache) Invalidate(ctx context.Context, timelineID string) error {
	delete(c.states, timelineID)
	return nil
}

type fakeTopicWriter struct {
	tagged map[string][]string
	err    error
}

func (w *fakeTopicWriter) SetTopics(ctx context.Context, timelineID string, topics []string) error {
	if w.err != nil {
		return w.err
	}
	w.tagged[timelineID] = topics
	return nil
}

type stubParadoxStore struct {
	active domain.ParadoxIncident
	err    error
}

func (s stubParadoxStore) Create(ctx context.Context, p domain.ParadoxIncident) error { return nil }
func (s stubParadoxStore) Update(ctx context.Context, p domain.ParadoxIncident) error { return nil }
func (s stubParadoxStore) GetByID(ctx context.Context, id string) (domain.ParadoxIncident, error) {
	return s.active, s.err
}
func (s stubParadoxStore) GetActive(ctx context.Context, timelineID string) (domain.ParadoxIncident, error) {
	return s.active, s.err
}
func (s stubParadoxStore) ListByTimeline(ctx context.Context, timelineID string, opts domain.ListOpts) ([]domain.ParadoxIncident, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []domain.ParadoxIncident{s.active}, nil
}

func newService(eng *fakeEngine, cache *fakeStateCache, topics *fakeTopicWriter) *TimelineService {
	return NewTimelineService(
		eng, nil, stubParadoxStore{err: domain.ErrNotFound}, nil,
		cache, topics, slog.New(slog.DiscardHandler),
	)
}

func TestCreateTagsTopics(t *testing.T) {
	eng := &fakeEngine{}
	topics := &fakeTopicWriter{tagged: map[string][]string{}}
	svc := newService(eng, nil, topics)

	meta, err := svc.Create(context.Background(), engine.CreateSpec{Title: "t"}, []string{"energy"})
	require.NoError(t, err)
	assert.Equal(t, "tl-new", meta.ID)
	assert.Equal(t, []string{"energy"}, topics.tagged["tl-new"])
}

func TestCreateSurvivesTopicFailure(t *testing.T) {
	eng := &fakeEngine{}
	topics := &fakeTopicWriter{err: errors.New("index down")}
	svc := newService(eng, nil, topics)

	meta, err := svc.Create(context.Background(), engine.CreateSpec{Title: "t"}, []string{"energy"})
	require.NoError(t, err)
	assert.Equal(t, "tl-new", meta.ID)
}

func TestGetStateCacheHitSkipsEngine(t *testing.T) {
	eng := &fakeEngine{}
	cache := &fakeStateCache{states: map[string]domain.TimelineState{
		"tl-1": {TimelineID: "tl-1", Stability: 88, LastSeq: 7},
	}}
	svc := newService(eng, cache, nil)

	state, inc, err := svc.GetState(context.Background(), "tl-1")
	require.NoError(t, err)
	assert.Nil(t, inc)
	assert.Equal(t, 88.0, state.Stability)
	assert.Zero(t, eng.stateCalls)
}

func TestGetStateCacheMissBackfills(t *testing.T) {
	eng := &fakeEngine{state: domain.TimelineState{
		TimelineID: "tl-2", Stability: 61, LastSeq: 3, UpdatedAt: time.Now().UTC(),
	}}
	cache := &fakeStateCache{states: map[string]domain.TimelineState{}}
	svc := newService(eng, cache, nil)

	state, _, err := svc.GetState(context.Background(), "tl-2")
	require.NoError(t, err)
	assert.Equal(t, 61.0, state.Stability)
	assert.Equal(t, 1, eng.stateCalls)
	assert.Equal(t, 1, cache.sets)

	// Second read is served from the back-filled cache.
	_, _, err = svc.GetState(context.Background(), "tl-2")
	require.NoError(t, err)
	assert.Equal(t, 1, eng.stateCalls)
}

func TestArchiveInvalidatesCache(t *testing.T) {
	eng := &fakeEngine{}
	cache := &fakeStateCache{states: map[string]domain.TimelineState{
		"tl-3": {TimelineID: "tl-3"},
	}}
	svc := newService(eng, cache, nil)

	require.NoError(t, svc.Archive(context.Background(), "tl-3"))
	assert.Equal(t, []string{"tl-3"}, eng.archived)
	_, err := cache.Get(context.Background(), "tl-3")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

type fakeArchiver struct {
	cutoffs []time.Time
	n       int
	err     error
}

func (a *fakeArchiver) ArchiveFlaps(ctx context.Context, before time.Time) (int, string, error) {
	a.cutoffs = append(a.cutoffs, before)
	return a.n, "flaps/archive.jsonl", a.err
}

func TestArchiveServiceCutoff(t *testing.T) {
	arch := &fakeArchiver{n: 3}
	svc := NewArchiveService(arch, nil, 48*time.Hour, time.Hour, slog.New(slog.DiscardHandler))
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.RunOnce(context.Background()))
	require.Len(t, arch.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), arch.cutoffs[0])
}

func TestArchiveServicePropagatesErrors(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("bucket gone")}
	svc := NewArchiveService(arch, nil, time.Hour, time.Hour, slog.New(slog.DiscardHandler))
	require.ErrorContains(t, svc.RunOnce(context.Background()), "bucket gone")
}

type fakeLocks struct {
	held     bool
	acquired int
}

func (l *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() {}, nil
}

func TestArchiveServiceSkipsWhenLockHeld(t *testing.T) {
	arch := &fakeArchiver{n: 3}
	locks := &fakeLocks{held: true}
	svc := NewArchiveService(arch, locks, time.Hour, time.Hour, slog.New(slog.DiscardHandler))

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Empty(t, arch.cutoffs)

	locks.held = false
	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Len(t, arch.cutoffs, 1)
	assert.Equal(t, 1, locks.acquired)
}
