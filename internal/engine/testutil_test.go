package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
)

// In-memory store implementations used across the engine tests.

type memStores struct {
	mu        sync.Mutex
	timelines map[string]domain.Timeline
	flaps     map[string][]domain.Flap
	paradoxes map[string]domain.ParadoxIncident
	positions map[string]domain.OutcomePosition
	snapshots map[string]domain.StateSnapshot
}

func newMemStores() *memStores {
	return &memStores{
		timelines: make(map[string]domain.Timeline),
		flaps:     make(map[string][]domain.Flap),
		paradoxes: make(map[string]domain.ParadoxIncident),
		positions: make(map[string]domain.OutcomePosition),
		snapshots: make(map[string]domain.StateSnapshot),
	}
}

func (m *memStores) Create(ctx context.Context, t domain.Timeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timelines[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.timelines[t.ID] = t
	return nil
}

func (m *memStores) GetByID(ctx context.Context, id string) (domain.Timeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timelines[id]
	if !ok {
		return domain.Timeline{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *memStores) UpdateStatus(ctx context.Context, id string, status domain.TimelineStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timelines[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	m.timelines[id] = t
	return nil
}

func (m *memStores) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Timeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Timeline
	for _, t := range m.timelines {
		if t.Status == domain.TimelineStatusActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStores) ListIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.timelines))
	for id := range m.timelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStores) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.timelines)), nil
}

type memFlapStore struct{ m *memStores }

func (s memFlapStore) Append(ctx context.Context, f domain.Flap) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.flaps[f.TimelineID] = append(s.m.flaps[f.TimelineID], f)
	return nil
}

func (s memFlapStore) ListByTimeline(ctx context.Context, timelineID string, sinceSeq int64, limit int) ([]domain.Flap, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.Flap
	for _, f := range s.m.flaps[timelineID] {
		if f.Seq > sinceSeq {
			out = append(out, f)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s memFlapStore) LastSeq(ctx context.Context, timelineID string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	flaps := s.m.flaps[timelineID]
	if len(flaps) == 0 {
		return 0, nil
	}
	return flaps[len(flaps)-1].Seq, nil
}

func (s memFlapStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Flap, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.Flap
	for _, flaps := range s.m.flaps {
		for _, f := range flaps {
			if f.CreatedAt.Before(before) {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (s memFlapStore) Count(ctx context.Context, timelineID string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return int64(len(s.m.flaps[timelineID])), nil
}

type memParadoxStore struct{ m *memStores }

func (s memParadoxStore) Create(ctx context.Context, p domain.ParadoxIncident) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.paradoxes[p.ID] = p
	return nil
}

func (s memParadoxStore) Update(ctx context.Context, p domain.ParadoxIncident) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.paradoxes[p.ID] = p
	return nil
}

func (s memParadoxStore) GetByID(ctx context.Context, id string) (domain.ParadoxIncident, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.paradoxes[id]
	if !ok {
		return domain.ParadoxIncident{}, domain.ErrNotFound
	}
	return p, nil
}

func (s memParadoxStore) GetActive(ctx context.Context, timelineID string) (domain.ParadoxIncident, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, p := range s.m.paradoxes {
		if p.TimelineID == timelineID && p.Status == domain.ParadoxStatusActive {
			return p, nil
		}
	}
	return domain.ParadoxIncident{}, domain.ErrNotFound
}

func (s memParadoxStore) ListByTimeline(ctx context.Context, timelineID string, opts domain.ListOpts) ([]domain.ParadoxIncident, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.ParadoxIncident
	for _, p := range s.m.paradoxes {
		if p.TimelineID == timelineID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memPositionStore struct{ m *memStores }

func posKey(timelineID, actorID string, outcome int) string {
	return timelineID + "|" + actorID + "|" + string(rune('0'+outcome))
}

func (s memPositionStore) Upsert(ctx context.Context, pos domain.OutcomePosition) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.positions[posKey(pos.TimelineID, pos.ActorID, pos.Outcome)] = pos
	return nil
}

func (s memPositionStore) Get(ctx context.Context, timelineID, actorID string, outcome int) (domain.OutcomePosition, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.positions[posKey(timelineID, actorID, outcome)]
	if !ok {
		return domain.OutcomePosition{}, domain.ErrNotFound
	}
	return p, nil
}

func (s memPositionStore) ListByActor(ctx context.Context, actorID string, opts domain.ListOpts) ([]domain.OutcomePosition, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.OutcomePosition
	for _, p := range s.m.positions {
		if p.ActorID == actorID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s memPositionStore) ListByTimeline(ctx context.Context, timelineID string, opts domain.ListOpts) ([]domain.OutcomePosition, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.OutcomePosition
	for _, p := range s.m.positions {
		if p.TimelineID == timelineID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memSnapshotStore struct{ m *memStores }

func (s memSnapshotStore) Save(ctx context.Context, snap domain.StateSnapshot) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if cur, ok := s.m.snapshots[snap.TimelineID]; !ok || snap.Seq > cur.Seq {
		s.m.snapshots[snap.TimelineID] = snap
	}
	return nil
}

func (s memSnapshotStore) Latest(ctx context.Context, timelineID string) (domain.StateSnapshot, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	snap, ok := s.m.snapshots[timelineID]
	if !ok {
		return domain.StateSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

// fakeAlignment serves scripted alignment scores per timeline and can be
// switched to fail, simulating a collaborator outage.
type fakeAlignment struct {
	mu     sync.Mutex
	scores map[string]float64
	err    error
}

func newFakeAlignment() *fakeAlignment {
	return &fakeAlignment{scores: make(map[string]float64)}
}

func (f *fakeAlignment) set(timelineID string, score float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[timelineID] = score
}

func (f *fakeAlignment) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAlignment) Score(ctx context.Context, timelineID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	s, ok := f.scores[timelineID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return s, nil
}

// fakeTopics is a static related-timelines index.
type fakeTopics struct {
	mu      sync.Mutex
	related map[string][]string
	err     error
}

func newFakeTopics() *fakeTopics {
	return &fakeTopics{related: make(map[string][]string)}
}

func (f *fakeTopics) link(from string, to ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.related[from] = to
}

func (f *fakeTopics) Related(ctx context.Context, timelineID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.related[timelineID], nil
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testRig bundles a fully wired engine over in-memory stores.
type testRig struct {
	engine    *Engine
	stores    *memStores
	alignment *fakeAlignment
	topics    *fakeTopics
	clock     *testClock
}

func defaultTestConfig() Config {
	return Config{
		TradeCap:         10000,
		ShieldMax:        5,
		SabotageRate:     0.01,
		SabotageCap:      8,
		CascadeThreshold: 5,
		CascadeFraction:  0.25,
		SnapshotEvery:    0,
		TickInterval:     60 * time.Second,
		TickWorkers:      4,
	}
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	mem := newMemStores()
	alignment := newFakeAlignment()
	topics := newFakeTopics()
	clock := newTestClock()

	eng := New(cfg, Stores{
		Timelines: mem,
		Flaps:     memFlapStore{mem},
		Paradoxes: memParadoxStore{mem},
		Positions: memPositionStore{mem},
		Snapshots: memSnapshotStore{mem},
	}, alignment, topics, discardLogger(), WithClock(clock.Now))

	return &testRig{
		engine:    eng,
		stores:    mem,
		alignment: alignment,
		topics:    topics,
		clock:     clock,
	}
}

func (r *testRig) createTimeline(t *testing.T, spec CreateSpec) domain.Timeline {
	t.Helper()
	if len(spec.Outcomes) == 0 {
		spec.Outcomes = []string{"Yes", "No"}
	}
	if spec.LiquidityB == 0 {
		spec.LiquidityB = 1000
	}
	if spec.DecayPerHour == 0 {
		spec.DecayPerHour = 1
	}
	meta, err := r.engine.CreateTimeline(context.Background(), spec)
	require.NoError(t, err)
	return meta
}
