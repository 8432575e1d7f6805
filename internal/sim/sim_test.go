package sim

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/engine"
)

func TestAlignmentWalkStaysInRange(t *testing.T) {
	a := NewAlignment(42, 0.05)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		score, err := a.Score(ctx, "tl-1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestAlignmentWalkIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a := NewAlignment(7, 0.05)
	b := NewAlignment(7, 0.05)

	for i := 0; i < 100; i++ {
		sa, _ := a.Score(ctx, "tl-1")
		sb, _ := b.Score(ctx, "tl-1")
		assert.Equal(t, sa, sb)
	}
}

type swarmEngine struct {
	mu       sync.Mutex
	created  []engine.CreateSpec
	actions  []engine.Action
	extracts int
}

func (e *swarmEngine) CreateTimeline(ctx context.Context, spec engine.CreateSpec) (domain.Timeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, spec)
	return domain.Timeline{ID: spec.Title, Outcomes: spec.Outcomes}, nil
}

func (e *swarmEngine) SubmitAction(ctx context.Context, timelineID string, act engine.Action) (domain.Flap, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions = append(e.actions, act)
	return domain.Flap{TimelineID: timelineID, Kind: act.Kind}, nil
}

func (e *swarmEngine) Extract(ctx context.Context, timelineID, actorID string) (domain.ParadoxIncident, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extracts++
	return domain.ParadoxIncident{}, 0, domain.ErrNoParadox
}

func (e *swarmEngine) actionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actions)
}

type swarmStore struct {
	mu        sync.Mutex
	timelines []domain.Timeline
}

func (s *swarmStore) Create(ctx context.Context, t domain.Timeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelines = append(s.timelines, t)
	return nil
}

func (s *swarmStore) GetByID(ctx context.Context, id string) (domain.Timeline, error) {
	return domain.Timeline{}, domain.ErrNotFound
}

func (s *swarmStore) UpdateStatus(ctx context.Context, id string, status domain.TimelineStatus) error {
	return nil
}

func (s *swarmStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Timeline(nil), s.timelines...), nil
}

func (s *swarmStore) ListIDs(ctx context.Context) ([]string, error) { return nil, nil }

func (s *swarmStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.timelines)), nil
}

func TestSwarmSeedsEmptyStore(t *testing.T) {
	eng := &swarmEngine{}
	store := &swarmStore{}
	sw := NewSwarm(eng, store, Config{Actors: 1, Interval: time.Hour, Seed: 1}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = sw.Run(ctx)

	assert.Len(t, eng.created, len(seedScenarios))
}

func TestSwarmSkipsSeedWhenTimelinesExist(t *testing.T) {
	eng := &swarmEngine{}
	store := &swarmStore{timelines: []domain.Timeline{{ID: "tl-1", Outcomes: []string{"Yes", "No"}}}}
	sw := NewSwarm(eng, store, Config{Actors: 1, Interval: time.Hour, Seed: 1}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = sw.Run(ctx)

	assert.Empty(t, eng.created)
}

func TestSwarmSubmitsActions(t *testing.T) {
	eng := &swarmEngine{}
	store := &swarmStore{timelines: []domain.Timeline{{ID: "tl-1", Outcomes: []string{"Yes", "No"}}}}
	sw := NewSwarm(eng, store, Config{Actors: 3, Interval: time.Millisecond, Seed: 99}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := sw.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Greater(t, eng.actionCount()+eng.extracts, 10)

	// Every submitted action uses an external kind and a valid outcome index.
	for _, act := range eng.actions {
		switch act.Kind {
		case domain.FlapTrade:
			assert.Contains(t, []int{0, 1}, act.Outcome)
		case domain.FlapShield, domain.FlapSabotage:
		default:
			t.Fatalf("unexpected kind %s", act.Kind)
		}
	}
}
