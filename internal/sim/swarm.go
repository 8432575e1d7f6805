package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/engine"
)

// Engine is the subset of engine operations the swarm drives.
type Engine interface {
	CreateTimeline(ctx context.Context, spec engine.CreateSpec) (domain.Timeline, error)
	SubmitAction(ctx context.Context, timelineID string, act engine.Action) (domain.Flap, error)
	Extract(ctx context.Context, timelineID, actorID string) (domain.ParadoxIncident, float64, error)
}

// Config tunes the synthetic load.
type Config struct {
	Actors   int
	Interval time.Duration
	Seed     int64
}

// Swarm runs a set of synthetic actors against the engine. Each actor
// submits weighted random actions on its own clock; when a paradox is active
// somewhere, actors occasionally attempt an extraction.
type Swarm struct {
	engine    Engine
	timelines domain.TimelineStore
	cfg       Config
	logger    *slog.Logger
}

// NewSwarm creates a Swarm over the given engine and timeline store.
func NewSwarm(eng Engine, timelines domain.TimelineStore, cfg Config, logger *slog.Logger) *Swarm {
	if cfg.Actors <= 0 {
		cfg.Actors = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Swarm{
		engine:    eng,
		timelines: timelines,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sim")),
	}
}

// seedScenarios are created on an empty store so the swarm has something to
// trade against.
var seedScenarios = []engine.CreateSpec{
	{
		Title:        "Fusion reactor reaches net gain by 2030",
		Outcomes:     []string{"Yes", "No"},
		LiquidityB:   1000,
		DecayPerHour: 2,
	},
	{
		Title:        "First crewed Mars landing before 2035",
		Outcomes:     []string{"Before 2033", "2033-2035", "Later"},
		LiquidityB:   1500,
		DecayPerHour: 1.5,
	},
	{
		Title:        "Global average temperature anomaly exceeds 1.6C",
		Outcomes:     []string{"Yes", "No"},
		LiquidityB:   800,
		DecayPerHour: 3,
	},
}

// Run seeds timelines when the store is empty, then drives actor loops until
// the context is cancelled.
func (s *Swarm) Run(ctx context.Context) error {
	if err := s.seed(ctx); err != nil {
		return fmt.Errorf("sim: seed timelines: %w", err)
	}

	s.logger.InfoContext(ctx, "starting synthetic actors",
		slog.Int("actors", s.cfg.Actors),
		slog.Duration("interval", s.cfg.Interval),
		slog.Int64("seed", s.cfg.Seed),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Actors; i++ {
		actorID := fmt.Sprintf("sim-actor-%d", i)
		rng := rand.New(rand.NewSource(s.cfg.Seed + int64(i)))
		g.Go(func() error {
			return s.actorLoop(ctx, actorID, rng)
		})
	}
	return g.Wait()
}

func (s *Swarm) seed(ctx context.Context) error {
	count, err := s.timelines.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, spec := range seedScenarios {
		tl, err := s.engine.CreateTimeline(ctx, spec)
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "seeded timeline",
			slog.String("timeline_id", tl.ID),
			slog.String("title", tl.Title),
		)
	}
	return nil
}

func (s *Swarm) actorLoop(ctx context.Context, actorID string, rng *rand.Rand) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.act(ctx, actorID, rng)
		}
	}
}

// act performs one weighted random action. Rejections for benign reasons
// (no active paradox, another carrier) are part of normal load and only
// logged at debug level.
func (s *Swarm) act(ctx context.Context, actorID string, rng *rand.Rand) {
	timelines, err := s.timelines.ListActive(ctx, domain.ListOpts{Limit: 50})
	if err != nil || len(timelines) == 0 {
		return
	}
	tl := timelines[rng.Intn(len(timelines))]

	roll := rng.Float64()
	switch {
	case roll < 0.05:
		_, _, err = s.engine.Extract(ctx, tl.ID, actorID)
	case roll < 0.15:
		_, err = s.engine.SubmitAction(ctx, tl.ID, engine.Action{
			Kind:    domain.FlapSabotage,
			ActorID: actorID,
			Stake:   50 + rng.Float64()*450,
		})
	case roll < 0.30:
		_, err = s.engine.SubmitAction(ctx, tl.ID, engine.Action{
			Kind:     domain.FlapShield,
			ActorID:  actorID,
			Strength: 1 + rng.Float64()*6,
		})
	default:
		act := engine.Action{
			Kind:     domain.FlapTrade,
			ActorID:  actorID,
			Side:     domain.TradeBuy,
			Outcome:  rng.Intn(len(tl.Outcomes)),
			Quantity: 1 + rng.Float64()*99,
		}
		if rng.Float64() < 0.4 {
			act.Side = domain.TradeSell
		}
		_, err = s.engine.SubmitAction(ctx, tl.ID, act)
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoParadox),
		errors.Is(err, domain.ErrNotCarrier),
		errors.Is(err, domain.ErrDeadlineRace),
		errors.Is(err, domain.ErrValidation):
		s.logger.DebugContext(ctx, "action rejected",
			slog.String("actor_id", actorID),
			slog.String("timeline_id", tl.ID),
			slog.String("reason", err.Error()),
		)
	default:
		s.logger.WarnContext(ctx, "action failed",
			slog.String("actor_id", actorID),
			slog.String("timeline_id", tl.ID),
			slog.String("error", err.Error()),
		)
	}
}
