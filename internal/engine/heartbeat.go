package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantleap/chronosim/internal/domain"
)

// Tick runs one heartbeat for a single timeline: pull the alignment score,
// recompute divergence, apply decay, evaluate paradox spawn and detonation,
// and append one ENTROPY flap summarizing the tick.
//
// When the alignment collaborator is unavailable the tick is skipped and
// ErrCollaborator returned; the previous divergence reading stays in place
// and the next interval retries. No value is ever fabricated.
func (e *Engine) Tick(ctx context.Context, timelineID string) error {
	tl, err := e.lookup(timelineID)
	if err != nil {
		return err
	}

	tl.mu.Lock()
	if tl.meta.Status != domain.TimelineStatusActive {
		tl.mu.Unlock()
		return nil
	}

	score, err := e.alignment.Score(ctx, timelineID)
	if err != nil {
		tl.mu.Unlock()
		e.logger.WarnContext(ctx, "alignment pull failed, skipping tick",
			slog.String("timeline_id", timelineID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("engine: alignment score for %s: %w", timelineID, domain.ErrCollaborator)
	}
	if score < 0 || score > 1 {
		tl.mu.Unlock()
		return fmt.Errorf("engine: alignment score %v outside [0,1] for %s: %w",
			score, timelineID, domain.ErrCollaborator)
	}

	now := e.now().UTC()
	marketProb := tl.state.Prices[tl.meta.RealityOutcome]
	divergence := domain.Divergence(marketProb, score)
	interval := e.cfg.TickInterval.Seconds()
	decay := tl.meta.DecayPerHour * (interval / 3600.0) * tl.state.DecayMultiplier

	var (
		applied []domain.Flap
		hooks   []struct {
			inc   domain.ParadoxIncident
			phase domain.ParadoxPhase
		}
	)

	// Paradox spawn: fires when divergence reaches a tier and no incident is
	// already active for this timeline.
	if tl.incident == nil {
		if sev, ok := domain.SeverityForDivergence(divergence); ok {
			flap, inc, err := e.spawnLocked(ctx, tl, divergence, sev)
			if err != nil {
				e.logger.ErrorContext(ctx, "paradox spawn failed",
					slog.String("timeline_id", timelineID),
					slog.String("error", err.Error()),
				)
			} else {
				applied = append(applied, flap)
				hooks = append(hooks, struct {
					inc   domain.ParadoxIncident
					phase domain.ParadoxPhase
				}{inc, domain.ParadoxSpawned})
			}
		}
	} else if tl.incident.Expired(now) {
		flap, inc, err := e.detonateLocked(ctx, tl, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "paradox detonation failed",
				slog.String("timeline_id", timelineID),
				slog.String("error", err.Error()),
			)
		} else {
			applied = append(applied, flap)
			hooks = append(hooks, struct {
				inc   domain.ParadoxIncident
				phase domain.ParadoxPhase
			}{inc, domain.ParadoxDetonated})
		}
	}

	flap, err := e.commitFlap(ctx, tl, "", domain.EntropyPayload{
		Interval:   interval,
		Decay:      decay,
		Alignment:  score,
		Divergence: divergence,
	}, -decay)
	tl.mu.Unlock()
	if err != nil {
		return fmt.Errorf("engine: entropy flap for %s: %w", timelineID, err)
	}
	applied = append(applied, flap)

	for _, f := range applied {
		e.afterApply(ctx, tl, f)
	}
	for _, h := range hooks {
		e.fireHook(ctx, h.inc, h.phase)
	}
	return nil
}

// Heartbeat drives decay and divergence recomputation across all timelines
// at a fixed interval. It has an explicit lifecycle: construct it, call Run,
// cancel the context to stop. Ticks for different timelines run concurrently
// and never block on one another.
type Heartbeat struct {
	engine   *Engine
	interval time.Duration
	workers  int
	logger   *slog.Logger
}

// NewHeartbeat creates the scheduler from the engine's configuration.
func NewHeartbeat(e *Engine, logger *slog.Logger) *Heartbeat {
	workers := e.cfg.TickWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Heartbeat{
		engine:   e,
		interval: e.cfg.TickInterval,
		workers:  workers,
		logger:   logger.With(slog.String("component", "heartbeat")),
	}
}

// Run ticks every timeline at the configured interval until ctx is
// cancelled. Per-timeline failures (collaborator outages included) are
// logged and retried next interval; they never stop the scheduler.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.logger.InfoContext(ctx, "heartbeat starting",
		slog.Duration("interval", h.interval),
		slog.Int("workers", h.workers),
	)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return ctx.Err()
		case <-ticker.C:
			h.TickAll(ctx)
		}
	}
}

// TickAll runs one heartbeat round over every live timeline, bounded by the
// configured worker count.
func (h *Heartbeat) TickAll(ctx context.Context) {
	ids := h.engine.TimelineIDs()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := h.engine.Tick(gctx, id); err != nil && gctx.Err() == nil {
				h.logger.WarnContext(gctx, "tick failed",
					slog.String("timeline_id", id),
					slog.String("error", err.Error()),
				)
			}
			return nil // a failed tick never cancels the others
		})
	}
	_ = g.Wait()
}
