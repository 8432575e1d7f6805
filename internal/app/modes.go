package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/engine"
	"github.com/quantleap/chronosim/internal/feed"
	"github.com/quantleap/chronosim/internal/notify"
	"github.com/quantleap/chronosim/internal/server"
	"github.com/quantleap/chronosim/internal/server/handler"
	"github.com/quantleap/chronosim/internal/server/ws"
	"github.com/quantleap/chronosim/internal/service"
	"github.com/quantleap/chronosim/internal/sim"
)

// buildEngine constructs the timeline engine over the wired dependencies with
// the given alignment collaborator. Paradox transitions fan out to the
// webhook notifier and the "paradoxes" pub/sub channel.
func (a *App) buildEngine(deps *Dependencies, alignment domain.AlignmentSource) *engine.Engine {
	cfg := engine.Config{
		TradeCap:         a.cfg.Engine.TradeCap,
		ShieldMax:        a.cfg.Engine.ShieldMax,
		SabotageRate:     a.cfg.Engine.SabotageRate,
		SabotageCap:      a.cfg.Engine.SabotageCap,
		CascadeThreshold: a.cfg.Engine.CascadeThreshold,
		CascadeFraction:  a.cfg.Engine.CascadeFraction,
		SnapshotEvery:    a.cfg.Engine.SnapshotEvery,
		TickInterval:     a.cfg.Engine.TickInterval(),
		TickWorkers:      a.cfg.Engine.TickWorkers,
	}

	hook := func(ctx context.Context, inc domain.ParadoxIncident, phase domain.ParadoxPhase) {
		event, title, message := notify.FormatParadox(inc, phase)
		if err := deps.Notifier.Notify(ctx, event, title, message); err != nil {
			a.logger.WarnContext(ctx, "paradox notification failed",
				slog.String("error", err.Error()),
			)
		}

		payload, err := json.Marshal(map[string]any{
			"event":       event,
			"incident_id": inc.ID,
			"timeline_id": inc.TimelineID,
			"severity":    inc.Severity,
			"deadline":    inc.Deadline,
		})
		if err != nil {
			return
		}
		if err := deps.SignalBus.Publish(ctx, "paradoxes", payload); err != nil {
			a.logger.WarnContext(ctx, "paradox publish failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return engine.New(cfg, deps.Stores, alignment, deps.TopicIndex, a.logger,
		engine.WithStateCache(deps.StateCache),
		engine.WithSignalBus(deps.SignalBus),
		engine.WithParadoxHook(hook),
	)
}

// ServeMode runs the full deployment: reality-signal feed, heartbeat, HTTP +
// WebSocket API, and the ledger archiver when configured.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	realityFeed := feed.New(feed.Config{
		BaseURL: a.cfg.Reality.BaseURL,
		WSURL:   a.cfg.Reality.WSURL,
		MaxAge:  time.Duration(a.cfg.Reality.StaleAfterSeconds) * time.Second,
		Timeout: time.Duration(a.cfg.Reality.TimeoutSeconds) * time.Second,
	}, a.logger)
	defer realityFeed.Close()

	eng := a.buildEngine(deps, realityFeed)
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("app: load timelines: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Reality.WSURL != "" {
		g.Go(func() error {
			return realityFeed.Run(ctx)
		})
	}

	heartbeat := engine.NewHeartbeat(eng, a.logger)
	g.Go(func() error {
		return heartbeat.Run(ctx)
	})

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Engine.ArchiveRetentionHours) * time.Hour
		archiveSvc := service.NewArchiveService(deps.Archiver, deps.LockManager, retention, time.Hour, a.logger)
		g.Go(func() error {
			return archiveSvc.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	a.logger.InfoContext(ctx, "serve mode running")
	return g.Wait()
}

// startHTTPServer adds the HTTP + WebSocket API goroutines to the errgroup.
// The server shuts down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	svc := service.NewTimelineService(
		eng,
		deps.Stores.Timelines,
		deps.Stores.Paradoxes,
		deps.Stores.Positions,
		deps.StateCache,
		deps.TopicIndex,
		a.logger,
	)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Timelines: handler.NewTimelineHandler(svc, a.logger),
		Actions:   handler.NewActionHandler(svc, a.logger),
		Ledger:    handler.NewLedgerHandler(svc, a.logger),
		Paradoxes: handler.NewParadoxHandler(svc, a.logger),
		Positions: handler.NewPositionHandler(svc, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	})
}

// SimulateMode runs the engine against synthetic load: a seeded random-walk
// alignment source and a swarm of actors. No API is exposed.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	alignment := sim.NewAlignment(a.cfg.Sim.Seed, 0.05)

	eng := a.buildEngine(deps, alignment)
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("app: load timelines: %w", err)
	}

	swarm := sim.NewSwarm(eng, deps.Stores.Timelines, sim.Config{
		Actors:   a.cfg.Sim.Actors,
		Interval: time.Duration(a.cfg.Sim.IntervalSeconds) * time.Second,
		Seed:     a.cfg.Sim.Seed,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	heartbeat := engine.NewHeartbeat(eng, a.logger)
	g.Go(func() error {
		return heartbeat.Run(ctx)
	})
	g.Go(func() error {
		return swarm.Run(ctx)
	})

	a.logger.InfoContext(ctx, "simulate mode running",
		slog.Int("actors", a.cfg.Sim.Actors),
	)
	return g.Wait()
}

// ReplayMode is the audit mode: it reloads every timeline, replays each
// ledger from genesis, and verifies the result against live state. It exits
// non-zero on any mismatch.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	eng := a.buildEngine(deps, nil)
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("app: load timelines: %w", err)
	}

	ids := eng.TimelineIDs()
	a.logger.InfoContext(ctx, "replay audit starting", slog.Int("timelines", len(ids)))

	if err := eng.VerifyAll(ctx); err != nil {
		return fmt.Errorf("app: replay audit: %w", err)
	}

	a.logger.InfoContext(ctx, "replay audit passed", slog.Int("timelines", len(ids)))
	return nil
}
