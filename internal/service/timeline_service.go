// Package service composes the engine, stores, and caches into the
// operations the transport layer exposes.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/engine"
)

// Engine is the slice of the timeline engine the service layer drives.
// *engine.Engine satisfies it.
type Engine interface {
	CreateTimeline(ctx context.Context, spec engine.CreateSpec) (domain.Timeline, error)
	SubmitAction(ctx context.Context, timelineID string, act engine.Action) (domain.Flap, error)
	Extract(ctx context.Context, timelineID, actorID string) (domain.ParadoxIncident, float64, error)
	GetState(ctx context.Context, timelineID string) (domain.TimelineState, *domain.ParadoxIncident, error)
	GetLedger(ctx context.Context, timelineID string, sinceSeq int64, limit int) ([]domain.Flap, error)
	SetStatus(ctx context.Context, timelineID string, status domain.TimelineStatus) error
}

// TopicWriter assigns topic tags to a timeline in the cascade index.
type TopicWriter interface {
	SetTopics(ctx context.Context, timelineID string, topics []string) error
}

// TimelineService handles timeline lifecycle, action submission, and state
// reads.
type TimelineService struct {
	engine    Engine
	timelines domain.TimelineStore
	paradoxes domain.ParadoxStore
	positions domain.PositionStore
	cache     domain.StateCache
	topics    TopicWriter
	logger    *slog.Logger
}

// NewTimelineService creates a TimelineService with all required dependencies.
// cache and topics may be nil; the service then works store-and-engine-only.
func NewTimelineService(
	eng Engine,
	timelines domain.TimelineStore,
	paradoxes domain.ParadoxStore,
	positions domain.PositionStore,
	cache domain.StateCache,
	topics TopicWriter,
	logger *slog.Logger,
) *TimelineService {
	return &TimelineService{
		engine:    eng,
		timelines: timelines,
		paradoxes: paradoxes,
		positions: positions,
		cache:     cache,
		topics:    topics,
		logger:    logger,
	}
}

// Create commits and persists a new timeline and tags it into the topic
// index for cascade propagation.
func (s *TimelineService) Create(ctx context.Context, spec engine.CreateSpec, topics []string) (domain.Timeline, error) {
	meta, err := s.engine.CreateTimeline(ctx, spec)
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("timeline_service: create: %w", err)
	}

	if s.topics != nil && len(topics) > 0 {
		if err := s.topics.SetTopics(ctx, meta.ID, topics); err != nil {
			// Non-fatal: the timeline exists; it just won't cascade yet.
			s.logger.WarnContext(ctx, "timeline_service: topic tagging failed",
				slog.String("timeline_id", meta.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return meta, nil
}

// Get returns a timeline's metadata with committed parameters.
func (s *TimelineService) Get(ctx context.Context, id string) (domain.Timeline, error) {
	meta, err := s.timelines.GetByID(ctx, id)
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("timeline_service: get %q: %w", id, err)
	}
	return meta, nil
}

// ListActive returns active timelines.
func (s *TimelineService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Timeline, error) {
	out, err := s.timelines.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("timeline_service: list active: %w", err)
	}
	return out, nil
}

// GetState returns a timeline's current state, checking the cache first and
// falling back to the engine's live copy on a miss. The active incident, if
// any, always comes from the engine.
func (s *TimelineService) GetState(ctx context.Context, id string) (domain.TimelineState, *domain.ParadoxIncident, error) {
	if s.cache != nil {
		if state, err := s.cache.Get(ctx, id); err == nil {
			inc := s.activeIncident(ctx, id)
			return state, inc, nil
		}
	}

	state, inc, err := s.engine.GetState(ctx, id)
	if err != nil {
		return domain.TimelineState{}, nil, fmt.Errorf("timeline_service: state %q: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, state); cacheErr != nil {
			s.logger.WarnContext(ctx, "timeline_service: cache set failed",
				slog.String("timeline_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return state, inc, nil
}

func (s *TimelineService) activeIncident(ctx context.Context, id string) *domain.ParadoxIncident {
	inc, err := s.paradoxes.GetActive(ctx, id)
	if err != nil {
		return nil
	}
	return &inc
}

// SubmitAction forwards an external action to the engine.
func (s *TimelineService) SubmitAction(ctx context.Context, timelineID string, act engine.Action) (domain.Flap, error) {
	flap, err := s.engine.SubmitAction(ctx, timelineID, act)
	if err != nil {
		return domain.Flap{}, fmt.Errorf("timeline_service: submit %s on %q: %w", act.Kind, timelineID, err)
	}
	return flap, nil
}

// Extract attempts paradox extraction on behalf of an actor.
func (s *TimelineService) Extract(ctx context.Context, timelineID, actorID string) (domain.ParadoxIncident, float64, error) {
	inc, cost, err := s.engine.Extract(ctx, timelineID, actorID)
	if err != nil {
		return inc, 0, fmt.Errorf("timeline_service: extract on %q: %w", timelineID, err)
	}
	return inc, cost, nil
}

// GetLedger returns a page of the timeline's flap ledger.
func (s *TimelineService) GetLedger(ctx context.Context, timelineID string, sinceSeq int64, limit int) ([]domain.Flap, error) {
	flaps, err := s.engine.GetLedger(ctx, timelineID, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("timeline_service: ledger %q: %w", timelineID, err)
	}
	return flaps, nil
}

// ListParadoxes returns a timeline's incident history.
func (s *TimelineService) ListParadoxes(ctx context.Context, timelineID string, opts domain.ListOpts) ([]domain.ParadoxIncident, error) {
	out, err := s.paradoxes.ListByTimeline(ctx, timelineID, opts)
	if err != nil {
		return nil, fmt.Errorf("timeline_service: paradoxes %q: %w", timelineID, err)
	}
	return out, nil
}

// ListPositions returns an actor's outcome positions.
func (s *TimelineService) ListPositions(ctx context.Context, actorID string, opts domain.ListOpts) ([]domain.OutcomePosition, error) {
	out, err := s.positions.ListByActor(ctx, actorID, opts)
	if err != nil {
		return nil, fmt.Errorf("timeline_service: positions for %q: %w", actorID, err)
	}
	return out, nil
}

// Archive moves a timeline to archived status. Both the store row and the
// engine's live copy flip, so further mutation attempts are rejected.
func (s *TimelineService) Archive(ctx context.Context, id string) error {
	if err := s.engine.SetStatus(ctx, id, domain.TimelineStatusArchived); err != nil {
		return fmt.Errorf("timeline_service: archive %q: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "timeline_service: cache invalidate failed",
				slog.String("timeline_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
