package engine

import (
	"context"
	"log/slog"
	"math"

	"github.com/quantleap/chronosim/internal/domain"
)

// propagate routes a fraction of a flap's stability delta to topically
// related timelines as RIPPLE entries. Cascade depth is fixed at 1: ripples
// never trigger further ripples, so a cyclic topic graph cannot produce a
// propagation storm.
//
// The origin timeline's lock is NOT held here; each target is locked
// independently, so two timelines rippling into each other cannot deadlock.
func (e *Engine) propagate(ctx context.Context, origin domain.Flap) {
	if e.topics == nil || e.cfg.CascadeFraction <= 0 {
		return
	}
	if origin.Kind == domain.FlapRipple {
		return
	}
	if math.Abs(origin.StabilityDelta) < e.cfg.CascadeThreshold {
		return
	}

	related, err := e.topics.Related(ctx, origin.TimelineID)
	if err != nil {
		// Degrade gracefully: no ripples this time rather than guessing at
		// the topic graph.
		e.logger.WarnContext(ctx, "topic index lookup failed, skipping cascade",
			slog.String("timeline_id", origin.TimelineID),
			slog.String("error", err.Error()),
		)
		return
	}

	rippleDelta := origin.StabilityDelta * e.cfg.CascadeFraction
	for _, targetID := range related {
		if targetID == origin.TimelineID {
			continue
		}
		tl, err := e.lookup(targetID)
		if err != nil {
			continue // index may reference timelines this instance doesn't host
		}

		tl.mu.Lock()
		flap, err := e.commitFlap(ctx, tl, "", domain.RipplePayload{
			OriginTimelineID: origin.TimelineID,
			OriginFlapID:     origin.ID,
			Fraction:         e.cfg.CascadeFraction,
		}, rippleDelta)
		tl.mu.Unlock()
		if err != nil {
			e.logger.WarnContext(ctx, "ripple apply failed",
				slog.String("timeline_id", targetID),
				slog.String("origin_flap", origin.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		e.logger.DebugContext(ctx, "ripple propagated",
			slog.String("from", origin.TimelineID),
			slog.String("to", targetID),
			slog.Float64("delta", rippleDelta),
		)
		// afterApply is safe on a ripple: propagate returns immediately for
		// RIPPLE kinds, keeping the depth at 1.
		e.afterApply(ctx, tl, flap)
	}
}
