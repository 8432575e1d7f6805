package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantleap/chronosim/internal/domain"
)

// Extract attempts to resolve the active paradox on a timeline before its
// deadline. The caller pays the current extraction cost, which rises as the
// deadline approaches; stability receives a restoration bounded by the
// severity's cap and the decay multiplier reverts to 1.
//
// Extraction and detonation race on the deadline clock. An extraction that
// arrives after the deadline detonates the incident instead and is rejected
// with ErrDeadlineRace; it is never silently accepted.
func (e *Engine) Extract(ctx context.Context, timelineID, actorID string) (domain.ParadoxIncident, float64, error) {
	tl, err := e.lookup(timelineID)
	if err != nil {
		return domain.ParadoxIncident{}, 0, err
	}

	tl.mu.Lock()
	inc := tl.incident
	if inc == nil {
		tl.mu.Unlock()
		return domain.ParadoxIncident{}, 0, fmt.Errorf("engine: timeline %s: %w", timelineID, domain.ErrNoParadox)
	}

	now := e.now().UTC()
	if inc.Expired(now) {
		// The deadline won the race. Detonate now rather than waiting for
		// the next heartbeat, then reject the late extraction.
		flap, detonated, derr := e.detonateLocked(ctx, tl, now)
		tl.mu.Unlock()
		if derr != nil {
			e.logger.ErrorContext(ctx, "detonation on late extraction failed",
				slog.String("timeline_id", timelineID),
				slog.String("error", derr.Error()),
			)
			return domain.ParadoxIncident{}, 0, derr
		}
		e.afterApply(ctx, tl, flap)
		e.fireHook(ctx, detonated, domain.ParadoxDetonated)
		return detonated, 0, fmt.Errorf("engine: extraction after deadline: %w", domain.ErrDeadlineRace)
	}

	if inc.Carrier != "" && inc.Carrier != actorID {
		tl.mu.Unlock()
		return domain.ParadoxIncident{}, 0, fmt.Errorf("engine: actor %s: %w", actorID, domain.ErrNotCarrier)
	}

	cost := inc.ExtractionCost(now)
	restoration := inc.Severity.RestorationCap()

	inc.Status = domain.ParadoxStatusExtracting
	flap, err := e.commitFlap(ctx, tl, actorID, domain.ParadoxPayload{
		IncidentID: inc.ID,
		Phase:      domain.ParadoxExtracted,
		Severity:   inc.Severity,
		Divergence: tl.state.Divergence,
		CostPaid:   cost,
		Carrier:    actorID,
	}, restoration)
	if err != nil {
		inc.Status = domain.ParadoxStatusActive
		tl.mu.Unlock()
		return domain.ParadoxIncident{}, 0, err
	}

	inc.Status = domain.ParadoxStatusResolved
	inc.Carrier = actorID
	inc.CostPaid = cost
	closed := now
	inc.ClosedAt = &closed
	resolved := *inc
	tl.incident = nil
	tl.mu.Unlock()

	if err := e.stores.Paradoxes.Update(ctx, resolved); err != nil {
		e.logger.WarnContext(ctx, "paradox update failed",
			slog.String("incident_id", resolved.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "paradox extracted",
		slog.String("timeline_id", timelineID),
		slog.String("incident_id", resolved.ID),
		slog.String("severity", string(resolved.Severity)),
		slog.Float64("cost", cost),
	)

	e.afterApply(ctx, tl, flap)
	e.fireHook(ctx, resolved, domain.ParadoxExtracted)
	return resolved, cost, nil
}

// spawnLocked creates a new incident for the tier matching divergence.
// Runs under tl.mu; the caller has already checked that no incident is
// active and that divergence reached the minor tier.
func (e *Engine) spawnLocked(ctx context.Context, tl *timeline, divergence float64, sev domain.Severity) (domain.Flap, domain.ParadoxIncident, error) {
	now := e.now().UTC()
	inc := domain.ParadoxIncident{
		ID:                uuid.New().String(),
		TimelineID:        tl.meta.ID,
		Status:            domain.ParadoxStatusActive,
		Severity:          sev,
		DivergenceAtSpawn: divergence,
		SpawnedAt:         now,
		Deadline:          now.Add(sev.Window()),
	}

	if err := e.stores.Paradoxes.Create(ctx, inc); err != nil {
		return domain.Flap{}, domain.ParadoxIncident{}, fmt.Errorf("engine: persist paradox: %w", err)
	}

	flap, err := e.commitFlap(ctx, tl, "", domain.ParadoxPayload{
		IncidentID: inc.ID,
		Phase:      domain.ParadoxSpawned,
		Severity:   sev,
		Divergence: divergence,
	}, 0)
	if err != nil {
		return domain.Flap{}, domain.ParadoxIncident{}, err
	}

	tl.incident = &inc
	return flap, inc, nil
}

// detonateLocked fires the deadline penalty for the active incident. Runs
// under tl.mu. The status check makes detonation exactly-once even when the
// scheduler and a late extraction race.
func (e *Engine) detonateLocked(ctx context.Context, tl *timeline, now time.Time) (domain.Flap, domain.ParadoxIncident, error) {
	inc := tl.incident
	if inc == nil || inc.Status != domain.ParadoxStatusActive {
		return domain.Flap{}, domain.ParadoxIncident{}, fmt.Errorf("engine: timeline %s: %w", tl.meta.ID, domain.ErrNoParadox)
	}

	penalty := inc.Severity.DetonationPenalty()
	flap, err := e.commitFlap(ctx, tl, "", domain.ParadoxPayload{
		IncidentID: inc.ID,
		Phase:      domain.ParadoxDetonated,
		Severity:   inc.Severity,
		Divergence: tl.state.Divergence,
	}, -penalty)
	if err != nil {
		return domain.Flap{}, domain.ParadoxIncident{}, err
	}

	inc.Status = domain.ParadoxStatusDetonated
	closed := now
	inc.ClosedAt = &closed
	detonated := *inc
	tl.incident = nil

	if err := e.stores.Paradoxes.Update(ctx, detonated); err != nil {
		e.logger.WarnContext(ctx, "paradox update failed",
			slog.String("incident_id", detonated.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.WarnContext(ctx, "paradox detonated",
		slog.String("timeline_id", tl.meta.ID),
		slog.String("incident_id", detonated.ID),
		slog.String("severity", string(detonated.Severity)),
		slog.Float64("penalty", penalty),
	)
	return flap, detonated, nil
}

func (e *Engine) fireHook(ctx context.Context, inc domain.ParadoxIncident, phase domain.ParadoxPhase) {
	if e.onParadox != nil {
		e.onParadox(ctx, inc, phase)
	}
}
