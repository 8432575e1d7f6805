package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantleap/chronosim/internal/domain"
)

// replayBatch is how many flaps are folded per ledger read.
const replayBatch = 500

// ReplayState reconstructs a timeline's state by folding its full ledger
// from genesis through the same apply rules used for live mutation. It never
// touches the live state.
func (e *Engine) ReplayState(ctx context.Context, timelineID string) (domain.TimelineState, error) {
	tl, err := e.lookup(timelineID)
	if err != nil {
		return domain.TimelineState{}, err
	}
	return e.foldLedger(ctx, tl, genesisState(tl.meta, tl.maker))
}

// foldLedger folds all flaps with Seq greater than start.LastSeq into start,
// reading the ledger in batches.
func (e *Engine) foldLedger(ctx context.Context, tl *timeline, start domain.TimelineState) (domain.TimelineState, error) {
	state := start.Clone()
	for {
		flaps, err := e.stores.Flaps.ListByTimeline(ctx, tl.meta.ID, state.LastSeq, replayBatch)
		if err != nil {
			return domain.TimelineState{}, fmt.Errorf("engine: replay read for %s: %w", tl.meta.ID, err)
		}
		for _, f := range flaps {
			if err := applyFlap(tl.maker, &state, f); err != nil {
				return domain.TimelineState{}, fmt.Errorf("engine: replay apply seq %d for %s: %w",
					f.Seq, tl.meta.ID, err)
			}
		}
		if len(flaps) < replayBatch {
			return state, nil
		}
	}
}

// Verify recomputes a timeline's state from its ledger and compares it to
// the live cached state. A mismatch is a corruption signal: it is logged at
// the highest severity, the live state is force-reloaded from the replayed
// one (the ledger is authoritative), and ErrInvariant is returned. The
// engine keeps running; only this timeline's cache was wrong.
//
// The timeline lock is held for the whole verification so no flap can land
// between replay and comparison.
func (e *Engine) Verify(ctx context.Context, timelineID string) error {
	tl, err := e.lookup(timelineID)
	if err != nil {
		return err
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	replayed, err := e.foldLedger(ctx, tl, genesisState(tl.meta, tl.maker))
	if err != nil {
		return err
	}

	if statesEqual(tl.state, replayed) {
		return nil
	}

	e.logger.ErrorContext(ctx, "replay mismatch, reloading state from ledger",
		slog.String("timeline_id", timelineID),
		slog.Int64("live_seq", tl.state.LastSeq),
		slog.Int64("replayed_seq", replayed.LastSeq),
		slog.Float64("live_stability", tl.state.Stability),
		slog.Float64("replayed_stability", replayed.Stability),
	)
	tl.state = replayed
	return fmt.Errorf("engine: live state diverged from ledger for %s: %w", timelineID, domain.ErrInvariant)
}

// VerifyAll audits every live timeline, returning the joined errors.
func (e *Engine) VerifyAll(ctx context.Context) error {
	var errs []error
	for _, id := range e.TimelineIDs() {
		if err := e.Verify(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// statesEqual is exact equality: replay runs the identical float operations
// in the identical order, so any difference at all means corruption.
func statesEqual(a, b domain.TimelineState) bool {
	if a.TimelineID != b.TimelineID ||
		a.Stability != b.Stability ||
		a.Divergence != b.Divergence ||
		a.Alignment != b.Alignment ||
		a.DecayMultiplier != b.DecayMultiplier ||
		a.LastSeq != b.LastSeq {
		return false
	}
	if len(a.Quantities) != len(b.Quantities) || len(a.Prices) != len(b.Prices) {
		return false
	}
	for i := range a.Quantities {
		if a.Quantities[i] != b.Quantities[i] {
			return false
		}
	}
	for i := range a.Prices {
		if a.Prices[i] != b.Prices[i] {
			return false
		}
	}
	return true
}
