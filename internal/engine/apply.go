package engine

import (
	"fmt"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/lmsr"
)

// applyFlap folds one ledger entry into st. This is the single apply path
// shared by live mutation and replay: every flap kind has exactly one rule
// here, which is what makes the determinism law hold.
//
// The caller owns st (typically a clone of the live state) and commits it
// only after applyFlap returns nil; any error aborts with no partial effect.
func applyFlap(maker *lmsr.Maker, st *domain.TimelineState, f domain.Flap) error {
	if f.Seq != st.LastSeq+1 {
		return fmt.Errorf("engine: flap seq %d does not follow %d on timeline %s: %w",
			f.Seq, st.LastSeq, f.TimelineID, domain.ErrInvariant)
	}
	if f.Payload == nil || f.Payload.FlapKind() != f.Kind {
		return fmt.Errorf("engine: flap %s kind %q does not match payload: %w",
			f.ID, f.Kind, domain.ErrValidation)
	}

	switch p := f.Payload.(type) {
	case domain.TradePayload:
		if p.Outcome < 0 || p.Outcome >= len(st.Quantities) {
			return fmt.Errorf("engine: trade outcome %d out of range: %w", p.Outcome, domain.ErrValidation)
		}
		switch p.Side {
		case domain.TradeBuy:
			st.Quantities[p.Outcome] += p.Quantity
		case domain.TradeSell:
			if st.Quantities[p.Outcome]-p.Quantity < 0 {
				return fmt.Errorf("engine: sell exceeds outstanding on outcome %d: %w",
					p.Outcome, domain.ErrValidation)
			}
			st.Quantities[p.Outcome] -= p.Quantity
		default:
			return fmt.Errorf("engine: unknown trade side %q: %w", p.Side, domain.ErrValidation)
		}
		st.Prices = maker.Prices(st.Quantities)
		if err := lmsr.CheckSimplex(st.Prices); err != nil {
			return err
		}

	case domain.ShieldPayload, domain.SabotagePayload, domain.RipplePayload:
		// Pure stability adjustments; the delta was computed by the
		// entry's own rule at submission time.

	case domain.ParadoxPayload:
		switch p.Phase {
		case domain.ParadoxSpawned:
			st.DecayMultiplier = p.Severity.DecayMultiplier()
		case domain.ParadoxExtracted, domain.ParadoxDetonated:
			st.DecayMultiplier = 1
		default:
			return fmt.Errorf("engine: unknown paradox phase %q: %w", p.Phase, domain.ErrValidation)
		}

	case domain.EntropyPayload:
		st.Alignment = p.Alignment
		st.Divergence = p.Divergence

	default:
		return fmt.Errorf("engine: no apply rule for payload %T: %w", f.Payload, domain.ErrValidation)
	}

	st.Stability = domain.ClampStability(st.Stability + f.StabilityDelta)
	st.LastSeq = f.Seq
	st.UpdatedAt = f.CreatedAt
	return nil
}
