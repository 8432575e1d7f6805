package domain

import "time"

// TimelineStatus represents the lifecycle state of a timeline. Timelines are
// never deleted, only resolved or archived.
type TimelineStatus string

const (
	TimelineStatusActive   TimelineStatus = "active"
	TimelineStatusResolved TimelineStatus = "resolved"
	TimelineStatusArchived TimelineStatus = "archived"
)

// Stability and divergence are clamped to this range everywhere.
const (
	StabilityMin = 0.0
	StabilityMax = 100.0
)

// Timeline is a single scenario market. The fields under "committed
// parameters" are frozen at creation and covered by the commitment hash; any
// later read must verify against it.
type Timeline struct {
	ID    string
	Title string

	// Committed parameters.
	Outcomes       []string // outcome labels, len >= 2
	RealityOutcome int      // index of the reality-tracking outcome
	LiquidityB     float64  // LMSR liquidity parameter, bounds loss to b*ln(n)
	DecayPerHour   float64  // baseline stability decay per hour
	ResolutionRefs []string // references to resolution criteria documents

	Commitment string // hex-encoded commitment hash over the parameters above

	// InitialStability is the genesis stability score. Replay folds the
	// ledger starting from this value, so it never changes after creation.
	InitialStability float64

	Status    TimelineStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimelineState is the mutable per-timeline state. It changes only through
// wing-flap application; every field here must be reconstructible by
// replaying the ledger from genesis.
type TimelineState struct {
	TimelineID      string
	Stability       float64   // [0,100]
	Quantities      []float64 // outstanding shares per outcome
	Prices          []float64 // derived price simplex, sums to 1
	Divergence      float64   // [0,100]
	Alignment       float64   // last pulled external alignment score, [0,1]
	DecayMultiplier float64   // 1 unless a paradox is active
	LastSeq         int64     // sequence of the last applied flap
	UpdatedAt       time.Time
}

// Clone returns a deep copy so callers can hand out state without exposing
// the engine's live slices.
func (s TimelineState) Clone() TimelineState {
	out := s
	out.Quantities = append([]float64(nil), s.Quantities...)
	out.Prices = append([]float64(nil), s.Prices...)
	return out
}

// ClampStability forces v into the [0,100] stability range.
func ClampStability(v float64) float64 {
	if v < StabilityMin {
		return StabilityMin
	}
	if v > StabilityMax {
		return StabilityMax
	}
	return v
}

// Divergence computes the divergence metric from a market-implied probability
// and an external alignment score, both in [0,1]. Result is clamped to [0,100].
func Divergence(marketProb, alignment float64) float64 {
	d := marketProb - alignment
	if d < 0 {
		d = -d
	}
	d *= 100
	if d > 100 {
		d = 100
	}
	return d
}

// StateSnapshot is a periodic full-state snapshot keyed by the last applied
// flap sequence. Snapshots accelerate recovery; the ledger stays authoritative.
type StateSnapshot struct {
	TimelineID string
	Seq        int64
	State      TimelineState
	TakenAt    time.Time
}
