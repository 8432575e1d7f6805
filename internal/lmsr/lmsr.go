// Package lmsr implements the logarithmic market scoring rule used to price
// timeline outcomes. The maker's loss is bounded by b*ln(n) for n outcomes
// regardless of trading volume, which is why the liquidity parameter b is
// committed at timeline creation and never changed.
//
// Reference: Robin Hanson, "Logarithmic Market Scoring Rules for Modular
// Combinatorial Information Aggregation" (2003).
package lmsr

import (
	"fmt"
	"math"

	"github.com/quantleap/chronosim/internal/domain"
)

// SimplexTolerance is the permitted deviation of a price vector's sum from 1.
const SimplexTolerance = 1e-9

// Maker prices one timeline's outcome set. It is stateless over the share
// quantities: callers own the vector and the maker returns updated copies,
// which keeps trade application commit-or-abort.
type Maker struct {
	b        float64 // liquidity parameter
	tradeCap float64 // max quantity per trade; 0 disables the cap
}

// New creates a Maker. b must be positive.
func New(b, tradeCap float64) (*Maker, error) {
	if !(b > 0) || math.IsInf(b, 0) {
		return nil, fmt.Errorf("lmsr: liquidity must be finite and positive, got %v: %w", b, domain.ErrValidation)
	}
	return &Maker{b: b, tradeCap: tradeCap}, nil
}

// B returns the liquidity parameter.
func (m *Maker) B() float64 { return m.b }

// MaxLoss returns the maker's maximum payout exposure for n outcomes,
// b*ln(n), independent of volume.
func (m *Maker) MaxLoss(n int) float64 {
	return m.b * math.Log(float64(n))
}

// Cost computes C(x) = b * ln(sum exp(x_i/b)) using the log-sum-exp trick
// for numerical stability.
func (m *Maker) Cost(x []float64) float64 {
	maxQ := math.Inf(-1)
	for _, q := range x {
		if q > maxQ {
			maxQ = q
		}
	}
	var sum float64
	for _, q := range x {
		sum += math.Exp((q - maxQ) / m.b)
	}
	return maxQ + m.b*math.Log(sum)
}

// Prices computes the instantaneous price of every outcome as a softmax over
// x/b. The result always forms a probability simplex.
func (m *Maker) Prices(x []float64) []float64 {
	maxQ := math.Inf(-1)
	for _, q := range x {
		if q > maxQ {
			maxQ = q
		}
	}
	prices := make([]float64, len(x))
	var sum float64
	for i, q := range x {
		e := math.Exp((q - maxQ) / m.b)
		prices[i] = e
		sum += e
	}
	for i := range prices {
		prices[i] /= sum
	}
	return prices
}

// Price returns the instantaneous price of a single outcome.
func (m *Maker) Price(x []float64, outcome int) float64 {
	return m.Prices(x)[outcome]
}

// Quote is the result of a validated buy or sell. Nothing in the caller's
// state has been mutated; the caller commits by adopting Quantities/Prices.
type Quote struct {
	Charge     float64   // cost for buys, proceeds for sells
	Quantities []float64 // share vector after the trade
	Prices     []float64 // price simplex after the trade
}

// Buy quotes the purchase of qty shares of outcome given current share
// vector x. The charge is Cost(x') - Cost(x). It rejects non-positive or
// cap-exceeding quantities and aborts if the resulting prices fail the
// simplex check, leaving x untouched.
func (m *Maker) Buy(x []float64, outcome int, qty float64) (Quote, error) {
	if err := m.validate(x, outcome, qty); err != nil {
		return Quote{}, err
	}
	next := append([]float64(nil), x...)
	next[outcome] += qty
	return m.quote(x, next)
}

// Sell quotes the sale of qty shares of outcome. The proceeds are
// Cost(x) - Cost(x'). The maker only enforces a non-negative resulting
// outstanding quantity; the caller's recorded position is checked by the
// position collaborator.
func (m *Maker) Sell(x []float64, outcome int, qty float64) (Quote, error) {
	if err := m.validate(x, outcome, qty); err != nil {
		return Quote{}, err
	}
	if x[outcome]-qty < 0 {
		return Quote{}, fmt.Errorf("lmsr: sell %v exceeds outstanding %v on outcome %d: %w",
			qty, x[outcome], outcome, domain.ErrValidation)
	}
	next := append([]float64(nil), x...)
	next[outcome] -= qty
	q, err := m.quote(x, next)
	if err != nil {
		return Quote{}, err
	}
	q.Charge = -q.Charge // proceeds to the seller
	return q, nil
}

func (m *Maker) validate(x []float64, outcome int, qty float64) error {
	if len(x) < 2 {
		return fmt.Errorf("lmsr: need at least 2 outcomes, got %d: %w", len(x), domain.ErrValidation)
	}
	if outcome < 0 || outcome >= len(x) {
		return fmt.Errorf("lmsr: outcome %d out of range [0,%d): %w", outcome, len(x), domain.ErrValidation)
	}
	if !(qty > 0) || math.IsInf(qty, 0) {
		return fmt.Errorf("lmsr: quantity must be finite and positive, got %v: %w", qty, domain.ErrValidation)
	}
	if m.tradeCap > 0 && qty > m.tradeCap {
		return fmt.Errorf("lmsr: quantity %v exceeds per-trade cap %v: %w", qty, m.tradeCap, domain.ErrValidation)
	}
	return nil
}

// quote computes the cost difference and post-trade prices, verifying the
// simplex invariant before anything is committed.
func (m *Maker) quote(cur, next []float64) (Quote, error) {
	charge := m.Cost(next) - m.Cost(cur)
	prices := m.Prices(next)
	if err := CheckSimplex(prices); err != nil {
		return Quote{}, err
	}
	return Quote{Charge: charge, Quantities: next, Prices: prices}, nil
}

// CheckSimplex verifies that prices form a probability simplex: each entry in
// (0,1) and the sum within SimplexTolerance of 1.
func CheckSimplex(prices []float64) error {
	var sum float64
	for i, p := range prices {
		if math.IsNaN(p) || p <= 0 || p >= 1 {
			return fmt.Errorf("lmsr: price[%d]=%v outside (0,1): %w", i, p, domain.ErrInvariant)
		}
		sum += p
	}
	if math.Abs(sum-1) > SimplexTolerance {
		return fmt.Errorf("lmsr: prices sum to %v, want 1±%v: %w", sum, SimplexTolerance, domain.ErrInvariant)
	}
	return nil
}
