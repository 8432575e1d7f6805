// Package sim provides the synthetic load used in simulate mode: a seeded
// random-walk alignment source standing in for the reality-signal
// collaborator, and a swarm of actors submitting actions against the engine.
package sim

import (
	"context"
	"math/rand"
	"sync"

	"github.com/quantleap/chronosim/internal/domain"
)

// Alignment is a deterministic stand-in for the external reality signal.
// Each timeline gets an independent random walk over [0,1], stepped once per
// Score call. The same seed always produces the same walk, which keeps
// simulate runs reproducible.
type Alignment struct {
	mu     sync.Mutex
	rng    *rand.Rand
	scores map[string]float64
	step   float64
}

// NewAlignment creates a seeded alignment walk. Walks start at 0.5 and move
// up to ±step per pull.
func NewAlignment(seed int64, step float64) *Alignment {
	if step <= 0 {
		step = 0.05
	}
	return &Alignment{
		rng:    rand.New(rand.NewSource(seed)),
		scores: make(map[string]float64),
		step:   step,
	}
}

// Score returns the next value of the timeline's walk. It never fails; outage
// behavior is exercised in tests, not in simulate mode.
func (a *Alignment) Score(ctx context.Context, timelineID string) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	score, ok := a.scores[timelineID]
	if !ok {
		score = 0.5
	}

	score += (a.rng.Float64()*2 - 1) * a.step
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	a.scores[timelineID] = score
	return score, nil
}

var _ domain.AlignmentSource = (*Alignment)(nil)
