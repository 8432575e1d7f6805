package domain

import "time"

// OutcomePosition is a per-actor holding of outcome shares on a timeline.
// Positions are created and updated by trade application; settlement of
// resolved timelines is handled by an external collaborator.
type OutcomePosition struct {
	TimelineID string
	ActorID    string
	Outcome    int
	Quantity   float64
	AvgPrice   float64 // average entry price per share
	UpdatedAt  time.Time
}

// ApplyBuy folds a buy of qty shares at total cost charge into the position,
// recomputing the average entry price.
func (p *OutcomePosition) ApplyBuy(qty, charge float64) {
	if qty <= 0 {
		return
	}
	totalCost := p.AvgPrice*p.Quantity + charge
	p.Quantity += qty
	p.AvgPrice = totalCost / p.Quantity
}

// ApplySell reduces the position by qty shares. The average entry price is
// unchanged; realized PnL accounting is the settlement layer's concern.
func (p *OutcomePosition) ApplySell(qty float64) {
	p.Quantity -= qty
	if p.Quantity <= 0 {
		p.Quantity = 0
		p.AvgPrice = 0
	}
}
