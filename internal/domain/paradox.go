package domain

import "time"

// ParadoxStatus tracks the incident lifecycle:
// ACTIVE -> {EXTRACTING -> RESOLVED} | DETONATED.
// Exactly one of RESOLVED or DETONATED is reached per incident.
type ParadoxStatus string

const (
	ParadoxStatusActive     ParadoxStatus = "active"
	ParadoxStatusExtracting ParadoxStatus = "extracting"
	ParadoxStatusResolved   ParadoxStatus = "resolved"
	ParadoxStatusDetonated  ParadoxStatus = "detonated"
)

// Severity classifies an incident by the divergence tier crossed at spawn.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Divergence tier boundaries. Crossing a boundary with no incident active
// spawns one at the matching severity.
const (
	TierMinor    = 40.0
	TierMajor    = 50.0
	TierCritical = 60.0
)

// SeverityForDivergence maps a divergence reading to the severity tier it
// falls in. ok is false below the minor tier.
func SeverityForDivergence(d float64) (sev Severity, ok bool) {
	switch {
	case d >= TierCritical:
		return SeverityCritical, true
	case d >= TierMajor:
		return SeverityMajor, true
	case d >= TierMinor:
		return SeverityMinor, true
	default:
		return "", false
	}
}

// Window is the time allowed between spawn and detonation.
func (s Severity) Window() time.Duration {
	switch s {
	case SeverityCritical:
		return 5 * time.Minute
	case SeverityMajor:
		return 15 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// DecayMultiplier amplifies the baseline stability decay while the incident
// is active.
func (s Severity) DecayMultiplier() float64 {
	switch s {
	case SeverityCritical:
		return 3.0
	case SeverityMajor:
		return 2.0
	default:
		return 1.5
	}
}

// DetonationPenalty is the one-time stability hit on deadline expiry.
func (s Severity) DetonationPenalty() float64 {
	switch s {
	case SeverityCritical:
		return 35
	case SeverityMajor:
		return 20
	default:
		return 10
	}
}

// RestorationCap bounds the stability restored on a successful extraction.
func (s Severity) RestorationCap() float64 {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityMajor:
		return 20
	default:
		return 15
	}
}

// BaseExtractionCost is the extraction cost at the instant of spawn.
func (s Severity) BaseExtractionCost() float64 {
	switch s {
	case SeverityCritical:
		return 500
	case SeverityMajor:
		return 200
	default:
		return 75
	}
}

// ParadoxIncident is a time-bounded integrity event tied to exactly one
// timeline. At most one incident is active per timeline at any instant.
type ParadoxIncident struct {
	ID                string
	TimelineID        string
	Status            ParadoxStatus
	Severity          Severity
	DivergenceAtSpawn float64
	SpawnedAt         time.Time
	Deadline          time.Time
	Carrier           string // actor responsible for extraction
	CostPaid          float64
	ClosedAt          *time.Time // set on resolution or detonation
}

// ExtractionCost returns the cost to extract at time now. The cost rises
// linearly as the deadline approaches: base at spawn, 2x base at the
// deadline. Waiting is never cheaper.
func (p *ParadoxIncident) ExtractionCost(now time.Time) float64 {
	base := p.Severity.BaseExtractionCost()
	window := p.Deadline.Sub(p.SpawnedAt)
	if window <= 0 {
		return 2 * base
	}
	elapsed := now.Sub(p.SpawnedAt)
	if elapsed <= 0 {
		return base
	}
	frac := float64(elapsed) / float64(window)
	if frac > 1 {
		frac = 1
	}
	return base * (1 + frac)
}

// Expired reports whether the detonation deadline has passed.
func (p *ParadoxIncident) Expired(now time.Time) bool {
	return !now.Before(p.Deadline)
}
