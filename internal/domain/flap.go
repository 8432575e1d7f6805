package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlapKind identifies one of the closed set of state-changing actions. Every
// kind has exactly one apply rule in the engine; replay depends on the set
// staying closed.
type FlapKind string

const (
	FlapTrade    FlapKind = "TRADE"
	FlapShield   FlapKind = "SHIELD"
	FlapSabotage FlapKind = "SABOTAGE"
	FlapRipple   FlapKind = "RIPPLE"
	FlapParadox  FlapKind = "PARADOX"
	FlapEntropy  FlapKind = "ENTROPY"
)

// Valid reports whether k is a known flap kind.
func (k FlapKind) Valid() bool {
	switch k {
	case FlapTrade, FlapShield, FlapSabotage, FlapRipple, FlapParadox, FlapEntropy:
		return true
	}
	return false
}

// TradeSide distinguishes buys from sells against the market maker.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Flap ("wing flap") is one immutable ledger entry. Replaying all flaps for a
// timeline in sequence order from genesis must reproduce its current state
// exactly.
type Flap struct {
	ID             string
	Seq            int64  // per-timeline sequence, assigned at append
	TimelineID     string
	ActorID        string // empty for system-generated entries
	Kind           FlapKind
	Payload        FlapPayload
	StabilityDelta float64   // net stability change applied by this entry
	Prices         []float64 // price snapshot after application
	CreatedAt      time.Time
}

// FlapPayload is the kind-specific payload carried by a flap. The concrete
// types below form a closed variant set matching FlapKind.
type FlapPayload interface {
	FlapKind() FlapKind
}

// TradePayload records a buy or sell against the market maker.
type TradePayload struct {
	Side     TradeSide `json:"side"`
	Outcome  int       `json:"outcome"`
	Quantity float64   `json:"quantity"`
	Charge   float64   `json:"charge"` // positive cost for buys, proceeds for sells
}

func (TradePayload) FlapKind() FlapKind { return FlapTrade }

// ShieldPayload records a protective action adding bounded stability.
type ShieldPayload struct {
	Strength float64 `json:"strength"` // requested strength, capped by config
}

func (ShieldPayload) FlapKind() FlapKind { return FlapShield }

// SabotagePayload records an adversarial action backed by a stake.
type SabotagePayload struct {
	Stake float64 `json:"stake"`
}

func (SabotagePayload) FlapKind() FlapKind { return FlapSabotage }

// RipplePayload records a cascade propagated from another timeline. Ripples
// never trigger further ripples.
type RipplePayload struct {
	OriginTimelineID string  `json:"origin_timeline_id"`
	OriginFlapID     string  `json:"origin_flap_id"`
	Fraction         float64 `json:"fraction"`
}

func (RipplePayload) FlapKind() FlapKind { return FlapRipple }

// ParadoxPhase marks which lifecycle transition a PARADOX flap records.
type ParadoxPhase string

const (
	ParadoxSpawned   ParadoxPhase = "spawned"
	ParadoxExtracted ParadoxPhase = "extracted"
	ParadoxDetonated ParadoxPhase = "detonated"
)

// ParadoxPayload records a paradox lifecycle transition so that replay can
// reconstruct the decay multiplier and stability effects deterministically.
type ParadoxPayload struct {
	IncidentID string       `json:"incident_id"`
	Phase      ParadoxPhase `json:"phase"`
	Severity   Severity     `json:"severity"`
	Divergence float64      `json:"divergence"`
	CostPaid   float64      `json:"cost_paid,omitempty"`
	Carrier    string       `json:"carrier,omitempty"`
}

func (ParadoxPayload) FlapKind() FlapKind { return FlapParadox }

// EntropyPayload summarizes one heartbeat tick: the decay applied and the
// divergence inputs observed, so replay does not depend on live collaborators.
type EntropyPayload struct {
	Interval   float64 `json:"interval_seconds"`
	Decay      float64 `json:"decay"`
	Alignment  float64 `json:"alignment"`
	Divergence float64 `json:"divergence"`
}

func (EntropyPayload) FlapKind() FlapKind { return FlapEntropy }

// MarshalPayload serializes a payload to JSON for persistence.
func MarshalPayload(p FlapPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("domain: marshal %s payload: %w", p.FlapKind(), err)
	}
	return data, nil
}

// UnmarshalPayload deserializes the payload for the given kind. Unknown kinds
// are rejected so a corrupted ledger row cannot silently fold into state.
func UnmarshalPayload(kind FlapKind, data []byte) (FlapPayload, error) {
	var (
		p   FlapPayload
		err error
	)
	switch kind {
	case FlapTrade:
		var v TradePayload
		err = json.Unmarshal(data, &v)
		p = v
	case FlapShield:
		var v ShieldPayload
		err = json.Unmarshal(data, &v)
		p = v
	case FlapSabotage:
		var v SabotagePayload
		err = json.Unmarshal(data, &v)
		p = v
	case FlapRipple:
		var v RipplePayload
		err = json.Unmarshal(data, &v)
		p = v
	case FlapParadox:
		var v ParadoxPayload
		err = json.Unmarshal(data, &v)
		p = v
	case FlapEntropy:
		var v EntropyPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("domain: unknown flap kind %q: %w", kind, ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("domain: unmarshal %s payload: %w", kind, err)
	}
	return p, nil
}
