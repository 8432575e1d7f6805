// Package engine implements the timeline engine core: the per-timeline
// stability and divergence state machine, the wing-flap ledger application
// rules, the paradox lifecycle controller, the heartbeat scheduler, and the
// cascade propagator.
//
// All state changes for a single timeline are serialized under that
// timeline's lock, covering ledger append and state application as one
// atomic unit. Different timelines mutate fully in parallel. Every mutation
// is commit-or-abort: a flap that fails validation or an invariant check
// leaves no partial effect.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantleap/chronosim/internal/commit"
	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/lmsr"
)

// Config holds the engine tuning parameters. See config.EngineConfig for the
// operator-facing documentation of each field.
type Config struct {
	TradeCap         float64
	ShieldMax        float64
	SabotageRate     float64
	SabotageCap      float64
	CascadeThreshold float64
	CascadeFraction  float64
	SnapshotEvery    int64
	TickInterval     time.Duration
	TickWorkers      int
}

// Stores bundles the persistence dependencies.
type Stores struct {
	Timelines domain.TimelineStore
	Flaps     domain.FlapStore
	Paradoxes domain.ParadoxStore
	Positions domain.PositionStore
	Snapshots domain.SnapshotStore
}

// ParadoxHook is invoked after a paradox lifecycle transition has been
// committed. The engine's lock is not held during the call.
type ParadoxHook func(ctx context.Context, incident domain.ParadoxIncident, phase domain.ParadoxPhase)

// timeline is the live in-memory representation of one scenario market. Its
// mutex serializes every mutation of the timeline.
type timeline struct {
	mu       sync.Mutex
	meta     domain.Timeline
	maker    *lmsr.Maker
	state    domain.TimelineState
	incident *domain.ParadoxIncident
}

// Engine owns the live timeline set and enforces the mutation discipline.
type Engine struct {
	cfg       Config
	stores    Stores
	alignment domain.AlignmentSource
	topics    domain.TopicIndex
	cache     domain.StateCache // optional
	bus       domain.SignalBus  // optional
	onParadox ParadoxHook       // optional
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.RWMutex
	timelines map[string]*timeline
}

// Option customizes engine construction.
type Option func(*Engine)

// WithStateCache attaches a read-through state cache updated on every apply.
func WithStateCache(c domain.StateCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithSignalBus attaches a bus to which every applied flap is published.
func WithSignalBus(b domain.SignalBus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithParadoxHook registers a callback for paradox lifecycle transitions.
func WithParadoxHook(h ParadoxHook) Option {
	return func(e *Engine) { e.onParadox = h }
}

// WithClock overrides the wall clock, used by tests to drive deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. alignment and topics are the external collaborators
// from which divergence inputs and cascade targets are pulled.
func New(
	cfg Config,
	stores Stores,
	alignment domain.AlignmentSource,
	topics domain.TopicIndex,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		stores:    stores,
		alignment: alignment,
		topics:    topics,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "engine")),
		timelines: make(map[string]*timeline),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateSpec holds the parameters for a new timeline. The committed subset
// is hashed at creation; the hash freezes it forever.
type CreateSpec struct {
	Title            string
	Outcomes         []string
	RealityOutcome   int
	LiquidityB       float64
	DecayPerHour     float64
	ResolutionRefs   []string
	InitialStability float64
}

// CreateTimeline commits the spec's parameters, persists the timeline, and
// brings it live at genesis state.
func (e *Engine) CreateTimeline(ctx context.Context, spec CreateSpec) (domain.Timeline, error) {
	receipt, err := commit.Commit(commit.Params{
		Outcomes:       spec.Outcomes,
		RealityOutcome: spec.RealityOutcome,
		LiquidityB:     spec.LiquidityB,
		DecayPerHour:   spec.DecayPerHour,
		ResolutionRefs: spec.ResolutionRefs,
	})
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("engine: commit parameters: %w: %v", domain.ErrValidation, err)
	}

	initial := spec.InitialStability
	if initial == 0 {
		initial = domain.StabilityMax
	}
	if initial < domain.StabilityMin || initial > domain.StabilityMax {
		return domain.Timeline{}, fmt.Errorf("engine: initial stability %v out of range: %w", initial, domain.ErrValidation)
	}

	now := e.now().UTC()
	meta := domain.Timeline{
		ID:               uuid.New().String(),
		Title:            spec.Title,
		Outcomes:         append([]string(nil), spec.Outcomes...),
		RealityOutcome:   spec.RealityOutcome,
		LiquidityB:       spec.LiquidityB,
		DecayPerHour:     spec.DecayPerHour,
		ResolutionRefs:   append([]string(nil), spec.ResolutionRefs...),
		Commitment:       receipt.Hash,
		InitialStability: initial,
		Status:           domain.TimelineStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := e.stores.Timelines.Create(ctx, meta); err != nil {
		return domain.Timeline{}, fmt.Errorf("engine: persist timeline: %w", err)
	}

	tl, err := newLiveTimeline(meta, e.cfg.TradeCap)
	if err != nil {
		return domain.Timeline{}, err
	}

	e.mu.Lock()
	e.timelines[meta.ID] = tl
	e.mu.Unlock()

	e.updateCache(ctx, tl.state.Clone())

	e.logger.InfoContext(ctx, "timeline created",
		slog.String("timeline_id", meta.ID),
		slog.String("commitment", meta.Commitment),
		slog.Int("outcomes", len(meta.Outcomes)),
	)
	return meta, nil
}

// newLiveTimeline builds the in-memory representation at genesis state.
func newLiveTimeline(meta domain.Timeline, tradeCap float64) (*timeline, error) {
	maker, err := lmsr.New(meta.LiquidityB, tradeCap)
	if err != nil {
		return nil, err
	}
	return &timeline{
		meta:  meta,
		maker: maker,
		state: genesisState(meta, maker),
	}, nil
}

// genesisState is the deterministic starting point every replay folds from.
func genesisState(meta domain.Timeline, maker *lmsr.Maker) domain.TimelineState {
	quantities := make([]float64, len(meta.Outcomes))
	return domain.TimelineState{
		TimelineID:      meta.ID,
		Stability:       meta.InitialStability,
		Quantities:      quantities,
		Prices:          maker.Prices(quantities),
		DecayMultiplier: 1,
		UpdatedAt:       meta.CreatedAt,
	}
}

// Load restores every persisted timeline into memory: verify the parameter
// commitment, then rebuild state from the nearest snapshot plus ledger tail
// (or a full replay when no snapshot exists).
func (e *Engine) Load(ctx context.Context) error {
	ids, err := e.stores.Timelines.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("engine: list timelines: %w", err)
	}

	for _, id := range ids {
		if err := e.loadTimeline(ctx, id); err != nil {
			return err
		}
	}
	e.logger.InfoContext(ctx, "timelines loaded", slog.Int("count", len(ids)))
	return nil
}

func (e *Engine) loadTimeline(ctx context.Context, id string) error {
	meta, err := e.stores.Timelines.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: load timeline %s: %w", id, err)
	}

	ok := commit.Verify(commit.Params{
		Outcomes:       meta.Outcomes,
		RealityOutcome: meta.RealityOutcome,
		LiquidityB:     meta.LiquidityB,
		DecayPerHour:   meta.DecayPerHour,
		ResolutionRefs: meta.ResolutionRefs,
	}, meta.Commitment)
	if !ok {
		return fmt.Errorf("engine: timeline %s parameters do not match commitment %s: %w",
			id, meta.Commitment, domain.ErrInvariant)
	}

	tl, err := newLiveTimeline(meta, e.cfg.TradeCap)
	if err != nil {
		return err
	}

	// Fast path: nearest snapshot plus the flaps appended after it. The
	// snapshot's state carries its own LastSeq, so folding resumes there.
	if e.stores.Snapshots != nil {
		if snap, err := e.stores.Snapshots.Latest(ctx, id); err == nil {
			tl.state = snap.State.Clone()
		} else if !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "snapshot load failed, replaying from genesis",
				slog.String("timeline_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	state, err := e.foldLedger(ctx, tl, tl.state)
	if err != nil {
		return err
	}
	tl.state = state

	// Restore any paradox that was active at shutdown.
	if inc, err := e.stores.Paradoxes.GetActive(ctx, id); err == nil {
		tl.incident = &inc
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("engine: load active paradox for %s: %w", id, err)
	}

	e.mu.Lock()
	e.timelines[id] = tl
	e.mu.Unlock()
	return nil
}

// Action is an externally submitted state-changing request. Only TRADE,
// SHIELD, and SABOTAGE may enter from outside; RIPPLE, PARADOX, and ENTROPY
// are system-generated.
type Action struct {
	Kind    domain.FlapKind
	ActorID string

	// Trade fields.
	Side     domain.TradeSide
	Outcome  int
	Quantity float64

	// Shield fields.
	Strength float64

	// Sabotage fields.
	Stake float64
}

// SubmitAction validates and applies an external action, appending exactly
// one flap on success. It is the sole mutation entry point for collaborators.
func (e *Engine) SubmitAction(ctx context.Context, timelineID string, act Action) (domain.Flap, error) {
	tl, err := e.lookup(timelineID)
	if err != nil {
		return domain.Flap{}, err
	}

	tl.mu.Lock()
	flap, trade, err := e.applyAction(ctx, tl, act)
	tl.mu.Unlock()
	if err != nil {
		return domain.Flap{}, err
	}

	if trade != nil {
		e.recordPosition(ctx, flap, *trade)
	}
	e.afterApply(ctx, tl, flap)
	return flap, nil
}

// applyAction runs under tl.mu. It computes the kind-specific stability
// delta, folds the flap into a working copy of the state, appends it to the
// ledger, and only then swaps the live state.
func (e *Engine) applyAction(ctx context.Context, tl *timeline, act Action) (domain.Flap, *domain.TradePayload, error) {
	var (
		payload domain.FlapPayload
		delta   float64
		trade   *domain.TradePayload
	)

	switch act.Kind {
	case domain.FlapTrade:
		quote, err := e.quoteTrade(tl, act)
		if err != nil {
			return domain.Flap{}, nil, err
		}
		p := domain.TradePayload{
			Side:     act.Side,
			Outcome:  act.Outcome,
			Quantity: act.Quantity,
			Charge:   quote.Charge,
		}
		payload = p
		trade = &p
		delta = 0 // trades move prices, not stability

	case domain.FlapShield:
		if !(act.Strength > 0) {
			return domain.Flap{}, nil, fmt.Errorf("engine: shield strength must be positive, got %v: %w",
				act.Strength, domain.ErrValidation)
		}
		delta = act.Strength
		if delta > e.cfg.ShieldMax {
			delta = e.cfg.ShieldMax
		}
		payload = domain.ShieldPayload{Strength: act.Strength}

	case domain.FlapSabotage:
		if !(act.Stake > 0) {
			return domain.Flap{}, nil, fmt.Errorf("engine: sabotage stake must be positive, got %v: %w",
				act.Stake, domain.ErrValidation)
		}
		damage := act.Stake * e.cfg.SabotageRate
		if damage > e.cfg.SabotageCap {
			damage = e.cfg.SabotageCap
		}
		delta = -damage
		payload = domain.SabotagePayload{Stake: act.Stake}

	default:
		return domain.Flap{}, nil, fmt.Errorf("engine: kind %q cannot be submitted externally: %w",
			act.Kind, domain.ErrValidation)
	}

	flap, err := e.commitFlap(ctx, tl, act.ActorID, payload, delta)
	if err != nil {
		return domain.Flap{}, nil, err
	}
	return flap, trade, nil
}

// quoteTrade validates a trade against the maker without mutating anything.
func (e *Engine) quoteTrade(tl *timeline, act Action) (lmsr.Quote, error) {
	switch act.Side {
	case domain.TradeBuy:
		return tl.maker.Buy(tl.state.Quantities, act.Outcome, act.Quantity)
	case domain.TradeSell:
		return tl.maker.Sell(tl.state.Quantities, act.Outcome, act.Quantity)
	default:
		return lmsr.Quote{}, fmt.Errorf("engine: unknown trade side %q: %w", act.Side, domain.ErrValidation)
	}
}

// commitFlap builds the flap, applies it to a cloned state, appends it to
// the ledger, and swaps the live state. Runs under tl.mu. Any failure leaves
// the live state untouched.
func (e *Engine) commitFlap(ctx context.Context, tl *timeline, actorID string, payload domain.FlapPayload, delta float64) (domain.Flap, error) {
	if tl.meta.Status != domain.TimelineStatusActive {
		return domain.Flap{}, fmt.Errorf("engine: timeline %s: %w", tl.meta.ID, domain.ErrTimelineArchived)
	}

	flap := domain.Flap{
		ID:             uuid.New().String(),
		Seq:            tl.state.LastSeq + 1,
		TimelineID:     tl.meta.ID,
		ActorID:        actorID,
		Kind:           payload.FlapKind(),
		Payload:        payload,
		StabilityDelta: delta,
		CreatedAt:      e.now().UTC(),
	}

	next := tl.state.Clone()
	if err := applyFlap(tl.maker, &next, flap); err != nil {
		return domain.Flap{}, err
	}
	flap.Prices = append([]float64(nil), next.Prices...)

	if err := e.stores.Flaps.Append(ctx, flap); err != nil {
		return domain.Flap{}, fmt.Errorf("engine: append flap: %w", err)
	}

	tl.state = next
	return flap, nil
}

// recordPosition folds a committed trade into the actor's position. Failures
// are logged, not propagated: the ledger is the source of truth and the
// position row can be rebuilt from it.
func (e *Engine) recordPosition(ctx context.Context, flap domain.Flap, p domain.TradePayload) {
	if e.stores.Positions == nil || flap.ActorID == "" {
		return
	}
	pos, err := e.stores.Positions.Get(ctx, flap.TimelineID, flap.ActorID, p.Outcome)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.WarnContext(ctx, "position read failed",
			slog.String("timeline_id", flap.TimelineID),
			slog.String("actor_id", flap.ActorID),
			slog.String("error", err.Error()),
		)
		return
	}
	pos.TimelineID = flap.TimelineID
	pos.ActorID = flap.ActorID
	pos.Outcome = p.Outcome
	if p.Side == domain.TradeBuy {
		pos.ApplyBuy(p.Quantity, p.Charge)
	} else {
		pos.ApplySell(p.Quantity)
	}
	pos.UpdatedAt = flap.CreatedAt
	if err := e.stores.Positions.Upsert(ctx, pos); err != nil {
		e.logger.WarnContext(ctx, "position upsert failed",
			slog.String("timeline_id", flap.TimelineID),
			slog.String("actor_id", flap.ActorID),
			slog.String("error", err.Error()),
		)
	}
}

// afterApply runs the post-commit side effects that must not hold the
// timeline lock: cache refresh, bus publish, snapshotting, and cascade
// propagation.
func (e *Engine) afterApply(ctx context.Context, tl *timeline, flap domain.Flap) {
	tl.mu.Lock()
	state := tl.state.Clone()
	tl.mu.Unlock()

	e.updateCache(ctx, state)
	e.publishFlap(ctx, flap)
	e.maybeSnapshot(ctx, state)
	e.propagate(ctx, flap)
}

func (e *Engine) updateCache(ctx context.Context, state domain.TimelineState) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, state); err != nil {
		e.logger.WarnContext(ctx, "state cache set failed",
			slog.String("timeline_id", state.TimelineID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publishFlap(ctx context.Context, flap domain.Flap) {
	if e.bus == nil {
		return
	}
	msg, err := encodeFlap(flap)
	if err != nil {
		e.logger.WarnContext(ctx, "flap encode failed", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, "flaps:"+flap.TimelineID, msg); err != nil {
		e.logger.WarnContext(ctx, "flap publish failed",
			slog.String("timeline_id", flap.TimelineID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, "flaps", msg); err != nil {
		e.logger.WarnContext(ctx, "flap stream append failed",
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) maybeSnapshot(ctx context.Context, state domain.TimelineState) {
	if e.stores.Snapshots == nil || e.cfg.SnapshotEvery <= 0 {
		return
	}
	if state.LastSeq == 0 || state.LastSeq%e.cfg.SnapshotEvery != 0 {
		return
	}
	snap := domain.StateSnapshot{
		TimelineID: state.TimelineID,
		Seq:        state.LastSeq,
		State:      state,
		TakenAt:    e.now().UTC(),
	}
	if err := e.stores.Snapshots.Save(ctx, snap); err != nil {
		e.logger.WarnContext(ctx, "snapshot save failed",
			slog.String("timeline_id", state.TimelineID),
			slog.Int64("seq", state.LastSeq),
			slog.String("error", err.Error()),
		)
	}
}

// GetState returns a copy of the live state and the active incident, if any.
func (e *Engine) GetState(ctx context.Context, timelineID string) (domain.TimelineState, *domain.ParadoxIncident, error) {
	tl, err := e.lookup(timelineID)
	if err != nil {
		return domain.TimelineState{}, nil, err
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	state := tl.state.Clone()
	var inc *domain.ParadoxIncident
	if tl.incident != nil {
		cp := *tl.incident
		inc = &cp
	}
	return state, inc, nil
}

// GetLedger returns flaps for a timeline with Seq > sinceSeq, in order.
func (e *Engine) GetLedger(ctx context.Context, timelineID string, sinceSeq int64, limit int) ([]domain.Flap, error) {
	if _, err := e.lookup(timelineID); err != nil {
		return nil, err
	}
	flaps, err := e.stores.Flaps.ListByTimeline(ctx, timelineID, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("engine: list ledger: %w", err)
	}
	return flaps, nil
}

// SetStatus moves a timeline between lifecycle states, updating both the
// store and the live copy. An archived timeline stays loaded for reads but
// rejects all further mutation.
func (e *Engine) SetStatus(ctx context.Context, timelineID string, status domain.TimelineStatus) error {
	tl, err := e.lookup(timelineID)
	if err != nil {
		return err
	}
	if err := e.stores.Timelines.UpdateStatus(ctx, timelineID, status); err != nil {
		return fmt.Errorf("engine: update status for %s: %w", timelineID, err)
	}
	tl.mu.Lock()
	tl.meta.Status = status
	tl.mu.Unlock()

	e.logger.InfoContext(ctx, "timeline status changed",
		slog.String("timeline_id", timelineID),
		slog.String("status", string(status)),
	)
	return nil
}

// TimelineIDs returns the IDs of every live timeline.
func (e *Engine) TimelineIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.timelines))
	for id := range e.timelines {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) lookup(timelineID string) (*timeline, error) {
	e.mu.RLock()
	tl, ok := e.timelines[timelineID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: timeline %s: %w", timelineID, domain.ErrNotFound)
	}
	return tl, nil
}

// flapEnvelope is the wire form published on the signal bus.
type flapEnvelope struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	TimelineID     string          `json:"timeline_id"`
	ActorID        string          `json:"actor_id,omitempty"`
	Kind           domain.FlapKind `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	StabilityDelta float64         `json:"stability_delta"`
	Prices         []float64       `json:"prices"`
	CreatedAt      time.Time       `json:"created_at"`
}

func encodeFlap(f domain.Flap) ([]byte, error) {
	payload, err := domain.MarshalPayload(f.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(flapEnvelope{
		ID:             f.ID,
		Seq:            f.Seq,
		TimelineID:     f.TimelineID,
		ActorID:        f.ActorID,
		Kind:           f.Kind,
		Payload:        payload,
		StabilityDelta: f.StabilityDelta,
		Prices:         f.Prices,
		CreatedAt:      f.CreatedAt,
	})
}
