package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantleap/chronosim/internal/domain"
)

const defaultStateTTL = 5 * time.Minute

// StateCache implements domain.StateCache using Redis strings with
// JSON-serialized timeline state.
//
// Key schema:
//
//	state:{timelineID} - JSON-encoded cachedState
type StateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStateCache creates a StateCache backed by the given Client. ttl <= 0
// falls back to the 5-minute default.
func NewStateCache(c *Client, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateCache{rdb: c.Underlying(), ttl: ttl}
}

func stateKey(timelineID string) string { return "state:" + timelineID }

// cachedState is the JSON wire form of a timeline state.
type cachedState struct {
	TimelineID      string    `json:"timeline_id"`
	Stability       float64   `json:"stability"`
	Quantities      []float64 `json:"quantities"`
	Prices          []float64 `json:"prices"`
	Divergence      float64   `json:"divergence"`
	Alignment       float64   `json:"alignment"`
	DecayMultiplier float64   `json:"decay_multiplier"`
	LastSeq         int64     `json:"last_seq"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Set stores a timeline state with the configured TTL.
func (sc *StateCache) Set(ctx context.Context, state domain.TimelineState) error {
	data, err := json.Marshal(cachedState{
		TimelineID:      state.TimelineID,
		Stability:       state.Stability,
		Quantities:      state.Quantities,
		Prices:          state.Prices,
		Divergence:      state.Divergence,
		Alignment:       state.Alignment,
		DecayMultiplier: state.DecayMultiplier,
		LastSeq:         state.LastSeq,
		UpdatedAt:       state.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal state %s: %w", state.TimelineID, err)
	}

	if err := sc.rdb.Set(ctx, stateKey(state.TimelineID), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set state %s: %w", state.TimelineID, err)
	}
	return nil
}

// Get retrieves a cached timeline state. It returns domain.ErrNotFound when
// the key is missing or expired.
func (sc *StateCache) Get(ctx context.Context, timelineID string) (domain.TimelineState, error) {
	data, err := sc.rdb.Get(ctx, stateKey(timelineID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TimelineState{}, domain.ErrNotFound
		}
		return domain.TimelineState{}, fmt.Errorf("redis: get state %s: %w", timelineID, err)
	}

	var cs cachedState
	if err := json.Unmarshal(data, &cs); err != nil {
		return domain.TimelineState{}, fmt.Errorf("redis: unmarshal state %s: %w", timelineID, err)
	}
	return domain.TimelineState{
		TimelineID:      cs.TimelineID,
		Stability:       cs.Stability,
		Quantities:      cs.Quantities,
		Prices:          cs.Prices,
		Divergence:      cs.Divergence,
		Alignment:       cs.Alignment,
		DecayMultiplier: cs.DecayMultiplier,
		LastSeq:         cs.LastSeq,
		UpdatedAt:       cs.UpdatedAt,
	}, nil
}

// Invalidate removes a cached state.
func (sc *StateCache) Invalidate(ctx context.Context, timelineID string) error {
	if err := sc.rdb.Del(ctx, stateKey(timelineID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate state %s: %w", timelineID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StateCache = (*StateCache)(nil)
