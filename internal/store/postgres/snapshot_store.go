package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/chronosim/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL, keeping
// one row per (timeline, seq). The serialized state accelerates recovery;
// the flap ledger remains authoritative.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// snapshotState is the JSONB column layout for a serialized state.
type snapshotState struct {
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

// Save inserts a snapshot, ignoring duplicates for the same sequence.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.StateSnapshot) error {
	state, err := json.Marshal(snapshotState{
		TimelineID:      snap.State.TimelineID,
		Stability:       snap.State.Stability,
		Quantities:      snap.State.Quantities,
		Prices:          snap.State.Prices,
		Divergence:      snap.State.Divergence,
		Alignment:       snap.State.Alignment,
		DecayMultiplier: snap.State.DecayMultiplier,
		LastSeq:         snap.State.LastSeq,
		UpdatedAt:       snap.State.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot state: %w", err)
	}

	const query = `
		INSERT INTO snapshots (timeline_id, seq, state, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (timeline_id, seq) DO NOTHING`

	_, err = s.pool.Exec(ctx, query, snap.TimelineID, snap.Seq, state, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot %s seq %d: %w", snap.TimelineID, snap.Seq, err)
	}
	return nil
}

// Latest returns the snapshot with the highest sequence for a timeline.
func (s *SnapshotStore) Latest(ctx context.Context, timelineID string) (domain.StateSnapshot, error) {
	const query = `
		SELECT timeline_id, seq, state, taken_at
		FROM snapshots
		WHERE timeline_id = $1
		ORDER BY seq DESC
		LIMIT 1`

	var (
		snap  domain.StateSnapshot
		state []byte
	)
	err := s.pool.QueryRow(ctx, query, timelineID).Scan(
		&snap.TimelineID, &snap.Seq, &state, &snap.TakenAt,
	)
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("postgres: latest snapshot for %s: %w", timelineID, mapErr(err))
	}

	var ss snapshotState
	if err := json.Unmarshal(state, &ss); err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("postgres: unmarshal snapshot state: %w", err)
	}
	snap.State = domain.TimelineState{
		TimelineID:      ss.TimelineID,
		Stability:       ss.Stability,
		Quantities:      ss.Quantities,
		Prices:          ss.Prices,
		Divergence:      ss.Divergence,
		Alignment:       ss.Alignment,
		DecayMultiplier: ss.DecayMultiplier,
		LastSeq:         ss.LastSeq,
		UpdatedAt:       ss.UpdatedAt,
	}
	return snap, nil
}
