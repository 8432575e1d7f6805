package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TimelineStore persists timeline metadata and committed parameters.
type TimelineStore interface {
	Create(ctx context.Context, t Timeline) error
	GetByID(ctx context.Context, id string) (Timeline, error)
	UpdateStatus(ctx context.Context, id string, status TimelineStatus) error
	ListActive(ctx context.Context, opts ListOpts) ([]Timeline, error)
	ListIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// FlapStore is the append-only wing-flap ledger. Entries are immutable once
// appended; they are the only path by which timeline state may change.
type FlapStore interface {
	Append(ctx context.Context, f Flap) error
	// ListByTimeline returns flaps for a timeline with Seq > sinceSeq in
	// ascending sequence order. limit <= 0 means no limit.
	ListByTimeline(ctx context.Context, timelineID string, sinceSeq int64, limit int) ([]Flap, error)
	LastSeq(ctx context.Context, timelineID string) (int64, error)
	// ListBefore returns flaps created strictly before the cutoff, for
	// cold-storage archival.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Flap, error)
	Count(ctx context.Context, timelineID string) (int64, error)
}

// ParadoxStore persists paradox incidents, active and archived.
type ParadoxStore interface {
	Create(ctx context.Context, p ParadoxIncident) error
	Update(ctx context.Context, p ParadoxIncident) error
	GetByID(ctx context.Context, id string) (ParadoxIncident, error)
	GetActive(ctx context.Context, timelineID string) (ParadoxIncident, error)
	ListByTimeline(ctx context.Context, timelineID string, opts ListOpts) ([]ParadoxIncident, error)
}

// PositionStore persists per-actor outcome positions.
type PositionStore interface {
	Upsert(ctx context.Context, pos OutcomePosition) error
	Get(ctx context.Context, timelineID, actorID string, outcome int) (OutcomePosition, error)
	ListByActor(ctx context.Context, actorID string, opts ListOpts) ([]OutcomePosition, error)
	ListByTimeline(ctx context.Context, timelineID string, opts ListOpts) ([]OutcomePosition, error)
}

// SnapshotStore persists periodic state snapshots keyed by flap sequence.
// Recovery loads the nearest snapshot and replays flaps after it; the ledger
// remains authoritative.
type SnapshotStore interface {
	Save(ctx context.Context, snap StateSnapshot) error
	Latest(ctx context.Context, timelineID string) (StateSnapshot, error)
}
