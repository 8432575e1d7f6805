package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/chronosim/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes the position row keyed by (timeline, actor, outcome).
func (s *PositionStore) Upsert(ctx context.Context, pos domain.OutcomePosition) error {
	const query = `
		INSERT INTO positions (
			timeline_id, actor_id, outcome, quantity, avg_price, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (timeline_id, actor_id, outcome) DO UPDATE SET
			quantity   = EXCLUDED.quantity,
			avg_price  = EXCLUDED.avg_price,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		pos.TimelineID, pos.ActorID, pos.Outcome, pos.Quantity, pos.AvgPrice, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s/%d: %w",
			pos.TimelineID, pos.ActorID, pos.Outcome, err)
	}
	return nil
}

// Get fetches a single position row.
func (s *PositionStore) Get(ctx context.Context, timelineID, actorID string, outcome int) (domain.OutcomePosition, error) {
	const query = `
		SELECT timeline_id, actor_id, outcome, quantity, avg_price, updated_at
		FROM positions
		WHERE timeline_id = $1 AND actor_id = $2 AND outcome = $3`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, timelineID, actorID, outcome))
	if err != nil {
		return domain.OutcomePosition{}, fmt.Errorf("postgres: get position %s/%s/%d: %w",
			timelineID, actorID, outcome, mapErr(err))
	}
	return p, nil
}

// ListByActor returns an actor's positions across all timelines.
func (s *PositionStore) ListByActor(ctx context.Context, actorID string, opts domain.ListOpts) ([]domain.OutcomePosition, error) {
	query := `
		SELECT timeline_id, actor_id, outcome, quantity, avg_price, updated_at
		FROM positions
		WHERE actor_id = $1
		ORDER BY updated_at DESC`
	args := []any{actorID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}
	return s.list(ctx, query, args...)
}

// ListByTimeline returns all actor positions on one timeline.
func (s *PositionStore) ListByTimeline(ctx context.Context, timelineID string, opts domain.ListOpts) ([]domain.OutcomePosition, error) {
	query := `
		SELECT timeline_id, actor_id, outcome, quantity, avg_price, updated_at
		FROM positions
		WHERE timeline_id = $1
		ORDER BY actor_id, outcome`
	args := []any{timelineID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}
	return s.list(ctx, query, args...)
}

func (s *PositionStore) list(ctx context.Context, query string, args ...any) ([]domain.OutcomePosition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.OutcomePosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (domain.OutcomePosition, error) {
	var p domain.OutcomePosition
	err := row.Scan(
		&p.TimelineID, &p.ActorID, &p.Outcome, &p.Quantity, &p.AvgPrice, &p.UpdatedAt,
	)
	return p, err
}
