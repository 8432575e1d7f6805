package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/chronosim/internal/domain"
)

// TimelineStore implements domain.TimelineStore using PostgreSQL.
type TimelineStore struct {
	pool *pgxpool.Pool
}

// NewTimelineStore creates a TimelineStore backed by the given pool.
func NewTimelineStore(pool *pgxpool.Pool) *TimelineStore {
	return &TimelineStore{pool: pool}
}

// Create inserts a new timeline. The committed parameter columns are written
// once here and never updated afterwards.
func (s *TimelineStore) Create(ctx context.Context, t domain.Timeline) error {
	const query = `
		INSERT INTO timelines (
			id, title, outcomes, reality_outcome, liquidity_b,
			decay_per_hour, resolution_refs, commitment,
			initial_stability, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Title, t.Outcomes, t.RealityOutcome, t.LiquidityB,
		t.DecayPerHour, t.ResolutionRefs, t.Commitment,
		t.InitialStability, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create timeline %s: %w", t.ID, mapErr(err))
	}
	return nil
}

// GetByID fetches a single timeline with its committed parameters.
func (s *TimelineStore) GetByID(ctx context.Context, id string) (domain.Timeline, error) {
	const query = `
		SELECT id, title, outcomes, reality_outcome, liquidity_b,
		       decay_per_hour, resolution_refs, commitment,
		       initial_stability, status, created_at, updated_at
		FROM timelines
		WHERE id = $1`

	t, err := scanTimeline(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("postgres: get timeline %s: %w", id, mapErr(err))
	}
	return t, nil
}

// UpdateStatus moves a timeline between lifecycle states. Committed parameter
// columns are deliberately not touched.
func (s *TimelineStore) UpdateStatus(ctx context.Context, id string, status domain.TimelineStatus) error {
	const query = `
		UPDATE timelines
		SET status = $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update timeline %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update timeline %s status: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListActive returns active timelines, newest first.
func (s *TimelineStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Timeline, error) {
	query := `
		SELECT id, title, outcomes, reality_outcome, liquidity_b,
		       decay_per_hour, resolution_refs, commitment,
		       initial_stability, status, created_at, updated_at
		FROM timelines
		WHERE status = 'active'
		ORDER BY created_at DESC`
	args := []any{}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active timelines: %w", err)
	}
	defer rows.Close()

	var out []domain.Timeline
	for rows.Next() {
		t, err := scanTimeline(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan timeline: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListIDs returns every timeline ID regardless of status.
func (s *TimelineStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM timelines ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list timeline ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan timeline id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the total number of timelines.
func (s *TimelineStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM timelines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count timelines: %w", err)
	}
	return n, nil
}

func scanTimeline(row pgx.Row) (domain.Timeline, error) {
	var (
		t      domain.Timeline
		status string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Outcomes, &t.RealityOutcome, &t.LiquidityB,
		&t.DecayPerHour, &t.ResolutionRefs, &t.Commitment,
		&t.InitialStability, &status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Timeline{}, err
	}
	t.Status = domain.TimelineStatus(status)
	return t, nil
}
