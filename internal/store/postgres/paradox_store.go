package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/chronosim/internal/domain"
)

// ParadoxStore implements domain.ParadoxStore using PostgreSQL. A partial
// unique index on (timeline_id) WHERE status = 'active' enforces the
// one-active-incident-per-timeline invariant at the database level.
type ParadoxStore struct {
	pool *pgxpool.Pool
}

// NewParadoxStore creates a ParadoxStore backed by the given pool.
func NewParadoxStore(pool *pgxpool.Pool) *ParadoxStore {
	return &ParadoxStore{pool: pool}
}

// Create inserts a freshly spawned incident.
func (s *ParadoxStore) Create(ctx context.Context, p domain.ParadoxIncident) error {
	const query = `
		INSERT INTO paradoxes (
			id, timeline_id, status, severity, divergence_at_spawn,
			spawned_at, deadline, carrier, cost_paid, closed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.TimelineID, string(p.Status), string(p.Severity), p.DivergenceAtSpawn,
		p.SpawnedAt, p.Deadline, p.Carrier, p.CostPaid, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create paradox %s: %w", p.ID, mapErr(err))
	}
	return nil
}

// Update rewrites an incident's mutable fields after a lifecycle transition.
func (s *ParadoxStore) Update(ctx context.Context, p domain.ParadoxIncident) error {
	const query = `
		UPDATE paradoxes
		SET status = $2, carrier = $3, cost_paid = $4, closed_at = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(p.Status), p.Carrier, p.CostPaid, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update paradox %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update paradox %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches one incident.
func (s *ParadoxStore) GetByID(ctx context.Context, id string) (domain.ParadoxIncident, error) {
	const query = `
		SELECT id, timeline_id, status, severity, divergence_at_spawn,
		       spawned_at, deadline, carrier, cost_paid, closed_at
		FROM paradoxes
		WHERE id = $1`

	p, err := scanParadox(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.ParadoxIncident{}, fmt.Errorf("postgres: get paradox %s: %w", id, mapErr(err))
	}
	return p, nil
}

// GetActive fetches the timeline's active incident, if one exists.
func (s *ParadoxStore) GetActive(ctx context.Context, timelineID string) (domain.ParadoxIncident, error) {
	const query = `
		SELECT id, timeline_id, status, severity, divergence_at_spawn,
		       spawned_at, deadline, carrier, cost_paid, closed_at
		FROM paradoxes
		WHERE timeline_id = $1 AND status = 'active'`

	p, err := scanParadox(s.pool.QueryRow(ctx, query, timelineID))
	if err != nil {
		return domain.ParadoxIncident{}, fmt.Errorf("postgres: active paradox for %s: %w", timelineID, mapErr(err))
	}
	return p, nil
}

// ListByTimeline returns the timeline's incident history, newest first.
func (s *ParadoxStore) ListByTimeline(ctx context.Context, timelineID string, opts domain.ListOpts) ([]domain.ParadoxIncident, error) {
	query := `
		SELECT id, timeline_id, status, severity, divergence_at_spawn,
		       spawned_at, deadline, carrier, cost_paid, closed_at
		FROM paradoxes
		WHERE timeline_id = $1
		ORDER BY spawned_at DESC`
	args := []any{timelineID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list paradoxes for %s: %w", timelineID, err)
	}
	defer rows.Close()

	var out []domain.ParadoxIncident
	for rows.Next() {
		p, err := scanParadox(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan paradox: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanParadox(row pgx.Row) (domain.ParadoxIncident, error) {
	var (
		p        domain.ParadoxIncident
		status   string
		severity string
	)
	err := row.Scan(
		&p.ID, &p.TimelineID, &status, &severity, &p.DivergenceAtSpawn,
		&p.SpawnedAt, &p.Deadline, &p.Carrier, &p.CostPaid, &p.ClosedAt,
	)
	if err != nil {
		return domain.ParadoxIncident{}, err
	}
	p.Status = domain.ParadoxStatus(status)
	p.Severity = domain.Severity(severity)
	return p, nil
}
