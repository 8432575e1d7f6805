package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/chronosim/internal/domain"
)

// FlapStore implements the append-only domain.FlapStore ledger using
// PostgreSQL. Rows are never updated or deleted here; archival to cold
// storage is the blob layer's job.
type FlapStore struct {
	pool *pgxpool.Pool
}

// NewFlapStore creates a FlapStore backed by the given pool.
func NewFlapStore(pool *pgxpool.Pool) *FlapStore {
	return &FlapStore{pool: pool}
}

// Append writes one ledger entry. The (timeline_id, seq) unique constraint
// is the database-level backstop for the engine's sequence discipline: a
// duplicate sequence surfaces as ErrAlreadyExists instead of corrupting the
// ledger.
func (s *FlapStore) Append(ctx context.Context, f domain.Flap) error {
	payload, err := domain.MarshalPayload(f.Payload)
	if err != nil {
		return fmt.Errorf("postgres: append flap %s: %w", f.ID, err)
	}

	const query = `
		INSERT INTO flaps (
			id, timeline_id, seq, actor_id, kind,
			payload, stability_delta, prices, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)`

	_, err = s.pool.Exec(ctx, query,
		f.ID, f.TimelineID, f.Seq, f.ActorID, string(f.Kind),
		payload, f.StabilityDelta, f.Prices, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append flap %s seq %d: %w", f.TimelineID, f.Seq, mapErr(err))
	}
	return nil
}

// ListByTimeline returns flaps with Seq > sinceSeq in ascending sequence
// order. limit <= 0 returns everything after sinceSeq.
func (s *FlapStore) ListByTimeline(ctx context.Context, timelineID string, sinceSeq int64, limit int) ([]domain.Flap, error) {
	query := `
		SELECT id, timeline_id, seq, actor_id, kind,
		       payload, stability_delta, prices, created_at
		FROM flaps
		WHERE timeline_id = $1 AND seq > $2
		ORDER BY seq ASC`
	args := []any{timelineID, sinceSeq}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list flaps for %s: %w", timelineID, err)
	}
	defer rows.Close()

	return collectFlaps(rows)
}

// LastSeq returns the highest sequence appended for a timeline, 0 when the
// ledger is empty.
func (s *FlapStore) LastSeq(ctx context.Context, timelineID string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM flaps WHERE timeline_id = $1`,
		timelineID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: last seq for %s: %w", timelineID, err)
	}
	return seq, nil
}

// ListBefore returns flaps created strictly before the cutoff, oldest first,
// for cold-storage archival.
func (s *FlapStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Flap, error) {
	query := `
		SELECT id, timeline_id, seq, actor_id, kind,
		       payload, stability_delta, prices, created_at
		FROM flaps
		WHERE created_at < $1
		ORDER BY created_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list flaps before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectFlaps(rows)
}

// Count returns the number of ledger entries for a timeline.
func (s *FlapStore) Count(ctx context.Context, timelineID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM flaps WHERE timeline_id = $1`, timelineID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count flaps for %s: %w", timelineID, err)
	}
	return n, nil
}

func collectFlaps(rows pgx.Rows) ([]domain.Flap, error) {
	var out []domain.Flap
	for rows.Next() {
		f, err := scanFlap(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan flap: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFlap(row pgx.Row) (domain.Flap, error) {
	var (
		f       domain.Flap
		kind    string
		payload []byte
	)
	err := row.Scan(
		&f.ID, &f.TimelineID, &f.Seq, &f.ActorID, &kind,
		&payload, &f.StabilityDelta, &f.Prices, &f.CreatedAt,
	)
	if err != nil {
		return domain.Flap{}, err
	}
	f.Kind = domain.FlapKind(kind)
	f.Payload, err = domain.UnmarshalPayload(f.Kind, payload)
	if err != nil {
		return domain.Flap{}, err
	}
	return f, nil
}
