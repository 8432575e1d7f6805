package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantleap/chronosim/internal/domain"
)

// ArchiveService periodically exports aged flap ledger segments to cold
// storage. It only exports; pruning the primary store is a separate operator
// action taken after archives are verified.
type ArchiveService struct {
	archiver  domain.Archiver
	locks     domain.LockManager
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiveService creates an ArchiveService that archives flaps older than
// retention on the given interval. locks may be nil; when set, a distributed
// lock keeps concurrent process instances from exporting the same segment.
func NewArchiveService(archiver domain.Archiver, locks domain.LockManager, retention, interval time.Duration, logger *slog.Logger) *ArchiveService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ArchiveService{
		archiver:  archiver,
		locks:     locks,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archive_service")),
		now:       time.Now,
	}
}

// Run archives on the configured interval until ctx is cancelled.
func (s *ArchiveService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "archive service starting",
		slog.Duration("retention", s.retention),
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("archive service stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce archives every flap older than the retention cutoff.
func (s *ArchiveService) RunOnce(ctx context.Context) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "archive-run", s.interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.DebugContext(ctx, "archive lock held elsewhere, skipping run")
				return nil
			}
			return fmt.Errorf("archive_service: acquire lock: %w", err)
		}
		defer unlock()
	}

	cutoff := s.now().UTC().Add(-s.retention)
	archived, key, err := s.archiver.ArchiveFlaps(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive_service: archive before %s: %w",
			cutoff.Format(time.RFC3339), err)
	}
	if archived == 0 {
		return nil
	}

	s.logger.InfoContext(ctx, "flaps archived",
		slog.Int("count", archived),
		slog.String("key", key),
	)
	return nil
}
