package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bosgateway/internal/storage"
)

// SweepJobs deletes finished job records older than the retention period.
// Only the instance holding the advisory lock sweeps.
func (s *Service) SweepJobs(ctx context.Context, at time.Time) error {
	if s.opts.Jobs == nil {
		return nil
	}
	if s.opts.RetentionPeriod <= 0 {
		return errors.New("retention period not configured")
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", at).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	cutoff := at.Add(-s.opts.RetentionPeriod)
	deleted, err := s.opts.Jobs.DeleteJobsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep jobs: %w", err)
	}
	s.logger.Info().Time("cutoff", cutoff).Int64("deleted", deleted).Msg("job history swept")
	return nil
}

// RecentJobs lists job history, newest first. An empty userID lists every user.
func (s *Service) RecentJobs(ctx context.Context, userID string, limit int) ([]storage.JobRecord, error) {
	if s.opts.Jobs == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.opts.Jobs.ListRecentJobs(ctx, userID, limit)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
